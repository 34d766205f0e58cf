package extraction

import (
	"context"

	"github.com/wolfman30/clinic-booking-agent/internal/redact"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// FallbackCompleter retries a failed prompt on a second provider.
type FallbackCompleter struct {
	primary  Completer
	fallback Completer
	logger   *logging.Logger
}

// NewFallbackCompleter wraps primary. A nil fallback means primary only.
func NewFallbackCompleter(primary, fallback Completer, logger *logging.Logger) *FallbackCompleter {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackCompleter{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	res, err := c.primary.Complete(ctx, p)
	if err == nil {
		return res, nil
	}
	c.logger.Warn("primary interpreter model failed",
		"error", redact.Text(err.Error()),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return Completion{}, err
	}
	res, fallbackErr := c.fallback.Complete(ctx, p)
	if fallbackErr != nil {
		c.logger.Error("fallback interpreter model also failed",
			"primary_error", redact.Text(err.Error()),
			"fallback_error", redact.Text(fallbackErr.Error()),
		)
		return Completion{}, fallbackErr
	}
	return res, nil
}
