package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/extraction"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// BuildInterpreter wires the optional free-text interpreter. Bedrock is primary
// when configured and Gemini is its fallback; with neither, extraction is rules only.
func BuildInterpreter(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (extraction.Interpreter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var primary, fallback extraction.Completer
	model := strings.TrimSpace(cfg.BedrockModelID)
	if model != "" {
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		primary = extraction.NewBedrockCompleter(bedrockruntime.NewFromConfig(awsCfg))
	}
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := extraction.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: gemini: %w", err)
		}
		fallback = gemini
	}

	switch {
	case primary == nil && fallback == nil:
		logger.Info("no interpreter configured; extraction uses rules only")
		return nil, nil
	case primary == nil:
		logger.Info("interpreter enabled", "provider", "gemini", "model", cfg.GeminiModelID)
		return extraction.NewLLMInterpreter(fallback, cfg.GeminiModelID), nil
	}
	logger.Info("interpreter enabled", "provider", "bedrock", "model", model, "fallback", fallback != nil)
	client := primary
	if fallback != nil {
		client = extraction.NewFallbackCompleter(primary, fallback, logger)
	}
	return extraction.NewLLMInterpreter(client, model), nil
}
