package extraction

import (
	"context"

	"github.com/wolfman30/clinic-booking-agent/internal/redact"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// Interpreter is the optional second stage for free text the rules cannot read.
// It returns raw values keyed by field; they are validated like rule output.
type Interpreter interface {
	Interpret(ctx context.Context, text string, fields []Field) (map[Field]string, error)
}

// interpreterConfidence is assigned to every interpreter-sourced value.
const interpreterConfidence = 0.5

// Pipeline is regex-first extraction with an interpreter fallback.
type Pipeline struct {
	extractor   *Extractor
	interpreter Interpreter
	logger      *logging.Logger
}

// NewPipeline wires an extractor with an optional interpreter.
func NewPipeline(extractor *Extractor, interpreter Interpreter, logger *logging.Logger) *Pipeline {
	if extractor == nil {
		extractor = NewExtractor()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{extractor: extractor, interpreter: interpreter, logger: logger}
}

// Extractor exposes the first stage.
func (p *Pipeline) Extractor() *Extractor {
	return p.extractor
}

// Run extracts values for text. missing are the required fields still empty for the
// current state; the interpreter only runs when stage one filled none of them.
func (p *Pipeline) Run(ctx context.Context, text string, missing []Field) Result {
	res := p.extractor.Extract(text, missing)
	if p.interpreter == nil || len(missing) == 0 {
		return res
	}
	for _, f := range missing {
		if res.decided(f) {
			return res
		}
	}

	raw, err := p.interpreter.Interpret(ctx, text, missing)
	if err != nil {
		p.logger.Warn("interpreter failed, continuing with rule results", "error", err)
		return res
	}
	want := newFieldSet(missing)
	for field, value := range raw {
		if !want[field] || res.decided(field) {
			continue
		}
		norm, err := p.extractor.normalize(field, value)
		if err != nil {
			// Interpreter guesses that fail validation are dropped, not re-prompted.
			p.logger.Debug("interpreter value rejected", "field", string(field), "error", redact.Text(err.Error()))
			continue
		}
		res.Values[field] = Candidate{
			Value:      norm,
			Confidence: interpreterConfidence,
			Rule:       "interpreter",
		}
	}
	return res
}
