package extraction

import "context"

// Prompt is a single-shot extraction request: fixed instructions plus one patient
// message annotated with the keys to look for.
type Prompt struct {
	Model        string
	Instructions string
	Message      string
	MaxTokens    int32
}

// Completion is the raw model reply. Token counts are zero when the provider does
// not report them.
type Completion struct {
	Text         string
	StopReason   string
	InputTokens  int32
	OutputTokens int32
}

// Completer answers extraction prompts deterministically (temperature 0).
type Completer interface {
	Complete(ctx context.Context, p Prompt) (Completion, error)
}
