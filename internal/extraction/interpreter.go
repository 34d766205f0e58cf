package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const interpreterInstructions = `You extract appointment booking details from a single patient message.
Reply with one JSON object and nothing else. Use only the keys you are asked for.
Omit a key when the message does not state it. Never guess.
Dates use YYYY-MM-DD. Phone numbers keep their digits. Times use HH:MM in 24-hour form.`

// LLMInterpreter asks a language model for the fields the rules missed.
type LLMInterpreter struct {
	client  Completer
	model   string
	timeout time.Duration
	now     func() time.Time
}

// NewLLMInterpreter builds an interpreter. model is passed through to the client
// (Bedrock needs it; Gemini carries its own).
func NewLLMInterpreter(client Completer, model string) *LLMInterpreter {
	return &LLMInterpreter{
		client:  client,
		model:   model,
		timeout: 8 * time.Second,
		now:     time.Now,
	}
}

func (i *LLMInterpreter) Interpret(ctx context.Context, text string, fields []Field) (map[Field]string, error) {
	if i == nil || i.client == nil {
		return nil, errors.New("extraction: interpreter has no client")
	}
	if len(fields) == 0 || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, fmt.Sprintf("%q (%s)", string(f), f.Label()))
	}
	prompt := fmt.Sprintf("Today is %s.\nKeys: %s\nMessage: %s",
		i.now().Format(DateLayout), strings.Join(keys, ", "), text)

	resp, err := i.client.Complete(ctx, Prompt{
		Model:        i.model,
		Instructions: interpreterInstructions,
		Message:      prompt,
		MaxTokens:    256,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction: interpret: %w", err)
	}
	return parseInterpreterJSON(resp.Text, fields)
}

// parseInterpreterJSON reads the first JSON object in text, which may be wrapped in
// markdown code fences. Keys outside fields are ignored.
func parseInterpreterJSON(text string, fields []Field) (map[Field]string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("extraction: interpreter returned no JSON object")
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &decoded); err != nil {
		return nil, fmt.Errorf("extraction: interpreter JSON: %w", err)
	}
	want := newFieldSet(fields)
	out := make(map[Field]string)
	for k, v := range decoded {
		f := Field(k)
		if !want[f] || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out[f] = s
		}
	}
	return out, nil
}
