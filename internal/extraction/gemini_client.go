package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiCompleter sends extraction prompts to Gemini in JSON response mode. The
// model is fixed at construction; Prompt.Model is ignored.
type GeminiCompleter struct {
	client  *genai.Client
	modelID string
}

func NewGeminiCompleter(ctx context.Context, apiKey, modelID string) (*GeminiCompleter, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("extraction: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("extraction: failed to create gemini client: %w", err)
	}
	return &GeminiCompleter{client: client, modelID: modelID}, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return Completion{}, errors.New("extraction: gemini prompt has no message")
	}
	model := c.client.GenerativeModel(c.modelID)
	model.SetTemperature(0)
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(p.MaxTokens)
	}
	if instructions := strings.TrimSpace(p.Instructions); instructions != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(instructions))
	}
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(msg))
	if err != nil {
		return Completion{}, fmt.Errorf("extraction: gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Completion{}, errors.New("extraction: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	res := Completion{
		Text:       strings.TrimSpace(text.String()),
		StopReason: candidate.FinishReason.String(),
	}
	if resp.UsageMetadata != nil {
		res.InputTokens = resp.UsageMetadata.PromptTokenCount
		res.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return res, nil
}

func (c *GeminiCompleter) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
