package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockCompleter sends extraction prompts through the Bedrock Converse API.
type BedrockCompleter struct {
	api bedrockConverseAPI
}

func NewBedrockCompleter(api bedrockConverseAPI) *BedrockCompleter {
	if api == nil {
		panic("extraction: bedrock converse client cannot be nil")
	}
	return &BedrockCompleter{api: api}
}

func (c *BedrockCompleter) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if strings.TrimSpace(p.Model) == "" {
		return Completion{}, errors.New("extraction: bedrock model id is required")
	}
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		return Completion{}, errors.New("extraction: bedrock prompt has no message")
	}

	in := &bedrockruntime.ConverseInput{
		ModelId: aws.String(p.Model),
		Messages: []brtypes.Message{{
			Role:    brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: msg}},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{Temperature: aws.Float32(0)},
	}
	if instructions := strings.TrimSpace(p.Instructions); instructions != "" {
		in.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: instructions}}
	}
	if p.MaxTokens > 0 {
		in.InferenceConfig.MaxTokens = aws.Int32(p.MaxTokens)
	}

	out, err := c.api.Converse(ctx, in)
	if err != nil {
		return Completion{}, fmt.Errorf("extraction: bedrock converse: %w", err)
	}
	text, err := bedrockText(out)
	if err != nil {
		return Completion{}, err
	}
	res := Completion{Text: strings.TrimSpace(text), StopReason: string(out.StopReason)}
	if out.Usage != nil {
		res.InputTokens = aws.ToInt32(out.Usage.InputTokens)
		res.OutputTokens = aws.ToInt32(out.Usage.OutputTokens)
	}
	return res, nil
}

func bedrockText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("extraction: bedrock response is nil")
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("extraction: bedrock response did not include a message")
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", errors.New("extraction: bedrock response had no text")
	}
	return b.String(), nil
}
