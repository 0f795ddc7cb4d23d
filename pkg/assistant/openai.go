package assistant

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// systemPrompt steers the model toward the structured reply envelope the
// workspace reconciler understands. Plain-text answers are still valid;
// the reconciler falls back to raw text when the envelope is absent.
const systemPrompt = `You are a senior developer collaborating in a shared code workspace.
When the user asks for code, respond with a single JSON object of the form
{"text": "<short explanation>", "fileTree": {"<path>": {"content": "<file content>"}}}.
For questions that need no code, respond with plain text.`

// OpenAIProducer generates replies through the OpenAI chat API.
type OpenAIProducer struct {
	client *openai.Client
	model  string
}

// NewOpenAIProducer creates a producer using the given API key and model.
// Model defaults to gpt-4o-mini.
func NewOpenAIProducer(apiKey, model string) (*OpenAIProducer, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProducer{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Generate produces a reply for the prompt.
func (p *OpenAIProducer) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
