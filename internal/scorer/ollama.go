package scorer

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// OllamaBackend runs the judge through a local Ollama server.
type OllamaBackend struct {
	llm *ollama.LLM
}

var _ Backend = (*OllamaBackend)(nil)

func NewOllamaBackend(cfg BackendConfig) (*OllamaBackend, error) {
	opts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.Endpoint != "" {
		opts = append(opts, ollama.WithServerURL(cfg.Endpoint))
	}

	llm, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating ollama client: %w", err)
	}

	return &OllamaBackend{llm: llm}, nil
}

func (b *OllamaBackend) Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error) {
	var messages []llms.MessageContent
	if prompt.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompt.System))
	}
	messages = append(messages, llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.BinaryPart(prompt.ImageMIME, prompt.Image),
			llms.TextPart(prompt.User),
		},
	})

	callOpts := []llms.CallOption{llms.WithTemperature(0)}
	if opts.MaxNewTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxNewTokens))
	}
	if opts.Seed != nil {
		callOpts = append(callOpts, llms.WithSeed(int(*opts.Seed)))
	}

	resp, err := b.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("ollama generation failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama response contained no choices")
	}

	return resp.Choices[0].Content, nil
}
