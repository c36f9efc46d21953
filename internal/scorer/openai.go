package scorer

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIBackend talks to any OpenAI compatible chat completions endpoint
// that accepts image parts, for example a vLLM server pinned to one device.
type OpenAIBackend struct {
	client openai.Client
	model  string
	device string
}

var _ BatchBackend = (*OpenAIBackend)(nil)

func NewOpenAIBackend(cfg BackendConfig) *OpenAIBackend {
	var opts []option.RequestOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	return &OpenAIBackend{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		device: cfg.Device,
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error) {
	imageURL := fmt.Sprintf("data:%s;base64,%s", prompt.ImageMIME, base64.StdEncoding.EncodeToString(prompt.Image))

	var messages []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
		openai.TextContentPart(prompt.User),
	}))

	params := openai.ChatCompletionNewParams{
		Model:       b.model,
		Messages:    messages,
		Temperature: openai.Float(0),
	}
	if opts.MaxNewTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxNewTokens))
	}
	if opts.Seed != nil {
		params.Seed = openai.Int(*opts.Seed)
	}

	res, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Error("openai error: chat completions failed", "model", b.model, "device", b.device, "error", err)
		return "", fmt.Errorf("openai generation failed: %w", err)
	}

	if len(res.Choices) == 0 {
		return "", fmt.Errorf("openai response contained no choices")
	}

	return res.Choices[0].Message.Content, nil
}

// GenerateBatch issues one request per prompt concurrently; the server is
// expected to batch them.
func (b *OpenAIBackend) GenerateBatch(ctx context.Context, prompts []Prompt, opts GenerateOptions) ([]string, error) {
	outputs := make([]string, len(prompts))
	errs := make([]error, len(prompts))

	wg := sync.WaitGroup{}
	for i, prompt := range prompts {
		wg.Add(1)
		go func(i int, prompt Prompt) {
			defer wg.Done()
			outputs[i], errs[i] = b.Generate(ctx, prompt, opts)
		}(i, prompt)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("error generating for prompt %d of batch: %w", i, err)
		}
	}

	return outputs, nil
}
