package scorer

import (
	"context"
	"fmt"
	"net/http"
)

type Prompt struct {
	System    string
	Image     []byte
	ImageMIME string
	User      string
}

type GenerateOptions struct {
	MaxNewTokens int
	Seed         *int64
}

// Backend runs the judge model on a single prompt.
type Backend interface {
	Generate(ctx context.Context, prompt Prompt, opts GenerateOptions) (string, error)
}

// BatchBackend generates for several prompts in one call. Results are in
// prompt order.
type BatchBackend interface {
	Backend

	GenerateBatch(ctx context.Context, prompts []Prompt, opts GenerateOptions) ([]string, error)
}

// Padder is implemented by backends that pad batched prompts to a common
// length themselves, such as an in-process model. The OpenAI and Ollama
// backends do not implement it: their serving runtime pads its own batches,
// so batched scoring against them leaves padding untouched.
type Padder interface {
	PaddingSide() string

	SetPaddingSide(side string)
}

// acquirePadding switches a Padder to side and returns the function that
// restores the previous setting. It is a no-op for other backends.
func acquirePadding(backend Backend, side string) func() {
	padder, ok := backend.(Padder)
	if !ok {
		return func() {}
	}

	previous := padder.PaddingSide()
	padder.SetPaddingSide(side)
	return func() {
		padder.SetPaddingSide(previous)
	}
}

type BackendType string

const (
	OpenAI BackendType = "openai"
	Ollama BackendType = "ollama"
)

type BackendConfig struct {
	Type     BackendType
	Endpoint string
	APIKey   string
	Model    string

	// Forwarded to the serving runtime where it supports them.
	Device string
	Dtype  string
}

func NewBackend(cfg BackendConfig) (Backend, error) {
	switch cfg.Type {
	case OpenAI:
		return NewOpenAIBackend(cfg), nil
	case Ollama:
		return NewOllamaBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown judge backend '%s'", cfg.Type)
	}
}

// DetectImageMIME sniffs the content type of encoded image bytes.
func DetectImageMIME(data []byte) (string, error) {
	mime := http.DetectContentType(data)
	switch mime {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return mime, nil
	}
	return "", fmt.Errorf("unsupported image content type '%s'", mime)
}
