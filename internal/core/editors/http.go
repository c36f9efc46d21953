package editors

import (
	"context"
	"editbench/internal/config"
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

type HTTPEditorParams struct {
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// HTTPEditor forwards edits to a remote diffusion server. The server owns
// the model weights; residency calls are forwarded so the server can release
// accelerator memory while the judge runs.
type HTTPEditor struct {
	client *resty.Client
}

type editRequest struct {
	ImageB64    string         `json:"image_b64"`
	Instruction string         `json:"instruction"`
	Seed        *int64         `json:"seed,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

type editResponse struct {
	ImageB64 string `json:"image_b64"`
}

type batchEditRequest struct {
	ImagesB64    []string       `json:"images_b64"`
	Instructions []string       `json:"instructions"`
	Seeds        []int64        `json:"seeds,omitempty"`
	Params       map[string]any `json:"params,omitempty"`
}

type batchEditResponse struct {
	ImagesB64 []string `json:"images_b64"`
}

func NewHTTPEditor(params map[string]any) (*HTTPEditor, error) {
	cfg := HTTPEditorParams{TimeoutSeconds: 300}
	if err := config.DecodeParams(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http editor requires an endpoint")
	}

	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetHeader("Content-Type", "application/json")

	return &HTTPEditor{client: client}, nil
}

func (e *HTTPEditor) post(ctx context.Context, endpoint string, body, result any) error {
	req := e.client.R().SetContext(ctx).SetBody(body)
	if result != nil {
		req = req.SetResult(result)
	}

	res, err := req.Post(endpoint)
	if err != nil {
		return fmt.Errorf("error calling %s: %w", endpoint, err)
	}
	if !res.IsSuccess() {
		slog.Error("edit server returned error", "endpoint", endpoint, "status_code", res.StatusCode(), "body", res.String())
		return fmt.Errorf("%s returned status %d", endpoint, res.StatusCode())
	}
	return nil
}

func (e *HTTPEditor) Edit(ctx context.Context, img image.Image, instruction string, opts types.EditOptions) (image.Image, error) {
	encoded, err := utils.EncodeBase64PNG(img)
	if err != nil {
		return nil, err
	}

	var resp editResponse
	if err := e.post(ctx, "/edit", editRequest{ImageB64: encoded, Instruction: instruction, Seed: opts.Seed, Params: opts.Params}, &resp); err != nil {
		return nil, err
	}

	edited, err := utils.DecodeBase64Image(resp.ImageB64)
	if err != nil {
		return nil, fmt.Errorf("error decoding edited image: %w", err)
	}
	return edited, nil
}

func (e *HTTPEditor) BatchEdit(ctx context.Context, imgs []image.Image, instructions []string, opts types.EditOptions) ([]image.Image, error) {
	if len(imgs) != len(instructions) {
		return nil, fmt.Errorf("got %d images and %d instructions", len(imgs), len(instructions))
	}

	req := batchEditRequest{
		ImagesB64:    make([]string, len(imgs)),
		Instructions: instructions,
		Params:       opts.Params,
	}
	for i, img := range imgs {
		encoded, err := utils.EncodeBase64PNG(img)
		if err != nil {
			return nil, fmt.Errorf("error encoding image %d: %w", i, err)
		}
		req.ImagesB64[i] = encoded
		if seed := opts.SeedFor(i); seed != nil {
			req.Seeds = append(req.Seeds, *seed)
		}
	}

	var resp batchEditResponse
	if err := e.post(ctx, "/batch_edit", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.ImagesB64) != len(imgs) {
		return nil, fmt.Errorf("edit server returned %d images for %d inputs", len(resp.ImagesB64), len(imgs))
	}

	out := make([]image.Image, len(resp.ImagesB64))
	for i, encoded := range resp.ImagesB64 {
		edited, err := utils.DecodeBase64Image(encoded)
		if err != nil {
			return nil, fmt.Errorf("error decoding edited image %d: %w", i, err)
		}
		out[i] = edited
	}
	return out, nil
}

func (e *HTTPEditor) MoveToAccelerator(ctx context.Context) error {
	return e.post(ctx, "/to_accelerator", struct{}{}, nil)
}

func (e *HTTPEditor) MoveToHost(ctx context.Context) error {
	return e.post(ctx, "/to_host", struct{}{}, nil)
}

func (e *HTTPEditor) Release() {}

var _ types.BatchEditor = (*HTTPEditor)(nil)
var _ types.Resident = (*HTTPEditor)(nil)
