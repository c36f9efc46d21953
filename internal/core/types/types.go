package types

import (
	"context"
	"image"
)

// Pair is one benchmark item: a source image and the edit to apply to it.
type Pair struct {
	Id                  string `json:"id"`
	OriginalImageB64    string `json:"original_image_b64"`
	EditInstruction     string `json:"edit_instruction"`
	OriginalDescription string `json:"original_description"`
}

type EditOptions struct {
	Seed   *int64
	Params map[string]any
}

// SeedFor returns the seed for the i-th image of a batch. Each image gets
// the base seed offset by its position so batch and per item runs agree.
func (o EditOptions) SeedFor(i int) *int64 {
	if o.Seed == nil {
		return nil
	}
	seed := *o.Seed + int64(i)
	return &seed
}

// WithSeed returns a copy of the options with Seed replaced.
func (o EditOptions) WithSeed(seed *int64) EditOptions {
	o.Seed = seed
	return o
}

type Editor interface {
	Edit(ctx context.Context, img image.Image, instruction string, opts EditOptions) (image.Image, error)

	Release()
}

// BatchEditor is implemented by editors that can process several images in
// one call. The result must have one image per input.
type BatchEditor interface {
	Editor

	BatchEdit(ctx context.Context, imgs []image.Image, instructions []string, opts EditOptions) ([]image.Image, error)
}

type ScoreRequest struct {
	EditedImage   image.Image
	OriginalImage image.Image

	OriginalDescription string
	Instruction         string

	SystemPrompt string
	UserPrompt   string
}

type Judge interface {
	Score(ctx context.Context, req ScoreRequest) (float64, error)

	Release()
}

type BatchJudge interface {
	Judge

	BatchScore(ctx context.Context, reqs []ScoreRequest) ([]float64, error)
}

// Resident is implemented by models that hold accelerator memory and can be
// moved between the accelerator and host memory.
type Resident interface {
	MoveToAccelerator(ctx context.Context) error

	MoveToHost(ctx context.Context) error
}

// NoResidency can be embedded by models that are always resident.
type NoResidency struct{}

func (NoResidency) MoveToAccelerator(context.Context) error { return nil }

func (NoResidency) MoveToHost(context.Context) error { return nil }
