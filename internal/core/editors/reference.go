package editors

import (
	"context"
	"editbench/internal/core/types"
	"editbench/internal/core/utils"
	"fmt"
	"image"
)

// ReferenceEditor returns an unmodified copy of its input. It is used to
// measure the judge's baseline and to exercise the pipeline end to end.
type ReferenceEditor struct {
	types.NoResidency
}

func NewReferenceEditor() *ReferenceEditor {
	return &ReferenceEditor{}
}

func (e *ReferenceEditor) Edit(ctx context.Context, img image.Image, instruction string, opts types.EditOptions) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("no input image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return utils.CloneImage(img), nil
}

func (e *ReferenceEditor) BatchEdit(ctx context.Context, imgs []image.Image, instructions []string, opts types.EditOptions) ([]image.Image, error) {
	if len(imgs) != len(instructions) {
		return nil, fmt.Errorf("got %d images and %d instructions", len(imgs), len(instructions))
	}

	out := make([]image.Image, len(imgs))
	for i, img := range imgs {
		edited, err := e.Edit(ctx, img, instructions[i], opts.WithSeed(opts.SeedFor(i)))
		if err != nil {
			return nil, fmt.Errorf("error editing image %d: %w", i, err)
		}
		out[i] = edited
	}
	return out, nil
}

func (e *ReferenceEditor) Release() {}

var _ types.BatchEditor = (*ReferenceEditor)(nil)
var _ types.Resident = (*ReferenceEditor)(nil)
