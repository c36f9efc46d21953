package core

import (
	"context"
	"editbench/internal/core/types"
	"fmt"
	"log/slog"
)

type Location int

const (
	Unknown Location = iota
	Host
	Accelerator
)

func (l Location) String() string {
	switch l {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	default:
		return "unknown"
	}
}

// ResidencyManager moves models between accelerator and host memory. It
// remembers where each model was last put and skips redundant moves. Models
// that do not implement types.Resident are only tracked.
//
// The manager is not safe for concurrent use; the pipeline drives it from
// its control goroutine between stages.
type ResidencyManager struct {
	locations map[any]Location
}

func NewResidencyManager() *ResidencyManager {
	return &ResidencyManager{locations: make(map[any]Location)}
}

func (m *ResidencyManager) Location(model any) Location {
	return m.locations[model]
}

func (m *ResidencyManager) ToAccelerator(ctx context.Context, model any) error {
	return m.move(ctx, model, Accelerator)
}

func (m *ResidencyManager) ToHost(ctx context.Context, model any) error {
	return m.move(ctx, model, Host)
}

func (m *ResidencyManager) move(ctx context.Context, model any, target Location) error {
	if model == nil || m.locations[model] == target {
		return nil
	}

	if resident, ok := model.(types.Resident); ok {
		slog.Debug("moving model", "model", fmt.Sprintf("%T", model), "to", target)

		var err error
		if target == Accelerator {
			err = resident.MoveToAccelerator(ctx)
		} else {
			err = resident.MoveToHost(ctx)
		}
		if err != nil {
			return fmt.Errorf("error moving %T to %s: %w", model, target, err)
		}
	}

	m.locations[model] = target
	return nil
}
