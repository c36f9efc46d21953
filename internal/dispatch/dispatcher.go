package dispatch

import (
	"context"
	"editbench/internal/core/utils"
	"editbench/pkg/api"
	"fmt"
	"log/slog"
	"time"
)

// SentinelScore fills the slots of a device whose worker failed.
const SentinelScore = 5.0

type Invoker interface {
	Invoke(ctx context.Context, tasks []ScoreTask, device int, timeout time.Duration) ([]float64, error)
}

// A device hosts at most one scorer process at a time, including across
// dispatchers in the same process.
var deviceLocks = utils.NewKeyedMutex[int]()

type Dispatcher struct {
	invoker Invoker
	timeout time.Duration
}

func NewDispatcher(invoker Invoker, timeout time.Duration) *Dispatcher {
	return &Dispatcher{invoker: invoker, timeout: timeout}
}

// Dispatch scores tasks across devices and returns one score per task in
// input order. Device failures are logged and replaced by SentinelScore;
// the only error returned is for an empty device list.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []api.WorkerTask, devices []int) ([]float64, error) {
	if len(devices) == 0 {
		return nil, ErrNoDevices
	}

	results := make([]float64, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	assignments := Partition(tasks, devices)

	queue := make(chan DeviceAssignment, len(assignments))
	for _, a := range assignments {
		if len(a.Tasks) > 0 {
			queue <- a
		}
	}
	close(queue)

	slog.Info("dispatching score tasks", "tasks", len(tasks), "devices", devices, "workers", len(queue))

	completed := make(chan utils.CompletedTask[DeviceAssignment, []float64], len(assignments))

	worker := func(a DeviceAssignment) ([]float64, error) {
		return d.invokeDevice(ctx, a)
	}

	utils.RunInPool(worker, queue, completed, len(devices))

	for res := range completed {
		a := res.Input
		scores := res.Result
		if res.Error != nil {
			slog.Error("scoring failed on device, using sentinel scores", "device", a.Device, "tasks", len(a.Tasks), "sentinel", SentinelScore, "error", res.Error)
			scores = make([]float64, len(a.Tasks))
			for i := range scores {
				scores[i] = SentinelScore
			}
		} else {
			slog.Info("device finished scoring", "device", a.Device, "tasks", len(a.Tasks))
		}

		for j, idx := range a.Indices {
			results[idx] = scores[j]
		}
	}

	return results, nil
}

func (d *Dispatcher) invokeDevice(ctx context.Context, a DeviceAssignment) ([]float64, error) {
	deviceLocks.Lock(a.Device)
	defer func() {
		if err := deviceLocks.Unlock(a.Device); err != nil {
			slog.Error("error releasing device lock", "device", a.Device, "error", err)
		}
	}()

	start := time.Now()
	scores, err := d.invoker.Invoke(ctx, a.Tasks, a.Device, d.timeout)
	if err != nil {
		return nil, err
	}

	if len(scores) != len(a.Tasks) {
		return nil, &WorkerError{
			Kind:   OutputCorruption,
			Device: a.Device,
			Err:    fmt.Errorf("expected %d scores, got %d", len(a.Tasks), len(scores)),
		}
	}

	slog.Debug("device invocation complete", "device", a.Device, "duration", time.Since(start))

	return scores, nil
}
