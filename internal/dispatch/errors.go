package dispatch

import (
	"errors"
	"fmt"
)

type FailureKind string

const (
	StartupFailure   FailureKind = "startup_failure"
	Timeout          FailureKind = "timeout"
	ProcessFailure   FailureKind = "process_failure"
	OutputCorruption FailureKind = "output_corruption"
	ModelError       FailureKind = "model_error"
)

var (
	ErrStartupFailure   = errors.New("scorer process could not be started")
	ErrTimeout          = errors.New("scorer process timed out")
	ErrProcessFailure   = errors.New("scorer process failed")
	ErrOutputCorruption = errors.New("scorer output missing or malformed")
	ErrModelError       = errors.New("scorer reported a model error")

	ErrNoDevices = errors.New("no devices configured")
)

var kindErrors = map[FailureKind]error{
	StartupFailure:   ErrStartupFailure,
	Timeout:          ErrTimeout,
	ProcessFailure:   ErrProcessFailure,
	OutputCorruption: ErrOutputCorruption,
	ModelError:       ErrModelError,
}

// WorkerError is a failure of one scorer process. It matches the
// corresponding Err* sentinel with errors.Is.
type WorkerError struct {
	Kind   FailureKind
	Device int
	Detail string
	Err    error
}

func (e *WorkerError) Error() string {
	msg := fmt.Sprintf("device %d: %s", e.Device, kindErrors[e.Kind])
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += "\n" + e.Detail
	}
	return msg
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}

func (e *WorkerError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}
