package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EvaluationQueue = "evaluation_queue"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

type Task interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error

	Reject() error
}

type EvaluationTaskPayload struct {
	RunId uuid.UUID

	// Resume skips pairs already recorded in the run's checkpoint.
	Resume bool
}

type Publisher interface {
	PublishEvaluationTask(ctx context.Context, payload EvaluationTaskPayload) error

	Close()
}

type Reciever interface {
	Tasks() <-chan Task

	Close()
}
