package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	TrainingQueue   = "training_queue"
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

// TrainingTaskPayload identifies the job a worker should execute; everything
// else about the job lives in the database record.
type TrainingTaskPayload struct {
	JobId uuid.UUID
}

type Publisher interface {
	PublishTrainingTask(ctx context.Context, payload TrainingTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
