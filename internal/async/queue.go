package async

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job asks a worker to run one submitted batch.
type Job struct {
	BatchID     uuid.UUID
	UserID      string
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}

// Runner processes a batch to completion or to a state that waits for the user.
type Runner interface {
	Run(ctx context.Context, batchID uuid.UUID) error
}
