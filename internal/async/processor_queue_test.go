package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recordingRunner struct {
	mu       sync.Mutex
	ran      []uuid.UUID
	deadline bool
	block    chan struct{}
}

func (r *recordingRunner) Run(ctx context.Context, batchID uuid.UUID) error {
	if r.block != nil {
		<-r.block
	}
	_, hasDeadline := ctx.Deadline()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ran = append(r.ran, batchID)
	r.deadline = hasDeadline
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestQueueRunsEveryJobBeforeShutdownReturns(t *testing.T) {
	runner := &recordingRunner{}
	q := NewProcessorQueue(runner, quietLogger(), WithWorkers(3), WithQueueSize(8), WithProcessTimeout(time.Second))

	for i := 0; i < 10; i++ {
		if err := q.Enqueue(context.Background(), Job{BatchID: uuid.New(), SubmittedAt: time.Now()}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	if got := runner.count(); got != 10 {
		t.Fatalf("ran %d jobs, want 10", got)
	}
	if !runner.deadline {
		t.Errorf("runner context had no deadline")
	}
}

func TestEnqueueAfterShutdownFails(t *testing.T) {
	q := NewProcessorQueue(&recordingRunner{}, quietLogger(), WithWorkers(1))
	q.Shutdown(context.Background())

	err := q.Enqueue(context.Background(), Job{BatchID: uuid.New()})
	if !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("got %v, want ErrQueueClosed", err)
	}
}

func TestEnqueueHonoursContextWhenFull(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	q := NewProcessorQueue(runner, quietLogger(), WithWorkers(1), WithQueueSize(1))
	defer func() {
		close(runner.block)
		q.Shutdown(context.Background())
	}()

	// one job occupies the worker, one fills the buffer
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(context.Background(), Job{BatchID: uuid.New()}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for q.Depth() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Job{BatchID: uuid.New()})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
