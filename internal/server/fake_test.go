package server

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

const testSecret = "test-secret-with-enough-entropy-0123456789"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func token(t *testing.T, secret, sub string, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": sub, "exp": time.Now().Add(ttl).Unix(), "iat": time.Now().Unix()}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// fakeIngestion records calls and returns canned answers.
type fakeIngestion struct {
	mu sync.Mutex

	batchID uuid.UUID
	status  pipeline.Status
	balance entity.Balance
	err     error

	userID    string
	uploads   []pipeline.Upload
	opts      pipeline.Options
	candidate uuid.UUID
	proceed   bool
	cancelled bool

	updates chan pipeline.Status
	stopped chan struct{}
}

func newFakeIngestion() *fakeIngestion {
	id := uuid.New()
	return &fakeIngestion{
		batchID: id,
		status: pipeline.Status{
			BatchID:  id,
			UserID:   "u1",
			State:    constants.BatchAwaitingUserConfirmation,
			Warnings: []pipeline.Warning{},
		},
		balance: entity.Balance{Used: 2, Limit: 5},
		updates: make(chan pipeline.Status, 4),
		stopped: make(chan struct{}),
	}
}

func (f *fakeIngestion) Submit(_ context.Context, userID string, uploads []pipeline.Upload, opts pipeline.Options) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	if len(uploads) == 0 {
		return uuid.Nil, common.ErrInvalidInput
	}
	f.userID, f.uploads, f.opts = userID, uploads, opts
	return f.batchID, nil
}

func (f *fakeIngestion) GetBatchStatus(_ context.Context, userID string, batchID uuid.UUID) (pipeline.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = userID
	if f.err != nil {
		return pipeline.Status{}, f.err
	}
	if batchID != f.batchID {
		return pipeline.Status{}, common.ErrNotFound
	}
	return f.status, nil
}

func (f *fakeIngestion) Watch(userID string, batchID uuid.UUID) (pipeline.Status, <-chan pipeline.Status, func(), error) {
	st, err := f.GetBatchStatus(context.Background(), userID, batchID)
	if err != nil {
		return pipeline.Status{}, nil, nil, err
	}
	var once sync.Once
	return st, f.updates, func() { once.Do(func() { close(f.stopped) }) }, nil
}

func (f *fakeIngestion) ConfirmDuplicate(_ context.Context, userID string, batchID, candidateID uuid.UUID, proceed bool) (pipeline.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pipeline.Status{}, f.err
	}
	f.userID, f.candidate, f.proceed = userID, candidateID, proceed
	st := f.status
	st.State = constants.BatchClosed
	st.Outcome = constants.BatchCommitted
	return st, nil
}

func (f *fakeIngestion) CancelBatch(_ context.Context, userID string, batchID uuid.UUID) (pipeline.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return pipeline.Status{}, f.err
	}
	f.userID, f.cancelled = userID, true
	st := f.status
	st.State = constants.BatchClosed
	st.Outcome = constants.BatchRejected
	st.Cause = constants.CauseCancelled
	return st, nil
}

func (f *fakeIngestion) GetCreditBalance(_ context.Context, userID string) (entity.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userID = userID
	if f.err != nil {
		return entity.Balance{}, f.err
	}
	return f.balance, nil
}

func (f *fakeIngestion) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fakeExporter struct {
	userID string
	since  time.Time
}

func (e *fakeExporter) ExportXLSX(_ context.Context, userID string, since time.Time) ([]byte, error) {
	e.userID, e.since = userID, since
	return []byte("PK\x03\x04fake"), nil
}
