package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T, limit int) (*Ledger, *fakeClock) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := repository.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close(logger) })
	if err := repository.Migrate(store, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	l := New(repository.NewCreditRepository(store, logger), logger, WithClock(clock.Now), WithDefaultLimit(limit))
	return l, clock
}

func checkInvariant(t *testing.T, l *Ledger, user string) {
	t.Helper()
	ctx := context.Background()
	bal, err := l.Balance(ctx, user)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	entries, err := l.Entries(ctx, user)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	sum := 0
	for _, e := range entries {
		sum += e.Delta
	}
	if sum != bal.Available() {
		t.Errorf("sum(delta) = %d, balance = %d", sum, bal.Available())
	}
	if bal.Available() < 0 {
		t.Errorf("negative balance %+v", bal)
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t, 3)
	ctx := context.Background()

	id, err := l.Reserve(ctx, "u1", uuid.New(), 2)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if err := l.Commit(ctx, id); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := l.Commit(ctx, id); err != nil {
		t.Errorf("second Commit = %v, want nil", err)
	}
	if err := l.Release(ctx, id); err != nil {
		t.Errorf("Release after commit = %v, want no-op", err)
	}
	bal, _ := l.Balance(ctx, "u1")
	if bal.Used != 2 || bal.Limit != 3 {
		t.Errorf("balance = %+v, want used 2 of 3", bal)
	}
	checkInvariant(t, l, "u1")
}

func TestSettleReturnsUnusedCredit(t *testing.T) {
	l, _ := newTestLedger(t, 5)
	ctx := context.Background()

	id, _ := l.Reserve(ctx, "u1", uuid.New(), 3)
	if err := l.Settle(ctx, id, 1); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	bal, _ := l.Balance(ctx, "u1")
	if bal.Used != 1 {
		t.Errorf("used = %d, want 1", bal.Used)
	}
	res, _ := l.Get(ctx, id)
	if res.Status != constants.ReservationCommitted {
		t.Errorf("status = %s, want committed", res.Status)
	}
	checkInvariant(t, l, "u1")
}

func TestSettleZeroReleases(t *testing.T) {
	l, _ := newTestLedger(t, 1)
	ctx := context.Background()

	id, _ := l.Reserve(ctx, "u1", uuid.New(), 1)
	if err := l.Settle(ctx, id, 0); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	res, _ := l.Get(ctx, id)
	if res.Status != constants.ReservationReleased {
		t.Errorf("status = %s, want released", res.Status)
	}
	if err := l.Commit(ctx, id); !errors.Is(err, common.ErrReservationExpired) {
		t.Errorf("Commit after release = %v, want ErrReservationExpired", err)
	}
	checkInvariant(t, l, "u1")
}

func TestSettleRejectsImpossibleUsage(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	ctx := context.Background()
	id, _ := l.Reserve(ctx, "u1", uuid.New(), 1)
	for _, used := range []int{-1, 2} {
		if err := l.Settle(ctx, id, used); !errors.Is(err, common.ErrLedgerInconsistency) {
			t.Errorf("Settle(%d) = %v, want ErrLedgerInconsistency", used, err)
		}
	}
}

func TestReserveInsufficient(t *testing.T) {
	l, _ := newTestLedger(t, 2)
	ctx := context.Background()
	if _, err := l.Reserve(ctx, "u1", uuid.New(), 3); !errors.Is(err, common.ErrInsufficientCredit) {
		t.Errorf("err = %v, want ErrInsufficientCredit", err)
	}
	if _, err := l.Reserve(ctx, "u1", uuid.New(), 0); !errors.Is(err, common.ErrInvalidInput) {
		t.Errorf("zero reserve err = %v, want ErrInvalidInput", err)
	}
}

func TestConcurrentReservesNeverOverdraw(t *testing.T) {
	l, _ := newTestLedger(t, 5)
	ctx := context.Background()
	// create the account before the race
	if _, err := l.Balance(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, "u1", uuid.New(), 1)
			switch {
			case err == nil:
				mu.Lock()
				granted++
				mu.Unlock()
			case !errors.Is(err, common.ErrInsufficientCredit):
				t.Errorf("Reserve: %v", err)
			}
		}()
	}
	wg.Wait()
	if granted != 5 {
		t.Errorf("granted = %d, want 5", granted)
	}
	checkInvariant(t, l, "u1")
}

func TestReservationTTL(t *testing.T) {
	l, clock := newTestLedger(t, 1)
	ctx := context.Background()

	stale, err := l.Reserve(ctx, "u1", uuid.New(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.Reserve(ctx, "u1", uuid.New(), 1); !errors.Is(err, common.ErrInsufficientCredit) {
		t.Fatalf("second reserve before TTL = %v, want ErrInsufficientCredit", err)
	}

	clock.Advance(DefaultTTL + time.Second)
	bal, _ := l.Balance(ctx, "u1")
	if bal.Available() != 1 {
		t.Errorf("available after TTL = %d, want 1", bal.Available())
	}
	if _, err := l.Reserve(ctx, "u1", uuid.New(), 1); err != nil {
		t.Errorf("reserve after TTL = %v, want success", err)
	}
	if err := l.Commit(ctx, stale); !errors.Is(err, common.ErrReservationExpired) {
		t.Errorf("Commit of expired = %v, want ErrReservationExpired", err)
	}
	checkInvariant(t, l, "u1")
}

func TestCommitPastDeadlineExpires(t *testing.T) {
	l, clock := newTestLedger(t, 1)
	ctx := context.Background()

	id, _ := l.Reserve(ctx, "u1", uuid.New(), 1)
	clock.Advance(DefaultTTL)
	if err := l.Commit(ctx, id); !errors.Is(err, common.ErrReservationExpired) {
		t.Fatalf("Commit = %v, want ErrReservationExpired", err)
	}
	res, _ := l.Get(ctx, id)
	if res.Status != constants.ReservationExpired {
		t.Errorf("status = %s, want expired", res.Status)
	}
	checkInvariant(t, l, "u1")
}

func TestSweepReleasesAllUsers(t *testing.T) {
	l, clock := newTestLedger(t, 2)
	ctx := context.Background()
	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := l.Reserve(ctx, u, uuid.New(), 2); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(DefaultTTL + time.Minute)
	n, err := l.Sweep(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Sweep = %d, %v; want 3", n, err)
	}
	if n, _ := l.Sweep(ctx); n != 0 {
		t.Errorf("second Sweep = %d, want 0", n)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	l, _ := newTestLedger(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
