// Package ledger meters per-user upload credit: reserve before commit, settle or release after.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/repository"
)

const (
	DefaultTTL = 10 * time.Minute

	sweepPage = 100
)

// Clock is injectable so tests can move time forward.
type Clock func() time.Time

// Ledger is the only writer of credit state.
type Ledger struct {
	repo         repository.CreditRepository
	clock        Clock
	ttl          time.Duration
	defaultLimit int
	logger       *slog.Logger
}

type Option func(*Ledger)

func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

func WithTTL(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.ttl = d
		}
	}
}

// WithDefaultLimit grants new accounts this many credits on first use.
func WithDefaultLimit(n int) Option { return func(l *Ledger) { l.defaultLimit = n } }

func New(repo repository.CreditRepository, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:   repo,
		clock:  time.Now,
		ttl:    DefaultTTL,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL is how long a reservation is held before it auto-releases.
func (l *Ledger) TTL() time.Duration { return l.ttl }

func (l *Ledger) now() time.Time { return l.clock().UTC() }

// Reserve holds n credits for batchID. Fails with common.ErrInsufficientCredit.
func (l *Ledger) Reserve(ctx context.Context, userID string, batchID uuid.UUID, n int) (uuid.UUID, error) {
	if n <= 0 {
		return uuid.Nil, fmt.Errorf("%w: reserve %d credits", common.ErrInvalidInput, n)
	}
	if err := l.sweepUser(ctx, userID); err != nil {
		return uuid.Nil, err
	}
	if err := l.ensureAccount(ctx, userID); err != nil {
		return uuid.Nil, err
	}

	now := l.now()
	res := entity.Reservation{
		ID:        uuid.New(),
		UserID:    userID,
		BatchID:   batchID,
		Credits:   n,
		Status:    constants.ReservationHeld,
		CreatedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	bal, err := l.repo.Reserve(ctx, res)
	if err != nil {
		if errors.Is(err, common.ErrInsufficientCredit) {
			l.logger.Warn("ledger.reserve.insufficient", "user_id", userID, "batch_id", batchID, "credits", n)
		} else {
			l.logger.Error("ledger.reserve.failed", "user_id", userID, "batch_id", batchID, "credits", n, "error", err)
		}
		return uuid.Nil, err
	}
	l.logger.Info("ledger.reserve.ok", "user_id", userID, "batch_id", batchID, "reservation_id", res.ID,
		"credits", n, "used", bal.Used, "limit", bal.Limit)
	return res.ID, nil
}

// Commit consumes every reserved credit. Committing a committed reservation is a no-op.
func (l *Ledger) Commit(ctx context.Context, id uuid.UUID) error {
	res, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return l.Settle(ctx, id, res.Credits)
}

// Settle consumes used credits and returns the rest to the account.
// Settling zero credits is a release.
func (l *Ledger) Settle(ctx context.Context, id uuid.UUID, used int) error {
	res, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	switch res.Status {
	case constants.ReservationCommitted:
		return nil
	case constants.ReservationReleased, constants.ReservationExpired:
		return fmt.Errorf("%w: reservation %s is %s", common.ErrReservationExpired, id, res.Status)
	}
	if used < 0 || used > res.Credits {
		err := fmt.Errorf("%w: settle %d of %d reserved credits", common.ErrLedgerInconsistency, used, res.Credits)
		l.logger.Error("ledger.settle.inconsistent", "reservation_id", id, "used", used, "credits", res.Credits)
		return err
	}
	if used == 0 {
		return l.Release(ctx, id)
	}

	stored, changed, err := l.repo.Transition(ctx, id, constants.ReservationCommitted, used, l.now())
	if err != nil {
		if errors.Is(err, common.ErrLedgerInconsistency) {
			l.logger.Error("ledger.commit.inconsistent", "reservation_id", id, "error", err)
		}
		return err
	}
	if !changed {
		switch stored.Status {
		case constants.ReservationCommitted:
			return nil
		case constants.ReservationHeld:
			// still held but past its deadline
			if _, err := l.expire(ctx, id); err != nil {
				return err
			}
		}
		l.logger.Warn("ledger.commit.expired", "reservation_id", id, "user_id", stored.UserID)
		return fmt.Errorf("%w: reservation %s", common.ErrReservationExpired, id)
	}
	l.logger.Info("ledger.commit.ok", "reservation_id", id, "user_id", stored.UserID, "used", used, "returned", stored.Credits-used)
	return nil
}

// Release returns held credit. Releasing a resolved reservation is a no-op.
func (l *Ledger) Release(ctx context.Context, id uuid.UUID) error {
	stored, changed, err := l.repo.Transition(ctx, id, constants.ReservationReleased, 0, l.now())
	if err != nil {
		if errors.Is(err, common.ErrLedgerInconsistency) {
			l.logger.Error("ledger.release.inconsistent", "reservation_id", id, "error", err)
		}
		return err
	}
	if changed {
		l.logger.Info("ledger.release.ok", "reservation_id", id, "user_id", stored.UserID, "credits", stored.Credits)
	}
	return nil
}

// Get returns a reservation as stored.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*entity.Reservation, error) {
	res, err := l.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reservation %s: %w", id, err)
	}
	return res, nil
}

// Balance is read from the store on every call after releasing the user's expired holds.
func (l *Ledger) Balance(ctx context.Context, userID string) (entity.Balance, error) {
	if err := l.sweepUser(ctx, userID); err != nil {
		return entity.Balance{}, err
	}
	if err := l.ensureAccount(ctx, userID); err != nil {
		return entity.Balance{}, err
	}
	bal, err := l.repo.Balance(ctx, userID)
	if errors.Is(err, common.ErrNotFound) {
		return entity.Balance{}, nil
	}
	return bal, err
}

// Grant sets the user's credit limit as decided by billing.
func (l *Ledger) Grant(ctx context.Context, userID string, limit int) (entity.Balance, error) {
	return l.repo.Grant(ctx, userID, limit, l.now())
}

// Entries returns the user's ledger history.
func (l *Ledger) Entries(ctx context.Context, userID string) ([]entity.CreditLedgerEntry, error) {
	return l.repo.Entries(ctx, userID)
}

func (l *Ledger) ensureAccount(ctx context.Context, userID string) error {
	if l.defaultLimit <= 0 {
		return nil
	}
	_, err := l.repo.Balance(ctx, userID)
	if !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if _, err = l.repo.Grant(ctx, userID, l.defaultLimit, l.now()); err != nil {
		// a concurrent first request may have opened the account
		if _, berr := l.repo.Balance(ctx, userID); berr == nil {
			return nil
		}
		return err
	}
	l.logger.Info("ledger.account.opened", "user_id", userID, "limit", l.defaultLimit)
	return nil
}

// Sweep expires every held reservation past its deadline and returns how many it released.
func (l *Ledger) Sweep(ctx context.Context) (int, error) {
	return l.sweep(ctx, "")
}

func (l *Ledger) sweepUser(ctx context.Context, userID string) error {
	_, err := l.sweep(ctx, userID)
	return err
}

func (l *Ledger) sweep(ctx context.Context, userID string) (int, error) {
	total := 0
	for {
		ids, err := l.repo.ExpiredHeld(ctx, userID, l.now(), sweepPage)
		if err != nil {
			return total, err
		}
		for _, id := range ids {
			changed, err := l.expire(ctx, id)
			if err != nil {
				return total, err
			}
			if changed {
				total++
			}
		}
		if len(ids) < sweepPage {
			return total, nil
		}
	}
}

func (l *Ledger) expire(ctx context.Context, id uuid.UUID) (bool, error) {
	stored, changed, err := l.repo.Transition(ctx, id, constants.ReservationExpired, 0, l.now())
	if err != nil {
		l.logger.Error("ledger.expire.failed", "reservation_id", id, "error", err)
		return false, err
	}
	if changed {
		l.logger.Info("ledger.expire.ok", "reservation_id", id, "user_id", stored.UserID, "credits", stored.Credits)
	}
	return changed, nil
}

// RunSweeper expires stale reservations every interval until ctx is done.
func (l *Ledger) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	l.logger.Info("ledger.sweeper.start", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("ledger.sweeper.stop")
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				l.logger.Error("ledger.sweeper.failed", "error", err)
				continue
			}
			if n > 0 {
				l.logger.Info("ledger.sweeper.released", "reservations", n)
			}
		}
	}
}
