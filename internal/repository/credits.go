package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

// CreditRepository owns the credit tables. Every mutation writes its ledger entry in the same
// transaction, so the sum of a user's deltas always equals credit_limit - used.
type CreditRepository interface {
	// Grant sets the user's credit limit, creating the account if needed.
	Grant(ctx context.Context, userID string, limit int, at time.Time) (entity.Balance, error)
	// Reserve holds res.Credits with one conditional update. Fails with common.ErrInsufficientCredit.
	Reserve(ctx context.Context, res entity.Reservation) (entity.Balance, error)
	// Transition moves a held reservation to committed, released or expired. used credits stay
	// consumed and the rest return to the account. changed is false when the reservation was not
	// eligible (already resolved, or expiry mismatch); the stored reservation is returned either way.
	Transition(ctx context.Context, id uuid.UUID, to constants.ReservationStatus, used int, now time.Time) (res entity.Reservation, changed bool, err error)
	GetReservation(ctx context.Context, id uuid.UUID) (*entity.Reservation, error)
	Balance(ctx context.Context, userID string) (entity.Balance, error)
	// ExpiredHeld lists held reservations past their expiry. An empty userID matches every user.
	ExpiredHeld(ctx context.Context, userID string, now time.Time, limit int) ([]uuid.UUID, error)
	Entries(ctx context.Context, userID string) ([]entity.CreditLedgerEntry, error)
}

type creditRepo struct {
	store  *Store
	logger *slog.Logger
}

func NewCreditRepository(store *Store, logger *slog.Logger) CreditRepository {
	return &creditRepo{store: store, logger: logger}
}

var reservationColumns = []string{"id", "user_id", "batch_id", "credits", "status", "created_at", "expires_at"}

func (r *creditRepo) Grant(ctx context.Context, userID string, limit int, at time.Time) (entity.Balance, error) {
	if limit < 0 {
		return entity.Balance{}, fmt.Errorf("%w: negative credit limit", common.ErrInvalidInput)
	}
	b := r.store.builder()
	var bal entity.Balance
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		delta := limit
		cur, err := balanceOf(ctx, tx, b, userID)
		switch {
		case IsNotFound(err):
			q := b.Insert("credit_accounts").
				Columns("user_id", "credit_limit", "used", "updated_at").
				Values(userID, limit, 0, millis(at))
			if _, err := exec(ctx, tx, q); err != nil {
				return dbErr("create credit account", err)
			}
			bal = entity.Balance{Limit: limit}
		case err != nil:
			return err
		default:
			if limit < cur.Used {
				return fmt.Errorf("%w: limit %d below %d credits in use", common.ErrInvalidInput, limit, cur.Used)
			}
			q := b.Update("credit_accounts").
				Set("credit_limit", limit).
				Set("updated_at", millis(at)).
				Where(entsql.EQ("user_id", userID))
			if _, err := exec(ctx, tx, q); err != nil {
				return dbErr("update credit limit", err)
			}
			bal = entity.Balance{Used: cur.Used, Limit: limit}
			delta = limit - cur.Limit
		}
		if delta == 0 {
			return nil
		}
		return appendEntry(ctx, tx, b, entity.CreditLedgerEntry{
			UserID: userID, Delta: delta, Reason: constants.LedgerGrant, BalanceAfter: bal.Available(), At: at,
		})
	})
	if err != nil {
		r.logger.Error("credit grant failed", "user_id", userID, "error", err)
		return entity.Balance{}, err
	}
	r.logger.Info("credit limit granted", "user_id", userID, "limit", bal.Limit, "used", bal.Used)
	return bal, nil
}

func (r *creditRepo) Reserve(ctx context.Context, res entity.Reservation) (entity.Balance, error) {
	if res.Credits <= 0 {
		return entity.Balance{}, fmt.Errorf("%w: reservation of %d credits", common.ErrInvalidInput, res.Credits)
	}
	b := r.store.builder()
	var bal entity.Balance
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		n := res.Credits
		upd := b.Update("credit_accounts").
			Add("used", n).
			Set("updated_at", millis(res.CreatedAt)).
			Where(entsql.And(
				entsql.EQ("user_id", res.UserID),
				entsql.P(func(pb *entsql.Builder) {
					pb.Ident("credit_limit").WriteString(" - ").Ident("used").WriteString(" >= ").Arg(n)
				}),
			))
		affected, err := exec(ctx, tx, upd)
		if err != nil {
			return dbErr("reserve credits", err)
		}
		if affected == 0 {
			return common.ErrInsufficientCredit
		}
		if bal, err = balanceOf(ctx, tx, b, res.UserID); err != nil {
			return err
		}
		ins := b.Insert("credit_reservations").
			Columns(reservationColumns...).
			Values(res.ID, res.UserID, res.BatchID, n, string(constants.ReservationHeld), millis(res.CreatedAt), millis(res.ExpiresAt))
		if _, err := exec(ctx, tx, ins); err != nil {
			return dbErr("insert reservation", err)
		}
		id := res.ID
		return appendEntry(ctx, tx, b, entity.CreditLedgerEntry{
			UserID: res.UserID, ReservationID: &id, Delta: -n, Reason: constants.LedgerReserve, BalanceAfter: bal.Available(), At: res.CreatedAt,
		})
	})
	if err != nil {
		return entity.Balance{}, err
	}
	return bal, nil
}

func (r *creditRepo) Transition(ctx context.Context, id uuid.UUID, to constants.ReservationStatus, used int, now time.Time) (entity.Reservation, bool, error) {
	cond := []*entsql.Predicate{entsql.EQ("id", id), entsql.EQ("status", string(constants.ReservationHeld))}
	switch to {
	case constants.ReservationCommitted:
		cond = append(cond, entsql.GT("expires_at", millis(now)))
	case constants.ReservationReleased:
		used = 0
	case constants.ReservationExpired:
		used = 0
		cond = append(cond, entsql.LTE("expires_at", millis(now)))
	default:
		return entity.Reservation{}, false, fmt.Errorf("%w: transition to %q", common.ErrInvalidInput, to)
	}

	b := r.store.builder()
	var (
		res     entity.Reservation
		changed bool
	)
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		affected, err := exec(ctx, tx, b.Update("credit_reservations").
			Set("status", string(to)).
			Set("resolved_at", millis(now)).
			Where(entsql.And(cond...)))
		if err != nil {
			return dbErr("update reservation", err)
		}
		stored, err := reservationByID(ctx, tx, b, id)
		if err != nil {
			return err
		}
		res = *stored
		if affected == 0 {
			return nil
		}
		changed = true

		if used < 0 || used > res.Credits {
			return fmt.Errorf("%w: settle %d of %d reserved credits", common.ErrLedgerInconsistency, used, res.Credits)
		}
		returned := res.Credits - used
		if returned > 0 {
			dec, err := exec(ctx, tx, b.Update("credit_accounts").
				Add("used", -returned).
				Set("updated_at", millis(now)).
				Where(entsql.And(entsql.EQ("user_id", res.UserID), entsql.GTE("used", returned))))
			if err != nil {
				return dbErr("return credits", err)
			}
			if dec == 0 {
				return fmt.Errorf("%w: returning %d credits to %s", common.ErrLedgerInconsistency, returned, res.UserID)
			}
		}
		bal, err := balanceOf(ctx, tx, b, res.UserID)
		if err != nil {
			if IsNotFound(err) {
				return fmt.Errorf("%w: account %s missing", common.ErrLedgerInconsistency, res.UserID)
			}
			return err
		}
		rid := res.ID
		if used > 0 {
			if err := appendEntry(ctx, tx, b, entity.CreditLedgerEntry{
				UserID: res.UserID, ReservationID: &rid, Delta: 0, Reason: constants.LedgerCommit, BalanceAfter: bal.Available(), At: now,
			}); err != nil {
				return err
			}
		}
		if returned > 0 {
			return appendEntry(ctx, tx, b, entity.CreditLedgerEntry{
				UserID: res.UserID, ReservationID: &rid, Delta: returned, Reason: constants.LedgerRelease, BalanceAfter: bal.Available(), At: now,
			})
		}
		return nil
	})
	if err != nil {
		r.logger.Error("reservation transition failed", "reservation_id", id, "to", to, "error", err)
		return entity.Reservation{}, false, err
	}
	return res, changed, nil
}

func (r *creditRepo) GetReservation(ctx context.Context, id uuid.UUID) (*entity.Reservation, error) {
	return reservationByID(ctx, r.store.drv, r.store.builder(), id)
}

func (r *creditRepo) Balance(ctx context.Context, userID string) (entity.Balance, error) {
	return balanceOf(ctx, r.store.drv, r.store.builder(), userID)
}

func (r *creditRepo) ExpiredHeld(ctx context.Context, userID string, now time.Time, limit int) ([]uuid.UUID, error) {
	b := r.store.builder()
	preds := []*entsql.Predicate{
		entsql.EQ("status", string(constants.ReservationHeld)),
		entsql.LTE("expires_at", millis(now)),
	}
	if userID != "" {
		preds = append(preds, entsql.EQ("user_id", userID))
	}
	q := b.Select("id").From(b.Table("credit_reservations")).Where(entsql.And(preds...)).OrderBy("expires_at")
	if limit > 0 {
		q.Limit(limit)
	}
	var ids []uuid.UUID
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, dbErr("list expired reservations", err)
	}
	return ids, nil
}

func (r *creditRepo) Entries(ctx context.Context, userID string) ([]entity.CreditLedgerEntry, error) {
	b := r.store.builder()
	q := b.Select("id", "user_id", "reservation_id", "delta", "reason", "balance_after", "at").
		From(b.Table("credit_ledger")).
		Where(entsql.EQ("user_id", userID)).
		OrderBy("at")
	var out []entity.CreditLedgerEntry
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		var (
			e      entity.CreditLedgerEntry
			resID  uuid.NullUUID
			reason string
			at     int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &resID, &e.Delta, &reason, &e.BalanceAfter, &at); err != nil {
			return err
		}
		if resID.Valid {
			id := resID.UUID
			e.ReservationID = &id
		}
		e.Reason = constants.LedgerReason(reason)
		e.At = fromMillis(at)
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, dbErr("list ledger entries", err)
	}
	return out, nil
}

func balanceOf(ctx context.Context, eq dialect.ExecQuerier, b *entsql.DialectBuilder, userID string) (entity.Balance, error) {
	q := b.Select("credit_limit", "used").From(b.Table("credit_accounts")).Where(entsql.EQ("user_id", userID))
	var (
		bal   entity.Balance
		found bool
	)
	err := query(ctx, eq, q, func(rows *entsql.Rows) error {
		found = true
		return rows.Scan(&bal.Limit, &bal.Used)
	})
	if err != nil {
		return entity.Balance{}, dbErr("read balance", err)
	}
	if !found {
		return entity.Balance{}, common.ErrNotFound
	}
	if bal.Used < 0 || bal.Used > bal.Limit {
		return bal, fmt.Errorf("%w: account %s used %d of %d", common.ErrLedgerInconsistency, userID, bal.Used, bal.Limit)
	}
	return bal, nil
}

func reservationByID(ctx context.Context, eq dialect.ExecQuerier, b *entsql.DialectBuilder, id uuid.UUID) (*entity.Reservation, error) {
	q := b.Select(reservationColumns...).From(b.Table("credit_reservations")).Where(entsql.EQ("id", id))
	var found *entity.Reservation
	err := query(ctx, eq, q, func(rows *entsql.Rows) error {
		var (
			res             entity.Reservation
			status          string
			created, expiry int64
		)
		if err := rows.Scan(&res.ID, &res.UserID, &res.BatchID, &res.Credits, &status, &created, &expiry); err != nil {
			return err
		}
		res.Status = constants.ReservationStatus(status)
		res.CreatedAt = fromMillis(created)
		res.ExpiresAt = fromMillis(expiry)
		found = &res
		return nil
	})
	if err != nil {
		return nil, dbErr("read reservation", err)
	}
	if found == nil {
		return nil, common.ErrNotFound
	}
	return found, nil
}

func appendEntry(ctx context.Context, eq dialect.ExecQuerier, b *entsql.DialectBuilder, e entity.CreditLedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	var resID any
	if e.ReservationID != nil {
		resID = *e.ReservationID
	}
	q := b.Insert("credit_ledger").
		Columns("id", "user_id", "reservation_id", "delta", "reason", "balance_after", "at").
		Values(e.ID, e.UserID, resID, e.Delta, string(e.Reason), e.BalanceAfter, millis(e.At))
	if _, err := exec(ctx, eq, q); err != nil {
		return dbErr("append ledger entry", err)
	}
	return nil
}

// IsNotFound reports whether err is a missing-row lookup.
func IsNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }
