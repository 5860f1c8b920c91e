package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

type TradeRepository interface {
	// CommitBatch stores a batch's trades and the fingerprints of their images in one transaction.
	CommitBatch(ctx context.Context, trades []entity.Trade, images []entity.ImageFingerprint) error
	// DeleteBatch removes everything CommitBatch stored for batchID.
	DeleteBatch(ctx context.Context, batchID uuid.UUID) error
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*entity.Trade, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]entity.Trade, error)
	ListByUser(ctx context.Context, userID string, since time.Time) ([]entity.Trade, error)
}

type tradeRepo struct {
	store  *Store
	logger *slog.Logger
}

func NewTradeRepository(store *Store, logger *slog.Logger) TradeRepository {
	return &tradeRepo{store: store, logger: logger}
}

var tradeColumns = []string{
	"id", "user_id", "batch_id", "image_id", "exact_hash", "symbol", "side", "entry_price", "exit_price",
	"position_size", "opened_at", "closed_at", "pnl", "roi", "fees", "source", "needs_review",
	"trade_fingerprint", "confirmed_duplicate", "created_at",
}

func (r *tradeRepo) CommitBatch(ctx context.Context, trades []entity.Trade, images []entity.ImageFingerprint) error {
	b := r.store.builder()
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		for _, t := range trades {
			if err := insertTrade(ctx, tx, b, t); err != nil {
				return err
			}
		}
		for _, fp := range images {
			// a concurrent batch may already have stored the same bytes
			q := b.Insert("image_fingerprints").
				Columns(fingerprintColumns...).
				Values(fp.ID, fp.UserID, fp.BatchID, fp.ExactHash[:], fp.PerceptualHash, fp.SizeBytes, millis(fp.CapturedAt)).
				OnConflict(entsql.DoNothing())
			if _, err := exec(ctx, tx, q); err != nil {
				return dbErr("insert image fingerprint", err)
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to commit batch trades", "trades", len(trades), "images", len(images), "error", err)
		return err
	}
	r.logger.Info("batch trades committed", "trades", len(trades), "images", len(images))
	return nil
}

func insertTrade(ctx context.Context, eq dialect.ExecQuerier, b *entsql.DialectBuilder, t entity.Trade) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	q := b.Insert("trades").
		Columns(tradeColumns...).
		Values(t.ID, t.UserID, t.BatchID, t.ImageID, t.ExactHash, t.Symbol, string(t.Side), t.EntryPrice, t.ExitPrice,
			t.PositionSize, nullMillis(t.OpenedAt), nullMillis(t.ClosedAt), t.PnL, t.ROI, t.Fees, string(t.Source), t.NeedsReview,
			t.TradeFingerprint, t.ConfirmedDuplicate, millis(t.CreatedAt))
	if _, err := exec(ctx, eq, q); err != nil {
		return dbErr("insert trade", err)
	}
	return nil
}

func (r *tradeRepo) DeleteBatch(ctx context.Context, batchID uuid.UUID) error {
	b := r.store.builder()
	err := r.store.withTx(ctx, func(tx dialect.Tx) error {
		if _, err := exec(ctx, tx, b.Delete("trades").Where(entsql.EQ("batch_id", batchID))); err != nil {
			return dbErr("delete batch trades", err)
		}
		if _, err := exec(ctx, tx, b.Delete("image_fingerprints").Where(entsql.EQ("batch_id", batchID))); err != nil {
			return dbErr("delete batch fingerprints", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to delete batch trades", "batch_id", batchID, "error", err)
		return err
	}
	r.logger.Warn("batch trades deleted", "batch_id", batchID)
	return nil
}

func (r *tradeRepo) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*entity.Trade, error) {
	trades, err := r.list(ctx, entsql.And(entsql.EQ("user_id", userID), entsql.EQ("trade_fingerprint", fingerprint)), 1)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, common.ErrNotFound
	}
	return &trades[0], nil
}

func (r *tradeRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]entity.Trade, error) {
	return r.list(ctx, entsql.EQ("batch_id", batchID), 0)
}

func (r *tradeRepo) ListByUser(ctx context.Context, userID string, since time.Time) ([]entity.Trade, error) {
	return r.list(ctx, entsql.And(entsql.EQ("user_id", userID), entsql.GTE("created_at", millis(since))), 0)
}

func (r *tradeRepo) list(ctx context.Context, where *entsql.Predicate, limit int) ([]entity.Trade, error) {
	b := r.store.builder()
	q := b.Select(tradeColumns...).
		From(b.Table("trades")).
		Where(where).
		OrderBy("created_at", "id")
	if limit > 0 {
		q.Limit(limit)
	}

	var out []entity.Trade
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		var (
			t              entity.Trade
			side, source   string
			opened, closed sql.NullInt64
			created        int64
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.BatchID, &t.ImageID, &t.ExactHash, &t.Symbol, &side, &t.EntryPrice, &t.ExitPrice,
			&t.PositionSize, &opened, &closed, &t.PnL, &t.ROI, &t.Fees, &source, &t.NeedsReview,
			&t.TradeFingerprint, &t.ConfirmedDuplicate, &created); err != nil {
			return err
		}
		t.Side = entity.Side(side)
		t.Source = constants.Route(source)
		t.OpenedAt = timeFromNull(opened)
		t.ClosedAt = timeFromNull(closed)
		t.CreatedAt = fromMillis(created)
		out = append(out, t)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list trades", "error", err)
		return nil, dbErr("list trades", err)
	}
	return out, nil
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: millis(*t), Valid: true}
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
