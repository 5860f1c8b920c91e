package repository

import (
	"context"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

// AttemptRepository is append-only: attempts are written once their outcome is known.
type AttemptRepository interface {
	Append(ctx context.Context, a entity.ExtractionAttempt) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]entity.ExtractionAttempt, error)
	ListByUser(ctx context.Context, userID string, since time.Time) ([]entity.ExtractionAttempt, error)
}

type attemptRepo struct {
	store  *Store
	logger *slog.Logger
}

func NewAttemptRepository(store *Store, logger *slog.Logger) AttemptRepository {
	return &attemptRepo{store: store, logger: logger}
}

var attemptColumns = []string{
	"id", "batch_id", "image_id", "user_id", "exact_hash", "raw_text", "recognizer_confidence",
	"quality_score", "route", "override_applied", "override_reason", "elapsed_ms", "outcome", "error", "created_at",
}

func (r *attemptRepo) Append(ctx context.Context, a entity.ExtractionAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	q := r.store.builder().Insert("extraction_attempts").
		Columns(attemptColumns...).
		Values(a.ID, a.BatchID, a.ImageID, a.UserID, a.ExactHash, a.RawText, a.RecognizerConfidence,
			a.QualityScore, string(a.Route), a.OverrideApplied, a.OverrideReason, a.ElapsedMs, string(a.Outcome), a.Error, millis(a.CreatedAt))
	if _, err := exec(ctx, r.store.drv, q); err != nil {
		r.logger.Error("failed to append extraction attempt", "batch_id", a.BatchID, "image_id", a.ImageID, "error", err)
		return dbErr("append extraction attempt", err)
	}
	r.logger.Debug("extraction attempt recorded", "attempt_id", a.ID, "route", a.Route, "outcome", a.Outcome)
	return nil
}

func (r *attemptRepo) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]entity.ExtractionAttempt, error) {
	return r.list(ctx, entsql.EQ("batch_id", batchID))
}

func (r *attemptRepo) ListByUser(ctx context.Context, userID string, since time.Time) ([]entity.ExtractionAttempt, error) {
	return r.list(ctx, entsql.And(entsql.EQ("user_id", userID), entsql.GTE("created_at", millis(since))))
}

func (r *attemptRepo) list(ctx context.Context, where *entsql.Predicate) ([]entity.ExtractionAttempt, error) {
	b := r.store.builder()
	q := b.Select(attemptColumns...).
		From(b.Table("extraction_attempts")).
		Where(where).
		OrderBy("created_at", "id")

	var out []entity.ExtractionAttempt
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		var (
			a              entity.ExtractionAttempt
			route, outcome string
			at             int64
		)
		if err := rows.Scan(&a.ID, &a.BatchID, &a.ImageID, &a.UserID, &a.ExactHash, &a.RawText, &a.RecognizerConfidence,
			&a.QualityScore, &route, &a.OverrideApplied, &a.OverrideReason, &a.ElapsedMs, &outcome, &a.Error, &at); err != nil {
			return err
		}
		a.Route = constants.Route(route)
		a.Outcome = constants.AttemptOutcome(outcome)
		a.CreatedAt = fromMillis(at)
		out = append(out, a)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list extraction attempts", "error", err)
		return nil, dbErr("list extraction attempts", err)
	}
	return out, nil
}
