package repository

import (
	"context"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/fingerprint"
)

type FingerprintRepository interface {
	FindByExactHash(ctx context.Context, userID string, hash [32]byte) (*entity.ImageFingerprint, error)
	FindSimilar(ctx context.Context, userID, perceptualHash string, maxDistance int) (*entity.ImageFingerprint, error)
	Create(ctx context.Context, fp entity.ImageFingerprint) error
	DeleteBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
}

type fingerprintRepo struct {
	store  *Store
	logger *slog.Logger
}

func NewFingerprintRepository(store *Store, logger *slog.Logger) FingerprintRepository {
	return &fingerprintRepo{store: store, logger: logger}
}

var fingerprintColumns = []string{"id", "user_id", "batch_id", "exact_hash", "perceptual_hash", "size_bytes", "captured_at"}

func scanFingerprint(rows *entsql.Rows) (entity.ImageFingerprint, error) {
	var (
		fp   entity.ImageFingerprint
		hash []byte
		at   int64
	)
	if err := rows.Scan(&fp.ID, &fp.UserID, &fp.BatchID, &hash, &fp.PerceptualHash, &fp.SizeBytes, &at); err != nil {
		return fp, err
	}
	copy(fp.ExactHash[:], hash)
	fp.CapturedAt = fromMillis(at)
	return fp, nil
}

func (r *fingerprintRepo) FindByExactHash(ctx context.Context, userID string, hash [32]byte) (*entity.ImageFingerprint, error) {
	b := r.store.builder()
	q := b.Select(fingerprintColumns...).
		From(b.Table("image_fingerprints")).
		Where(entsql.And(entsql.EQ("user_id", userID), entsql.EQ("exact_hash", hash[:]))).
		Limit(1)

	var found *entity.ImageFingerprint
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		fp, err := scanFingerprint(rows)
		found = &fp
		return err
	})
	if err != nil {
		r.logger.Error("failed to get image fingerprint by hash", "user_id", userID, "error", err)
		return nil, dbErr("lookup image fingerprint", err)
	}
	if found == nil {
		return nil, common.ErrNotFound
	}
	return found, nil
}

// FindSimilar scans the user's perceptual hashes for the closest one within maxDistance.
func (r *fingerprintRepo) FindSimilar(ctx context.Context, userID, perceptualHash string, maxDistance int) (*entity.ImageFingerprint, error) {
	b := r.store.builder()
	q := b.Select(fingerprintColumns...).
		From(b.Table("image_fingerprints")).
		Where(entsql.EQ("user_id", userID))

	var (
		best     *entity.ImageFingerprint
		bestDist = maxDistance + 1
	)
	err := query(ctx, r.store.drv, q, func(rows *entsql.Rows) error {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return err
		}
		if d := fingerprint.Distance(fp.PerceptualHash, perceptualHash); d >= 0 && d < bestDist {
			best, bestDist = &fp, d
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to scan perceptual hashes", "user_id", userID, "error", err)
		return nil, dbErr("scan perceptual hashes", err)
	}
	if best == nil {
		return nil, common.ErrNotFound
	}
	return best, nil
}

func (r *fingerprintRepo) Create(ctx context.Context, fp entity.ImageFingerprint) error {
	return insertFingerprint(ctx, r.store.drv, r.store.builder(), fp)
}

func insertFingerprint(ctx context.Context, eq dialect.ExecQuerier, b *entsql.DialectBuilder, fp entity.ImageFingerprint) error {
	q := b.Insert("image_fingerprints").
		Columns(fingerprintColumns...).
		Values(fp.ID, fp.UserID, fp.BatchID, fp.ExactHash[:], fp.PerceptualHash, fp.SizeBytes, millis(fp.CapturedAt))
	if _, err := exec(ctx, eq, q); err != nil {
		return dbErr("insert image fingerprint", err)
	}
	return nil
}

func (r *fingerprintRepo) DeleteBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	b := r.store.builder()
	n, err := exec(ctx, r.store.drv, b.Delete("image_fingerprints").Where(entsql.EQ("batch_id", batchID)))
	if err != nil {
		r.logger.Error("failed to delete batch fingerprints", "batch_id", batchID, "error", err)
		return 0, dbErr("delete batch fingerprints", err)
	}
	return n, nil
}
