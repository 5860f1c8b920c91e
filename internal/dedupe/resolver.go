// Package dedupe classifies trade candidates as novel, exact image duplicates or probable trade duplicates.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/fingerprint"
)

// NearDuplicateDistance is the largest perceptual-hash distance reported as a similar image.
const NearDuplicateDistance = 6

// ImageIndex looks up stored image fingerprints. Lookups return common.ErrNotFound when absent.
type ImageIndex interface {
	FindByExactHash(ctx context.Context, userID string, hash [32]byte) (*entity.ImageFingerprint, error)
	FindSimilar(ctx context.Context, userID, perceptualHash string, maxDistance int) (*entity.ImageFingerprint, error)
}

// TradeIndex looks up committed trades. Lookups return common.ErrNotFound when absent.
type TradeIndex interface {
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*entity.Trade, error)
}

// Resolver checks candidates against the user's stored images and committed trades.
type Resolver struct {
	images      ImageIndex
	trades      TradeIndex
	logger      *slog.Logger
	fingerprint func(entity.TradeCandidate) string
}

func NewResolver(images ImageIndex, trades TradeIndex, logger *slog.Logger) *Resolver {
	return &Resolver{
		images:      images,
		trades:      trades,
		logger:      logger,
		fingerprint: TradeFingerprint,
	}
}

// Resolve classifies candidates from one image against stored records only.
// Candidate trade fingerprints are filled in place unless the image is an exact duplicate.
func (r *Resolver) Resolve(ctx context.Context, userID string, fp entity.ImageFingerprint, candidates []entity.TradeCandidate) ([]entity.DuplicateVerdict, error) {
	return r.resolve(ctx, nil, userID, fp, candidates)
}

// Batch returns a resolver scope that also matches earlier images and candidates of the same batch.
// A Batch is not safe for concurrent use; resolve images in submission order.
func (r *Resolver) Batch() *Batch {
	return &Batch{
		r:       r,
		images:  make(map[[32]byte]uuid.UUID),
		trades:  make(map[string]entity.TradeSummary),
		checked: make(map[uuid.UUID]*uuid.UUID),
	}
}

// Batch remembers what earlier images of one upload already contributed.
type Batch struct {
	r       *Resolver
	images  map[[32]byte]uuid.UUID
	hashes  []batchImage
	trades  map[string]entity.TradeSummary
	checked map[uuid.UUID]*uuid.UUID // image id -> exact match found by ExactImage
}

type batchImage struct {
	id    uuid.UUID
	phash string
}

// ExactImage returns the id of a stored image, or an earlier image of this batch, with the same
// bytes as fp, and records fp. Run it on each image in submission order before extraction;
// Resolve then reuses the answer.
func (b *Batch) ExactImage(ctx context.Context, userID string, fp entity.ImageFingerprint) (*uuid.UUID, error) {
	matched, err := b.r.exactMatch(ctx, b, userID, fp)
	if err != nil {
		return nil, err
	}
	b.checked[fp.ID] = matched
	b.remember(fp)
	if matched != nil {
		b.r.logger.Info("dedupe.exact_image", "user_id", userID, "image_id", fp.ID, "matched_id", *matched)
	}
	return matched, nil
}

// Resolve classifies candidates against stored records and the batch seen so far, then records this image.
func (b *Batch) Resolve(ctx context.Context, userID string, fp entity.ImageFingerprint, candidates []entity.TradeCandidate) ([]entity.DuplicateVerdict, error) {
	verdicts, err := b.r.resolve(ctx, b, userID, fp, candidates)
	if err != nil {
		return nil, err
	}
	b.remember(fp)
	for i, v := range verdicts {
		if v.Status == constants.DuplicateExactImage {
			continue
		}
		c := candidates[i]
		if _, seen := b.trades[c.TradeFingerprint]; !seen {
			b.trades[c.TradeFingerprint] = entity.TradeSummary{TradeID: c.ID, Symbol: c.Symbol, Side: c.Side, ClosedAt: c.ClosedAt, PnL: c.PnL}
		}
	}
	return verdicts, nil
}

func (b *Batch) remember(fp entity.ImageFingerprint) {
	if _, seen := b.images[fp.ExactHash]; seen {
		return
	}
	b.images[fp.ExactHash] = fp.ID
	b.hashes = append(b.hashes, batchImage{id: fp.ID, phash: fp.PerceptualHash})
}

func (r *Resolver) resolve(ctx context.Context, b *Batch, userID string, fp entity.ImageFingerprint, candidates []entity.TradeCandidate) ([]entity.DuplicateVerdict, error) {
	verdicts := make([]entity.DuplicateVerdict, len(candidates))
	for i, c := range candidates {
		verdicts[i] = entity.DuplicateVerdict{CandidateID: c.ID, Status: constants.DuplicateNovel}
	}

	var (
		matched *uuid.UUID
		checked bool
		err     error
	)
	if b != nil {
		matched, checked = b.checked[fp.ID]
	}
	if !checked {
		if matched, err = r.exactMatch(ctx, b, userID, fp); err != nil {
			return nil, err
		}
	}
	if matched != nil {
		r.logger.Info("dedupe.exact_image", "user_id", userID, "image_id", fp.ID, "matched_id", *matched, "candidates", len(candidates))
		for i := range verdicts {
			id := *matched
			verdicts[i].Status = constants.DuplicateExactImage
			verdicts[i].MatchedRecordID = &id
		}
		return verdicts, nil
	}

	similar, err := r.similarImage(ctx, b, userID, fp)
	if err != nil {
		return nil, err
	}

	probable := 0
	for i := range candidates {
		candidates[i].TradeFingerprint = r.fingerprint(candidates[i])
		if similar != nil {
			id := *similar
			verdicts[i].SimilarImageID = &id
		}
		conflict, err := r.tradeMatch(ctx, b, userID, candidates[i].TradeFingerprint)
		if err != nil {
			return nil, err
		}
		if conflict == nil {
			continue
		}
		id := conflict.TradeID
		verdicts[i].Status = constants.DuplicateProbableTrade
		verdicts[i].MatchedRecordID = &id
		verdicts[i].Conflict = conflict
		probable++
	}
	r.logger.Debug("dedupe.resolved", "user_id", userID, "image_id", fp.ID, "candidates", len(candidates), "probable", probable)
	return verdicts, nil
}

func (r *Resolver) exactMatch(ctx context.Context, b *Batch, userID string, fp entity.ImageFingerprint) (*uuid.UUID, error) {
	if b != nil {
		if id, ok := b.images[fp.ExactHash]; ok && id != fp.ID {
			return &id, nil
		}
	}
	stored, err := r.images.FindByExactHash(ctx, userID, fp.ExactHash)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup image hash: %w", err)
	}
	return &stored.ID, nil
}

// similarImage is a hint only and never changes a verdict's status.
func (r *Resolver) similarImage(ctx context.Context, b *Batch, userID string, fp entity.ImageFingerprint) (*uuid.UUID, error) {
	if fp.PerceptualHash == "" {
		return nil, nil
	}
	if b != nil {
		// only images earlier in the batch
		for _, img := range b.hashes {
			if img.id == fp.ID {
				break
			}
			if d := fingerprint.Distance(img.phash, fp.PerceptualHash); d >= 0 && d <= NearDuplicateDistance {
				id := img.id
				return &id, nil
			}
		}
	}
	stored, err := r.images.FindSimilar(ctx, userID, fp.PerceptualHash, NearDuplicateDistance)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup similar image: %w", err)
	}
	return &stored.ID, nil
}

func (r *Resolver) tradeMatch(ctx context.Context, b *Batch, userID, tradeFP string) (*entity.TradeSummary, error) {
	if b != nil {
		if s, ok := b.trades[tradeFP]; ok {
			return &s, nil
		}
	}
	t, err := r.trades.FindByFingerprint(ctx, userID, tradeFP)
	switch {
	case errors.Is(err, common.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("lookup trade fingerprint: %w", err)
	}
	s := t.Summary()
	return &s, nil
}
