package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

// DefaultMinConfidence is the model confidence below which candidates need review.
const DefaultMinConfidence = 0.60

// Fallback runs the expensive vision route for one image.
type Fallback struct {
	extractor     TradeExtractor
	minConfidence float64
	logger        *slog.Logger
}

func NewFallback(extractor TradeExtractor, minConfidence float64, logger *slog.Logger) *Fallback {
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Fallback{extractor: extractor, minConfidence: minConfidence, logger: logger}
}

// Candidates asks the model for the image's trades. Low model confidence yields candidates
// flagged NeedsReview; an answer with no usable trade is common.ErrNoCandidates.
func (f *Fallback) Candidates(ctx context.Context, imageID uuid.UUID, image []byte, ocrText string) ([]entity.TradeCandidate, error) {
	start := time.Now()
	doc, _, err := f.extractor.ExtractTrades(ctx, ExtractRequest{
		ImageID: imageID,
		Image:   image,
		OCRText: ocrText,
	})
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: fallback extractor: %v", common.ErrExtractionTimeout, err)
		case errors.Is(err, context.Canceled):
			return nil, fmt.Errorf("%w: %v", common.ErrCancelled, err)
		case errors.Is(err, common.ErrExtractionTimeout), errors.Is(err, common.ErrExtractionFailed):
			return nil, fmt.Errorf("fallback extractor: %w", err)
		default:
			return nil, fmt.Errorf("%w: fallback extractor: %v", common.ErrExtractionFailed, err)
		}
	}

	cands := ToCandidates(doc, imageID, f.minConfidence)
	f.logger.Info("llm.fallback.done",
		"image_id", imageID,
		"trades", len(doc.Trades),
		"candidates", len(cands),
		"confidence", doc.Confidence,
		"needs_review", doc.Confidence < f.minConfidence,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if len(cands) == 0 {
		return nil, common.ErrNoCandidates
	}
	return cands, nil
}
