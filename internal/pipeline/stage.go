package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/parse"
	"github.com/joseph-ayodele/trade-ingest/internal/router"
)

// extraction is what one image's trip through recognition and routing produced.
type extraction struct {
	route      constants.Route
	score      float64
	confidence float64
	override   string
	lowConf    bool
	candidates []entity.TradeCandidate
	err        error
}

// extractImage runs recognition, scoring, routing and the chosen parser for one fingerprinted
// image, then appends the attempt. It reads only immutable image fields.
func (c *Coordinator) extractImage(ctx context.Context, b *Batch, img *image) extraction {
	start := time.Now()
	attempt := entity.ExtractionAttempt{
		ID:        uuid.New(),
		BatchID:   b.id,
		ImageID:   img.id,
		UserID:    b.userID,
		ExactHash: img.fp.ExactHash[:],
	}

	res, err := c.extractor.Extract(ctx, img.data)
	attempt.RawText = res.RawText
	attempt.RecognizerConfidence = res.Confidence
	if err != nil {
		c.recordAttempt(ctx, attempt, start, err)
		return extraction{confidence: res.Confidence, err: err}
	}

	out := extraction{confidence: res.Confidence}
	out.score = c.scorer.Score(res.RawText, res.Confidence)
	dec := c.router.Decide(router.Input{
		QualityScore:   out.score,
		Override:       b.opts.ForceCheap,
		PreferFallback: b.opts.PreferFallback,
		BatchSize:      len(b.images),
		MultiRegion:    parse.CountRegions(res.RawText) > 1,
	})
	out.route = dec.Route
	out.override = dec.OverrideReason
	out.lowConf = dec.LowConfidenceWarning
	attempt.QualityScore = out.score
	attempt.Route = dec.Route
	attempt.OverrideApplied = dec.OverrideApplied
	attempt.OverrideReason = dec.OverrideReason

	switch dec.Route {
	case constants.RouteFast:
		out.candidates = c.parser.Parse(img.id, res.RawText)
		for i := range out.candidates {
			out.candidates[i].NeedsReview = out.candidates[i].NeedsReview || dec.LowConfidenceWarning
		}
		if len(out.candidates) == 0 {
			out.err = fmt.Errorf("%w: fast parse of %d chars", common.ErrNoCandidates, len(res.RawText))
		}
	case constants.RouteFallback:
		if c.fallback == nil {
			out.err = fmt.Errorf("%w: no fallback extractor configured", common.ErrExtractionFailed)
			break
		}
		out.candidates, out.err = c.fallback.Candidates(ctx, img.id, img.data, res.RawText)
	}
	if out.err != nil {
		out.candidates = nil
	}
	c.recordAttempt(ctx, attempt, start, out.err)
	return out
}

// recordAttempt appends the audit row. It is written even when the batch was cancelled.
func (c *Coordinator) recordAttempt(ctx context.Context, a entity.ExtractionAttempt, start time.Time, err error) {
	a.ElapsedMs = time.Since(start).Milliseconds()
	a.CreatedAt = c.now()
	a.Outcome = outcomeOf(err)
	if err != nil {
		a.Error = err.Error()
	}
	if aerr := c.attempts.Append(context.WithoutCancel(ctx), a); aerr != nil {
		c.logger.Error("pipeline.attempt.append_failed", "batch_id", a.BatchID, "image_id", a.ImageID, "error", aerr)
	}
}

func outcomeOf(err error) constants.AttemptOutcome {
	switch {
	case err == nil:
		return constants.OutcomeOK
	case errors.Is(err, common.ErrExtractionTimeout):
		return constants.OutcomeTimeout
	}
	return constants.OutcomeError
}

// fail marks an image failed with the typed cause of err. Callers hold the batch lock.
func (img *image) fail(err error) {
	img.status = constants.ImageFailed
	img.cause = common.CauseOf(err)
	img.err = err.Error()
	img.candidates = nil
}

// apply stores an extraction result. Callers hold the batch lock.
func (img *image) apply(out extraction) {
	img.route = out.route
	img.score = out.score
	img.confidence = out.confidence
	img.override = out.override
	img.lowConf = out.lowConf
	if out.err != nil {
		img.fail(out.err)
		return
	}
	img.candidates = out.candidates
	img.status = constants.ImageExtracted
}
