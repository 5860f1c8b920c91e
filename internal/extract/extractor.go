package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

// DefaultBudget is the recognition time budget per image.
const DefaultBudget = 3 * time.Second

// Extractor races a Recognizer against a fixed time budget.
type Extractor struct {
	rec    Recognizer
	budget time.Duration
	logger *slog.Logger
}

func NewExtractor(rec Recognizer, budget time.Duration, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Extractor{rec: rec, budget: budget, logger: logger}
}

// Budget returns the per-image deadline.
func (e *Extractor) Budget() time.Duration { return e.budget }

type recognized struct {
	r   Recognition
	err error
}

// Extract returns as soon as recognition finishes or the budget elapses, whichever is first.
// On deadline the recognizer's context is cancelled and Outcome is timeout.
func (e *Extractor) Extract(ctx context.Context, image []byte) (Result, error) {
	start := time.Now()
	res := Result{Engine: e.rec.Name()}

	rctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	done := make(chan recognized, 1)
	go func() {
		r, err := e.rec.Recognize(rctx, image)
		done <- recognized{r: r, err: err}
	}()

	select {
	case out := <-done:
		res.Elapsed = time.Since(start)
		if out.err != nil {
			if errors.Is(rctx.Err(), context.DeadlineExceeded) {
				return e.timedOut(res, start)
			}
			res.Outcome = constants.OutcomeError
			e.logger.Warn("extract.recognize.error",
				"engine", res.Engine, "error", out.err, "elapsed_ms", res.Elapsed.Milliseconds())
			if ctx.Err() != nil {
				return res, fmt.Errorf("%w: %v", common.ErrCancelled, ctx.Err())
			}
			return res, fmt.Errorf("%w: %s: %v", common.ErrExtractionFailed, res.Engine, out.err)
		}
		res.RawText = Normalize(out.r.Text)
		res.Confidence = clamp01(out.r.Confidence)
		res.Words = out.r.Words
		res.Outcome = constants.OutcomeOK
		e.logger.Debug("extract.recognize.ok",
			"engine", res.Engine,
			"text_len", len(res.RawText),
			"confidence", res.Confidence,
			"elapsed_ms", res.Elapsed.Milliseconds(),
		)
		return res, nil

	case <-rctx.Done():
		cancel()
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Elapsed = time.Since(start)
			res.Outcome = constants.OutcomeError
			return res, fmt.Errorf("%w: %v", common.ErrCancelled, ctx.Err())
		}
		return e.timedOut(res, start)
	}
}

func (e *Extractor) timedOut(res Result, start time.Time) (Result, error) {
	res.Elapsed = time.Since(start)
	res.Outcome = constants.OutcomeTimeout
	e.logger.Warn("extract.recognize.timeout",
		"engine", res.Engine,
		"budget_ms", e.budget.Milliseconds(),
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, fmt.Errorf("%w after %s", common.ErrExtractionTimeout, e.budget)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
