// Package pipeline coordinates upload batches: fingerprint, extract, route, resolve duplicates,
// reserve credit and commit or reject.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/async"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
	"github.com/joseph-ayodele/trade-ingest/internal/dedupe"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/extract"
	"github.com/joseph-ayodele/trade-ingest/internal/fingerprint"
	"github.com/joseph-ayodele/trade-ingest/internal/ledger"
	"github.com/joseph-ayodele/trade-ingest/internal/parse"
	"github.com/joseph-ayodele/trade-ingest/internal/quality"
	"github.com/joseph-ayodele/trade-ingest/internal/repository"
	"github.com/joseph-ayodele/trade-ingest/internal/router"
)

const (
	DefaultImageConcurrency = 4
	DefaultMaxImages        = 20
	DefaultMaxImageBytes    = 10 << 20

	// CandidatesPerCredit caps how many trades one reserved credit may carry.
	CandidatesPerCredit = 10
)

// FallbackExtractor is the expensive route: a vision model reading the image directly.
type FallbackExtractor interface {
	Candidates(ctx context.Context, imageID uuid.UUID, image []byte, ocrText string) ([]entity.TradeCandidate, error)
}

// Dispatcher hands a submitted batch to whatever runs it.
type Dispatcher interface {
	Enqueue(ctx context.Context, job async.Job) error
}

// Config bounds batch size and parallelism.
type Config struct {
	ImageConcurrency  int
	MaxImagesPerBatch int
	MaxImageBytes     int
	Retention         time.Duration
}

// Deps are the components a Coordinator drives.
type Deps struct {
	Fingerprinter *fingerprint.Fingerprinter
	Extractor     *extract.Extractor
	Scorer        quality.Scorer
	Router        *router.Router
	Parser        parse.Parser
	Fallback      FallbackExtractor
	Resolver      *dedupe.Resolver
	Ledger        *ledger.Ledger
	Attempts      repository.AttemptRepository
	Trades        repository.TradeRepository
}

// Coordinator owns the batch state machine.
type Coordinator struct {
	cfg           Config
	fingerprinter *fingerprint.Fingerprinter
	extractor     *extract.Extractor
	scorer        quality.Scorer
	router        *router.Router
	parser        parse.Parser
	fallback      FallbackExtractor
	resolver      *dedupe.Resolver
	ledger        *ledger.Ledger
	attempts      repository.AttemptRepository
	trades        repository.TradeRepository
	registry      *Registry
	dispatcher    Dispatcher
	clock         func() time.Time
	logger        *slog.Logger
}

type Option func(*Coordinator)

// WithClock replaces time.Now for timestamps and reservation expiry checks.
func WithClock(fn func() time.Time) Option { return func(c *Coordinator) { c.clock = fn } }

// WithDispatcher runs submitted batches through d instead of on the submitting goroutine.
func WithDispatcher(d Dispatcher) Option { return func(c *Coordinator) { c.dispatcher = d } }

func New(deps Deps, cfg Config, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ImageConcurrency <= 0 {
		cfg.ImageConcurrency = DefaultImageConcurrency
	}
	if cfg.MaxImagesPerBatch <= 0 {
		cfg.MaxImagesPerBatch = DefaultMaxImages
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}
	if deps.Fingerprinter == nil {
		deps.Fingerprinter = fingerprint.New()
	}
	if deps.Scorer == nil {
		deps.Scorer = quality.Heuristic{}
	}
	c := &Coordinator{
		cfg:           cfg,
		fingerprinter: deps.Fingerprinter,
		extractor:     deps.Extractor,
		scorer:        deps.Scorer,
		router:        deps.Router,
		parser:        deps.Parser,
		fallback:      deps.Fallback,
		resolver:      deps.Resolver,
		ledger:        deps.Ledger,
		attempts:      deps.Attempts,
		trades:        deps.Trades,
		registry:      NewRegistry(cfg.Retention),
		clock:         time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dispatcher == nil {
		c.dispatcher = inline{c: c}
	}
	return c
}

// SetDispatcher swaps the dispatcher. Call it before the coordinator serves requests.
func (c *Coordinator) SetDispatcher(d Dispatcher) { c.dispatcher = d }

// Registry exposes the in-memory batch registry (for status subscriptions).
func (c *Coordinator) Registry() *Registry { return c.registry }

func (c *Coordinator) now() time.Time { return c.clock().UTC() }

// inline runs batches on the submitting goroutine.
type inline struct{ c *Coordinator }

func (d inline) Enqueue(ctx context.Context, job async.Job) error {
	if err := d.c.Run(ctx, job.BatchID); err != nil {
		d.c.logger.Warn("pipeline.batch.not_run", "batch_id", job.BatchID, "error", err)
	}
	return nil
}

// Submit registers a batch and dispatches it. Images are checked for count and size only;
// undecodable images fail individually once the batch runs.
func (c *Coordinator) Submit(ctx context.Context, userID string, uploads []Upload, opts Options) (uuid.UUID, error) {
	v := common.NewValidator().
		Field("user_id", userID, common.Required).
		Field("images", len(uploads), common.CountBetween(1, c.cfg.MaxImagesPerBatch))
	for i, u := range uploads {
		v.Field(fmt.Sprintf("images[%d].bytes", i), len(u.Data), common.CountBetween(0, c.cfg.MaxImageBytes))
	}
	if err := v.Err(); err != nil {
		return uuid.Nil, err
	}

	now := c.now()
	b := newBatch(userID, uploads, opts, now)
	c.registry.put(b)
	b.mu.Lock()
	c.registry.publish(b.snapshot())
	b.mu.Unlock()

	c.logger.Info("pipeline.batch.submitted",
		"batch_id", b.id, "user_id", userID, "images", len(uploads),
		"force_cheap", opts.ForceCheap, "prefer_fallback", opts.PreferFallback,
		"req_id", common.RequestIDFromContext(ctx))

	job := async.Job{BatchID: b.id, UserID: userID, SubmittedAt: now, TraceID: common.RequestIDFromContext(ctx)}
	if err := c.dispatcher.Enqueue(ctx, job); err != nil {
		b.mu.Lock()
		c.reject(ctx, b, constants.CauseInternal, fmt.Errorf("enqueue batch: %w", err))
		b.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: enqueue batch: %v", common.ErrInternal, err)
	}
	return b.id, nil
}

// Run drives a submitted batch until it is closed or waits for the user.
func (c *Coordinator) Run(ctx context.Context, batchID uuid.UUID) error {
	b, err := c.registry.Get(batchID)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.mu.Lock()
	if b.cancelled {
		b.mu.Unlock()
		return nil
	}
	if b.state != constants.BatchSubmitted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: batch %s is %s", common.ErrInvalidTransition, batchID, state)
	}
	b.cancel = cancel
	b.mu.Unlock()

	start := time.Now()
	log := c.logger.With("batch_id", b.id, "user_id", b.userID)
	log.Info("pipeline.batch.start", "images", len(b.images))

	if err := c.advance(b, constants.BatchFingerprinting); err != nil {
		return c.stopped(log, err)
	}
	scope := c.resolver.Batch()
	if err := c.fingerprintImages(ctx, b, scope); err != nil {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.cancelled || settled(b.state) {
			return c.stopped(log, common.ErrCancelled)
		}
		c.reject(ctx, b, constants.CauseInternal, err)
		return nil
	}

	if err := c.advance(b, constants.BatchExtracting); err != nil {
		return c.stopped(log, err)
	}
	c.extractImages(ctx, b)

	if err := c.advance(b, constants.BatchRouted); err != nil {
		return c.stopped(log, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return c.stopped(log, common.ErrCancelled)
	}
	if err := ctx.Err(); err != nil {
		c.reject(ctx, b, common.CauseOf(interrupted(err)), interrupted(err))
	} else {
		c.decide(ctx, b, scope, log)
	}
	log.Info("pipeline.batch.done",
		"state", b.state, "outcome", b.outcome, "cause", b.cause,
		"credits", b.credits, "candidates", len(b.cands),
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Coordinator) stopped(log *slog.Logger, err error) error {
	if errors.Is(err, common.ErrCancelled) {
		log.Info("pipeline.batch.cancelled")
		return nil
	}
	log.Error("pipeline.batch.aborted", "error", err)
	return err
}

func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: batch deadline: %v", common.ErrExtractionTimeout, err)
	}
	return fmt.Errorf("%w: %v", common.ErrCancelled, err)
}

// advance moves an unlocked batch forward unless the user cancelled it.
func (c *Coordinator) advance(b *Batch, to constants.BatchState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancelled {
		return common.ErrCancelled
	}
	return c.move(b, to)
}

// move applies a transition and notifies subscribers. Callers hold b.mu.
func (c *Coordinator) move(b *Batch, to constants.BatchState) error {
	if err := b.moveTo(to, c.now()); err != nil {
		return err
	}
	c.registry.publish(b.snapshot())
	return nil
}

// fingerprintImages hashes every image and marks exact duplicates of stored or earlier images,
// which are never extracted. A failed duplicate lookup aborts the batch.
func (c *Coordinator) fingerprintImages(ctx context.Context, b *Batch, scope *dedupe.Batch) error {
	for _, img := range b.images {
		if ctx.Err() != nil {
			return nil
		}
		start := time.Now()
		fp, err := c.fingerprinter.Compute(img.data)
		var matched *uuid.UUID
		if err == nil {
			fp.ID, fp.UserID, fp.BatchID = img.id, b.userID, b.id
			if matched, err = scope.ExactImage(ctx, b.userID, fp); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("lookup exact image: %w", err)
			}
		}

		b.mu.Lock()
		if b.cancelled || settled(b.state) {
			b.mu.Unlock()
			return nil
		}
		switch {
		case err != nil:
			img.fail(err)
		case matched != nil:
			img.fp, img.hashed = fp, true
			img.status = constants.ImageDuplicate
			img.cause = constants.CauseDuplicateImage
			img.matchedID = matched
		default:
			img.fp, img.hashed = fp, true
		}
		c.registry.publish(b.snapshot())
		b.mu.Unlock()

		switch {
		case err != nil:
			c.logger.Warn("pipeline.image.invalid", "batch_id", b.id, "image_id", img.id, "name", img.name, "error", err)
			c.recordAttempt(ctx, entity.ExtractionAttempt{
				ID:      uuid.New(),
				BatchID: b.id,
				ImageID: img.id,
				UserID:  b.userID,
			}, start, err)
		case matched != nil:
			c.logger.Info("pipeline.image.duplicate", "batch_id", b.id, "image_id", img.id, "matched_id", *matched)
		}
	}
	return nil
}

func (c *Coordinator) extractImages(ctx context.Context, b *Batch) {
	var g errgroup.Group
	g.SetLimit(c.cfg.ImageConcurrency)
	for _, img := range b.images {
		img := img // per-iteration copy; go.mod targets go 1.21 loop semantics
		b.mu.Lock()
		ready := img.hashed && img.status == constants.ImagePending
		b.mu.Unlock()
		if !ready {
			continue
		}
		g.Go(func() error {
			out := c.extractImage(ctx, b, img)
			b.mu.Lock()
			if b.cancelled || settled(b.state) {
				b.mu.Unlock()
				return nil
			}
			img.apply(out)
			c.registry.publish(b.snapshot())
			b.mu.Unlock()
			if out.err != nil {
				c.logger.Warn("pipeline.image.failed",
					"batch_id", b.id, "image_id", img.id, "route", out.route,
					"cause", common.CauseOf(out.err), "error", out.err)
			} else {
				c.logger.Debug("pipeline.image.extracted",
					"batch_id", b.id, "image_id", img.id, "route", out.route,
					"score", out.score, "candidates", len(out.candidates), "override_reason", out.override)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// decide resolves duplicates, reserves credit and commits, rejects or waits for the user.
// Callers hold b.mu.
func (c *Coordinator) decide(ctx context.Context, b *Batch, scope *dedupe.Batch, log *slog.Logger) {
	for _, img := range b.images {
		if len(img.candidates) == 0 {
			continue
		}
		verdicts, err := scope.Resolve(ctx, b.userID, img.fp, img.candidates)
		if err != nil {
			c.reject(ctx, b, constants.CauseInternal, fmt.Errorf("resolve duplicates: %w", err))
			return
		}
		for i, v := range verdicts {
			b.cands = append(b.cands, &candidate{TradeCandidate: img.candidates[i], verdict: v})
		}
	}
	if err := c.move(b, constants.BatchDuplicateChecked); err != nil {
		c.reject(ctx, b, constants.CauseInternal, err)
		return
	}
	if err := c.move(b, constants.BatchAwaitingCreditReservation); err != nil {
		c.reject(ctx, b, constants.CauseInternal, err)
		return
	}

	billable := b.withCandidates()
	if len(billable) == 0 {
		cause := noCandidatesCause(b)
		c.reject(ctx, b, cause, fmt.Errorf("no image produced trade candidates (%s)", cause))
		return
	}
	resID, err := c.ledger.Reserve(ctx, b.userID, b.id, len(billable))
	if err != nil {
		c.reject(ctx, b, common.CauseOf(err), err)
		return
	}
	b.resID, b.credits = resID, len(billable)

	if limit := b.credits * CandidatesPerCredit; len(b.cands) > limit {
		c.reject(ctx, b, constants.CauseTooManyCandidates,
			fmt.Errorf("%w: %d candidates for %d credits (max %d)", common.ErrTooManyCandidates, len(b.cands), b.credits, limit))
		return
	}

	if n := b.pendingWarnings(); n > 0 {
		if err := c.move(b, constants.BatchAwaitingUserConfirmation); err != nil {
			c.reject(ctx, b, constants.CauseInternal, err)
			return
		}
		log.Info("pipeline.batch.awaiting_confirmation", "warnings", n, "reservation_id", b.resID)
		return
	}
	c.commit(ctx, b)
}

// noCandidatesCause reports the shared cause when every image failed the same way.
func noCandidatesCause(b *Batch) constants.Cause {
	cause := constants.CauseNone
	for _, img := range b.images {
		switch {
		case img.cause == constants.CauseNone:
			return constants.CauseNoCandidates
		case cause == constants.CauseNone:
			cause = img.cause
		case cause != img.cause:
			return constants.CauseNoCandidates
		}
	}
	if cause == constants.CauseNone {
		return constants.CauseNoCandidates
	}
	return cause
}

// commit stores every non-duplicate, non-declined candidate and settles the reservation for the
// images that contributed trades. Callers hold b.mu.
func (c *Coordinator) commit(ctx context.Context, b *Batch) {
	now := c.now()
	var (
		trades   []entity.Trade
		images   []entity.ImageFingerprint
		used     = make(map[uuid.UUID]bool)
		declined = 0
	)
	for _, cand := range b.cands {
		if cand.verdict.Status == constants.DuplicateExactImage {
			continue
		}
		if cand.decision == DecisionDecline {
			declined++
			continue
		}
		img := b.image(cand.ImageID)
		trades = append(trades, entity.Trade{
			TradeCandidate:     cand.TradeCandidate,
			UserID:             b.userID,
			BatchID:            b.id,
			ExactHash:          img.fp.ExactHash[:],
			ConfirmedDuplicate: cand.decision == DecisionProceed,
			CreatedAt:          now,
		})
		if !used[img.id] {
			used[img.id] = true
			images = append(images, img.fp)
		}
	}
	if len(trades) == 0 {
		cause := constants.CauseDuplicateImage
		if declined > 0 {
			cause = constants.CauseDuplicateDeclined
		}
		c.reject(ctx, b, cause, errors.New("nothing left to commit"))
		return
	}

	if err := c.ensureReservation(ctx, b); err != nil {
		c.reject(ctx, b, common.CauseOf(err), err)
		return
	}
	if err := c.trades.CommitBatch(ctx, trades, images); err != nil {
		c.reject(ctx, b, common.CauseOf(err), err)
		return
	}
	if err := c.ledger.Settle(ctx, b.resID, len(images)); err != nil {
		if derr := c.trades.DeleteBatch(context.WithoutCancel(ctx), b.id); derr != nil {
			c.logger.Error("pipeline.commit.rollback_failed", "batch_id", b.id, "error", derr)
		}
		c.reject(ctx, b, common.CauseOf(err), fmt.Errorf("settle credit: %w", err))
		return
	}

	for _, img := range b.images {
		switch {
		case used[img.id]:
			img.status = constants.ImageCommitted
		case img.status == constants.ImageExtracted:
			img.status = constants.ImageSkipped
			img.cause = constants.CauseDuplicateDeclined
		}
	}
	if err := c.move(b, constants.BatchCommitted); err != nil {
		c.logger.Error("pipeline.commit.transition_failed", "batch_id", b.id, "error", err)
		return
	}
	c.logger.Info("pipeline.batch.committed",
		"batch_id", b.id, "user_id", b.userID, "trades", len(trades),
		"credits_used", len(images), "credits_reserved", b.credits, "declined", declined)
	c.close(b)
}

// ensureReservation renews a hold that expired while the batch waited for the user.
func (c *Coordinator) ensureReservation(ctx context.Context, b *Batch) error {
	res, err := c.ledger.Get(ctx, b.resID)
	if err != nil {
		return err
	}
	if res.Status == constants.ReservationHeld && c.now().Before(res.ExpiresAt) {
		return nil
	}
	if err := c.ledger.Release(ctx, b.resID); err != nil {
		return err
	}
	id, err := c.ledger.Reserve(ctx, b.userID, b.id, b.credits)
	if err != nil {
		return err
	}
	c.logger.Info("pipeline.reservation.renewed", "batch_id", b.id, "old_reservation_id", b.resID, "reservation_id", id)
	b.resID = id
	return nil
}

// reject releases any held credit and closes the batch with cause. Callers hold b.mu.
func (c *Coordinator) reject(ctx context.Context, b *Batch, cause constants.Cause, err error) {
	if b.resID != uuid.Nil {
		if rerr := c.ledger.Release(context.WithoutCancel(ctx), b.resID); rerr != nil {
			c.logger.Error("pipeline.release.failed", "batch_id", b.id, "reservation_id", b.resID, "error", rerr)
		}
	}
	b.cause = cause
	if err != nil {
		b.err = err.Error()
	}
	switch cause {
	case constants.CauseInternal, constants.CauseLedgerInconsistency:
		c.logger.Error("pipeline.batch.rejected", "batch_id", b.id, "user_id", b.userID, "state", b.state, "cause", cause, "error", err)
	default:
		c.logger.Warn("pipeline.batch.rejected", "batch_id", b.id, "user_id", b.userID, "state", b.state, "cause", cause, "error", err)
	}
	if merr := c.move(b, constants.BatchRejected); merr != nil {
		c.logger.Error("pipeline.reject.transition_failed", "batch_id", b.id, "error", merr)
		return
	}
	c.close(b)
}

func (c *Coordinator) close(b *Batch) {
	if err := c.move(b, constants.BatchClosed); err != nil {
		c.logger.Error("pipeline.close.transition_failed", "batch_id", b.id, "error", err)
		return
	}
	if b.cancel != nil {
		b.cancel()
	}
	c.registry.retire(b)
}

func (b *Batch) image(id uuid.UUID) *image {
	for _, img := range b.images {
		if img.id == id {
			return img
		}
	}
	return nil
}

// owned returns the batch only to its owner; other users see ErrNotFound.
func (c *Coordinator) owned(userID string, batchID uuid.UUID) (*Batch, error) {
	b, err := c.registry.Get(batchID)
	if err != nil {
		return nil, err
	}
	if b.userID != userID {
		return nil, fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}
	return b, nil
}

// GetBatchStatus returns the last published view of a batch. It does not wait for a batch
// that is resolving duplicates or committing.
func (c *Coordinator) GetBatchStatus(_ context.Context, userID string, batchID uuid.UUID) (Status, error) {
	if _, err := c.owned(userID, batchID); err != nil {
		return Status{}, err
	}
	st, ok := c.registry.Status(batchID)
	if !ok {
		return Status{}, fmt.Errorf("batch %s: %w", batchID, common.ErrNotFound)
	}
	return st, nil
}

// Watch returns the current status of the user's batch and a stream of later changes.
// Nothing published after the returned status is missed.
func (c *Coordinator) Watch(userID string, batchID uuid.UUID) (Status, <-chan Status, func(), error) {
	if _, err := c.owned(userID, batchID); err != nil {
		return Status{}, nil, nil, err
	}
	st, ch, stop := c.registry.Subscribe(batchID)
	return st, ch, stop, nil
}

// ConfirmDuplicate records the user's answer to one duplicate warning. When the last warning
// is answered the batch commits, or is rejected if nothing remains to commit.
func (c *Coordinator) ConfirmDuplicate(ctx context.Context, userID string, batchID, candidateID uuid.UUID, proceed bool) (Status, error) {
	b, err := c.owned(userID, batchID)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != constants.BatchAwaitingUserConfirmation {
		return b.snapshot(), fmt.Errorf("%w: batch %s is %s", common.ErrInvalidTransition, batchID, b.state)
	}
	var target *candidate
	for _, cand := range b.cands {
		if cand.ID == candidateID {
			target = cand
			break
		}
	}
	if target == nil {
		return b.snapshot(), fmt.Errorf("candidate %s: %w", candidateID, common.ErrNotFound)
	}
	if target.verdict.Status != constants.DuplicateProbableTrade {
		return b.snapshot(), fmt.Errorf("%w: candidate %s has no duplicate warning", common.ErrInvalidInput, candidateID)
	}

	target.decision = DecisionDecline
	if proceed {
		target.decision = DecisionProceed
	}
	b.updatedAt = c.now()
	pending := b.pendingWarnings()
	c.logger.Info("pipeline.duplicate.decided",
		"batch_id", b.id, "candidate_id", candidateID, "decision", target.decision, "pending", pending)
	if pending > 0 {
		c.registry.publish(b.snapshot())
		return b.snapshot(), nil
	}
	c.commit(ctx, b)
	return b.snapshot(), nil
}

// CancelBatch stops in-flight extraction, releases any held credit and rejects the batch.
func (c *Coordinator) CancelBatch(ctx context.Context, userID string, batchID uuid.UUID) (Status, error) {
	b, err := c.owned(userID, batchID)
	if err != nil {
		return Status{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if settled(b.state) {
		return b.snapshot(), fmt.Errorf("%w: batch %s already %s", common.ErrInvalidTransition, batchID, b.outcome)
	}
	b.cancelled = true
	if b.cancel != nil {
		b.cancel()
	}
	for _, img := range b.images {
		if img.status == constants.ImagePending || img.status == constants.ImageExtracted {
			img.status = constants.ImageSkipped
			img.cause = constants.CauseCancelled
		}
	}
	c.reject(ctx, b, constants.CauseCancelled, common.ErrCancelled)
	return b.snapshot(), nil
}

// GetCreditBalance reads the user's credit straight from the ledger.
func (c *Coordinator) GetCreditBalance(ctx context.Context, userID string) (entity.Balance, error) {
	if userID == "" {
		return entity.Balance{}, fmt.Errorf("%w: user id is required", common.ErrInvalidInput)
	}
	return c.ledger.Balance(ctx, userID)
}
