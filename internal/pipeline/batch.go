package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

// Upload is one screenshot as received from a client.
type Upload struct {
	Name string
	Data []byte
}

// Options are caller choices applied to every image of a batch.
type Options struct {
	// ForceCheap asks for the fast route regardless of quality (budget protection).
	ForceCheap bool
	// PreferFallback is the caller's consent to the expensive route, typically on resubmission.
	PreferFallback bool
}

// Decision is the user's answer to a duplicate warning.
type Decision string

const (
	DecisionPending Decision = ""
	DecisionProceed Decision = "proceed"
	DecisionDecline Decision = "decline"
)

type image struct {
	id    uuid.UUID
	index int
	name  string
	data  []byte

	fp         entity.ImageFingerprint
	hashed     bool
	status     constants.ImageStatus
	cause      constants.Cause
	err        string
	route      constants.Route
	score      float64
	confidence float64
	override   string
	lowConf    bool
	matchedID  *uuid.UUID
	candidates []entity.TradeCandidate
}

type candidate struct {
	entity.TradeCandidate
	verdict  entity.DuplicateVerdict
	decision Decision
}

// Batch is one upload moving through the state machine. All fields are guarded by mu.
type Batch struct {
	mu sync.Mutex

	id        uuid.UUID
	userID    string
	opts      Options
	state     constants.BatchState
	outcome   constants.BatchState
	cause     constants.Cause
	err       string
	images    []*image
	cands     []*candidate
	resID     uuid.UUID
	credits   int
	createdAt time.Time
	updatedAt time.Time
	cancel    context.CancelFunc
	cancelled bool
}

func newBatch(userID string, uploads []Upload, opts Options, now time.Time) *Batch {
	b := &Batch{
		id:        uuid.New(),
		userID:    userID,
		opts:      opts,
		state:     constants.BatchSubmitted,
		createdAt: now,
		updatedAt: now,
	}
	for i, u := range uploads {
		b.images = append(b.images, &image{
			id:     uuid.New(),
			index:  i,
			name:   u.Name,
			data:   u.Data,
			status: constants.ImagePending,
		})
	}
	return b
}

// ID returns the batch id.
func (b *Batch) ID() uuid.UUID { return b.id }

// UserID returns the owner of the batch.
func (b *Batch) UserID() string { return b.userID }

// moveTo applies a checked transition. Callers hold mu.
func (b *Batch) moveTo(to constants.BatchState, now time.Time) error {
	if err := checkTransition(b.state, to); err != nil {
		return err
	}
	b.state = to
	b.updatedAt = now
	if to == constants.BatchCommitted || to == constants.BatchRejected {
		b.outcome = to
	}
	return nil
}

func (b *Batch) withCandidates() []*image {
	var out []*image
	for _, img := range b.images {
		if len(img.candidates) > 0 {
			out = append(out, img)
		}
	}
	return out
}

func (b *Batch) pendingWarnings() int {
	n := 0
	for _, c := range b.cands {
		if c.verdict.Status == constants.DuplicateProbableTrade && c.decision == DecisionPending {
			n++
		}
	}
	return n
}

// Status is the client-facing view of a batch.
type Status struct {
	BatchID         uuid.UUID            `json:"batch_id"`
	UserID          string               `json:"user_id"`
	State           constants.BatchState `json:"state"`
	Outcome         constants.BatchState `json:"outcome,omitempty"`
	Cause           constants.Cause      `json:"cause,omitempty"`
	Retryable       bool                 `json:"retryable"`
	Error           string               `json:"error,omitempty"`
	CreditsReserved int                  `json:"credits_reserved"`
	Warnings        []Warning            `json:"duplicate_warnings"`
	Candidates      []CandidateStatus    `json:"candidates"`
	Images          []ImageStatus        `json:"images"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// Warning describes a probable duplicate awaiting (or past) the user's decision.
type Warning struct {
	CandidateID     uuid.UUID           `json:"candidate_id"`
	MatchedRecordID *uuid.UUID          `json:"matched_record_id,omitempty"`
	Symbol          string              `json:"symbol"`
	Side            entity.Side         `json:"side"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
	PnL             decimal.NullDecimal `json:"pnl"`
	Decision        Decision            `json:"decision,omitempty"`
}

// CandidateStatus is a candidate with its duplicate verdict.
type CandidateStatus struct {
	entity.TradeCandidate
	Verdict  entity.DuplicateVerdict `json:"verdict"`
	Decision Decision                `json:"decision,omitempty"`
}

// ImageStatus is the per-image outcome.
type ImageStatus struct {
	ImageID              uuid.UUID             `json:"image_id"`
	Name                 string                `json:"name,omitempty"`
	Status               constants.ImageStatus `json:"status"`
	Cause                constants.Cause       `json:"cause,omitempty"`
	Error                string                `json:"error,omitempty"`
	Route                constants.Route       `json:"route,omitempty"`
	QualityScore         float64               `json:"quality_score"`
	OverrideReason       string                `json:"override_reason,omitempty"`
	LowConfidenceWarning bool                  `json:"low_confidence_warning"`
	MatchedImageID       *uuid.UUID            `json:"matched_image_id,omitempty"`
	SimilarImageID       *uuid.UUID            `json:"similar_image_id,omitempty"`
	Candidates           int                   `json:"candidates"`
}

// snapshot copies the batch for readers. Callers hold mu.
func (b *Batch) snapshot() Status {
	st := Status{
		BatchID:         b.id,
		UserID:          b.userID,
		State:           b.state,
		Outcome:         b.outcome,
		Cause:           b.cause,
		Retryable:       b.cause.Retryable(),
		Error:           b.err,
		CreditsReserved: b.credits,
		Warnings:        []Warning{},
		Candidates:      make([]CandidateStatus, 0, len(b.cands)),
		Images:          make([]ImageStatus, 0, len(b.images)),
		CreatedAt:       b.createdAt,
		UpdatedAt:       b.updatedAt,
	}
	similar := make(map[uuid.UUID]*uuid.UUID)
	for _, c := range b.cands {
		st.Candidates = append(st.Candidates, CandidateStatus{TradeCandidate: c.TradeCandidate, Verdict: c.verdict, Decision: c.decision})
		if c.verdict.SimilarImageID != nil {
			similar[c.ImageID] = c.verdict.SimilarImageID
		}
		if c.verdict.Status != constants.DuplicateProbableTrade || c.verdict.Conflict == nil {
			continue
		}
		st.Warnings = append(st.Warnings, Warning{
			CandidateID:     c.ID,
			MatchedRecordID: c.verdict.MatchedRecordID,
			Symbol:          c.verdict.Conflict.Symbol,
			Side:            c.verdict.Conflict.Side,
			ClosedAt:        c.verdict.Conflict.ClosedAt,
			PnL:             c.verdict.Conflict.PnL,
			Decision:        c.decision,
		})
	}
	for _, img := range b.images {
		st.Images = append(st.Images, ImageStatus{
			ImageID:              img.id,
			Name:                 img.name,
			Status:               img.status,
			Cause:                img.cause,
			Error:                img.err,
			Route:                img.route,
			QualityScore:         img.score,
			OverrideReason:       img.override,
			LowConfidenceWarning: img.lowConf,
			MatchedImageID:       img.matchedID,
			SimilarImageID:       similar[img.id],
			Candidates:           len(img.candidates),
		})
	}
	return st
}
