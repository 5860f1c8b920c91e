package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// Side is the direction of a position.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// TradeCandidate is a trade parsed from one screenshot, not yet committed.
type TradeCandidate struct {
	ID               uuid.UUID           `json:"id"`
	ImageID          uuid.UUID           `json:"image_id"`
	Symbol           string              `json:"symbol"`
	Side             Side                `json:"side"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	ExitPrice        decimal.NullDecimal `json:"exit_price"`
	PositionSize     decimal.NullDecimal `json:"position_size"`
	OpenedAt         *time.Time          `json:"opened_at,omitempty"`
	ClosedAt         *time.Time          `json:"closed_at,omitempty"`
	PnL              decimal.NullDecimal `json:"pnl"`
	ROI              decimal.NullDecimal `json:"roi"`
	Fees             decimal.NullDecimal `json:"fees"`
	Source           constants.Route     `json:"source"`
	NeedsReview      bool                `json:"needs_review"`
	TradeFingerprint string              `json:"trade_fingerprint,omitempty"`
}

// Trade is a committed candidate in the permanent store.
type Trade struct {
	TradeCandidate
	UserID             string    `json:"user_id"`
	BatchID            uuid.UUID `json:"batch_id"`
	ExactHash          []byte    `json:"-"`
	ConfirmedDuplicate bool      `json:"confirmed_duplicate"`
	CreatedAt          time.Time `json:"created_at"`
}

// TradeSummary is what a user sees about a conflicting record.
type TradeSummary struct {
	TradeID  uuid.UUID           `json:"trade_id"`
	Symbol   string              `json:"symbol"`
	Side     Side                `json:"side"`
	ClosedAt *time.Time          `json:"closed_at,omitempty"`
	PnL      decimal.NullDecimal `json:"pnl"`
}

// Summary returns the user-facing digest of a committed trade.
func (t Trade) Summary() TradeSummary {
	return TradeSummary{TradeID: t.ID, Symbol: t.Symbol, Side: t.Side, ClosedAt: t.ClosedAt, PnL: t.PnL}
}

// DuplicateVerdict classifies one candidate.
type DuplicateVerdict struct {
	CandidateID     uuid.UUID                 `json:"candidate_id"`
	Status          constants.DuplicateStatus `json:"status"`
	MatchedRecordID *uuid.UUID                `json:"matched_record_id,omitempty"`
	Conflict        *TradeSummary             `json:"conflict,omitempty"`
	SimilarImageID  *uuid.UUID                `json:"similar_image_id,omitempty"`
}
