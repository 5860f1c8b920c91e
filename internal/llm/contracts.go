package llm

import (
	"context"

	"github.com/google/uuid"
)

// TradeFields is the normalized shape we want from the model for one trade.
// Money fields are decimal strings; times are RFC3339 or "YYYY-MM-DD HH:MM:SS".
type TradeFields struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"` // long | short
	EntryPrice   string `json:"entry_price"`
	ExitPrice    string `json:"exit_price,omitempty"`
	PositionSize string `json:"position_size,omitempty"`
	OpenedAt     string `json:"opened_at,omitempty"`
	ClosedAt     string `json:"closed_at,omitempty"`
	PnL          string `json:"pnl,omitempty"`
	ROI          string `json:"roi,omitempty"`
	Fees         string `json:"fees,omitempty"`
}

// TradeDocument is the whole model answer for one screenshot.
type TradeDocument struct {
	Trades     []TradeFields `json:"trades"`
	Confidence float64       `json:"confidence"` // model self-assessment (0..1)
}

type ExtractRequest struct {
	ImageID uuid.UUID
	Image   []byte
	// OCRText is the low-quality recognizer output, sent as a hint only.
	OCRText string
}

// TradeExtractor is the vision model the fallback route depends on.
type TradeExtractor interface {
	ExtractTrades(ctx context.Context, req ExtractRequest) (TradeDocument, []byte /*rawJSON*/, error)
}
