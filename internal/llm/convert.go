package llm

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
	"github.com/joseph-ayodele/trade-ingest/internal/parse"
)

// ToCandidates converts a validated document into fallback-route candidates. Trades whose
// required fields do not parse are skipped. Every candidate is flagged for review when the
// model's confidence is below minConfidence.
func ToCandidates(doc TradeDocument, imageID uuid.UUID, minConfidence float64) []entity.TradeCandidate {
	review := doc.Confidence < minConfidence
	out := make([]entity.TradeCandidate, 0, len(doc.Trades))
	for _, f := range doc.Trades {
		entry, ok := parse.ParseDecimal(f.EntryPrice)
		if !ok || strings.TrimSpace(f.Symbol) == "" {
			continue
		}
		var side entity.Side
		switch strings.ToLower(f.Side) {
		case "long":
			side = entity.SideLong
		case "short":
			side = entity.SideShort
		default:
			continue
		}
		c := entity.TradeCandidate{
			ID:           uuid.New(),
			ImageID:      imageID,
			Symbol:       strings.ToUpper(strings.TrimSpace(f.Symbol)),
			Side:         side,
			EntryPrice:   entry,
			ExitPrice:    nullDecimal(f.ExitPrice),
			PositionSize: nullDecimal(f.PositionSize),
			PnL:          nullDecimal(f.PnL),
			ROI:          nullDecimal(f.ROI),
			Fees:         nullDecimal(f.Fees),
			Source:       constants.RouteFallback,
			NeedsReview:  review,
		}
		if t, ok := parse.ParseTime(f.OpenedAt); ok {
			c.OpenedAt = &t
		}
		if t, ok := parse.ParseTime(f.ClosedAt); ok {
			c.ClosedAt = &t
		}
		out = append(out, c)
	}
	return out
}

func nullDecimal(s string) decimal.NullDecimal {
	if strings.TrimSpace(s) == "" {
		return decimal.NullDecimal{}
	}
	if d, ok := parse.ParseDecimal(s); ok {
		return decimal.NewNullDecimal(d)
	}
	return decimal.NullDecimal{}
}
