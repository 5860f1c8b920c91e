package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

// TradeFingerprint hashes the fields that identify a fill:
// SYMBOL|SIDE|openedAt|closedAt|entry|exit, with times in RFC3339 UTC and decimals in canonical form.
// Screenshots of the same trade taken at different crops collide here even though their bytes differ.
func TradeFingerprint(c entity.TradeCandidate) string {
	parts := []string{
		canonicalSymbol(c.Symbol),
		strings.ToUpper(string(c.Side)),
		canonicalTime(c.OpenedAt),
		canonicalTime(c.ClosedAt),
		canonicalDecimal(decimal.NewNullDecimal(c.EntryPrice)),
		canonicalDecimal(c.ExitPrice),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func canonicalSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("/", "", "-", "", " ", "").Replace(s)
}

func canonicalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func canonicalDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	// String drops trailing zeros, so 42000.50 and 42000.5 agree.
	return d.Decimal.String()
}
