// Package parse extracts trade candidates from recognized screenshot text (the fast route).
package parse

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/entity"
)

type field int

const (
	fieldOpened field = iota
	fieldClosed
	fieldEntry
	fieldExit
	fieldPnL
	fieldROI
	fieldFees
	fieldSize
	fieldSymbol
	fieldSide
)

type labelRule struct {
	field field
	re    *regexp.Regexp
}

// Order matters: time labels come before price labels so "Entry Time" is not read as a price.
var labelRules = []labelRule{
	{fieldOpened, label(`opened|open(?:ed)?\s*(?:time|date|at)|entry\s*(?:time|date)`)},
	{fieldClosed, label(`closed|close[d]?\s*(?:time|date|at)|exit\s*(?:time|date)`)},
	{fieldEntry, label(`avg\.?\s*(?:entry|open)(?:\s*price)?|entry(?:\s*price)?|open\s*price`)},
	{fieldExit, label(`avg\.?\s*(?:exit|close)(?:\s*price)?|exit(?:\s*price)?|close\s*price`)},
	{fieldPnL, label(`real[iy]s?z?ed\s*pnl|closed\s*pnl|net\s*pnl|pnl|p&l|p/l|profit`)},
	{fieldROI, label(`roi|roe|return`)},
	{fieldFees, label(`trading\s*fees?|fees?|commission`)},
	{fieldSize, label(`position\s*size|size|qty|quantity|contracts|amount`)},
	{fieldSymbol, label(`symbol|ticker|instrument|pair|contract`)},
	{fieldSide, label(`side|direction`)},
}

// label builds "^<label>[ (unit)][:=] <value>".
func label(alts string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^\s*(?:` + alts + `)\b\s*(?:\([^)]*\)\s*)?[:=]?\s*(.+?)\s*$`)
}

var (
	reSymbol      = regexp.MustCompile(`\b([A-Z0-9]{2,10}[/\-]?(?:USDT|USDC|BUSD|USD|EUR|GBP|JPY|BTC|ETH)(?:\.P|-?PERP)?)\b`)
	reSide        = regexp.MustCompile(`(?i)\b(long|short|buy|sell)\b`)
	reNumber      = regexp.MustCompile(`[+\-−]?\(?[$€£¥]?\s?\d[\d,]*(?:\.\d+)?\)?`)
	reLabelSymbol = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9./\-]{0,19}$`)
)

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006.01.02 15:04:05",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
}

// Parser turns raw text into candidates. The zero value is ready to use.
type Parser struct {
	// NewID is overridable for deterministic tests.
	NewID func() uuid.UUID
}

// Parse returns every complete candidate found in text. A candidate is complete when it has
// a symbol, a side and an entry price; incomplete blocks are dropped.
func (p Parser) Parse(imageID uuid.UUID, text string) []entity.TradeCandidate {
	newID := p.NewID
	if newID == nil {
		newID = uuid.New
	}

	var (
		out []entity.TradeCandidate
		cur *draft
	)
	flush := func() {
		if cur != nil && cur.complete() {
			c := cur.c
			c.ID = newID()
			c.ImageID = imageID
			c.Source = constants.RouteFast
			out = append(out, c)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		f, value, labelled := matchLabel(line)
		sym := ""
		switch {
		case labelled && f == fieldSymbol:
			sym = symbolFromLabel(value)
		case !labelled:
			if m := reSymbol.FindStringSubmatch(line); m != nil {
				sym = m[1]
			}
		}
		if sym != "" && cur != nil && cur.c.Symbol != "" {
			flush()
		}
		if cur == nil {
			cur = &draft{}
		}
		if sym != "" {
			cur.c.Symbol = strings.ToUpper(sym)
		}
		if labelled && f != fieldSymbol {
			cur.apply(f, value)
			continue
		}
		if side, ok := sideOf(line); ok && cur.c.Side == "" {
			cur.c.Side = side
		}
	}
	flush()
	return out
}

// CountRegions estimates how many trade panels a screenshot holds.
func CountRegions(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if reSymbol.MatchString(line) {
			n++
		}
	}
	return n
}

type draft struct {
	c        entity.TradeCandidate
	hasEntry bool
}

func (d *draft) complete() bool {
	return d.c.Symbol != "" && d.c.Side != "" && d.hasEntry
}

func (d *draft) apply(f field, value string) {
	switch f {
	case fieldOpened:
		if t, ok := ParseTime(value); ok {
			d.c.OpenedAt = &t
		}
	case fieldClosed:
		if t, ok := ParseTime(value); ok {
			d.c.ClosedAt = &t
		}
	case fieldEntry:
		if v, ok := ParseDecimal(value); ok {
			d.c.EntryPrice, d.hasEntry = v, true
		}
	case fieldExit:
		setNull(&d.c.ExitPrice, value)
	case fieldPnL:
		setNull(&d.c.PnL, value)
	case fieldROI:
		setNull(&d.c.ROI, value)
	case fieldFees:
		setNull(&d.c.Fees, value)
	case fieldSize:
		setNull(&d.c.PositionSize, value)
	case fieldSide:
		if side, ok := sideOf(value); ok {
			d.c.Side = side
		}
	}
}

func setNull(dst *decimal.NullDecimal, value string) {
	if v, ok := ParseDecimal(value); ok {
		*dst = decimal.NewNullDecimal(v)
	}
}

// matchLabel returns the first rule whose label matches and whose value parses for that field,
// so "Closed PnL: 12" falls through the close-time rule to the PnL rule.
func matchLabel(line string) (field, string, bool) {
	for _, r := range labelRules {
		m := r.re.FindStringSubmatch(line)
		if m == nil || !parses(r.field, m[1]) {
			continue
		}
		return r.field, m[1], true
	}
	return 0, "", false
}

func parses(f field, value string) bool {
	switch f {
	case fieldOpened, fieldClosed:
		_, ok := ParseTime(value)
		return ok
	case fieldSymbol:
		return symbolFromLabel(value) != ""
	case fieldSide:
		_, ok := sideOf(value)
		return ok
	default:
		_, ok := ParseDecimal(value)
		return ok
	}
}

func symbolFromLabel(value string) string {
	tok := strings.Fields(value)
	if len(tok) == 0 || !reLabelSymbol.MatchString(tok[0]) {
		return ""
	}
	return tok[0]
}

func sideOf(s string) (entity.Side, bool) {
	m := reSide.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	switch strings.ToLower(m[1]) {
	case "long", "buy":
		return entity.SideLong, true
	default:
		return entity.SideShort, true
	}
}

// ParseDecimal reads the first number in s. Currency marks and thousands separators are
// dropped; a leading minus or surrounding parentheses make it negative.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	m := reNumber.FindString(s)
	if m == "" {
		return decimal.Decimal{}, false
	}
	neg := strings.ContainsAny(m, "-−") || (strings.Contains(m, "(") && strings.Contains(m, ")"))
	clean := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, m)
	v, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Decimal{}, false
	}
	if neg {
		v = v.Neg()
	}
	return v, true
}

// ParseTime accepts the timestamp layouts brokers commonly print; results are UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "UTC"))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
