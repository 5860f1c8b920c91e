package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal    = regexp.MustCompile(decimalPattern)
	moneyFields  = []string{"entry_price", "exit_price", "position_size", "pnl", "roi", "fees"}
	stringFields = []string{"symbol", "side", "opened_at", "closed_at"}
	allowedKeys  = map[string]struct{}{
		"symbol": {}, "side": {}, "entry_price": {}, "exit_price": {}, "position_size": {},
		"opened_at": {}, "closed_at": {}, "pnl": {}, "roi": {}, "fees": {},
	}
	synonyms = [][2]string{
		{"ticker", "symbol"}, {"pair", "symbol"}, {"instrument", "symbol"},
		{"direction", "side"}, {"position_side", "side"},
		{"entry", "entry_price"}, {"open_price", "entry_price"}, {"avg_entry_price", "entry_price"},
		{"exit", "exit_price"}, {"close_price", "exit_price"}, {"avg_exit_price", "exit_price"},
		{"size", "position_size"}, {"qty", "position_size"}, {"quantity", "position_size"},
		{"open_time", "opened_at"}, {"close_time", "closed_at"},
		{"realized_pnl", "pnl"}, {"profit", "pnl"}, {"roe", "roi"},
		{"fee", "fees"}, {"commission", "fees"},
	}
)

// NormalizeAndSanitizeJSON
// - Renames known synonyms per trade (ticker -> symbol, qty -> position_size)
// - Maps buy/sell onto long/short
// - Coerces numeric -> string for money fields, stripping currency marks and separators
// - Drops null/empty optionals and unknown keys (strict additionalProperties = false friendliness)
func NormalizeAndSanitizeJSON(raw []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	if c, ok := doc["confidence"]; ok {
		switch t := c.(type) {
		case float64:
			doc["confidence"] = min(max(t, 0), 1)
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
				doc["confidence"] = min(max(f, 0), 1)
			} else {
				delete(doc, "confidence")
				dropped = append(dropped, "confidence(type)")
			}
		default:
			delete(doc, "confidence")
			dropped = append(dropped, "confidence(type)")
		}
	}
	for k := range maps.Clone(doc) {
		if k != "trades" && k != "confidence" {
			delete(doc, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}

	items, _ := doc["trades"].([]any)
	trades := make([]any, 0, len(items))
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			dropped = append(dropped, fmt.Sprintf("trades[%d](type)", i))
			continue
		}
		for _, d := range sanitizeTrade(m) {
			dropped = append(dropped, fmt.Sprintf("trades[%d].%s", i, d))
		}
		trades = append(trades, m)
	}
	doc["trades"] = trades

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(dropped) > 0 {
		logger.Warn("llm.extract.normalize_sanitize", "dropped", dropped)
	}
	return out, dropped, nil
}

func sanitizeTrade(m map[string]any) []string {
	var dropped []string
	for _, s := range synonyms {
		if v, ok := m[s[0]]; ok {
			// don't overwrite existing value if already present
			if _, exists := m[s[1]]; !exists {
				m[s[1]] = v
			}
			delete(m, s[0])
			dropped = append(dropped, s[0]+"->"+s[1])
		}
	}

	for _, k := range moneyFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			m[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case string:
			s := cleanNumber(t)
			if s == "" {
				delete(m, k)
				dropped = append(dropped, k+"(empty)")
			} else {
				m[k] = s
			}
		default:
			delete(m, k)
			dropped = append(dropped, k+"(type)")
		}
	}

	for _, k := range stringFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, isString := v.(string)
		s = strings.TrimSpace(s)
		if !isString || s == "" {
			delete(m, k)
			dropped = append(dropped, k+"(empty)")
			continue
		}
		m[k] = s
	}
	if s, ok := m["symbol"].(string); ok {
		m["symbol"] = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	}
	if s, ok := m["side"].(string); ok {
		switch strings.ToLower(s) {
		case "long", "buy", "bought":
			m["side"] = "long"
		case "short", "sell", "sold":
			m["side"] = "short"
		}
	}

	for k := range maps.Clone(m) {
		if _, ok := allowedKeys[k]; !ok {
			delete(m, k)
			dropped = append(dropped, k+"(unknown)")
		}
	}
	return dropped
}

// cleanNumber strips currency marks, separators and '%' but leaves malformed input for the validator.
func cleanNumber(s string) string {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "null") {
		return ""
	}
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "%", "", " ", "", "+", "", "(", "", ")", "", "USDT", "", "USD", "").Replace(s)
	if neg && !strings.HasPrefix(s, "-") {
		s = "-" + s
	}
	return s
}

// SanitizeOptionalFields removes optional trade fields that still don't meet the schema,
// so the overall document can validate. Required fields are never touched.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}
	var dropped []string
	items, _ := m["trades"].([]any)
	for i, it := range items {
		t, ok := it.(map[string]any)
		if !ok {
			continue
		}
		for _, k := range []string{"exit_price", "position_size", "pnl", "roi", "fees"} {
			if s, ok := t[k].(string); ok && !reDecimal.MatchString(s) {
				delete(t, k)
				dropped = append(dropped, fmt.Sprintf("trades[%d].%s", i, k))
			}
		}
		for _, k := range []string{"opened_at", "closed_at"} {
			if s, ok := t[k].(string); ok && len(s) < 10 {
				delete(t, k)
				dropped = append(dropped, fmt.Sprintf("trades[%d].%s", i, k))
			}
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}
