// Package quality turns a recognition result into a trust score that drives routing.
package quality

import (
	"math"
	"regexp"
	"strings"
)

// Weights of the heuristic score. They sum to 1.
const (
	WeightConfidence = 0.6
	WeightNumeric    = 0.2
	WeightStructural = 0.2
)

// Scorer maps raw recognized text and the recognizer's confidence onto [0,1].
type Scorer interface {
	Score(rawText string, confidence float64) float64
}

// Components are the three audited inputs of the heuristic score.
type Components struct {
	Confidence      float64 `json:"confidence"`
	NumericDensity  float64 `json:"numeric_density"`
	StructuralRatio float64 `json:"structural_ratio"`
}

// Indicator is a named domain pattern counted by the structural ratio.
type Indicator struct {
	Name    string
	Pattern *regexp.Regexp
}

// Indicators is the fixed set of trade-screenshot markers.
var Indicators = []Indicator{
	{"symbol", regexp.MustCompile(`\b[A-Z0-9]{2,10}[/\-]?(?:USDT|USDC|BUSD|USD|EUR|GBP|JPY|BTC|ETH)(?:\.P|-?PERP)?\b|(?i:\b(?:symbol|ticker|instrument|pair|contract)\b)`)},
	{"price", regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+\.\d{1,8}\b|\b\d+\.\d{1,8}\b`)},
	{"side", regexp.MustCompile(`(?i)\b(?:long|short|buy|sell)\b`)},
	{"date", regexp.MustCompile(`\b\d{4}[-/.]\d{1,2}[-/.]\d{1,2}\b|\b\d{1,2}[-/.]\d{1,2}[-/.]\d{2,4}\b|\b\d{1,2}:\d{2}(?::\d{2})?\b`)},
}

var reNumericToken = regexp.MustCompile(`^[+\-(]?[$€£¥]?[+\-]?\d[\d,]*(?:\.\d+)?[%)]?[%)]?$`)

// Heuristic is the fixed-weight default Scorer.
type Heuristic struct{}

func (h Heuristic) Score(rawText string, confidence float64) float64 {
	return Combine(h.Components(rawText, confidence))
}

// Components computes the score inputs. confidence is clamped to [0,1].
func (Heuristic) Components(rawText string, confidence float64) Components {
	return Components{
		Confidence:      clamp01(confidence),
		NumericDensity:  NumericDensity(rawText),
		StructuralRatio: StructuralRatio(rawText),
	}
}

// Combine applies the weights and clamps the result.
func Combine(c Components) float64 {
	return clamp01(WeightConfidence*c.Confidence + WeightNumeric*c.NumericDensity + WeightStructural*c.StructuralRatio)
}

// NumericDensity is the share of whitespace-separated tokens that read as numbers.
func NumericDensity(text string) float64 {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return 0
	}
	n := 0
	for _, tok := range tokens {
		if reNumericToken.MatchString(strings.TrimRight(tok, ":;")) {
			n++
		}
	}
	return float64(n) / float64(len(tokens))
}

// StructuralRatio is the share of Indicators present in text.
func StructuralRatio(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	found := 0
	for _, ind := range Indicators {
		if ind.Pattern.MatchString(text) {
			found++
		}
	}
	return float64(found) / float64(len(Indicators))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
