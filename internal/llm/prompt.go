package llm

import (
	"strings"
)

const maxHintChars = 3000

// BuildSystemPrompt composes the system message with the trade field rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You read broker and exchange screenshots and return ONLY JSON that matches the provided JSON Schema.",
		"Return one entry in 'trades' per closed or open position visible in the image. Do not skip any.",
		"'symbol' is the instrument exactly as shown without spaces (e.g. BTCUSDT, AAPL, EUR/USD).",
		"'side' is 'long' for long/buy positions and 'short' for short/sell positions.",
		"Money and size fields are plain decimal strings: no currency symbols, no thousands separators, a leading '-' for losses.",
		"'roi' is a percentage number without the '%' sign.",
		"Times use 'YYYY-MM-DD HH:MM:SS' in the timezone shown, or RFC3339 when an offset is visible.",
		"Set 'confidence' to how sure you are that every number was read correctly (0..1).",
		"Never output null. If a field is not present, omit it. Never invent trades that are not visible.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt adds the recognizer text as a hint. The image remains the source of truth.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract every trade from the attached screenshot.\n")
	if ocr := strings.TrimSpace(req.OCRText); ocr != "" {
		b.WriteString("\nLow-confidence OCR text (may contain misreads):\n")
		if len(ocr) > maxHintChars {
			b.WriteString(ocr[:maxHintChars])
			b.WriteString("\n…(truncated)")
		} else {
			b.WriteString(ocr)
		}
	}
	return b.String()
}
