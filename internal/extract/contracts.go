package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// Recognizer is a text-recognition engine. Implementations must honour ctx cancellation.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (Recognition, error)
	Name() string
}

// Recognition is what an engine reports: raw characters plus its own certainty.
// Confidence may be on the engine's native scale; the Extractor clamps it to [0,1].
type Recognition struct {
	Text       string
	Confidence float64
	Words      int
}

// Result is the outcome of one bounded recognition attempt.
type Result struct {
	RawText    string
	Confidence float64
	Words      int
	Engine     string
	Outcome    constants.AttemptOutcome
	Elapsed    time.Duration
}
