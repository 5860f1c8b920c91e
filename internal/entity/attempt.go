package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// ExtractionAttempt is the audit record of one image's trip through recognition and routing.
// Written once, when the outcome is known.
type ExtractionAttempt struct {
	ID                   uuid.UUID                `json:"id"`
	BatchID              uuid.UUID                `json:"batch_id"`
	ImageID              uuid.UUID                `json:"image_id"`
	UserID               string                   `json:"user_id"`
	ExactHash            []byte                   `json:"-"`
	RawText              string                   `json:"raw_text"`
	RecognizerConfidence float64                  `json:"recognizer_confidence"`
	QualityScore         float64                  `json:"quality_score"`
	Route                constants.Route          `json:"route,omitempty"`
	OverrideApplied      bool                     `json:"override_applied"`
	OverrideReason       string                   `json:"override_reason,omitempty"`
	ElapsedMs            int64                    `json:"elapsed_ms"`
	Outcome              constants.AttemptOutcome `json:"outcome"`
	Error                string                   `json:"error,omitempty"`
	CreatedAt            time.Time                `json:"created_at"`
}
