package entity

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// ImageFingerprint identifies an uploaded screenshot. Immutable once computed.
type ImageFingerprint struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id"`
	BatchID        uuid.UUID `json:"batch_id"`
	ExactHash      [32]byte  `json:"-"`
	PerceptualHash string    `json:"perceptual_hash"`
	SizeBytes      int       `json:"size_bytes"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ExactHex is the lowercase hex form of the exact hash.
func (f ImageFingerprint) ExactHex() string {
	return hex.EncodeToString(f.ExactHash[:])
}
