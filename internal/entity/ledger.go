package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// CreditLedgerEntry is one append-only row of a user's credit history.
// For any user, the sum of Delta equals the current balance.
type CreditLedgerEntry struct {
	ID            uuid.UUID              `json:"id"`
	UserID        string                 `json:"user_id"`
	ReservationID *uuid.UUID             `json:"reservation_id,omitempty"`
	Delta         int                    `json:"delta"`
	Reason        constants.LedgerReason `json:"reason"`
	BalanceAfter  int                    `json:"balance_after"`
	At            time.Time              `json:"at"`
}

// Reservation is a TTL-bounded hold on credits for one batch.
type Reservation struct {
	ID        uuid.UUID                   `json:"id"`
	UserID    string                      `json:"user_id"`
	BatchID   uuid.UUID                   `json:"batch_id"`
	Credits   int                         `json:"credits"`
	Status    constants.ReservationStatus `json:"status"`
	CreatedAt time.Time                   `json:"created_at"`
	ExpiresAt time.Time                   `json:"expires_at"`
}

// Balance is the display view of a credit account.
type Balance struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// Available is the number of credits that can still be reserved.
func (b Balance) Available() int { return b.Limit - b.Used }
