package constants

// BatchState is the lifecycle state of an upload batch.
type BatchState string

// Stable values (surfaced to clients, keep these exact strings).
const (
	BatchSubmitted                 BatchState = "SUBMITTED"
	BatchFingerprinting            BatchState = "FINGERPRINTING"
	BatchExtracting                BatchState = "EXTRACTING"
	BatchRouted                    BatchState = "ROUTED"
	BatchDuplicateChecked          BatchState = "DUPLICATE_CHECKED"
	BatchAwaitingCreditReservation BatchState = "AWAITING_CREDIT_RESERVATION"
	BatchAwaitingUserConfirmation  BatchState = "AWAITING_USER_CONFIRMATION"
	BatchCommitted                 BatchState = "COMMITTED"
	BatchRejected                  BatchState = "REJECTED"
	BatchClosed                    BatchState = "CLOSED"
)

// Terminal reports whether no further transitions are possible.
func (s BatchState) Terminal() bool { return s == BatchClosed }

// AttemptOutcome is the terminal result of one extraction attempt.
type AttemptOutcome string

const (
	OutcomeOK      AttemptOutcome = "ok"
	OutcomeTimeout AttemptOutcome = "timeout"
	OutcomeError   AttemptOutcome = "error"
)

// Route is the extraction path chosen for an image.
type Route string

const (
	RouteFast     Route = "fast"
	RouteFallback Route = "fallback"
)

// DuplicateStatus classifies a trade candidate against prior records.
type DuplicateStatus string

const (
	DuplicateNovel         DuplicateStatus = "novel"
	DuplicateExactImage    DuplicateStatus = "exactImageDuplicate"
	DuplicateProbableTrade DuplicateStatus = "probableTradeDuplicate"
)

// ReservationStatus is the state of a credit hold.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// LedgerReason is stored on every credit ledger row.
type LedgerReason string

const (
	LedgerGrant   LedgerReason = "grant"
	LedgerReserve LedgerReason = "reserve"
	LedgerCommit  LedgerReason = "commit"
	LedgerRelease LedgerReason = "release"
)

// ImageStatus tracks a single image inside a batch.
type ImageStatus string

const (
	ImagePending   ImageStatus = "PENDING"
	ImageExtracted ImageStatus = "EXTRACTED"
	ImageDuplicate ImageStatus = "DUPLICATE"
	ImageCommitted ImageStatus = "COMMITTED"
	ImageSkipped   ImageStatus = "SKIPPED"
	ImageFailed    ImageStatus = "FAILED"
)
