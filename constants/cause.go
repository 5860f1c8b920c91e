package constants

// Cause is the typed reason attached to a rejected batch or failed image.
type Cause string

const (
	CauseNone                Cause = ""
	CauseInvalidImage        Cause = "INVALID_IMAGE"
	CauseExtractionTimeout   Cause = "EXTRACTION_TIMEOUT"
	CauseExtractionFailed    Cause = "EXTRACTION_FAILED"
	CauseNoCandidates        Cause = "NO_CANDIDATES"
	CauseInsufficientCredit  Cause = "INSUFFICIENT_CREDIT"
	CauseTooManyCandidates   Cause = "TOO_MANY_CANDIDATES"
	CauseLedgerInconsistency Cause = "LEDGER_INCONSISTENCY"
	CauseReservationExpired  Cause = "RESERVATION_EXPIRED"
	CauseDuplicateImage      Cause = "DUPLICATE_IMAGE"
	CauseDuplicateDeclined   Cause = "DUPLICATE_DECLINED"
	CauseCancelled           Cause = "CANCELLED"
	CauseInternal            Cause = "INTERNAL"
)

// Retryable reports whether the caller may resubmit the same input unchanged.
func (c Cause) Retryable() bool {
	switch c {
	case CauseExtractionTimeout, CauseExtractionFailed, CauseReservationExpired:
		return true
	}
	return false
}
