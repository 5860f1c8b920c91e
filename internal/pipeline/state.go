package pipeline

import (
	"fmt"

	"github.com/joseph-ayodele/trade-ingest/constants"
	"github.com/joseph-ayodele/trade-ingest/internal/common"
)

// transitions lists every legal move. Rejected is reachable from every state before an outcome
// so a user cancel or a stage failure can end the batch early.
var transitions = map[constants.BatchState][]constants.BatchState{
	constants.BatchSubmitted:                 {constants.BatchFingerprinting, constants.BatchRejected},
	constants.BatchFingerprinting:            {constants.BatchExtracting, constants.BatchRejected},
	constants.BatchExtracting:                {constants.BatchRouted, constants.BatchRejected},
	constants.BatchRouted:                    {constants.BatchDuplicateChecked, constants.BatchRejected},
	constants.BatchDuplicateChecked:          {constants.BatchAwaitingCreditReservation, constants.BatchRejected},
	constants.BatchAwaitingCreditReservation: {constants.BatchCommitted, constants.BatchRejected, constants.BatchAwaitingUserConfirmation},
	constants.BatchAwaitingUserConfirmation:  {constants.BatchCommitted, constants.BatchRejected},
	constants.BatchCommitted:                 {constants.BatchClosed},
	constants.BatchRejected:                  {constants.BatchClosed},
}

// CanTransition reports whether a batch may move from one state to another.
func CanTransition(from, to constants.BatchState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to constants.BatchState) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, from, to)
	}
	return nil
}

// settled reports whether the batch already has its outcome.
func settled(s constants.BatchState) bool {
	return s == constants.BatchCommitted || s == constants.BatchRejected || s == constants.BatchClosed
}
