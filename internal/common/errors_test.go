package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err   error
		cause constants.Cause
		code  codes.Code
		http  int
	}{
		{ErrInvalidImage, constants.CauseInvalidImage, codes.InvalidArgument, http.StatusBadRequest},
		{ErrExtractionTimeout, constants.CauseExtractionTimeout, codes.DeadlineExceeded, http.StatusGatewayTimeout},
		{ErrInsufficientCredit, constants.CauseInsufficientCredit, codes.ResourceExhausted, http.StatusPaymentRequired},
		{ErrTooManyCandidates, constants.CauseTooManyCandidates, codes.ResourceExhausted, http.StatusPaymentRequired},
		{ErrReservationExpired, constants.CauseReservationExpired, codes.FailedPrecondition, http.StatusConflict},
		{ErrCancelled, constants.CauseCancelled, codes.Canceled, http.StatusConflict},
		{ErrNotFound, constants.CauseInternal, codes.NotFound, http.StatusNotFound},
		{ErrUnauthorized, constants.CauseInternal, codes.Unauthenticated, http.StatusUnauthorized},
		{ErrLedgerInconsistency, constants.CauseLedgerInconsistency, codes.Internal, http.StatusInternalServerError},
		{errors.New("boom"), constants.CauseInternal, codes.Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			wrapped := NewAppError("TEST", "wrapped", fmt.Errorf("layer: %w", tt.err))
			if got := CauseOf(wrapped); got != tt.cause {
				t.Errorf("CauseOf = %q, want %q", got, tt.cause)
			}
			if got := status.Code(GRPCStatus(wrapped)); got != tt.code {
				t.Errorf("GRPCStatus code = %v, want %v", got, tt.code)
			}
			if got := HTTPStatus(wrapped); got != tt.http {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.http)
			}
		})
	}
}

func TestGRPCStatusKeepsExistingStatus(t *testing.T) {
	in := InvalidArgumentError("bad id")
	if got := GRPCStatus(in); got != in {
		t.Fatalf("GRPCStatus rewrapped a status error: %v", got)
	}
	if GRPCStatus(nil) != nil || CauseOf(nil) != constants.CauseNone {
		t.Fatal("nil error should map to nothing")
	}
}
