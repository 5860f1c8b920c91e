package common

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/trade-ingest/constants"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Pipeline errors. Each maps to a stable constants.Cause.
var (
	ErrInvalidImage        = errors.New("invalid image")
	ErrExtractionTimeout   = errors.New("extraction timed out")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrNoCandidates        = errors.New("no trades found in image")
	ErrInsufficientCredit  = errors.New("insufficient upload credit")
	ErrTooManyCandidates   = errors.New("too many trade candidates for reserved credit")
	ErrLedgerInconsistency = errors.New("credit ledger inconsistency")
	ErrReservationExpired  = errors.New("credit reservation expired")
	ErrCancelled           = errors.New("batch cancelled")
	ErrInvalidTransition   = errors.New("invalid batch state transition")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CauseOf maps an error chain onto the typed cause shown to users.
func CauseOf(err error) constants.Cause {
	switch {
	case err == nil:
		return constants.CauseNone
	case errors.Is(err, ErrInvalidImage):
		return constants.CauseInvalidImage
	case errors.Is(err, ErrExtractionTimeout):
		return constants.CauseExtractionTimeout
	case errors.Is(err, ErrNoCandidates):
		return constants.CauseNoCandidates
	case errors.Is(err, ErrExtractionFailed):
		return constants.CauseExtractionFailed
	case errors.Is(err, ErrInsufficientCredit):
		return constants.CauseInsufficientCredit
	case errors.Is(err, ErrTooManyCandidates):
		return constants.CauseTooManyCandidates
	case errors.Is(err, ErrLedgerInconsistency):
		return constants.CauseLedgerInconsistency
	case errors.Is(err, ErrReservationExpired):
		return constants.CauseReservationExpired
	case errors.Is(err, ErrCancelled):
		return constants.CauseCancelled
	}
	return constants.CauseInternal
}

// GRPCStatus converts a domain error into a gRPC status error.
func GRPCStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(err), err.Error())
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidImage):
		return codes.InvalidArgument
	case errors.Is(err, ErrUnauthorized):
		return codes.Unauthenticated
	case errors.Is(err, ErrInsufficientCredit), errors.Is(err, ErrTooManyCandidates):
		return codes.ResourceExhausted
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrReservationExpired):
		return codes.FailedPrecondition
	case errors.Is(err, ErrExtractionTimeout):
		return codes.DeadlineExceeded
	case errors.Is(err, ErrCancelled):
		return codes.Canceled
	}
	return codes.Internal
}

// HTTPStatus picks the response status for a domain error.
func HTTPStatus(err error) int {
	switch grpcCode(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusPaymentRequired
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InternalError(message string) error {
	return status.Error(codes.Internal, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
