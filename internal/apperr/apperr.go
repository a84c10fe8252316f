package apperr

import (
	"context"
	"errors"
	"net/http"
)

// Sentinel errors forming the error taxonomy of the order core. Components
// translate raw storage/network failures into these at their boundary; nothing
// rawer crosses the dispatch or state-machine surface.
var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrIllegalTransition  = errors.New("illegal transition")
	ErrConflictingUpdate  = errors.New("conflicting update")
	ErrNoPartnerAvailable = errors.New("no partner available")
	ErrAlreadyCancelled   = errors.New("already cancelled")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrNotFound           = errors.New("not found")
)

// Kind maps an error to its wire-level classification string.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"

	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"

	case errors.Is(err, ErrConflictingUpdate):
		return "conflicting_update"

	case errors.Is(err, ErrNoPartnerAvailable):
		return "no_partner_available"

	case errors.Is(err, ErrAlreadyCancelled):
		return "already_cancelled"

	case errors.Is(err, ErrPaymentFailed):
		return "payment_failed"

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrPaymentFailed):
		return http.StatusBadRequest

	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrConflictingUpdate):
		return http.StatusConflict

	case errors.Is(err, ErrNoPartnerAvailable):
		return http.StatusServiceUnavailable

	case errors.Is(err, ErrAlreadyCancelled):
		// idempotency guard: second cancel is a no-op success
		return http.StatusOK

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	default:
		return http.StatusInternalServerError
	}
}
