package apperr

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", ErrNoPartnerAvailable)
	if got := Kind(err); got != "no_partner_available" {
		t.Fatalf("Kind = %q", got)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrInvalidOrder, http.StatusBadRequest},
		{ErrPaymentFailed, http.StatusBadRequest},
		{ErrIllegalTransition, http.StatusConflict},
		{ErrConflictingUpdate, http.StatusConflict},
		{ErrNoPartnerAvailable, http.StatusServiceUnavailable},
		{ErrAlreadyCancelled, http.StatusOK},
		{ErrNotFound, http.StatusNotFound},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
