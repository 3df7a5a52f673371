package domain

import (
	"context"
	"errors"
	"net/http"
)

// HTTPStatus maps an error to the status the sender API answers with.
func HTTPStatus(err error) int {
	var re *RemoteError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrPaymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConfiguration), errors.Is(err, ErrInvalidCaseID):
		return http.StatusBadRequest
	case errors.Is(err, ErrTransferStateTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrNoQuote), errors.Is(err, ErrQuoteIntegrity), errors.Is(err, ErrAssetsNotTraded):
		return http.StatusBadGateway
	case errors.As(err, &re):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
