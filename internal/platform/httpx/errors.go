// Package httpx provides HTTP response utilities.
package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/hardware-ledger/internal/shared"
)

// ErrorBody is the error envelope returned by every endpoint.
type ErrorBody struct {
	ErrorKind string         `json:"error_kind"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// RespondError maps domain errors to HTTP responses.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, body := Classify(err)
	if status >= http.StatusInternalServerError && logger != nil {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	}
	JSON(w, status, body)
}

// Classify converts err into a status code and response body.
func Classify(err error) (int, ErrorBody) {
	var (
		validation *shared.ValidationError
		stock      *shared.InsufficientStockError
		notFound   *shared.NotFoundError
		conflict   *shared.ConflictError
		storage    *shared.StorageError
	)
	switch {
	case errors.As(err, &validation):
		body := ErrorBody{ErrorKind: shared.KindValidation, Message: validation.Message}
		if len(validation.Details) > 0 {
			body.Details = make(map[string]any, len(validation.Details))
			for k, v := range validation.Details {
				body.Details[k] = v
			}
		}
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &stock):
		return http.StatusConflict, ErrorBody{
			ErrorKind: shared.KindInsufficientStock,
			Message:   stock.Error(),
			Details: map[string]any{
				"entity":    stock.Entity,
				"available": stock.Available.String(),
				"requested": stock.Requested.String(),
				"shortfall": stock.Shortfall.String(),
			},
		}
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrorBody{ErrorKind: shared.KindNotFound, Message: notFound.Error()}
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, ErrorBody{ErrorKind: shared.KindNotFound, Message: err.Error()}
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrorBody{ErrorKind: shared.KindConflict, Message: conflict.Message}
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, ErrorBody{ErrorKind: shared.KindForbidden, Message: err.Error()}
	case errors.Is(err, shared.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorBody{ErrorKind: shared.KindStorage, Message: "operation timed out"}
	case errors.As(err, &storage):
		return http.StatusInternalServerError, ErrorBody{
			ErrorKind: shared.KindStorage,
			Message:   "storage failure",
			Details:   map[string]any{"op": storage.Op, "transient": storage.Transient},
		}
	default:
		return http.StatusInternalServerError, ErrorBody{ErrorKind: shared.KindStorage, Message: "internal error"}
	}
}

// BadRequest responds with a validation envelope for undecodable input.
func BadRequest(w http.ResponseWriter, message string) {
	JSON(w, http.StatusBadRequest, ErrorBody{ErrorKind: shared.KindValidation, Message: message})
}
