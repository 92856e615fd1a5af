package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjod/storefront/internal/catalog"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/repository"
	"github.com/fjod/storefront/internal/service"
	"github.com/fjod/storefront/pkg/logger"
	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
	// echoed back on a failed checkout so the form keeps what the user typed
	Shipping *domain.ShippingInfo `json:"shipping,omitempty"`
	Retry    bool                 `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// errorResponse maps an error coming out of the services to a status and body.
func errorResponse(err error) (int, ErrorResponse) {
	var se *service.Error
	if errors.As(err, &se) {
		resp := ErrorResponse{Error: se.Error(), Fields: se.Fields, Retry: se.Retryable()}
		switch se.Kind {
		case service.ErrValidation:
			resp.Code = "validation_failed"
			return http.StatusBadRequest, resp
		case service.ErrInsufficientStock:
			resp.Code = "insufficient_stock"
			resp.Details = se.ProductName
			return http.StatusConflict, resp
		case service.ErrConcurrencyConflict:
			resp.Code = "conflict"
			return http.StatusConflict, resp
		case service.ErrNotFound:
			resp.Code = "not_found"
			return http.StatusNotFound, resp
		case service.ErrOwnershipViolation:
			resp.Code = "forbidden"
			return http.StatusForbidden, resp
		case service.ErrInvalidStateTransition:
			resp.Code = "invalid_state"
			return http.StatusConflict, resp
		case service.ErrTransientStoreFailure:
			resp.Code = "service_unavailable"
			return http.StatusServiceUnavailable, resp
		}
	}

	switch {
	case errors.Is(err, catalog.ErrInvalidProduct):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_argument"}
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, repository.ErrCategoryNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: "timeout", Retry: true}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"}
}

func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

// idParam reads a positive integer path parameter, answering 400 when it is not one.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
