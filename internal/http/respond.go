package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/service"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.New("http").Error("failed to encode response", "err", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts a failure of the cart or checkout layer to an
// HTTP status. Internal failures are logged and never echoed to the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var fieldErr *domain.FieldError

	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated", "sign in required")
	case errors.As(err, &fieldErr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   fieldErr.Error(),
			Code:    "invalid_argument",
			Details: fieldErr.Field,
		})
	case errors.Is(err, domain.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, domain.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", domain.ErrEmptyCart.Error())
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrCheckoutInProgress):
		respondError(w, http.StatusConflict, "checkout_in_progress", service.ErrCheckoutInProgress.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already_exists", err.Error())
	case errors.Is(err, domain.ErrUnavailable):
		logger.FromCtx(r.Context()).Warn("request failed: persistence unavailable", "err", err)
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable, try again")
	default:
		logger.FromCtx(r.Context()).Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
