package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/campusfriends/backend/internal/logging"
	"github.com/campusfriends/backend/internal/relationships"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps a relationship outcome to its status and stable code.
// Infrastructure failures are logged and hidden behind a generic message.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(ctx).Error("relationship operation failed", "error", err)
		message = "internal error"
	}
	respondJSON(ctx, w, status, errorResponse{Error: message, Code: code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, relationships.ErrSelfReference):
		return http.StatusBadRequest, "self_reference"
	case errors.Is(err, relationships.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, relationships.ErrPermission):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, relationships.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, relationships.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate_request"
	case errors.Is(err, relationships.ErrAlreadyRelated):
		return http.StatusConflict, "already_related"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func badRequest(ctx context.Context, w http.ResponseWriter, message string) {
	respondJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: message, Code: "invalid_input"})
}

func tooManyRequests(ctx context.Context, w http.ResponseWriter) {
	w.Header().Set("Retry-After", "1")
	respondJSON(ctx, w, http.StatusTooManyRequests, errorResponse{Error: "too many requests", Code: "rate_limited"})
}
