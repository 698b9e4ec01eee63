// Package handler implements the HTTP endpoints. Each constructor takes the
// narrow service interface it needs and returns an http.HandlerFunc.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/submission"
	"github.com/kiranshivaraju/enaupload/internal/templates"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxBodyBytes     = 4 << 20
)

// writeError maps service and store errors onto the response envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *submission.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Message,
			map[string]string{"field": verr.Field})
	case errors.Is(err, templates.ErrTemplateNotFound):
		response.Error(w, http.StatusBadRequest, "TEMPLATE_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, submission.ErrRequeueNotAllowed):
		response.Error(w, http.StatusConflict, "REQUEUE_NOT_ALLOWED",
			"Requeue not allowed on submitted or running jobs without force", nil)
	case errors.Is(err, store.ErrDeleteNotAllowed):
		response.Error(w, http.StatusConflict, "DELETE_NOT_ALLOWED",
			"Only queued analysis jobs can be deleted", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "DUPLICATE", "Resource already exists", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}

// pathID parses the chi URL parameter name as a UUID. On failure it writes a
// 400 response and returns false.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// queryID parses an optional UUID query parameter.
func queryID(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a valid UUID", nil)
		return nil, false
	}
	return &id, true
}

// pagination reads page and limit, clamped the way the store clamps them.
func pagination(r *http.Request) (page, limit int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

// decode reads a JSON body. On failure it writes a 400 response and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}

// actor returns the authenticated user. Handlers behind Authenticate always
// have one; the 401 covers misconfigured routing.
func actor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return uuid.Nil, false
	}
	return id, true
}
