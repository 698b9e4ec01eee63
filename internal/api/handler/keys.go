package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// KeyStore is the part of the store the key administration endpoints use.
type KeyStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

var validScopes = map[string]bool{
	models.ScopeSubmit: true,
	models.ScopeAdmin:  true,
}

type createdKey struct {
	*models.APIKey
	Key string `json:"key"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// The raw key is only ever returned in this response.
func NewCreateKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		self, ok := actor(w, r)
		if !ok {
			return
		}
		var req struct {
			UserID *uuid.UUID `json:"user_id"`
			Name   string     `json:"name"`
			Scopes []string   `json:"scopes"`
		}
		if !decode(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required",
				map[string]string{"field": "name"})
			return
		}
		for _, scope := range req.Scopes {
			if !validScopes[scope] {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown scope "+scope,
					map[string]string{"field": "scopes"})
				return
			}
		}

		userID := self
		if req.UserID != nil {
			userID = *req.UserID
		}
		if _, err := s.GetUser(r.Context(), userID); err != nil {
			writeError(w, r, err)
			return
		}

		key, raw, err := mw.IssueKey(userID, req.Name, req.Scopes)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, createdKey{APIKey: key, Key: raw})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for
// GET /api/v1/admin/keys[?user_id=<id>].
func NewListKeysHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := queryID(w, r, "user_id")
		if !ok {
			return
		}
		id := uuid.Nil
		if userID != nil {
			id = *userID
		}
		keys, err := s.ListAPIKeys(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for
// DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(s KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "keyID")
		if !ok {
			return
		}
		if err := s.RevokeAPIKey(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
