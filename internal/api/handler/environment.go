package handler

import (
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/internal/registry"
)

// Environment is the registry target switch.
type Environment interface {
	Snapshot() registry.Snapshot
	SetStaging(v bool) bool
}

var _ Environment = (*registry.Environment)(nil)

// NewGetEnvironmentHandler returns an http.HandlerFunc for
// GET /api/v1/admin/environment.
func NewGetEnvironmentHandler(env Environment) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, env.Snapshot())
	}
}

// NewSetEnvironmentHandler returns an http.HandlerFunc for
// PUT /api/v1/admin/environment. Body: {"use_dev_endpoint": bool}.
func NewSetEnvironmentHandler(env Environment) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UseDevEndpoint *bool `json:"use_dev_endpoint"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.UseDevEndpoint == nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "use_dev_endpoint is required",
				map[string]string{"field": "use_dev_endpoint"})
			return
		}
		prev := env.SetStaging(*req.UseDevEndpoint)
		if prev != *req.UseDevEndpoint {
			slog.Warn("registry environment switched", "use_dev_endpoint", *req.UseDevEndpoint)
		}
		response.JSON(w, env.Snapshot())
	}
}
