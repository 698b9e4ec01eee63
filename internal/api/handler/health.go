package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/enaupload/internal/api/response"
)

// Pinger is anything the health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// Nil entries in checks are skipped so optional services (Redis) only show
// up when configured.
func NewHealthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		degraded := false
		for name, p := range checks {
			if p == nil {
				continue
			}
			services[name] = "ok"
			if err := p.Ping(r.Context()); err != nil {
				services[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
