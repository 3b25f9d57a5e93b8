package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/mythcraft/api/internal/transport/http/dto"
	httperrors "github.com/mythcraft/api/internal/transport/http/errors"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by the pgx pool and by a wrapped redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// Get always answers 200 while the process serves traffic; dependency state
// is reported per check so a degraded instance stays in rotation.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := dto.HealthResponse{Status: "ok"}
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	for name, pinger := range h.checks {
		if pinger == nil {
			resp.Checks[name] = "disabled"
			continue
		}
		if err := pinger.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = "down"
			continue
		}
		resp.Checks[name] = "up"
	}

	httperrors.Write(w, http.StatusOK, resp)
}
