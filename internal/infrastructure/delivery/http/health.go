package httprouter

import (
	"context"
	"log/slog"
	"net/http"

	"vidgrab/internal/consts"
	"vidgrab/internal/infrastructure/delivery/http/response"
)

type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// Health reports whether the user store answers.
func (r *Router) Health(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), r.cfg.HandlerTimeout)
	defer cancel()

	if err := r.deps.Users.Health(ctx); err != nil {
		r.log.WarnContext(ctx, "health check failed", slog.Any("error", err))
		response.JSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:   consts.HealthUnhealthy,
			Database: consts.HealthDBDisconnected,
			Error:    err.Error(),
		})

		return
	}

	response.JSON(w, http.StatusOK, healthResponse{Status: consts.HealthHealthy, Database: consts.HealthDBConnected})
}
