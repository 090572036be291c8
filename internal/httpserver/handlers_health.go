package httpserver

import (
	"net/http"
	"time"

	"github.com/NexusGateway/server/internal/monitoring"
	"github.com/NexusGateway/server/pkg/responders"
)

// health reports liveness and readiness. The store state comes from the
// background monitor's cached probe, so health checks stay cheap no
// matter how often an orchestrator polls them.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	store := monitoring.StoreStatus{Healthy: true}
	if h.monitor != nil {
		store = h.monitor.Status()
	}

	schemasLoaded := 0
	if h.schemas != nil {
		schemasLoaded = len(h.schemas.Types())
	}

	status := "ok"
	statusCode := http.StatusOK
	if !store.Healthy || schemasLoaded == 0 {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":        status,
		"uptime":        now.Sub(serverStartTime).String(),
		"timestamp":     now.UTC(),
		"store":         store,
		"schemasLoaded": schemasLoaded,
		"environment":   h.cfg.Environment,
	}

	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	features := []string{}
	if h.cfg.Callbacks.QueueEnabled {
		features = append(features, "callback-queue")
	}
	if h.cfg.RateLimit.Enabled {
		features = append(features, "rate-limiting")
	}
	if h.cfg.Admin.APIKey != "" {
		features = append(features, "admin-auth")
	}
	if len(features) > 0 {
		response["features"] = features
	}

	responders.JSON(w, statusCode, response)
}
