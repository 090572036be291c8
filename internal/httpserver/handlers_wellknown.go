package httpserver

import (
	"net/http"

	"github.com/NexusGateway/server/internal/logger"
	"github.com/NexusGateway/server/internal/quotes"
	"github.com/NexusGateway/server/internal/versioning"
	"github.com/NexusGateway/server/pkg/responders"
)

// discoveryDocument is the machine-readable capability advertisement
// served under /.well-known/nexus-gateway.
type discoveryDocument struct {
	Service           string                `json:"service"`
	Environment       string                `json:"environment"`
	APIVersions       []string              `json:"apiVersions"`
	BaseURL           string                `json:"baseUrl"`
	MessageTypes      []string              `json:"messageTypes"`
	Corridors         []quotes.CorridorInfo `json:"corridors,omitempty"`
	TransactionLimits map[string]string     `json:"transactionLimits,omitempty"`
	Documentation     string                `json:"documentation"`
	OpenAPI           string                `json:"openapi"`
}

// wellKnownGateway serves the discovery document so PSPs can learn the
// gateway's versions, reachable corridors, and per-currency caps before
// integrating. Corridor loading is best effort; a rate book outage
// degrades the document rather than failing it.
func (h *handlers) wellKnownGateway(w http.ResponseWriter, r *http.Request) {
	base := getServiceEndpoint(r) + h.cfg.Server.RoutePrefix

	messageTypes := make([]string, 0)
	if h.schemas != nil {
		for _, mt := range h.schemas.Types() {
			messageTypes = append(messageTypes, string(mt))
		}
	}

	doc := discoveryDocument{
		Service:           "nexus-gateway",
		Environment:       h.cfg.Environment,
		APIVersions:       []string{versioning.V1.String()},
		BaseURL:           base + "/v1",
		MessageTypes:      messageTypes,
		TransactionLimits: h.cfg.Money.TransactionLimits,
		Documentation:     getServiceEndpoint(r) + "/docs",
		OpenAPI:           getServiceEndpoint(r) + "/openapi.json",
	}

	if h.quotes != nil {
		corridors, err := h.quotes.Corridors(r.Context())
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Warn().Err(err).
				Msg("httpserver: rate book unavailable for discovery document")
		} else {
			doc.Corridors = corridors
		}
	}

	// Discovery responses are static per deployment; let clients and
	// intermediaries cache them.
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	responders.JSON(w, http.StatusOK, doc)
}
