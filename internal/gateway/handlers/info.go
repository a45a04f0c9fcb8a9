package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// InfoHandler reports service identity and feed statistics.
type InfoHandler struct {
	Service     string
	Version     string
	Environment string
	Hub         *Hub
	Scheduled   func() int

	started time.Time
}

// NewInfoHandler creates the /info handler.
func NewInfoHandler(service, version, environment string, hub *Hub, scheduled func() int) *InfoHandler {
	return &InfoHandler{
		Service:     service,
		Version:     version,
		Environment: environment,
		Hub:         hub,
		Scheduled:   scheduled,
		started:     time.Now(),
	}
}

func (h *InfoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"service":        h.Service,
		"version":        h.Version,
		"environment":    h.Environment,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	}
	if h.Hub != nil {
		info["websocket_clients"] = h.Hub.ClientCount()
	}
	if h.Scheduled != nil {
		info["scheduled_triggers"] = h.Scheduled()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}
