package handlers

import (
	"net/http"
	"time"

	"github.com/clawdeck/clawdeck/internal/gateway"
)

type SystemHandler struct {
	gw        *gateway.Client
	version   string
	startedAt time.Time
}

func NewSystemHandler(gw *gateway.Client, version string) *SystemHandler {
	return &SystemHandler{gw: gw, version: version, startedAt: time.Now()}
}

// Health is unauthenticated and never touches the gateway, so load
// balancers can probe the dashboard itself.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
	})
}

// GatewayStatus reports the upstream connection state so the UI can render
// a connectivity indicator and disable actions while disconnected.
func (h *SystemHandler) GatewayStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"state":     h.gw.State().String(),
		"connected": h.gw.IsConnected(),
	}
	if err := h.gw.LastError(); err != nil {
		resp["lastError"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
