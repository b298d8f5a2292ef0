package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clawdeck/clawdeck/internal/gateway"
)

// SessionsHandler exposes live gateway sessions and chat operations over
// REST. Streaming output travels over the event WebSocket; these endpoints
// cover the request side and history backfill.
type SessionsHandler struct {
	gw *gateway.Client
}

func NewSessionsHandler(gw *gateway.Client) *SessionsHandler {
	return &SessionsHandler{gw: gw}
}

func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.gw.ListSessions(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if sessions == nil {
		sessions = []gateway.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (h *SessionsHandler) History(w http.ResponseWriter, r *http.Request) {
	messages, err := h.gw.FetchHistory(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if messages == nil {
		messages = []gateway.HistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *SessionsHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if err := h.gw.SendChat(r.Context(), chi.URLParam(r, "key"), req.Message); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "sent"})
}

func (h *SessionsHandler) Abort(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.AbortChat(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "aborted"})
}

func (h *SessionsHandler) InjectContext(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	if err := h.gw.InjectContext(r.Context(), chi.URLParam(r, "key"), req.Content); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "injected"})
}

func (h *SessionsHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	approvals, err := h.gw.ListApprovals(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if approvals == nil {
		approvals = []gateway.ApprovalRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

func (h *SessionsHandler) ResolveApproval(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Allow bool `json:"allow"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.gw.ResolveApproval(r.Context(), chi.URLParam(r, "id"), req.Allow); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "resolved"})
}

func (h *SessionsHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.gw.ListChannels(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if channels == nil {
		channels = []gateway.ChannelInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": channels})
}
