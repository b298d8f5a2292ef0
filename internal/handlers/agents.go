package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clawdeck/clawdeck/internal/gateway"
)

// AgentsHandler proxies agent management to the gateway. ClawDeck stores no
// agent data of its own; the gateway owns the agent registry and their
// workspace files.
type AgentsHandler struct {
	gw *gateway.Client
}

func NewAgentsHandler(gw *gateway.Client) *AgentsHandler {
	return &AgentsHandler{gw: gw}
}

func (h *AgentsHandler) List(w http.ResponseWriter, r *http.Request) {
	agents, err := h.gw.ListAgents(r.Context())
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if agents == nil {
		agents = []gateway.AgentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (h *AgentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req gateway.AgentInfo
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	agent, err := h.gw.CreateAgent(r.Context(), req)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"agent": agent})
}

func (h *AgentsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req gateway.AgentInfo
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ID = chi.URLParam(r, "id")
	if err := h.gw.UpdateAgent(r.Context(), req); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agent": req})
}

func (h *AgentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.gw.DeleteAgent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (h *AgentsHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query param required")
		return
	}
	content, err := h.gw.GetAgentFile(r.Context(), chi.URLParam(r, "id"), path)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path, "content": content})
}

func (h *AgentsHandler) SetFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := h.gw.SetAgentFile(r.Context(), chi.URLParam(r, "id"), req.Path, req.Content); err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "saved"})
}

// writeGatewayError maps the gateway error taxonomy to HTTP statuses.
func writeGatewayError(w http.ResponseWriter, err error) {
	var rpcErr *gateway.RPCError
	switch {
	case errors.Is(err, gateway.ErrNotConnected), errors.Is(err, gateway.ErrConnectionLost):
		writeError(w, http.StatusServiceUnavailable, "gateway not connected")
	case errors.Is(err, gateway.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "gateway request timed out")
	case errors.As(err, &rpcErr):
		writeError(w, http.StatusBadGateway, rpcErr.Message)
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
