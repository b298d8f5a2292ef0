package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/models"
	"github.com/clawdeck/clawdeck/internal/secrets"
)

const (
	connectionSettingsKey = "gateway_connection"
	gatewayTokenSecret    = "gateway_auth_token"
)

// SettingsHandler manages the upstream gateway connection settings. Host,
// port and flags live in the settings table; the auth token is kept in the
// encrypted secrets store and never returned to the browser.
type SettingsHandler struct {
	db      *database.DB
	store   *secrets.Store
	onSaved func(*models.ConnectionSettings)
}

// NewSettingsHandler wires the handler; onSaved fires after a successful
// update so the gateway client can redial with the new settings. May be nil.
func NewSettingsHandler(db *database.DB, store *secrets.Store, onSaved func(*models.ConnectionSettings)) *SettingsHandler {
	return &SettingsHandler{db: db, store: store, onSaved: onSaved}
}

// LoadConnection returns the stored settings with the auth token decrypted,
// or nil when nothing has been configured yet.
func (h *SettingsHandler) LoadConnection() (*models.ConnectionSettings, error) {
	raw, err := h.db.GetSetting(connectionSettingsKey)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var s models.ConnectionSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, err
	}
	token, err := h.store.Get(gatewayTokenSecret)
	if err != nil {
		return nil, err
	}
	s.AuthToken = token
	return &s, nil
}

func (h *SettingsHandler) GetConnection(w http.ResponseWriter, r *http.Request) {
	s, err := h.LoadConnection()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	if s == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"configured": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"configured": true,
		"settings":   s,
		"hasToken":   s.AuthToken != "",
	})
}

func (h *SettingsHandler) UpdateConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Host               string `json:"host"`
		Port               int    `json:"port"`
		AuthToken          string `json:"authToken"`
		UseTLS             bool   `json:"useTls"`
		MaxConcurrentTasks int    `json:"maxConcurrentTasks"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if req.Port <= 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "port must be between 1 and 65535")
		return
	}
	if req.MaxConcurrentTasks <= 0 {
		req.MaxConcurrentTasks = 4
	}

	s := models.ConnectionSettings{
		Host:               req.Host,
		Port:               req.Port,
		UseTLS:             req.UseTLS,
		MaxConcurrentTasks: req.MaxConcurrentTasks,
	}
	raw, err := json.Marshal(s)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode settings")
		return
	}
	if err := h.db.SetSetting(connectionSettingsKey, string(raw)); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	// An empty token in the request leaves the stored one untouched, so the
	// UI can edit host and port without re-entering the secret.
	if req.AuthToken != "" {
		if err := h.store.Set(gatewayTokenSecret, req.AuthToken); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save auth token")
			return
		}
		s.AuthToken = req.AuthToken
	} else if token, err := h.store.Get(gatewayTokenSecret); err == nil {
		s.AuthToken = token
	}

	if h.onSaved != nil {
		h.onSaved(&s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings": s,
		"hasToken": s.AuthToken != "",
	})
}

// SecretsHandler exposes the named secrets store (webhook secrets, API keys
// for agent tooling). Values are write-only over the API.
type SecretsHandler struct {
	store *secrets.Store
}

func NewSecretsHandler(store *secrets.Store) *SecretsHandler {
	return &SecretsHandler{store: store}
}

func (h *SecretsHandler) List(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list secrets")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"secrets": names})
}

func (h *SecretsHandler) Set(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.Value == "" {
		writeError(w, http.StatusBadRequest, "name and value required")
		return
	}
	if err := h.store.Set(req.Name, req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save secret")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": req.Name})
}

func (h *SecretsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := h.store.Delete(name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete secret")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}
