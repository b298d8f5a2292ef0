package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/models"
)

type ThreadsHandler struct {
	db *database.DB
}

func NewThreadsHandler(db *database.DB) *ThreadsHandler {
	return &ThreadsHandler{db: db}
}

func (h *ThreadsHandler) List(w http.ResponseWriter, r *http.Request) {
	includeArchived := r.URL.Query().Get("archived") == "true"
	threads, err := h.db.ListThreads(includeArchived)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list threads")
		return
	}
	if threads == nil {
		threads = []*models.Thread{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func (h *ThreadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name             string `json:"name"`
		ParentThreadID   string `json:"parent_thread_id"`
		ForkMessageIndex *int   `json:"fork_message_index"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	// A fork records where it split off so the UI can replay the parent's
	// transcript up to that point.
	if req.ParentThreadID != "" {
		if _, err := h.db.GetThread(req.ParentThreadID); err != nil {
			writeError(w, http.StatusBadRequest, "parent thread not found")
			return
		}
	}

	thread := &models.Thread{
		ID:               uuid.New().String(),
		Name:             req.Name,
		ParentThreadID:   req.ParentThreadID,
		ForkMessageIndex: req.ForkMessageIndex,
	}
	if err := h.db.CreateThread(thread); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"thread": thread})
}

func (h *ThreadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	thread, err := h.db.GetThread(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"thread": thread})
}

func (h *ThreadsHandler) Rename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if _, err := h.db.GetThread(id); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err := h.db.RenameThread(id, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to rename thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "renamed"})
}

func (h *ThreadsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Archived bool `json:"archived"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.db.GetThread(id); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}
	if err := h.db.ArchiveThread(id, req.Archived); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to archive thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
}
