package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/database"
	"github.com/clawdeck/clawdeck/internal/models"
	"github.com/clawdeck/clawdeck/internal/pipeline"
)

type PipelinesHandler struct {
	db     *database.DB
	engine *pipeline.Engine
}

func NewPipelinesHandler(db *database.DB, engine *pipeline.Engine) *PipelinesHandler {
	return &PipelinesHandler{db: db, engine: engine}
}

func (h *PipelinesHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.db.ListPipelineTemplates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	if templates == nil {
		templates = []*models.PipelineTemplate{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

func (h *PipelinesHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages"`
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
	if req.Stages == nil {
		req.Stages = []string{}
	}

	tmpl := &models.PipelineTemplate{
		ID:     uuid.New().String(),
		Name:   req.Name,
		Stages: req.Stages,
	}
	if err := h.db.CreatePipelineTemplate(tmpl); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"template": tmpl})
}

func (h *PipelinesHandler) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tmpl, err := h.db.GetPipelineTemplate(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	var req struct {
		Name   string   `json:"name"`
		Stages []string `json:"stages"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		tmpl.Name = name
	}
	if req.Stages != nil {
		tmpl.Stages = req.Stages
	}
	if err := h.db.UpdatePipelineTemplate(tmpl); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"template": tmpl})
}

func (h *PipelinesHandler) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeletePipelineTemplate(chi.URLParam(r, "id")); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (h *PipelinesHandler) Start(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	var req struct {
		TemplateID string `json:"template_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TemplateID == "" {
		writeError(w, http.StatusBadRequest, "template_id is required")
		return
	}
	if _, err := h.db.GetThread(threadID); err != nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	state, err := h.engine.Start(r.Context(), threadID, req.TemplateID)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func (h *PipelinesHandler) Advance(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func (h *PipelinesHandler) Fail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.engine.Fail(chi.URLParam(r, "id"), req.Feedback)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func (h *PipelinesHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Feedback string `json:"feedback"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := h.engine.RetryStage(r.Context(), chi.URLParam(r, "id"), req.Feedback)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func (h *PipelinesHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func (h *PipelinesHandler) GetState(w http.ResponseWriter, r *http.Request) {
	state, err := h.engine.GetState(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load pipeline state")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "no pipeline for thread")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": state})
}

func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrNoPipeline), errors.Is(err, pipeline.ErrNoActiveStage):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrRetriesExhausted):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusBadGateway, err.Error())
	}
}
