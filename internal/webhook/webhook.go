package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/clawdeck/clawdeck/internal/logger"
	"github.com/clawdeck/clawdeck/internal/models"
	"github.com/clawdeck/clawdeck/internal/pipeline"
)

const maxBodyBytes = 1 << 20

// PipelineStarter kicks off a pipeline for a freshly created thread.
// *pipeline.Engine satisfies it.
type PipelineStarter interface {
	Start(ctx context.Context, threadID, templateID string) (*pipeline.State, error)
}

// ThreadCreator is the database surface the handler needs.
type ThreadCreator interface {
	CreateThread(t *models.Thread) error
}

// IssuePayload is the slice of an issue event we act on.
type IssuePayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
		URL    string `json:"html_url"`
	} `json:"issue"`
}

// Handler ingests signed issue webhooks and turns opened issues into
// threads with a running pipeline.
type Handler struct {
	secret     []byte
	dedup      *Dedup
	threads    ThreadCreator
	pipelines  PipelineStarter
	templateID string
}

func NewHandler(secret string, threads ThreadCreator, pipelines PipelineStarter, templateID string) *Handler {
	return &Handler{
		secret:     []byte(secret),
		dedup:      NewDedup(DedupCapacity),
		threads:    threads,
		pipelines:  pipelines,
		templateID: templateID,
	}
}

// HandleIssue is POST /api/v1/webhooks/issues. The signature covers the
// raw body, so the body is read before any parsing.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	if len(h.secret) == 0 {
		http.Error(w, "webhooks not configured", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		logger.Warn("Webhook rejected: bad signature from %s", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	if id := r.Header.Get("X-Delivery-Id"); id != "" && h.dedup.Seen(id) {
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload IssuePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Action != "opened" {
		w.WriteHeader(http.StatusOK)
		return
	}

	name := strings.TrimSpace(payload.Issue.Title)
	if name == "" {
		http.Error(w, "issue title required", http.StatusBadRequest)
		return
	}

	thread := &models.Thread{ID: uuid.New().String(), Name: name}
	if err := h.threads.CreateThread(thread); err != nil {
		logger.Error("Webhook thread create failed: %v", err)
		http.Error(w, "create thread", http.StatusInternalServerError)
		return
	}
	logger.Info("Webhook: issue #%d opened thread %s", payload.Issue.Number, thread.ID)

	if h.pipelines != nil && h.templateID != "" {
		if _, err := h.pipelines.Start(r.Context(), thread.ID, h.templateID); err != nil {
			// The thread exists and is actionable from the UI even when the
			// pipeline could not start, e.g. with the gateway down.
			logger.Warn("Webhook pipeline start for %s failed: %v", thread.ID, err)
		}
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"threadId": thread.ID})
}

// verifySignature checks the sha256= HMAC header against the raw body in
// constant time.
func (h *Handler) verifySignature(body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
