package database

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/clawdeck/clawdeck/internal/models"
)

// Pipeline state is persisted as an opaque JSON blob per thread; only the
// pipeline engine interprets it.

func (db *DB) SavePipelineState(threadID string, state []byte) error {
	_, err := db.Exec(`INSERT INTO pipeline_states (thread_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		threadID, string(state), time.Now().UTC())
	return err
}

// LoadPipelineState returns nil with no error when the thread has no
// persisted pipeline.
func (db *DB) LoadPipelineState(threadID string) ([]byte, error) {
	var state string
	err := db.QueryRow("SELECT state FROM pipeline_states WHERE thread_id = ?", threadID).Scan(&state)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(state), nil
}

func (db *DB) DeletePipelineState(threadID string) error {
	_, err := db.Exec("DELETE FROM pipeline_states WHERE thread_id = ?", threadID)
	return err
}

func (db *DB) CreatePipelineTemplate(t *models.PipelineTemplate) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	stages, err := json.Marshal(t.Stages)
	if err != nil {
		return err
	}
	_, err = db.Exec("INSERT INTO pipeline_templates (id, name, stages, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		t.ID, t.Name, string(stages), now, now)
	return err
}

func (db *DB) GetPipelineTemplate(id string) (*models.PipelineTemplate, error) {
	var t models.PipelineTemplate
	var stages string
	err := db.QueryRow("SELECT id, name, stages, created_at, updated_at FROM pipeline_templates WHERE id = ?", id).
		Scan(&t.ID, &t.Name, &stages, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stages), &t.Stages); err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) ListPipelineTemplates() ([]*models.PipelineTemplate, error) {
	rows, err := db.Query("SELECT id, name, stages, created_at, updated_at FROM pipeline_templates ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.PipelineTemplate
	for rows.Next() {
		var t models.PipelineTemplate
		var stages string
		if err := rows.Scan(&t.ID, &t.Name, &stages, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stages), &t.Stages); err != nil {
			return nil, err
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

func (db *DB) UpdatePipelineTemplate(t *models.PipelineTemplate) error {
	stages, err := json.Marshal(t.Stages)
	if err != nil {
		return err
	}
	_, err = db.Exec("UPDATE pipeline_templates SET name = ?, stages = ?, updated_at = ? WHERE id = ?",
		t.Name, string(stages), time.Now().UTC(), t.ID)
	return err
}

func (db *DB) DeletePipelineTemplate(id string) error {
	_, err := db.Exec("DELETE FROM pipeline_templates WHERE id = ?", id)
	return err
}
