package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/clawdeck/clawdeck/internal/models"
)

func (db *DB) CreateThread(t *models.Thread) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = models.ThreadIdle
	}
	_, err := db.Exec(
		`INSERT INTO threads (id, name, status, archived, parent_thread_id, fork_message_index, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Status, t.Archived, nullStr(t.ParentThreadID), t.ForkMessageIndex, now, now,
	)
	return err
}

func (db *DB) GetThread(id string) (*models.Thread, error) {
	row := db.QueryRow(
		`SELECT id, name, status, archived, COALESCE(parent_thread_id, ''), fork_message_index, created_at, updated_at
		 FROM threads WHERE id = ?`, id)
	return scanThread(row)
}

func (db *DB) ListThreads(includeArchived bool) ([]*models.Thread, error) {
	query := `SELECT id, name, status, archived, COALESCE(parent_thread_id, ''), fork_message_index, created_at, updated_at
		FROM threads`
	if !includeArchived {
		query += " WHERE archived = 0"
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// ListThreadsByStatus returns threads in any of the given statuses.
func (db *DB) ListThreadsByStatus(statuses ...string) ([]*models.Thread, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, status, archived, COALESCE(parent_thread_id, ''), fork_message_index, created_at, updated_at
		FROM threads WHERE status IN (`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		if i > 0 {
			query += ", "
		}
		query += "?"
		args[i] = s
	}
	query += ")"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

// UpdateThreadStatus writes the new status only when the current status
// still matches expect, so concurrent writers cannot clobber each other.
// Pass expect == "" to update unconditionally.
func (db *DB) UpdateThreadStatus(id, expect, status string) (bool, error) {
	var res sql.Result
	var err error
	if expect == "" {
		res, err = db.Exec("UPDATE threads SET status = ?, updated_at = ? WHERE id = ?",
			status, time.Now().UTC(), id)
	} else {
		res, err = db.Exec("UPDATE threads SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
			status, time.Now().UTC(), id, expect)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *DB) RenameThread(id, name string) error {
	_, err := db.Exec("UPDATE threads SET name = ?, updated_at = ? WHERE id = ?", name, time.Now().UTC(), id)
	return err
}

func (db *DB) ArchiveThread(id string, archived bool) error {
	_, err := db.Exec("UPDATE threads SET archived = ?, updated_at = ? WHERE id = ?", archived, time.Now().UTC(), id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanThread(row rowScanner) (*models.Thread, error) {
	var t models.Thread
	var fork sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.Status, &t.Archived, &t.ParentThreadID, &fork, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("thread not found")
	}
	if err != nil {
		return nil, err
	}
	if fork.Valid {
		v := int(fork.Int64)
		t.ForkMessageIndex = &v
	}
	return &t, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
