package secrets

import (
	"database/sql"
	"fmt"

	"github.com/clawdeck/clawdeck/internal/database"
)

// Store persists named secrets (gateway auth token, integration credentials)
// encrypted in the secrets table.
type Store struct {
	db  *database.DB
	mgr *Manager
}

func NewStore(db *database.DB, mgr *Manager) *Store {
	return &Store{db: db, mgr: mgr}
}

func (s *Store) Set(name, value string) error {
	enc, err := s.mgr.Encrypt(value)
	if err != nil {
		return fmt.Errorf("encrypt secret %s: %w", name, err)
	}
	_, err = s.db.Exec(`INSERT INTO secrets (name, encrypted_value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET encrypted_value = excluded.encrypted_value, updated_at = CURRENT_TIMESTAMP`,
		name, enc)
	return err
}

// Get returns the decrypted secret, or "" when the name is unknown.
func (s *Store) Get(name string) (string, error) {
	var enc string
	err := s.db.QueryRow("SELECT encrypted_value FROM secrets WHERE name = ?", name).Scan(&enc)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return s.mgr.Decrypt(enc)
}

func (s *Store) Delete(name string) error {
	_, err := s.db.Exec("DELETE FROM secrets WHERE name = ?", name)
	return err
}

func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM secrets ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
