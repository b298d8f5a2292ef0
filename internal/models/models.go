package models

import (
	"fmt"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConnectionSettings configures the upstream gateway connection. AuthToken is
// stored encrypted and only populated in memory after decryption.
type ConnectionSettings struct {
	Host               string `json:"host"`
	Port               int    `json:"port"`
	AuthToken          string `json:"-"`
	UseTLS             bool   `json:"useTls"`
	MaxConcurrentTasks int    `json:"maxConcurrentTasks"`
}

// URL builds the gateway WebSocket endpoint from the settings.
func (s *ConnectionSettings) URL() string {
	scheme := "ws"
	if s.UseTLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d/ws/gateway", scheme, s.Host, s.Port)
}

// Thread statuses. A thread id doubles as the gateway session key prefix.
const (
	ThreadIdle        = "idle"
	ThreadWorking     = "working"
	ThreadStopping    = "stopping"
	ThreadWorkingDone = "working-done"
)

type Thread struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Status           string    `json:"status"`
	Archived         bool      `json:"archived"`
	ParentThreadID   string    `json:"parent_thread_id,omitempty"`
	ForkMessageIndex *int      `json:"fork_message_index,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type PipelineTemplate struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stages    []string  `json:"stages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
