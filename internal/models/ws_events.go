package models

// WebSocket payload types for the most common bridge broadcasts. These
// replace map[string]interface{} for type safety in high-frequency calls.

// WSPipelineUpdate is the payload for "pipeline-update" broadcasts.
type WSPipelineUpdate struct {
	ThreadID string  `json:"thread_id"`
	Stage    string  `json:"stage"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
}

// WSThreadStatus is the payload for "thread-status" broadcasts.
type WSThreadStatus struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}
