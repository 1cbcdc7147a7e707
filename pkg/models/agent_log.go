package models

import "time"

// WorkerStatus is the terminal/non-terminal state of a single agent invocation.
type WorkerStatus string

const (
	WorkerStatusRunning   WorkerStatus = "running"
	WorkerStatusCompleted WorkerStatus = "completed"
	WorkerStatusFailed    WorkerStatus = "failed"
)

// AgentLog records one worker spawn through its terminal transition. Rows are
// the event stream observers subscribe to (spec §4.2 "Progress recording").
type AgentLog struct {
	ID          string          `db:"id" json:"id"`
	SessionID   string          `db:"session_id" json:"session_id"`
	AgentName   string          `db:"agent_name" json:"agent_name"`
	Phase       Phase           `db:"phase" json:"phase"`
	Status      WorkerStatus    `db:"status" json:"status"`
	OutputData  []byte          `db:"output_data" json:"output_data,omitempty"`
	ErrorMsg    string          `db:"error_message" json:"error_message,omitempty"`
	TokensUsed  int64           `db:"tokens_used" json:"tokens_used"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	CompletedAt *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether this log has received its one terminal transition.
func (a *AgentLog) IsTerminal() bool {
	return a.Status == WorkerStatusCompleted || a.Status == WorkerStatusFailed
}
