package models

import "time"

// ExecutionStatus agent 执行日志状态
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Step one orchestrator action. Count/DocID/Reason are intent specific.
type Step struct {
	Module string `json:"module"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Count  int    `json:"count,omitempty"`
	DocID  int64  `json:"doc_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ExecutionLog durable record of one agent run. Created pending before the
// run starts and finalized exactly once.
type ExecutionLog struct {
	ID           int64                  `json:"id" db:"id"`
	WorkspaceID  int64                  `json:"workspace_id" db:"workspace_id"`
	UserEmail    string                 `json:"user_email" db:"user_email"`
	Instruction  string                 `json:"instruction" db:"instruction"`
	Context      map[string]interface{} `json:"context,omitempty" db:"context"`
	Status       ExecutionStatus        `json:"status" db:"status"`
	Steps        []Step                 `json:"steps" db:"steps"`
	Outputs      map[string]interface{} `json:"outputs,omitempty" db:"outputs"`
	ErrorMessage string                 `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" db:"updated_at"`
}
