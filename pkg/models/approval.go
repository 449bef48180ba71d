package models

import (
	"encoding/json"
	"time"
)

// ApprovalStatus 审批状态
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval request types. The payload is a tagged union keyed by RequestType.
const (
	RequestTypeAgentExecute = "agent_execute"
	RequestTypeInvoiceIssue = "invoice_issue"
)

// ApprovalRequest 人工审批请求
type ApprovalRequest struct {
	ID           int64           `json:"id" db:"id"`
	WorkspaceID  int64           `json:"workspace_id" db:"workspace_id"`
	RequestType  string          `json:"request_type" db:"request_type"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	Reason       string          `json:"reason,omitempty" db:"reason"`
	Status       ApprovalStatus  `json:"status" db:"status"`
	RequestedBy  string          `json:"requested_by" db:"requested_by"`
	RequestedAt  time.Time       `json:"requested_at" db:"requested_at"`
	DecidedBy    *string         `json:"decided_by,omitempty" db:"decided_by"`
	DecidedAt    *time.Time      `json:"decided_at,omitempty" db:"decided_at"`
	DecisionNote string          `json:"decision_note,omitempty" db:"decision_note"`
}

// AgentExecutePayload payload for request_type "agent_execute"
type AgentExecutePayload struct {
	Instruction string                 `json:"instruction"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

// InvoiceIssuePayload payload for request_type "invoice_issue"
type InvoiceIssuePayload struct {
	InvoiceID int64  `json:"invoice_id"`
	Approver  string `json:"approver"`
}
