package models

import "time"

// GithubEvent webhook 事件（按工作区归档）
type GithubEvent struct {
	ID          int64                  `json:"id" db:"id"`
	WorkspaceID int64                  `json:"workspace_id" db:"workspace_id"`
	EventType   string                 `json:"event_type" db:"event_type"`
	Repo        string                 `json:"repo,omitempty" db:"repo"`
	Actor       string                 `json:"actor,omitempty" db:"actor"`
	Payload     map[string]interface{} `json:"payload,omitempty" db:"payload"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}

// GithubInstallation GitHub App 安装记录
type GithubInstallation struct {
	ID             int64     `json:"id" db:"id"`
	WorkspaceID    int64     `json:"workspace_id" db:"workspace_id"`
	InstallationID int64     `json:"installation_id" db:"installation_id"`
	AccountLogin   string    `json:"account_login" db:"account_login"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// GithubRepo 与工作区关联的仓库
type GithubRepo struct {
	ID          int64     `json:"id" db:"id"`
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	FullName    string    `json:"full_name" db:"full_name"`
	Description string    `json:"description,omitempty" db:"description"`
	Private     bool      `json:"private" db:"private"`
	LinkedBy    string    `json:"linked_by" db:"linked_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
