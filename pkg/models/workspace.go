package models

import "time"

// Role 工作区成员角色
type Role string

const (
	RoleViewer Role = "viewer"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Workspace 多租户工作区
type Workspace struct {
	ID         int64     `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	OwnerEmail string    `json:"owner_email" db:"owner_email"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Membership 工作区成员关系，(workspace_id, user_email) 唯一
type Membership struct {
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	UserEmail   string    `json:"user_email" db:"user_email"`
	Role        Role      `json:"role" db:"role"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// CreateWorkspaceRequest 创建工作区请求
type CreateWorkspaceRequest struct {
	Name       string `json:"name"`
	ActorEmail string `json:"actor_email"`
}

// AddMemberRequest 添加成员请求
type AddMemberRequest struct {
	ActorEmail string `json:"actor_email"`
	UserEmail  string `json:"user_email"`
	Role       string `json:"role"`
}

// UpdateMemberRoleRequest 修改成员角色请求
type UpdateMemberRoleRequest struct {
	ActorEmail string `json:"actor_email"`
	Role       string `json:"role"`
}

// ExecuteServiceRequest Google Workspace 模拟执行请求
type ExecuteServiceRequest struct {
	ActorEmail string                 `json:"actor_email"`
	UserEmail  string                 `json:"user_email"`
	Service    string                 `json:"service"`
	Action     string                 `json:"action"`
	Payload    map[string]interface{} `json:"payload"`
}
