package database

import (
	"fmt"
	"time"

	"workspace-agent-backend/pkg/models"
)

// DatabaseInterface 数据库接口，支持内存和 PostgreSQL 两种实现。
// 单条查询（GetXxx）查不到时返回 (nil, nil)，由上层决定如何报错。
type DatabaseInterface interface {
	// 用户
	UpsertUser(email, displayName string) error
	GetUser(email string) (*models.User, error)

	// 工作区与成员
	CreateWorkspace(ws *models.Workspace) error
	GetWorkspace(id int64) (*models.Workspace, error)
	ListWorkspacesForUser(email string) ([]models.Workspace, error)
	UpsertMembership(m *models.Membership) error
	GetMembership(workspaceID int64, userEmail string) (*models.Membership, error)
	ListMembers(workspaceID int64) ([]models.Membership, error)
	UpdateMembershipRole(workspaceID int64, userEmail string, role models.Role) (*models.Membership, error)
	DeleteMembership(workspaceID int64, userEmail string) (bool, error)

	// 审批
	CreateApproval(req *models.ApprovalRequest) error
	GetApproval(id int64) (*models.ApprovalRequest, error)
	ListApprovals(workspaceID int64, status string, limit int) ([]models.ApprovalRequest, error)
	// DecideApproval 仅当状态仍为 pending 时生效，返回是否命中
	DecideApproval(id int64, status models.ApprovalStatus, decidedBy, note string, decidedAt time.Time) (bool, error)

	// OAuth 凭证
	// UpsertOAuthCredential 空 refresh_token 不覆盖已存值
	UpsertOAuthCredential(cred *models.OAuthCredential) error
	GetOAuthCredential(provider, userEmail string) (*models.OAuthCredential, error)
	// UpdateOAuthAccessToken 刷新时只覆盖 access_token/token_type/scope/expires_at
	UpdateOAuthAccessToken(provider, userEmail, accessToken, tokenType, scope, expiresAt string) error
	DeleteOAuthCredential(provider, userEmail string) (bool, error)

	// 执行日志
	CreateExecutionLog(log *models.ExecutionLog) error
	CompleteExecutionLog(id int64, steps []models.Step, outputs map[string]interface{}) error
	FailExecutionLog(id int64, errorMessage string) error
	GetExecutionLog(id int64) (*models.ExecutionLog, error)
	ListExecutionLogs(workspaceID int64, limit int) ([]models.ExecutionLog, error)

	// GitHub
	SaveGithubEvent(ev *models.GithubEvent) error
	ListGithubEvents(workspaceID int64, limit int) ([]models.GithubEvent, error)
	GithubEventsBetween(workspaceID int64, start, end time.Time) ([]models.GithubEvent, error)
	UpsertGithubInstallation(inst *models.GithubInstallation) error
	ListGithubInstallations(workspaceID int64) ([]models.GithubInstallation, error)
	// ResolveWorkspaceFromInstallation 未知 installation 返回 0
	ResolveWorkspaceFromInstallation(installationID int64) (int64, error)
	CreateGithubRepo(repo *models.GithubRepo) error
	ListGithubRepos(workspaceID int64) ([]models.GithubRepo, error)

	// 发票
	CreateInvoice(inv *models.Invoice) error
	GetInvoice(workspaceID, invoiceID int64) (*models.Invoice, error)
	ListInvoices(workspaceID int64, limit int) ([]models.Invoice, error)
	// IssueInvoice 仅当状态仍为 draft 时生效，返回是否命中
	IssueInvoice(workspaceID, invoiceID int64, metadata map[string]interface{}) (bool, error)

	// 报告
	CreateReport(rep *models.Report) error
	ListReports(workspaceID int64, reportType string, limit int) ([]models.Report, error)

	// 文档
	CreateDoc(doc *models.Doc) error
	GetDoc(id int64) (*models.Doc, error)
	ListDocs(workspaceID int64, space string, limit int) ([]models.Doc, error)
	UpdateDoc(doc *models.Doc) error
	DeleteDoc(id int64) (bool, error)
	SearchDocs(workspaceID int64, query string, limit int) ([]models.Doc, error)

	// 聊天
	CreateChannel(ch *models.ChatChannel) error
	GetChannel(id int64) (*models.ChatChannel, error)
	ListChannels(workspaceID int64) ([]models.ChatChannel, error)
	PostMessage(msg *models.ChatMessage) error
	ListMessages(channelID int64, limit int) ([]models.ChatMessage, error)

	// 通用
	HealthCheck() error
	Close() error
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	UseLocal    bool
	PostgresDSN string
}

// NewDatabase 根据配置创建数据库实例
func NewDatabase(config DatabaseConfig) (DatabaseInterface, error) {
	if config.UseLocal || config.PostgresDSN == "" {
		fmt.Println("📦 Using in-memory database")
		return NewLocalDatabase(), nil
	}

	fmt.Println("🐘 Using PostgreSQL database")
	db, err := NewPostgresDatabase(config.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return db, nil
}
