package workspace

import (
	"errors"
	"fmt"
	"strings"

	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/oauth"
	"workspace-agent-backend/pkg/rbac"
)

var (
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrMemberNotFound     = errors.New("member not found")
	ErrOwnerProtected     = errors.New("workspace owner cannot be removed")
	ErrUnsupportedService = errors.New("unsupported workspace service")
	ErrNotConnected       = errors.New("google workspace account is not connected")
	ErrInvalidInput       = errors.New("invalid input")
)

// SupportedServices 可模拟执行的 Google Workspace 服务
var SupportedServices = []string{"calendar", "tasks", "drive", "docs", "sheets", "slides", "meet"}

// Store 工作区与成员存储的窄接口
type Store interface {
	UpsertUser(email, displayName string) error
	CreateWorkspace(ws *models.Workspace) error
	GetWorkspace(id int64) (*models.Workspace, error)
	ListWorkspacesForUser(email string) ([]models.Workspace, error)
	UpsertMembership(m *models.Membership) error
	GetMembership(workspaceID int64, userEmail string) (*models.Membership, error)
	ListMembers(workspaceID int64) ([]models.Membership, error)
	UpdateMembershipRole(workspaceID int64, userEmail string, role models.Role) (*models.Membership, error)
	DeleteMembership(workspaceID int64, userEmail string) (bool, error)
}

// Service 工作区操作：创建、成员管理、权限查询、Workspace 模拟执行
type Service struct {
	store  Store
	auth   *rbac.Authorizer
	google *oauth.GoogleManager
}

func NewService(store Store, auth *rbac.Authorizer, google *oauth.GoogleManager) *Service {
	return &Service{store: store, auth: auth, google: google}
}

// Create 创建工作区，创建者自动成为 owner 成员
func (s *Service) Create(name, actorEmail string) (*models.Workspace, error) {
	name = strings.TrimSpace(name)
	actorEmail = strings.TrimSpace(actorEmail)
	if name == "" || actorEmail == "" {
		return nil, fmt.Errorf("%w: name and actor_email are required", ErrInvalidInput)
	}

	if err := s.store.UpsertUser(actorEmail, ""); err != nil {
		return nil, err
	}

	ws := &models.Workspace{Name: name, OwnerEmail: actorEmail}
	if err := s.store.CreateWorkspace(ws); err != nil {
		return nil, err
	}

	membership := &models.Membership{WorkspaceID: ws.ID, UserEmail: actorEmail, Role: models.RoleOwner}
	if err := s.store.UpsertMembership(membership); err != nil {
		return nil, err
	}
	return ws, nil
}

// Get 读取工作区（需要 workspace.read）
func (s *Service) Get(workspaceID int64, actorEmail string) (*models.Workspace, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, ErrWorkspaceNotFound
	}
	return ws, nil
}

// ListForUser 列出用户所属工作区
func (s *Service) ListForUser(email string) ([]models.Workspace, error) {
	return s.store.ListWorkspacesForUser(email)
}

// Members 列出成员（需要 workspace.read）
func (s *Service) Members(workspaceID int64, actorEmail string) ([]models.Membership, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, err
	}
	return s.store.ListMembers(workspaceID)
}

// AddMember 添加成员（需要 workspace.manage_members），角色写入前归一化
func (s *Service) AddMember(workspaceID int64, actorEmail, userEmail, role string) (*models.Membership, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.manage_members"); err != nil {
		return nil, err
	}
	normalized, err := rbac.NormalizeRole(role)
	if err != nil {
		return nil, err
	}
	userEmail = strings.TrimSpace(userEmail)
	if userEmail == "" {
		return nil, fmt.Errorf("%w: user_email is required", ErrInvalidInput)
	}

	if err := s.store.UpsertUser(userEmail, ""); err != nil {
		return nil, err
	}
	membership := &models.Membership{WorkspaceID: workspaceID, UserEmail: userEmail, Role: normalized}
	if err := s.store.UpsertMembership(membership); err != nil {
		return nil, err
	}
	return membership, nil
}

// UpdateMemberRole 修改成员角色（需要 workspace.manage_members）
func (s *Service) UpdateMemberRole(workspaceID int64, actorEmail, userEmail, role string) (*models.Membership, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.manage_members"); err != nil {
		return nil, err
	}
	normalized, err := rbac.NormalizeRole(role)
	if err != nil {
		return nil, err
	}
	membership, err := s.store.UpdateMembershipRole(workspaceID, userEmail, normalized)
	if err != nil {
		return nil, err
	}
	if membership == nil {
		return nil, ErrMemberNotFound
	}
	return membership, nil
}

// RemoveMember 移除成员（需要 workspace.manage_members），owner 受保护
func (s *Service) RemoveMember(workspaceID int64, actorEmail, userEmail string) error {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.manage_members"); err != nil {
		return err
	}
	ws, err := s.store.GetWorkspace(workspaceID)
	if err != nil {
		return err
	}
	if ws == nil {
		return ErrWorkspaceNotFound
	}
	if strings.EqualFold(ws.OwnerEmail, userEmail) {
		return ErrOwnerProtected
	}
	removed, err := s.store.DeleteMembership(workspaceID, userEmail)
	if err != nil {
		return err
	}
	if !removed {
		return ErrMemberNotFound
	}
	return nil
}

// PermissionsFor 返回成员角色与其全部权限名
func (s *Service) PermissionsFor(workspaceID int64, userEmail string) (map[string]interface{}, error) {
	role, ok, err := s.auth.RoleOf(workspaceID, userEmail)
	if err != nil {
		return nil, err
	}
	if !ok {
		return map[string]interface{}{
			"workspace_id": workspaceID,
			"user_email":   userEmail,
			"member":       false,
			"permissions":  []string{},
		}, nil
	}
	return map[string]interface{}{
		"workspace_id": workspaceID,
		"user_email":   userEmail,
		"member":       true,
		"role":         role,
		"permissions":  rbac.GrantedPermissions(role),
	}, nil
}

// Execute Google Workspace 模拟执行。要求 workspace.execute 权限且
// userEmail 已连接 Google 账号（必要时在此触发刷新）。
func (s *Service) Execute(workspaceID int64, actorEmail, userEmail, service, action string, payload map[string]interface{}) (map[string]interface{}, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.execute"); err != nil {
		return nil, err
	}
	if userEmail == "" {
		userEmail = actorEmail
	}

	status, err := s.google.EnsureValidAccessToken(userEmail)
	if err != nil {
		return nil, err
	}
	if !status.Connected {
		return nil, fmt.Errorf("%w: connect %s via /oauth/google/connect first", ErrNotConnected, userEmail)
	}

	normalizedService := strings.ToLower(strings.TrimSpace(service))
	supported := false
	for _, svc := range SupportedServices {
		if svc == normalizedService {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedService, service)
	}

	normalizedAction := strings.ToLower(strings.TrimSpace(action))
	result := map[string]interface{}{
		"workspace_id": workspaceID,
		"user_email":   userEmail,
		"service":      normalizedService,
		"action":       normalizedAction,
		"payload":      payload,
		"mode":         "simulated-mvp",
		"message":      fmt.Sprintf("%s.%s 실행 준비 완료", normalizedService, normalizedAction),
	}

	if normalizedService == "calendar" && normalizedAction == "create" {
		title := "새 일정"
		if t, ok := payload["title"].(string); ok && t != "" {
			title = t
		}
		result["created"] = map[string]interface{}{
			"event_id": "evt_demo_001",
			"title":    title,
			"start":    payload["start"],
			"end":      payload["end"],
		}
	}

	if normalizedService == "drive" && (normalizedAction == "search" || normalizedAction == "list") {
		result["items"] = []map[string]interface{}{
			{"id": "file_demo_001", "name": "R&D 주간보고 초안"},
			{"id": "file_demo_002", "name": "고객 미팅 노트"},
		}
	}

	return result, nil
}
