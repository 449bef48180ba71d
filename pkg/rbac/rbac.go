package rbac

import (
	"errors"
	"fmt"
	"strings"

	"workspace-agent-backend/pkg/models"
)

var (
	ErrUnauthorized = errors.New("permission denied")
	ErrInvalidRole  = errors.New("invalid role")
)

// roleRank higher rank implies every permission of lower ranks
var roleRank = map[models.Role]int{
	models.RoleViewer: 1,
	models.RoleMember: 2,
	models.RoleAdmin:  3,
	models.RoleOwner:  4,
}

// permissionTable permission → minimum role. Unknown permissions deny.
var permissionTable = map[string]models.Role{
	"workspace.read":           models.RoleViewer,
	"workspace.manage_members": models.RoleAdmin,
	"workspace.execute":        models.RoleMember,
	"agent.execute":            models.RoleMember,
	"approval.decide":          models.RoleAdmin,
	"invoice.issue":            models.RoleAdmin,
	"invoice.create":           models.RoleMember,
	"docs.write":               models.RoleMember,
	"chat.write":               models.RoleMember,
	"github.link":              models.RoleAdmin,
}

// NormalizeRole 大小写不敏感地校验角色字符串
func NormalizeRole(role string) (models.Role, error) {
	normalized := models.Role(strings.ToLower(strings.TrimSpace(role)))
	if _, ok := roleRank[normalized]; !ok {
		return "", fmt.Errorf("%w: %s", ErrInvalidRole, role)
	}
	return normalized, nil
}

// HasPermission total function, fails closed on unknown role or permission
func HasPermission(role models.Role, permission string) bool {
	required, ok := permissionTable[permission]
	if !ok {
		return false
	}
	rank, ok := roleRank[role]
	if !ok {
		return false
	}
	return rank >= roleRank[required]
}

// GrantedPermissions 返回该角色拥有的全部权限名
func GrantedPermissions(role models.Role) []string {
	var granted []string
	for perm := range permissionTable {
		if HasPermission(role, perm) {
			granted = append(granted, perm)
		}
	}
	return granted
}

// MembershipReader 窄接口：查不到成员时返回 (nil, nil)
type MembershipReader interface {
	GetMembership(workspaceID int64, userEmail string) (*models.Membership, error)
}

// Authorizer 基于成员角色的权限判定
type Authorizer struct {
	store MembershipReader
}

func NewAuthorizer(store MembershipReader) *Authorizer {
	return &Authorizer{store: store}
}

// RoleOf returns the member's role; ok=false when not a member.
func (a *Authorizer) RoleOf(workspaceID int64, userEmail string) (models.Role, bool, error) {
	membership, err := a.store.GetMembership(workspaceID, userEmail)
	if err != nil {
		return "", false, err
	}
	if membership == nil {
		return "", false, nil
	}
	return membership.Role, true, nil
}

// RequirePermission returns the member's role when it grants the permission,
// ErrUnauthorized otherwise (non-members included).
func (a *Authorizer) RequirePermission(workspaceID int64, userEmail, permission string) (models.Role, error) {
	role, ok, err := a.RoleOf(workspaceID, userEmail)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s is not a member of workspace %d", ErrUnauthorized, userEmail, workspaceID)
	}
	if !HasPermission(role, permission) {
		return "", fmt.Errorf("%w: %s requires %s", ErrUnauthorized, permission, permissionTable[permission])
	}
	return role, nil
}
