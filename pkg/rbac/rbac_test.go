package rbac

import (
	"errors"
	"testing"

	"workspace-agent-backend/pkg/models"
)

type fakeMembershipStore struct {
	memberships map[string]models.Role
}

func (f *fakeMembershipStore) GetMembership(workspaceID int64, userEmail string) (*models.Membership, error) {
	role, ok := f.memberships[userEmail]
	if !ok {
		return nil, nil
	}
	return &models.Membership{WorkspaceID: workspaceID, UserEmail: userEmail, Role: role}, nil
}

func TestNormalizeRole(t *testing.T) {
	cases := []struct {
		in      string
		want    models.Role
		wantErr bool
	}{
		{"admin", models.RoleAdmin, false},
		{"ADMIN", models.RoleAdmin, false},
		{" Viewer ", models.RoleViewer, false},
		{"owner", models.RoleOwner, false},
		{"superuser", "", true},
		{"", "", true},
	}
	for _, c := range cases {
		got, err := NormalizeRole(c.in)
		if c.wantErr {
			if !errors.Is(err, ErrInvalidRole) {
				t.Errorf("NormalizeRole(%q) error = %v, want ErrInvalidRole", c.in, err)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Errorf("NormalizeRole(%q) = %v, %v, want %v", c.in, got, err, c.want)
		}
	}
}

// A higher-ranked role must hold every permission any lower-ranked role holds.
func TestPermissionMonotonicity(t *testing.T) {
	ordered := []models.Role{models.RoleViewer, models.RoleMember, models.RoleAdmin, models.RoleOwner}
	for perm := range permissionTable {
		for i := 0; i < len(ordered)-1; i++ {
			lower, higher := ordered[i], ordered[i+1]
			if HasPermission(lower, perm) && !HasPermission(higher, perm) {
				t.Errorf("permission %s granted to %s but not to %s", perm, lower, higher)
			}
		}
	}
}

func TestHasPermissionFailsClosed(t *testing.T) {
	if HasPermission(models.RoleOwner, "workspace.launch_missiles") {
		t.Error("unknown permission should deny even for owner")
	}
	if HasPermission(models.Role("intern"), "workspace.read") {
		t.Error("unknown role should deny")
	}
}

func TestHasPermissionTable(t *testing.T) {
	cases := []struct {
		role models.Role
		perm string
		want bool
	}{
		{models.RoleViewer, "workspace.read", true},
		{models.RoleViewer, "agent.execute", false},
		{models.RoleMember, "agent.execute", true},
		{models.RoleMember, "approval.decide", false},
		{models.RoleMember, "invoice.create", true},
		{models.RoleMember, "invoice.issue", false},
		{models.RoleAdmin, "approval.decide", true},
		{models.RoleAdmin, "github.link", true},
		{models.RoleOwner, "workspace.manage_members", true},
	}
	for _, c := range cases {
		if got := HasPermission(c.role, c.perm); got != c.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", c.role, c.perm, got, c.want)
		}
	}
}

func TestRequirePermission(t *testing.T) {
	store := &fakeMembershipStore{memberships: map[string]models.Role{
		"viewer@acme.io": models.RoleViewer,
		"member@acme.io": models.RoleMember,
		"admin@acme.io":  models.RoleAdmin,
	}}
	auth := NewAuthorizer(store)

	if _, err := auth.RequirePermission(1, "member@acme.io", "agent.execute"); err != nil {
		t.Errorf("member should execute agent: %v", err)
	}
	if _, err := auth.RequirePermission(1, "viewer@acme.io", "agent.execute"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("viewer executing agent: got %v, want ErrUnauthorized", err)
	}
	if _, err := auth.RequirePermission(1, "ghost@acme.io", "workspace.read"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-member: got %v, want ErrUnauthorized", err)
	}
	if _, ok, _ := auth.RoleOf(1, "ghost@acme.io"); ok {
		t.Error("RoleOf for non-member should report ok=false")
	}
}
