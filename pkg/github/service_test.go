package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/security"
)

func newService(webhookSecret string) (*Service, *database.LocalDatabase) {
	cfg := &config.Config{
		AppSecret:           "test-secret",
		StateTTL:            15 * time.Minute,
		GitHubWebhookSecret: webhookSecret,
		GitHubAPIBaseURL:    "https://api.github.com",
	}
	db := database.NewLocalDatabase()
	auth := rbac.NewAuthorizer(db)
	return NewService(cfg, db, auth, security.NewTokenSigner(cfg.AppSecret)), db
}

func seedAdmin(db *database.LocalDatabase) int64 {
	ws := &models.Workspace{Name: "Acme", OwnerEmail: "admin@acme.io"}
	db.CreateWorkspace(ws)
	db.UpsertMembership(&models.Membership{WorkspaceID: ws.ID, UserEmail: "admin@acme.io", Role: models.RoleAdmin})
	db.UpsertMembership(&models.Membership{WorkspaceID: ws.ID, UserEmail: "member@acme.io", Role: models.RoleMember})
	return ws.ID
}

func TestInstallURLRequiresLinkPermission(t *testing.T) {
	svc, db := newService("")
	wsID := seedAdmin(db)

	if _, err := svc.InstallURL(wsID, "member@acme.io"); !errors.Is(err, rbac.ErrUnauthorized) {
		t.Errorf("member: got %v, want ErrUnauthorized", err)
	}
	result, err := svc.InstallURL(wsID, "admin@acme.io")
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if result["state"] == "" {
		t.Error("state missing")
	}
}

func TestCallbackRegistersInstallation(t *testing.T) {
	svc, db := newService("")
	wsID := seedAdmin(db)

	result, _ := svc.InstallURL(wsID, "admin@acme.io")
	state := result["state"].(string)

	inst, err := svc.Callback(state, 777, "acme-org")
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if inst.WorkspaceID != wsID || inst.InstallationID != 777 {
		t.Errorf("installation = %+v", inst)
	}

	resolved, _ := db.ResolveWorkspaceFromInstallation(777)
	if resolved != wsID {
		t.Errorf("resolved workspace = %d, want %d", resolved, wsID)
	}
}

func TestCallbackRejectsGoogleState(t *testing.T) {
	svc, db := newService("")
	seedAdmin(db)

	state, _ := security.NewTokenSigner("test-secret").Sign(map[string]interface{}{
		"provider": "google", "workspace_id": 1, "actor_email": "admin@acme.io",
	}, time.Minute)
	if _, err := svc.Callback(state, 777, "acme-org"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestVerifySignature(t *testing.T) {
	svc, _ := newService("hook-secret")
	body := []byte(`{"action":"push"}`)

	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !svc.VerifySignature(body, good) {
		t.Error("valid signature rejected")
	}
	if svc.VerifySignature(body, "sha256=deadbeef") {
		t.Error("bad signature accepted")
	}
	if svc.VerifySignature(body, "") {
		t.Error("missing signature accepted")
	}

	// empty secret skips verification
	open, _ := newService("")
	if !open.VerifySignature(body, "") {
		t.Error("verification should be skipped without a secret")
	}
}

func TestIngestEventResolvesWorkspace(t *testing.T) {
	svc, db := newService("")
	wsID := seedAdmin(db)
	db.UpsertGithubInstallation(&models.GithubInstallation{WorkspaceID: wsID, InstallationID: 777, AccountLogin: "acme-org"})

	payload := map[string]interface{}{
		"installation": map[string]interface{}{"id": float64(777)},
		"repository":   map[string]interface{}{"full_name": "acme/widgets"},
		"sender":       map[string]interface{}{"login": "alice"},
	}
	ev, err := svc.IngestEvent("push", payload)
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if ev.WorkspaceID != wsID || ev.Repo != "acme/widgets" || ev.Actor != "alice" {
		t.Errorf("event = %+v", ev)
	}

	events, _ := db.ListGithubEvents(wsID, 20)
	if len(events) != 1 {
		t.Errorf("len(events) = %d, want 1", len(events))
	}
}

func TestIngestEventUnknownInstallationIgnored(t *testing.T) {
	svc, _ := newService("")
	ev, err := svc.IngestEvent("push", map[string]interface{}{
		"installation": map[string]interface{}{"id": float64(999)},
	})
	if err != nil {
		t.Fatalf("IngestEvent: %v", err)
	}
	if ev != nil {
		t.Errorf("unknown installation should be ignored, got %+v", ev)
	}
}
