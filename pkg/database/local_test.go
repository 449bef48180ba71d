package database

import (
	"sync"
	"testing"
	"time"

	"workspace-agent-backend/pkg/models"
)

func TestDecideApprovalOnlyOnce(t *testing.T) {
	db := NewLocalDatabase()
	req := &models.ApprovalRequest{WorkspaceID: 1, RequestType: models.RequestTypeAgentExecute, RequestedBy: "member@acme.io"}
	if err := db.CreateApproval(req); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	ok, err := db.DecideApproval(req.ID, models.ApprovalApproved, "admin@acme.io", "ok", time.Now())
	if err != nil || !ok {
		t.Fatalf("first decide: ok=%v err=%v", ok, err)
	}
	ok, err = db.DecideApproval(req.ID, models.ApprovalRejected, "admin2@acme.io", "no", time.Now())
	if err != nil {
		t.Fatalf("second decide: %v", err)
	}
	if ok {
		t.Error("second decide should not hit")
	}

	stored, _ := db.GetApproval(req.ID)
	if stored.Status != models.ApprovalApproved {
		t.Errorf("status = %s, want approved", stored.Status)
	}
	if stored.DecidedBy == nil || *stored.DecidedBy != "admin@acme.io" {
		t.Errorf("decided_by = %v, want admin@acme.io", stored.DecidedBy)
	}
}

func TestDecideApprovalConcurrent(t *testing.T) {
	db := NewLocalDatabase()
	req := &models.ApprovalRequest{WorkspaceID: 1, RequestType: models.RequestTypeAgentExecute, RequestedBy: "member@acme.io"}
	if err := db.CreateApproval(req); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	const racers = 16
	var wg sync.WaitGroup
	hits := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.ApprovalApproved
			if i%2 == 1 {
				status = models.ApprovalRejected
			}
			ok, _ := db.DecideApproval(req.ID, status, "racer", "", time.Now())
			hits <- ok
		}(i)
	}
	wg.Wait()
	close(hits)

	won := 0
	for ok := range hits {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("exactly one decision should win, got %d", won)
	}
}

func TestIssueInvoiceOnlyOnce(t *testing.T) {
	db := NewLocalDatabase()
	inv := &models.Invoice{WorkspaceID: 1, Customer: "ACME", SupplyAmount: 1000, TaxAmount: 100, TotalAmount: 1100, CreatedBy: "member@acme.io"}
	if err := db.CreateInvoice(inv); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}

	ok, err := db.IssueInvoice(1, inv.ID, map[string]interface{}{"issued_by": "admin@acme.io"})
	if err != nil || !ok {
		t.Fatalf("first issue: ok=%v err=%v", ok, err)
	}
	ok, _ = db.IssueInvoice(1, inv.ID, map[string]interface{}{"issued_by": "other@acme.io"})
	if ok {
		t.Error("second issue should not hit")
	}

	stored, _ := db.GetInvoice(1, inv.ID)
	if stored.Status != models.InvoiceIssued {
		t.Errorf("status = %s, want issued", stored.Status)
	}
	if stored.Metadata["issued_by"] != "admin@acme.io" {
		t.Errorf("metadata issued_by = %v", stored.Metadata["issued_by"])
	}
}

func TestIssueInvoiceWrongWorkspace(t *testing.T) {
	db := NewLocalDatabase()
	inv := &models.Invoice{WorkspaceID: 1, Customer: "ACME", CreatedBy: "member@acme.io"}
	if err := db.CreateInvoice(inv); err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if ok, _ := db.IssueInvoice(2, inv.ID, nil); ok {
		t.Error("issuing through another workspace should not hit")
	}
}

func TestUpsertOAuthCredentialStickyRefreshToken(t *testing.T) {
	db := NewLocalDatabase()
	cred := &models.OAuthCredential{
		Provider: "google", UserEmail: "alice@acme.io",
		AccessToken: "at-1", RefreshToken: "rt-1", TokenType: "Bearer",
	}
	if err := db.UpsertOAuthCredential(cred); err != nil {
		t.Fatalf("UpsertOAuthCredential: %v", err)
	}

	// second exchange without a refresh token must keep the first one
	again := &models.OAuthCredential{
		Provider: "google", UserEmail: "alice@acme.io",
		AccessToken: "at-2", RefreshToken: "", TokenType: "Bearer",
	}
	if err := db.UpsertOAuthCredential(again); err != nil {
		t.Fatalf("UpsertOAuthCredential: %v", err)
	}

	stored, _ := db.GetOAuthCredential("google", "alice@acme.io")
	if stored.AccessToken != "at-2" {
		t.Errorf("access_token = %s, want at-2", stored.AccessToken)
	}
	if stored.RefreshToken != "rt-1" {
		t.Errorf("refresh_token = %s, want rt-1 (sticky)", stored.RefreshToken)
	}
}

func TestUpdateOAuthAccessTokenKeepsRefreshToken(t *testing.T) {
	db := NewLocalDatabase()
	cred := &models.OAuthCredential{Provider: "google", UserEmail: "alice@acme.io", AccessToken: "at-1", RefreshToken: "rt-1", Scope: "openid email"}
	if err := db.UpsertOAuthCredential(cred); err != nil {
		t.Fatalf("UpsertOAuthCredential: %v", err)
	}
	if err := db.UpdateOAuthAccessToken("google", "alice@acme.io", "at-2", "Bearer", "openid email profile", time.Now().Add(time.Hour).Format(time.RFC3339)); err != nil {
		t.Fatalf("UpdateOAuthAccessToken: %v", err)
	}
	stored, _ := db.GetOAuthCredential("google", "alice@acme.io")
	if stored.RefreshToken != "rt-1" {
		t.Errorf("refresh_token = %s, want rt-1", stored.RefreshToken)
	}
	if stored.AccessToken != "at-2" {
		t.Errorf("access_token = %s, want at-2", stored.AccessToken)
	}
	// scope整体覆盖，不保留旧授权
	if stored.Scope != "openid email profile" {
		t.Errorf("scope = %s, want openid email profile", stored.Scope)
	}
}

func TestMembershipLifecycle(t *testing.T) {
	db := NewLocalDatabase()
	ws := &models.Workspace{Name: "Acme", OwnerEmail: "owner@acme.io"}
	if err := db.CreateWorkspace(ws); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	if err := db.UpsertMembership(&models.Membership{WorkspaceID: ws.ID, UserEmail: "owner@acme.io", Role: models.RoleOwner}); err != nil {
		t.Fatalf("UpsertMembership: %v", err)
	}

	// re-adding the same member updates role instead of duplicating
	if err := db.UpsertMembership(&models.Membership{WorkspaceID: ws.ID, UserEmail: "owner@acme.io", Role: models.RoleAdmin}); err != nil {
		t.Fatalf("UpsertMembership: %v", err)
	}
	members, _ := db.ListMembers(ws.ID)
	if len(members) != 1 {
		t.Fatalf("len(members) = %d, want 1", len(members))
	}
	if members[0].Role != models.RoleAdmin {
		t.Errorf("role = %s, want admin", members[0].Role)
	}

	deleted, _ := db.DeleteMembership(ws.ID, "owner@acme.io")
	if !deleted {
		t.Error("delete should report true")
	}
	m, _ := db.GetMembership(ws.ID, "owner@acme.io")
	if m != nil {
		t.Error("membership should be gone")
	}
}

func TestExecutionLogLifecycle(t *testing.T) {
	db := NewLocalDatabase()
	log := &models.ExecutionLog{WorkspaceID: 1, UserEmail: "member@acme.io", Instruction: "weekly report"}
	if err := db.CreateExecutionLog(log); err != nil {
		t.Fatalf("CreateExecutionLog: %v", err)
	}
	if log.Status != models.ExecutionPending {
		t.Errorf("status = %s, want pending", log.Status)
	}

	steps := []models.Step{{Module: "reporting", Action: "weekly_report", OK: true}}
	outputs := map[string]interface{}{"weekly_report": map[string]interface{}{"id": 1}}
	if err := db.CompleteExecutionLog(log.ID, steps, outputs); err != nil {
		t.Fatalf("CompleteExecutionLog: %v", err)
	}

	stored, _ := db.GetExecutionLog(log.ID)
	if stored.Status != models.ExecutionCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
	if len(stored.Steps) != 1 || stored.Steps[0].Module != "reporting" {
		t.Errorf("steps = %+v", stored.Steps)
	}
}
