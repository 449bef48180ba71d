package report

import (
	"strings"
	"testing"
	"time"

	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
)

func setup(t *testing.T) (*Service, *database.LocalDatabase, int64) {
	t.Helper()
	db := database.NewLocalDatabase()
	ws := &models.Workspace{Name: "Acme", OwnerEmail: "owner@acme.io"}
	db.CreateWorkspace(ws)
	db.UpsertMembership(&models.Membership{WorkspaceID: ws.ID, UserEmail: "member@acme.io", Role: models.RoleMember})
	return NewService(db, rbac.NewAuthorizer(db)), db, ws.ID
}

func TestGenerateWeeklyReport(t *testing.T) {
	svc, db, wsID := setup(t)

	db.SaveGithubEvent(&models.GithubEvent{WorkspaceID: wsID, EventType: "push", Repo: "acme/widgets", Actor: "alice"})
	db.SaveGithubEvent(&models.GithubEvent{WorkspaceID: wsID, EventType: "push", Repo: "acme/widgets", Actor: "bob"})
	db.SaveGithubEvent(&models.GithubEvent{WorkspaceID: wsID, EventType: "pull_request", Repo: "acme/api", Actor: "alice"})

	end := time.Now()
	start := end.AddDate(0, 0, -6)
	rep, err := svc.Generate(wsID, "member@acme.io", models.ReportWeekly, start, end)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if rep.ReportType != models.ReportWeekly {
		t.Errorf("report_type = %s", rep.ReportType)
	}
	for _, want := range []string{"## 기간", "## 수집 이벤트 수\n3", "## 이벤트 타입 요약", "- push: 2", "- pull_request: 1", "## 저장소 활동 요약", "- acme/widgets: 2", "## 주요 이벤트"} {
		if !strings.Contains(rep.Content, want) {
			t.Errorf("content missing %q", want)
		}
	}

	// archived as a doc in the reports space
	docs, _ := db.ListDocs(wsID, "reports", 0)
	if len(docs) != 1 {
		t.Fatalf("len(docs) = %d, want 1", len(docs))
	}
	if docs[0].Content != rep.Content {
		t.Error("archived doc content differs from report")
	}
}

func TestGenerateEmptyPeriod(t *testing.T) {
	svc, _, wsID := setup(t)
	today := time.Now()
	rep, err := svc.Generate(wsID, "member@acme.io", models.ReportDaily, today, today)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(rep.Content, "수집된 GitHub 이벤트가 없습니다") {
		t.Errorf("empty period marker missing:\n%s", rep.Content)
	}
}

func TestGenerateRequiresMembership(t *testing.T) {
	svc, _, wsID := setup(t)
	if _, err := svc.Generate(wsID, "stranger@acme.io", models.ReportDaily, time.Now(), time.Now()); err == nil {
		t.Error("non-member should be rejected")
	}
}
