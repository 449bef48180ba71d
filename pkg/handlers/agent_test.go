package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/billing"
	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/oauth"
	"workspace-agent-backend/pkg/orchestrator"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/report"
	"workspace-agent-backend/pkg/security"
	"workspace-agent-backend/pkg/workspace"

	chiRoute "github.com/go-chi/chi/v5"
)

type testEnv struct {
	router *chiRoute.Mux
	db     *database.LocalDatabase
	gate   *approval.Gate
	wsID   int64
}

// newTestEnv 在内存数据库上装配完整服务链，路由与生产环境一致。
// admin@acme.io 为owner，bob@acme.io 为member。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := database.NewLocalDatabase()
	cfg := &config.Config{AppSecret: "test-secret", StateTTL: 15 * time.Minute, AllowMockAuth: true}
	signer := security.NewTokenSigner(cfg.AppSecret)
	auth := rbac.NewAuthorizer(db)
	google := oauth.NewGoogleManager(cfg, db, signer)
	wsSvc := workspace.NewService(db, auth, google)
	gate := approval.NewGate(db)
	reportSvc := report.NewService(db, auth)
	billingSvc := billing.NewService(db)
	engine := orchestrator.NewEngine(auth, reportSvc, db, wsSvc, db, billingSvc)

	agentHandler := NewAgentHandler(engine, gate, auth, db)
	approvalsHandler := NewApprovalsHandler(gate, auth)
	billingHandler := NewBillingHandler(billingSvc, gate, auth)

	router := chiRoute.NewRouter()
	router.Route("/api/workspaces/{workspaceID}", func(r chiRoute.Router) {
		r.Post("/agent/execute", agentHandler.Execute)
		r.Post("/agent/execute/stream", agentHandler.Stream)
		r.Get("/agent/logs", agentHandler.Logs)
		r.Route("/billing/invoices", func(r chiRoute.Router) {
			r.Post("/", billingHandler.Create)
			r.Post("/{invoiceID}/issue", billingHandler.Issue)
			r.Get("/{invoiceID}", billingHandler.Get)
		})
	})
	router.Post("/api/approvals/{approvalID}/decide", approvalsHandler.Decide)

	ws, err := wsSvc.Create("Acme", "admin@acme.io")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if _, err := wsSvc.AddMember(ws.ID, "admin@acme.io", "bob@acme.io", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := wsSvc.AddMember(ws.ID, "admin@acme.io", "eve@acme.io", "viewer"); err != nil {
		t.Fatalf("add viewer: %v", err)
	}

	return &testEnv{router: router, db: db, gate: gate, wsID: ws.ID}
}

func (e *testEnv) postJSON(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return envelope.Data
}

func TestAgentExecuteRequiresApprovalFirst(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/workspaces/1/agent/execute"

	rec := env.postJSON(t, path, map[string]interface{}{
		"actor_email": "bob@acme.io",
		"instruction": "이번 주 상황 분석해줘",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)

	outputs := data["outputs"].(map[string]interface{})
	if outputs["approval_required"] != true {
		t.Errorf("approval_required = %v", outputs["approval_required"])
	}
	steps := data["steps"].([]interface{})
	if len(steps) != 0 {
		t.Errorf("steps should be empty before approval, got %d", len(steps))
	}
	if _, ok := outputs["approval_request"]; !ok {
		t.Error("approval_request missing from outputs")
	}
}

func TestAgentExecuteFullApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	path := "/api/workspaces/1/agent/execute"
	instruction := "이번 주 상황 분석해줘"

	// 1. 请求执行 → 创建审批
	rec := env.postJSON(t, path, map[string]interface{}{
		"actor_email": "bob@acme.io",
		"instruction": instruction,
	})
	data := decodeData(t, rec)
	approvalReq := data["outputs"].(map[string]interface{})["approval_request"].(map[string]interface{})
	approvalID := int64(approvalReq["id"].(float64))

	// 2. 未批准就重发 → 400
	rec = env.postJSON(t, path, map[string]interface{}{
		"actor_email":         "bob@acme.io",
		"instruction":         instruction,
		"approval_request_id": approvalID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("pending resubmit status = %d", rec.Code)
	}

	// 3. 管理员批准
	rec = env.postJSON(t, fmt.Sprintf("/api/approvals/%d/decide", approvalID), map[string]interface{}{
		"actor_email": "admin@acme.io",
		"outcome":     "approved",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// 4. 改过的指令重发 → 400
	rec = env.postJSON(t, path, map[string]interface{}{
		"actor_email":         "bob@acme.io",
		"instruction":         instruction + " 그리고 문서도",
		"approval_request_id": approvalID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("tampered instruction status = %d", rec.Code)
	}

	// 5. 原指令重发 → 真正执行
	rec = env.postJSON(t, path, map[string]interface{}{
		"actor_email":         "bob@acme.io",
		"instruction":         instruction,
		"approval_request_id": approvalID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("approved execute status = %d, body = %s", rec.Code, rec.Body.String())
	}
	data = decodeData(t, rec)
	if data["execution_log_id"].(float64) <= 0 {
		t.Error("execution_log_id missing")
	}
	steps := data["steps"].([]interface{})
	if len(steps) != 1 {
		t.Fatalf("steps = %v", steps)
	}
	step := steps[0].(map[string]interface{})
	if step["module"] != "orchestrator" || step["action"] != "analyze_only" {
		t.Errorf("step = %v", step)
	}

	// 执行日志已落库并完成
	logs, _ := env.db.ListExecutionLogs(env.wsID, 10)
	if len(logs) != 1 || logs[0].Status != models.ExecutionCompleted {
		t.Errorf("logs = %+v", logs)
	}
}

func TestAgentExecuteViewerForbidden(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/workspaces/1/agent/execute", map[string]interface{}{
		"actor_email": "eve@acme.io",
		"instruction": "주간 보고서 만들어줘",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer execute status = %d", rec.Code)
	}
}

func TestAgentStreamEventOrder(t *testing.T) {
	env := newTestEnv(t)
	instruction := "주간 보고서 만들어줘"

	// 直接通过gate准备一个已批准的请求
	payload := models.AgentExecutePayload{Instruction: instruction}
	created, err := env.gate.CreateRequest(env.wsID, models.RequestTypeAgentExecute, payload, "bob@acme.io", "")
	if err != nil {
		t.Fatalf("create approval: %v", err)
	}
	if _, err := env.gate.Decide(created.ID, models.ApprovalApproved, "admin@acme.io", ""); err != nil {
		t.Fatalf("decide: %v", err)
	}

	rec := env.postJSON(t, "/api/workspaces/1/agent/execute/stream", map[string]interface{}{
		"actor_email":         "bob@acme.io",
		"instruction":         instruction,
		"approval_request_id": created.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %s", ct)
	}

	body := rec.Body.String()
	order := []string{"event: log", "event: start", "event: step", "event: final"}
	pos := -1
	for _, marker := range order {
		next := strings.Index(body, marker)
		if next == -1 {
			t.Fatalf("missing %q in stream:\n%s", marker, body)
		}
		if next < pos {
			t.Errorf("%q out of order", marker)
		}
		pos = next
	}

	// start 带操作者，final 带完整结果（summary + steps + outputs）
	if !strings.Contains(body, `"actor_email":"bob@acme.io"`) {
		t.Errorf("start event missing actor_email:\n%s", body)
	}
	finalData := body[strings.Index(body, "event: final"):]
	for _, key := range []string{`"summary"`, `"steps"`, `"outputs"`} {
		if !strings.Contains(finalData, key) {
			t.Errorf("final event missing %s:\n%s", key, finalData)
		}
	}

	// 断开与否都要完成日志
	logs, _ := env.db.ListExecutionLogs(env.wsID, 10)
	if len(logs) != 1 || logs[0].Status != models.ExecutionCompleted {
		t.Errorf("logs = %+v", logs)
	}
}
