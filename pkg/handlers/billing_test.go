package handlers

import (
	"fmt"
	"net/http"
	"testing"
)

func TestInvoiceCreateComputesTax(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/workspaces/1/billing/invoices", map[string]interface{}{
		"actor_email":   "bob@acme.io",
		"customer":      "주식회사 고객",
		"business_no":   "123-45-67890",
		"supply_amount": 1000.0,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	invoice := decodeData(t, rec)["invoice"].(map[string]interface{})
	if invoice["tax_amount"].(float64) != 100 {
		t.Errorf("tax = %v, want 100", invoice["tax_amount"])
	}
	if invoice["total_amount"].(float64) != 1100 {
		t.Errorf("total = %v, want 1100", invoice["total_amount"])
	}
	if invoice["status"] != "draft" {
		t.Errorf("status = %v", invoice["status"])
	}
}

func TestInvoiceIssueViewerCannotCreate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.postJSON(t, "/api/workspaces/1/billing/invoices", map[string]interface{}{
		"actor_email":   "eve@acme.io",
		"customer":      "고객",
		"supply_amount": 500.0,
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer create status = %d", rec.Code)
	}
}

func TestInvoiceIssueApprovalFlow(t *testing.T) {
	env := newTestEnv(t)

	// 草稿
	rec := env.postJSON(t, "/api/workspaces/1/billing/invoices", map[string]interface{}{
		"actor_email":   "bob@acme.io",
		"customer":      "주식회사 고객",
		"supply_amount": 10000.0,
	})
	invoice := decodeData(t, rec)["invoice"].(map[string]interface{})
	invoiceID := int64(invoice["id"].(float64))
	issuePath := fmt.Sprintf("/api/workspaces/1/billing/invoices/%d/issue", invoiceID)

	// member不能进入发行入口
	rec = env.postJSON(t, issuePath, map[string]interface{}{"actor_email": "bob@acme.io"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member issue status = %d, want 403", rec.Code)
	}

	// 1. 管理员第一次提交 → 创建审批
	rec = env.postJSON(t, issuePath, map[string]interface{}{"actor_email": "admin@acme.io"})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue request status = %d, body = %s", rec.Code, rec.Body.String())
	}
	outputs := decodeData(t, rec)["outputs"].(map[string]interface{})
	if outputs["approval_required"] != true {
		t.Fatalf("outputs = %v", outputs)
	}
	approvalReq := outputs["approval_request"].(map[string]interface{})
	approvalID := int64(approvalReq["id"].(float64))

	// 2. member不能裁决
	decidePath := fmt.Sprintf("/api/approvals/%d/decide", approvalID)
	rec = env.postJSON(t, decidePath, map[string]interface{}{
		"actor_email": "bob@acme.io",
		"outcome":     "approved",
	})
	if rec.Code != http.StatusForbidden {
		t.Errorf("member decide status = %d", rec.Code)
	}

	// 3. 管理员批准
	rec = env.postJSON(t, decidePath, map[string]interface{}{
		"actor_email": "admin@acme.io",
		"outcome":     "approved",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin decide status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// 4. 带approval_request_id重发 → 发行
	rec = env.postJSON(t, issuePath, map[string]interface{}{
		"actor_email":         "admin@acme.io",
		"approval_request_id": approvalID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("issue status = %d, body = %s", rec.Code, rec.Body.String())
	}
	issued := decodeData(t, rec)["invoice"].(map[string]interface{})
	if issued["status"] != "issued" {
		t.Errorf("status = %v", issued["status"])
	}
	metadata := issued["metadata"].(map[string]interface{})
	if metadata["issued_by"] != "admin@acme.io" {
		t.Errorf("issued_by = %v", metadata["issued_by"])
	}
	if metadata["issued_via"] != "barobill-ready-adapter" {
		t.Errorf("issued_via = %v", metadata["issued_via"])
	}

	// 5. 重复发行 → 400
	rec = env.postJSON(t, issuePath, map[string]interface{}{
		"actor_email":         "admin@acme.io",
		"approval_request_id": approvalID,
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("double issue status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestInvoiceIssueWrongInvoiceRejected(t *testing.T) {
	env := newTestEnv(t)

	// 两张草稿
	rec := env.postJSON(t, "/api/workspaces/1/billing/invoices", map[string]interface{}{
		"actor_email": "bob@acme.io", "customer": "고객A", "supply_amount": 100.0,
	})
	first := decodeData(t, rec)["invoice"].(map[string]interface{})
	firstID := int64(first["id"].(float64))
	rec = env.postJSON(t, "/api/workspaces/1/billing/invoices", map[string]interface{}{
		"actor_email": "bob@acme.io", "customer": "고객B", "supply_amount": 200.0,
	})
	second := decodeData(t, rec)["invoice"].(map[string]interface{})
	secondID := int64(second["id"].(float64))

	// 给第一张排队审批并批准
	rec = env.postJSON(t, fmt.Sprintf("/api/workspaces/1/billing/invoices/%d/issue", firstID),
		map[string]interface{}{"actor_email": "admin@acme.io"})
	outputs := decodeData(t, rec)["outputs"].(map[string]interface{})
	approvalID := int64(outputs["approval_request"].(map[string]interface{})["id"].(float64))
	env.postJSON(t, fmt.Sprintf("/api/approvals/%d/decide", approvalID), map[string]interface{}{
		"actor_email": "admin@acme.io", "outcome": "approved",
	})

	// 拿第一张的批准去发第二张 → 400
	rec = env.postJSON(t, fmt.Sprintf("/api/workspaces/1/billing/invoices/%d/issue", secondID),
		map[string]interface{}{
			"actor_email":         "admin@acme.io",
			"approval_request_id": approvalID,
		})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("cross-invoice issue status = %d, body = %s", rec.Code, rec.Body.String())
	}
}
