package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/billing"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// BillingHandler 税务发票草稿与发行。发行与agent执行走同一套审批关卡。
type BillingHandler struct {
	svc  *billing.Service
	gate *approval.Gate
	auth *rbac.Authorizer
}

func NewBillingHandler(svc *billing.Service, gate *approval.Gate, auth *rbac.Authorizer) *BillingHandler {
	return &BillingHandler{svc: svc, gate: gate, auth: auth}
}

// Create POST /api/workspaces/{workspaceID}/billing/invoices
func (h *BillingHandler) Create(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req models.CreateInvoiceRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if _, err := h.auth.RequirePermission(wsID, actor, "invoice.create"); err != nil {
		writeServiceError(w, err)
		return
	}

	inv, err := h.svc.CreateDraft(wsID, actor, req.Customer, req.BusinessNo, req.SupplyAmount, req.VATRate, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"invoice": inv})
}

// List GET /api/workspaces/{workspaceID}/billing/invoices
func (h *BillingHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	invoices, err := h.svc.List(wsID, limitParam(r, 50, 200))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invoices": invoices})
}

// Get GET /api/workspaces/{workspaceID}/billing/invoices/{invoiceID}
func (h *BillingHandler) Get(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	invoiceID, ok := int64Param(r, "invoiceID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid invoice id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	inv, err := h.svc.Get(wsID, invoiceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invoice": inv})
}

// Issue POST /api/workspaces/{workspaceID}/billing/invoices/{invoiceID}/issue
// 第一次提交创建审批请求；批准后带approval_request_id重发才真正发行。
func (h *BillingHandler) Issue(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	invoiceID, ok := int64Param(r, "invoiceID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid invoice id")
		return
	}
	var req struct {
		ActorEmail        string `json:"actor_email"`
		ApprovalRequestID int64  `json:"approval_request_id"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if strings.TrimSpace(actor) == "" {
		utils.WriteBadRequestResponse(w, "actor_email is required")
		return
	}
	// 发行是管理员操作，排队审批也不例外
	if _, err := h.auth.RequirePermission(wsID, actor, "invoice.issue"); err != nil {
		writeServiceError(w, err)
		return
	}

	// 草稿必须存在才允许排队审批
	if _, err := h.svc.Get(wsID, invoiceID); err != nil {
		writeServiceError(w, err)
		return
	}

	if req.ApprovalRequestID == 0 {
		payload := models.InvoiceIssuePayload{InvoiceID: invoiceID, Approver: actor}
		created, err := h.gate.CreateRequest(wsID, models.RequestTypeInvoiceIssue, payload, actor, "invoice issuance requires approval")
		if err != nil {
			writeServiceError(w, err)
			return
		}
		utils.WriteSuccessResponse(w, map[string]interface{}{
			"summary": "approval required before issuing",
			"outputs": map[string]interface{}{
				"approval_required": true,
				"approval_request":  created,
				"next":              "resubmit with approval_request_id after approval",
			},
		})
		return
	}

	approved, err := h.gate.EnsureApproved(req.ApprovalRequestID, wsID, models.RequestTypeInvoiceIssue)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	var payload models.InvoiceIssuePayload
	if err := json.Unmarshal(approved.Payload, &payload); err != nil {
		utils.WriteInternalServerErrorResponse(w, "corrupt approval payload")
		return
	}
	if payload.InvoiceID != invoiceID {
		utils.WriteBadRequestResponse(w, "invoice does not match the approved request")
		return
	}

	// 发行人记录为做出批准裁决的管理员
	approver := actor
	if approved.DecidedBy != nil && *approved.DecidedBy != "" {
		approver = *approved.DecidedBy
	}

	issued, err := h.svc.Issue(wsID, invoiceID, approver)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invoice": issued})
}
