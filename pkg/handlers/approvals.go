package handlers

import (
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// ApprovalsHandler 人工审批请求的查询与裁决
type ApprovalsHandler struct {
	gate *approval.Gate
	auth *rbac.Authorizer
}

func NewApprovalsHandler(gate *approval.Gate, auth *rbac.Authorizer) *ApprovalsHandler {
	return &ApprovalsHandler{gate: gate, auth: auth}
}

// List GET /api/workspaces/{workspaceID}/approvals?status=pending
func (h *ApprovalsHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	actor := actorEmail(r, "")
	if _, err := h.auth.RequirePermission(wsID, actor, "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	requests, err := h.gate.ListRequests(wsID, status, limitParam(r, 50, 200))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"approvals": requests})
}

// Get GET /api/approvals/{approvalID}
func (h *ApprovalsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "approvalID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid approval id")
		return
	}
	req, err := h.gate.GetRequest(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	actor := actorEmail(r, "")
	if _, err := h.auth.RequirePermission(req.WorkspaceID, actor, "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"approval": req})
}

// Decide POST /api/approvals/{approvalID}/decide
// 每个请求只能被裁决一次，并发时第一个生效
func (h *ApprovalsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(r, "approvalID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid approval id")
		return
	}
	var body struct {
		ActorEmail string `json:"actor_email"`
		Outcome    string `json:"outcome"`
		Note       string `json:"note"`
	}
	if err := utils.ParseJSONBody(r, &body); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, body.ActorEmail)
	if strings.TrimSpace(actor) == "" {
		utils.WriteBadRequestResponse(w, "actor_email is required")
		return
	}
	outcome := models.ApprovalStatus(body.Outcome)
	if outcome != models.ApprovalApproved && outcome != models.ApprovalRejected {
		utils.WriteBadRequestResponse(w, "outcome must be approved or rejected")
		return
	}

	pending, err := h.gate.GetRequest(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if _, err := h.auth.RequirePermission(pending.WorkspaceID, actor, "approval.decide"); err != nil {
		writeServiceError(w, err)
		return
	}

	decided, err := h.gate.Decide(id, outcome, actor, body.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"approval": decided})
}
