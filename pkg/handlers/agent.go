package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/orchestrator"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// AgentHandler 顺序编排agent的执行入口。执行类请求先走人工审批：
// 第一次提交（无approval_request_id）只创建审批请求，批准后原样重发才会真正执行。
type AgentHandler struct {
	engine *orchestrator.Engine
	gate   *approval.Gate
	auth   *rbac.Authorizer
	db     database.DatabaseInterface
}

func NewAgentHandler(engine *orchestrator.Engine, gate *approval.Gate, auth *rbac.Authorizer, db database.DatabaseInterface) *AgentHandler {
	return &AgentHandler{engine: engine, gate: gate, auth: auth, db: db}
}

type agentExecuteRequest struct {
	ActorEmail        string                 `json:"actor_email"`
	UserEmail         string                 `json:"user_email"`
	Instruction       string                 `json:"instruction"`
	Context           map[string]interface{} `json:"context"`
	ApprovalRequestID int64                  `json:"approval_request_id"`
}

// parseExecuteRequest 公共入口校验：解析body、权限检查
func (h *AgentHandler) parseExecuteRequest(w http.ResponseWriter, r *http.Request) (int64, *agentExecuteRequest, string, bool) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return 0, nil, "", false
	}
	var req agentExecuteRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return 0, nil, "", false
	}
	actor := actorEmail(r, req.ActorEmail)
	if strings.TrimSpace(actor) == "" {
		utils.WriteBadRequestResponse(w, "actor_email is required")
		return 0, nil, "", false
	}
	if strings.TrimSpace(req.Instruction) == "" {
		utils.WriteBadRequestResponse(w, "instruction is required")
		return 0, nil, "", false
	}
	if req.UserEmail == "" {
		req.UserEmail = actor
	}
	if _, err := h.auth.RequirePermission(wsID, actor, "agent.execute"); err != nil {
		writeServiceError(w, err)
		return 0, nil, "", false
	}
	return wsID, &req, actor, true
}

// requireApproval 审批关卡。返回true表示已批准可以执行；
// 返回false时响应已写出（审批请求刚创建，或校验失败）。
func (h *AgentHandler) requireApproval(w http.ResponseWriter, wsID int64, req *agentExecuteRequest, actor string) bool {
	if req.ApprovalRequestID == 0 {
		payload := models.AgentExecutePayload{Instruction: req.Instruction, Context: req.Context}
		created, err := h.gate.CreateRequest(wsID, models.RequestTypeAgentExecute, payload, actor, "agent execution requires approval")
		if err != nil {
			writeServiceError(w, err)
			return false
		}
		utils.WriteSuccessResponse(w, map[string]interface{}{
			"summary": "approval required before execution",
			"steps":   []models.Step{},
			"outputs": map[string]interface{}{
				"approval_required": true,
				"approval_request":  created,
				"next":              "resubmit the same instruction with approval_request_id after approval",
			},
		})
		return false
	}

	approved, err := h.gate.EnsureApproved(req.ApprovalRequestID, wsID, models.RequestTypeAgentExecute)
	if err != nil {
		writeServiceError(w, err)
		return false
	}
	var payload models.AgentExecutePayload
	if err := json.Unmarshal(approved.Payload, &payload); err != nil {
		utils.WriteInternalServerErrorResponse(w, "corrupt approval payload")
		return false
	}
	// 指令必须与批准时的内容逐字节一致
	if payload.Instruction != req.Instruction {
		utils.WriteBadRequestResponse(w, "instruction does not match the approved request")
		return false
	}
	return true
}

// Execute POST /api/workspaces/{workspaceID}/agent/execute
func (h *AgentHandler) Execute(w http.ResponseWriter, r *http.Request) {
	wsID, req, actor, ok := h.parseExecuteRequest(w, r)
	if !ok {
		return
	}
	if !h.requireApproval(w, wsID, req, actor) {
		return
	}

	logEntry := &models.ExecutionLog{
		WorkspaceID: wsID,
		UserEmail:   req.UserEmail,
		Instruction: req.Instruction,
		Context:     req.Context,
		Status:      models.ExecutionPending,
	}
	if err := h.db.CreateExecutionLog(logEntry); err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := h.engine.Execute(wsID, actor, req.UserEmail, req.Instruction, req.Context, nil)
	if err != nil {
		_ = h.db.FailExecutionLog(logEntry.ID, err.Error())
		writeServiceError(w, err)
		return
	}
	if err := h.db.CompleteExecutionLog(logEntry.ID, result.Steps, result.Outputs); err != nil {
		fmt.Printf("⚠️ failed to finalize execution log %d: %v\n", logEntry.ID, err)
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"summary":          result.Summary,
		"steps":            result.Steps,
		"outputs":          result.Outputs,
		"execution_log_id": logEntry.ID,
	})
}

// Stream POST /api/workspaces/{workspaceID}/agent/stream
// SSE事件顺序：log → start → step* → final|error。
// 客户端断开后执行继续跑完，日志照常落库，写失败静默忽略。
func (h *AgentHandler) Stream(w http.ResponseWriter, r *http.Request) {
	wsID, req, actor, ok := h.parseExecuteRequest(w, r)
	if !ok {
		return
	}
	if !h.requireApproval(w, wsID, req, actor) {
		return
	}

	logEntry := &models.ExecutionLog{
		WorkspaceID: wsID,
		UserEmail:   req.UserEmail,
		Instruction: req.Instruction,
		Context:     req.Context,
		Status:      models.ExecutionPending,
	}
	if err := h.db.CreateExecutionLog(logEntry); err != nil {
		writeServiceError(w, err)
		return
	}

	utils.SSEHeaders(w)
	_ = utils.WriteSSEEvent(w, "log", map[string]interface{}{"execution_log_id": logEntry.ID})
	_ = utils.WriteSSEEvent(w, "start", map[string]interface{}{
		"workspace_id": wsID,
		"actor_email":  actor,
		"instruction":  req.Instruction,
	})

	result, err := h.engine.Execute(wsID, actor, req.UserEmail, req.Instruction, req.Context, func(step models.Step) {
		_ = utils.WriteSSEEvent(w, "step", step)
	})
	if err != nil {
		_ = h.db.FailExecutionLog(logEntry.ID, err.Error())
		_ = utils.WriteSSEEvent(w, "error", map[string]interface{}{
			"message":          err.Error(),
			"execution_log_id": logEntry.ID,
		})
		return
	}

	if err := h.db.CompleteExecutionLog(logEntry.ID, result.Steps, result.Outputs); err != nil {
		fmt.Printf("⚠️ failed to finalize execution log %d: %v\n", logEntry.ID, err)
	}
	// final 携带完整执行结果
	_ = utils.WriteSSEEvent(w, "final", map[string]interface{}{
		"summary":          result.Summary,
		"steps":            result.Steps,
		"outputs":          result.Outputs,
		"execution_log_id": logEntry.ID,
	})
}

// Logs GET /api/workspaces/{workspaceID}/agent/logs
func (h *AgentHandler) Logs(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	logs, err := h.db.ListExecutionLogs(wsID, limitParam(r, 20, 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"logs": logs})
}

// GetLog GET /api/agent/logs/{logID}
func (h *AgentHandler) GetLog(w http.ResponseWriter, r *http.Request) {
	logID, ok := int64Param(r, "logID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid log id")
		return
	}
	entry, err := h.db.GetExecutionLog(logID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if entry == nil {
		utils.WriteNotFoundResponse(w, "execution log not found")
		return
	}
	if _, err := h.auth.RequirePermission(entry.WorkspaceID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"log": entry})
}

// Runtime GET /api/agent/runtime
func (h *AgentHandler) Runtime(w http.ResponseWriter, r *http.Request) {
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"engine":    "rule-based-orchestrator",
		"mode":      "sequential",
		"streaming": "sse",
		"intents":   []string{"weekly_report", "daily_report", "github_events", "calendar", "docs", "invoice"},
	})
}
