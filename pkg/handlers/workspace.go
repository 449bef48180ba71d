package handlers

import (
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/utils"
	"workspace-agent-backend/pkg/workspace"

	chiRoute "github.com/go-chi/chi/v5"
)

// WorkspaceHandler 工作区与成员管理
type WorkspaceHandler struct {
	svc *workspace.Service
}

func NewWorkspaceHandler(svc *workspace.Service) *WorkspaceHandler {
	return &WorkspaceHandler{svc: svc}
}

// Create POST /api/workspaces
func (h *WorkspaceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWorkspaceRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(actor) == "" {
		utils.WriteBadRequestResponse(w, "name and actor_email are required")
		return
	}

	ws, err := h.svc.Create(req.Name, actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"workspace": ws})
}

// List GET /api/workspaces?actor_email=...
func (h *WorkspaceHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorEmail(r, "")
	if actor == "" {
		utils.WriteBadRequestResponse(w, "actor_email is required")
		return
	}
	workspaces, err := h.svc.ListForUser(actor)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"workspaces": workspaces})
}

// Get GET /api/workspaces/{workspaceID}
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	ws, err := h.svc.Get(wsID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"workspace": ws})
}

// Members GET /api/workspaces/{workspaceID}/members
func (h *WorkspaceHandler) Members(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	members, err := h.svc.Members(wsID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"members": members})
}

// AddMember POST /api/workspaces/{workspaceID}/members
func (h *WorkspaceHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req models.AddMemberRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if strings.TrimSpace(req.UserEmail) == "" {
		utils.WriteBadRequestResponse(w, "user_email is required")
		return
	}

	m, err := h.svc.AddMember(wsID, actorEmail(r, req.ActorEmail), req.UserEmail, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"membership": m})
}

// UpdateMemberRole PUT /api/workspaces/{workspaceID}/members/{email}
func (h *WorkspaceHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	email := chiRoute.URLParam(r, "email")
	var req models.UpdateMemberRoleRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	m, err := h.svc.UpdateMemberRole(wsID, actorEmail(r, req.ActorEmail), email, req.Role)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": m})
}

// RemoveMember DELETE /api/workspaces/{workspaceID}/members/{email}
func (h *WorkspaceHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	email := chiRoute.URLParam(r, "email")

	if err := h.svc.RemoveMember(wsID, actorEmail(r, ""), email); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"removed": email})
}

// Permissions GET /api/workspaces/{workspaceID}/permissions?user_email=...
func (h *WorkspaceHandler) Permissions(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	userEmail := utils.GetQueryParam(r, "user_email", actorEmail(r, ""))
	if userEmail == "" {
		utils.WriteBadRequestResponse(w, "user_email is required")
		return
	}

	perms, err := h.svc.PermissionsFor(wsID, userEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, perms)
}

// Execute POST /api/workspaces/{workspaceID}/execute
// Google Workspace 服务的模拟执行入口
func (h *WorkspaceHandler) Execute(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req models.ExecuteServiceRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if actor == "" {
		utils.WriteBadRequestResponse(w, "actor_email is required")
		return
	}

	result, err := h.svc.Execute(wsID, actor, req.UserEmail, req.Service, req.Action, req.Payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, result)
}
