package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/billing"
	"workspace-agent-backend/pkg/github"
	"workspace-agent-backend/pkg/oauth"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/security"
	"workspace-agent-backend/pkg/utils"
	"workspace-agent-backend/pkg/workspace"

	chiRoute "github.com/go-chi/chi/v5"
)

// writeServiceError 将服务层错误映射为HTTP响应
func writeServiceError(w http.ResponseWriter, err error) {
	var upstream *utils.UpstreamError
	if errors.As(err, &upstream) {
		utils.WriteBadGatewayResponse(w, "Upstream service failed: "+upstream.Service, upstream.Error())
		return
	}

	switch {
	case errors.Is(err, rbac.ErrUnauthorized):
		utils.WriteForbiddenResponse(w, err.Error())

	case errors.Is(err, approval.ErrNotFound),
		errors.Is(err, workspace.ErrWorkspaceNotFound),
		errors.Is(err, workspace.ErrMemberNotFound),
		errors.Is(err, billing.ErrInvoiceNotFound):
		utils.WriteNotFoundResponse(w, err.Error())

	case errors.Is(err, rbac.ErrInvalidRole),
		errors.Is(err, approval.ErrAlreadyDecided),
		errors.Is(err, approval.ErrNotApproved),
		errors.Is(err, approval.ErrWorkspaceMismatch),
		errors.Is(err, approval.ErrTypeMismatch),
		errors.Is(err, oauth.ErrInvalidState),
		errors.Is(err, oauth.ErrIdentityMismatch),
		errors.Is(err, oauth.ErrCannotRefresh),
		errors.Is(err, github.ErrInvalidState),
		errors.Is(err, github.ErrAppNotLinked),
		errors.Is(err, github.ErrUnknownInstall),
		errors.Is(err, workspace.ErrUnsupportedService),
		errors.Is(err, workspace.ErrNotConnected),
		errors.Is(err, workspace.ErrInvalidInput),
		errors.Is(err, workspace.ErrOwnerProtected),
		errors.Is(err, billing.ErrAlreadyIssued),
		errors.Is(err, billing.ErrInvalidInvoice),
		errors.Is(err, security.ErrInvalidToken):
		utils.WriteBadRequestResponse(w, err.Error())

	default:
		utils.WriteInternalServerErrorResponse(w, err.Error())
	}
}

// workspaceIDParam 从URL提取工作区ID
func workspaceIDParam(r *http.Request) (int64, bool) {
	raw := chiRoute.URLParam(r, "workspaceID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// int64Param 从URL提取数字参数
func int64Param(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chiRoute.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// actorEmail 请求操作者。优先 actor_email 查询参数，其次 fallback
func actorEmail(r *http.Request, fallback string) string {
	if actor := r.URL.Query().Get("actor_email"); actor != "" {
		return actor
	}
	return fallback
}

// limitParam 分页limit参数，带默认值与上限
func limitParam(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
