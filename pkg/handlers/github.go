package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/cache"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/github"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// GithubHandler GitHub App 集成：安装、仓库、Webhook事件
type GithubHandler struct {
	svc    *github.Service
	db     database.DatabaseInterface
	auth   *rbac.Authorizer
	events *cache.EventsCache
}

func NewGithubHandler(svc *github.Service, db database.DatabaseInterface, auth *rbac.Authorizer, events *cache.EventsCache) *GithubHandler {
	return &GithubHandler{svc: svc, db: db, auth: auth, events: events}
}

// InstallURL GET /api/workspaces/{workspaceID}/github/install-url
func (h *GithubHandler) InstallURL(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	info, err := h.svc.InstallURL(wsID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, info)
}

// Callback GET /api/github/callback?state=...&installation_id=...&account_login=...
func (h *GithubHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	installationID, okInst := parseQueryInt64(r, "installation_id")
	if state == "" || !okInst {
		utils.WriteBadRequestResponse(w, "state and installation_id are required")
		return
	}

	inst, err := h.svc.Callback(state, installationID, r.URL.Query().Get("account_login"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"installation": inst})
}

// Installations GET /api/workspaces/{workspaceID}/github/installations
func (h *GithubHandler) Installations(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	installs, err := h.svc.Installations(wsID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"installations": installs})
}

// InstallationRepos GET /api/workspaces/{workspaceID}/github/installations/{installationID}/repos
func (h *GithubHandler) InstallationRepos(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	installationID, ok := int64Param(r, "installationID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid installation id")
		return
	}

	repos, mode, err := h.svc.InstallationRepos(wsID, installationID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"repos": repos,
		"mode":  mode,
	})
}

// LinkRepo POST /api/workspaces/{workspaceID}/github/repos
func (h *GithubHandler) LinkRepo(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req struct {
		ActorEmail  string `json:"actor_email"`
		FullName    string `json:"full_name"`
		Description string `json:"description"`
		Private     bool   `json:"private"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}

	repo, err := h.svc.LinkRepo(wsID, actorEmail(r, req.ActorEmail), req.FullName, req.Description, req.Private)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"repo": repo})
}

// LinkedRepos GET /api/workspaces/{workspaceID}/github/repos
func (h *GithubHandler) LinkedRepos(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	repos, err := h.svc.LinkedRepos(wsID, actorEmail(r, ""))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"repos": repos})
}

// Events GET /api/workspaces/{workspaceID}/github/events?limit=20
// 短TTL的Redis缓存挡住报告与轮询的重复读取
func (h *GithubHandler) Events(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}
	limit := limitParam(r, 20, 100)

	if cached, hit := h.events.Get(r.Context(), wsID, limit); hit {
		utils.WriteSuccessResponse(w, map[string]interface{}{
			"events": cached,
			"count":  len(cached),
			"cached": true,
		})
		return
	}

	list, err := h.db.ListGithubEvents(wsID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.events.Set(r.Context(), wsID, limit, list)
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"events": list,
		"count":  len(list),
		"cached": false,
	})
}

// Webhook POST /api/github/webhook
// 签名校验失败直接401；无法归属到工作区的事件ack为ignored
func (h *GithubHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		utils.WriteBadRequestResponse(w, "failed to read body")
		return
	}
	defer r.Body.Close()

	if !h.svc.VerifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		utils.WriteUnauthorizedResponse(w, "invalid webhook signature")
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	if strings.TrimSpace(eventType) == "" {
		utils.WriteBadRequestResponse(w, "X-GitHub-Event header is required")
		return
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		utils.WriteBadRequestResponse(w, "invalid JSON payload")
		return
	}

	ev, err := h.svc.IngestEvent(eventType, payload)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if ev == nil {
		utils.WriteSuccessResponse(w, map[string]interface{}{"ignored": true})
		return
	}

	// 新事件到达，丢弃该工作区的事件缓存
	h.events.Invalidate(r.Context(), ev.WorkspaceID)
	fmt.Printf("📥 GitHub event stored: type=%s workspace=%d repo=%s\n", ev.EventType, ev.WorkspaceID, ev.Repo)
	utils.WriteSuccessResponse(w, map[string]interface{}{"event": ev})
}

func parseQueryInt64(r *http.Request, key string) (int64, bool) {
	var id int64
	if _, err := fmt.Sscanf(r.URL.Query().Get(key), "%d", &id); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
