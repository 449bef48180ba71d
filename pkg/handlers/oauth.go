package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"workspace-agent-backend/pkg/oauth"
	"workspace-agent-backend/pkg/utils"
)

// OAuthHandler Google OAuth 凭证生命周期
type OAuthHandler struct {
	google *oauth.GoogleManager
}

func NewOAuthHandler(google *oauth.GoogleManager) *OAuthHandler {
	return &OAuthHandler{google: google}
}

// Connect GET /api/oauth/google/connect?workspace_id=...&user_email=...
func (h *OAuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	wsID, err := strconv.ParseInt(r.URL.Query().Get("workspace_id"), 10, 64)
	if err != nil || wsID <= 0 {
		utils.WriteBadRequestResponse(w, "workspace_id is required")
		return
	}
	userEmail := r.URL.Query().Get("user_email")
	if strings.TrimSpace(userEmail) == "" {
		utils.WriteBadRequestResponse(w, "user_email is required")
		return
	}

	info, err := h.google.ConnectURL(wsID, userEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"auth_url":  info.AuthURL,
		"state":     info.State,
		"mock_mode": info.MockMode,
	})
}

// Callback GET /api/oauth/google/callback?code=...&state=...
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		utils.WriteBadRequestResponse(w, "code and state are required")
		return
	}

	result, err := h.google.Callback(code, state)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"workspace_id": result.WorkspaceID,
		"account":      result.Account,
	})
}

// Status GET /api/oauth/google/status?user_email=...
// 必要时会先刷新快过期的access token再返回状态
func (h *OAuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	userEmail := r.URL.Query().Get("user_email")
	if userEmail == "" {
		utils.WriteBadRequestResponse(w, "user_email is required")
		return
	}

	status, err := h.google.EnsureValidAccessToken(userEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	account, err := h.google.Account(userEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"connected": status.Connected,
		"refreshed": status.Refreshed,
		"account":   account,
	})
}

// Disconnect POST /api/oauth/google/disconnect
func (h *OAuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserEmail string `json:"user_email"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil || req.UserEmail == "" {
		utils.WriteBadRequestResponse(w, "user_email is required")
		return
	}

	removed, err := h.google.Disconnect(req.UserEmail)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"disconnected": removed})
}
