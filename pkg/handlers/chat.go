package handlers

import (
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// ChatHandler 工作区聊天频道与消息
type ChatHandler struct {
	db   database.DatabaseInterface
	auth *rbac.Authorizer
}

func NewChatHandler(db database.DatabaseInterface, auth *rbac.Authorizer) *ChatHandler {
	return &ChatHandler{db: db, auth: auth}
}

// CreateChannel POST /api/workspaces/{workspaceID}/chat/channels
func (h *ChatHandler) CreateChannel(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req struct {
		ActorEmail string `json:"actor_email"`
		Name       string `json:"name"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if _, err := h.auth.RequirePermission(wsID, actor, "chat.write"); err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		utils.WriteBadRequestResponse(w, "name is required")
		return
	}

	channel := &models.ChatChannel{WorkspaceID: wsID, Name: req.Name, CreatedBy: actor}
	if err := h.db.CreateChannel(channel); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"channel": channel})
}

// ListChannels GET /api/workspaces/{workspaceID}/chat/channels
func (h *ChatHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	channels, err := h.db.ListChannels(wsID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"channels": channels})
}

// PostMessage POST /api/chat/channels/{channelID}/messages
func (h *ChatHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	channelID, ok := int64Param(r, "channelID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid channel id")
		return
	}
	channel, err := h.db.GetChannel(channelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if channel == nil {
		utils.WriteNotFoundResponse(w, "channel not found")
		return
	}
	var req struct {
		ActorEmail string `json:"actor_email"`
		Content    string `json:"content"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if _, err := h.auth.RequirePermission(channel.WorkspaceID, actor, "chat.write"); err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		utils.WriteBadRequestResponse(w, "content is required")
		return
	}

	msg := &models.ChatMessage{ChannelID: channelID, Sender: actor, Content: req.Content}
	if err := h.db.PostMessage(msg); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"message": msg})
}

// ListMessages GET /api/chat/channels/{channelID}/messages?limit=50
func (h *ChatHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	channelID, ok := int64Param(r, "channelID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid channel id")
		return
	}
	channel, err := h.db.GetChannel(channelID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if channel == nil {
		utils.WriteNotFoundResponse(w, "channel not found")
		return
	}
	if _, err := h.auth.RequirePermission(channel.WorkspaceID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	messages, err := h.db.ListMessages(channelID, limitParam(r, 50, 200))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"messages": messages})
}
