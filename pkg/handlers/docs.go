package handlers

import (
	"net/http"
	"strings"

	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/utils"
)

// DocsHandler 工作区知识库文档
type DocsHandler struct {
	db   database.DatabaseInterface
	auth *rbac.Authorizer
}

func NewDocsHandler(db database.DatabaseInterface, auth *rbac.Authorizer) *DocsHandler {
	return &DocsHandler{db: db, auth: auth}
}

// Create POST /api/workspaces/{workspaceID}/docs
func (h *DocsHandler) Create(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req struct {
		ActorEmail string   `json:"actor_email"`
		Space      string   `json:"space"`
		Title      string   `json:"title"`
		Content    string   `json:"content"`
		Tags       []string `json:"tags"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	actor := actorEmail(r, req.ActorEmail)
	if _, err := h.auth.RequirePermission(wsID, actor, "docs.write"); err != nil {
		writeServiceError(w, err)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		utils.WriteBadRequestResponse(w, "title is required")
		return
	}
	space := req.Space
	if space == "" {
		space = "knowledge"
	}

	doc := &models.Doc{
		WorkspaceID: wsID,
		Space:       space,
		Title:       req.Title,
		Content:     req.Content,
		Tags:        req.Tags,
		CreatedBy:   actor,
	}
	if err := h.db.CreateDoc(doc); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"doc": doc})
}

// List GET /api/workspaces/{workspaceID}/docs?space=knowledge
func (h *DocsHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	docs, err := h.db.ListDocs(wsID, r.URL.Query().Get("space"), limitParam(r, 50, 200))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"docs": docs})
}

// Search GET /api/workspaces/{workspaceID}/docs/search?q=...
func (h *DocsHandler) Search(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		utils.WriteBadRequestResponse(w, "q is required")
		return
	}

	docs, err := h.db.SearchDocs(wsID, query, limitParam(r, 20, 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"docs": docs})
}

// Get GET /api/docs/{docID}
func (h *DocsHandler) Get(w http.ResponseWriter, r *http.Request) {
	docID, ok := int64Param(r, "docID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid doc id")
		return
	}
	doc, err := h.db.GetDoc(docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if doc == nil {
		utils.WriteNotFoundResponse(w, "doc not found")
		return
	}
	if _, err := h.auth.RequirePermission(doc.WorkspaceID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"doc": doc})
}

// Update PUT /api/docs/{docID}
func (h *DocsHandler) Update(w http.ResponseWriter, r *http.Request) {
	docID, ok := int64Param(r, "docID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid doc id")
		return
	}
	doc, err := h.db.GetDoc(docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if doc == nil {
		utils.WriteNotFoundResponse(w, "doc not found")
		return
	}
	var req struct {
		ActorEmail string   `json:"actor_email"`
		Title      string   `json:"title"`
		Content    string   `json:"content"`
		Tags       []string `json:"tags"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if _, err := h.auth.RequirePermission(doc.WorkspaceID, actorEmail(r, req.ActorEmail), "docs.write"); err != nil {
		writeServiceError(w, err)
		return
	}

	// 只覆盖提供的字段
	if strings.TrimSpace(req.Title) != "" {
		doc.Title = req.Title
	}
	if req.Content != "" {
		doc.Content = req.Content
	}
	if req.Tags != nil {
		doc.Tags = req.Tags
	}
	if err := h.db.UpdateDoc(doc); err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"doc": doc})
}

// Delete DELETE /api/docs/{docID}
func (h *DocsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	docID, ok := int64Param(r, "docID")
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid doc id")
		return
	}
	doc, err := h.db.GetDoc(docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if doc == nil {
		utils.WriteNotFoundResponse(w, "doc not found")
		return
	}
	if _, err := h.auth.RequirePermission(doc.WorkspaceID, actorEmail(r, ""), "docs.write"); err != nil {
		writeServiceError(w, err)
		return
	}

	removed, err := h.db.DeleteDoc(docID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"deleted": removed})
}
