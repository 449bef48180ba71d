package handlers

import (
	"net/http"
	"time"

	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/report"
	"workspace-agent-backend/pkg/utils"
)

// ReportsHandler GitHub 活动报告的生成与查询
type ReportsHandler struct {
	svc  *report.Service
	db   database.DatabaseInterface
	auth *rbac.Authorizer
}

func NewReportsHandler(svc *report.Service, db database.DatabaseInterface, auth *rbac.Authorizer) *ReportsHandler {
	return &ReportsHandler{svc: svc, db: db, auth: auth}
}

// Generate POST /api/workspaces/{workspaceID}/reports
// type 为 daily/weekly，缺省日期按今天（daily）或最近7天（weekly）
func (h *ReportsHandler) Generate(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	var req struct {
		ActorEmail string `json:"actor_email"`
		Type       string `json:"type"`
		Start      string `json:"start"`
		End        string `json:"end"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid body")
		return
	}
	if req.Type != models.ReportDaily && req.Type != models.ReportWeekly {
		utils.WriteBadRequestResponse(w, "type must be daily or weekly")
		return
	}

	today := time.Now()
	start, end := today, today
	if req.Type == models.ReportWeekly {
		start = today.AddDate(0, 0, -6)
	}
	if req.Start != "" {
		parsed, err := time.Parse("2006-01-02", req.Start)
		if err != nil {
			utils.WriteBadRequestResponse(w, "start must be YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if req.End != "" {
		parsed, err := time.Parse("2006-01-02", req.End)
		if err != nil {
			utils.WriteBadRequestResponse(w, "end must be YYYY-MM-DD")
			return
		}
		end = parsed
	}

	rep, err := h.svc.Generate(wsID, actorEmail(r, req.ActorEmail), req.Type, start, end)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"report": rep})
}

// List GET /api/workspaces/{workspaceID}/reports?type=weekly
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	wsID, ok := workspaceIDParam(r)
	if !ok {
		utils.WriteBadRequestResponse(w, "invalid workspace id")
		return
	}
	if _, err := h.auth.RequirePermission(wsID, actorEmail(r, ""), "workspace.read"); err != nil {
		writeServiceError(w, err)
		return
	}

	reports, err := h.db.ListReports(wsID, r.URL.Query().Get("type"), limitParam(r, 20, 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"reports": reports})
}
