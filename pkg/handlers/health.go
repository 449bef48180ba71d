package handlers

import (
	"net/http"
	"time"

	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/utils"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     database.DatabaseInterface
}

func NewHealthHandler(cfg *config.Config, db database.DatabaseInterface) *HealthHandler {
	return &HealthHandler{config: cfg, db: db}
}

// Health GET /healthz
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	if err := h.db.HealthCheck(); err != nil {
		dbStatus = "error: " + err.Error()
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"status":      "ok",
		"environment": h.config.Environment,
		"database":    dbStatus,
		"time":        time.Now().Format(time.RFC3339),
	})
}
