package models

import "time"

// ReportType 报告类型
const (
	ReportDaily  = "daily"
	ReportWeekly = "weekly"
)

// Report GitHub 活动汇总报告（markdown 正文）
type Report struct {
	ID          int64     `json:"id" db:"id"`
	WorkspaceID int64     `json:"workspace_id" db:"workspace_id"`
	ReportType  string    `json:"report_type" db:"report_type"`
	PeriodStart time.Time `json:"period_start" db:"period_start"`
	PeriodEnd   time.Time `json:"period_end" db:"period_end"`
	Title       string    `json:"title" db:"title"`
	Content     string    `json:"content" db:"content"`
	CreatedBy   string    `json:"created_by" db:"created_by"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
