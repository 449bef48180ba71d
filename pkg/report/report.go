package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
)

// maxEventLines 明细最多列出的事件条数
const maxEventLines = 30

// Store 报告生成所需的存储窄接口
type Store interface {
	GithubEventsBetween(workspaceID int64, start, end time.Time) ([]models.GithubEvent, error)
	CreateReport(rep *models.Report) error
	CreateDoc(doc *models.Doc) error
}

// Service 从 GitHub 事件生成 markdown 报告，同时归档为 reports space 的文档
type Service struct {
	store Store
	auth  *rbac.Authorizer
}

func NewService(store Store, auth *rbac.Authorizer) *Service {
	return &Service{store: store, auth: auth}
}

// Generate 生成并持久化报告（需要 workspace.read）
func (s *Service) Generate(workspaceID int64, actorEmail, reportType string, start, end time.Time) (*models.Report, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, err
	}
	return s.generate(workspaceID, actorEmail, reportType, start, end)
}

// GenerateUnchecked 供编排器使用，权限已在入口校验过
func (s *Service) GenerateUnchecked(workspaceID int64, actorEmail, reportType string, start, end time.Time) (*models.Report, error) {
	return s.generate(workspaceID, actorEmail, reportType, start, end)
}

func (s *Service) generate(workspaceID int64, actorEmail, reportType string, start, end time.Time) (*models.Report, error) {
	// 覆盖整天
	startOfDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
	endOfDay := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, end.Location())

	events, err := s.store.GithubEventsBetween(workspaceID, startOfDay, endOfDay)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("%s (%s ~ %s)", typeLabel(reportType), start.Format("2006-01-02"), end.Format("2006-01-02"))
	content := renderMarkdown(title, start, end, events)

	rep := &models.Report{
		WorkspaceID: workspaceID,
		ReportType:  reportType,
		PeriodStart: startOfDay,
		PeriodEnd:   endOfDay,
		Title:       title,
		Content:     content,
		CreatedBy:   actorEmail,
	}
	if err := s.store.CreateReport(rep); err != nil {
		return nil, err
	}

	// 归档副本
	doc := &models.Doc{
		WorkspaceID: workspaceID,
		Space:       "reports",
		Title:       title,
		Content:     content,
		Tags:        []string{"report", reportType},
		CreatedBy:   actorEmail,
	}
	if err := s.store.CreateDoc(doc); err != nil {
		return nil, err
	}

	return rep, nil
}

func typeLabel(reportType string) string {
	if reportType == models.ReportDaily {
		return "일일 보고서"
	}
	return "주간 보고서"
}

func renderMarkdown(title string, start, end time.Time, events []models.GithubEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## 기간\n%s ~ %s\n\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Fprintf(&b, "## 수집 이벤트 수\n%d\n\n", len(events))

	if len(events) == 0 {
		b.WriteString("이 기간에 수집된 GitHub 이벤트가 없습니다.\n")
		return b.String()
	}

	typeCounts := map[string]int{}
	repoCounts := map[string]int{}
	for _, ev := range events {
		typeCounts[ev.EventType]++
		if ev.Repo != "" {
			repoCounts[ev.Repo]++
		}
	}

	b.WriteString("## 이벤트 타입 요약\n")
	for _, key := range sortedKeys(typeCounts) {
		fmt.Fprintf(&b, "- %s: %d\n", key, typeCounts[key])
	}
	b.WriteString("\n")

	if len(repoCounts) > 0 {
		b.WriteString("## 저장소 활동 요약\n")
		for _, key := range sortedKeys(repoCounts) {
			fmt.Fprintf(&b, "- %s: %d\n", key, repoCounts[key])
		}
		b.WriteString("\n")
	}

	b.WriteString("## 주요 이벤트\n")
	listed := events
	if len(listed) > maxEventLines {
		listed = listed[len(listed)-maxEventLines:]
	}
	for _, ev := range listed {
		line := fmt.Sprintf("- [%s] %s", ev.CreatedAt.Format("2006-01-02 15:04"), ev.EventType)
		if ev.Repo != "" {
			line += " @ " + ev.Repo
		}
		if ev.Actor != "" {
			line += " by " + ev.Actor
		}
		b.WriteString(line + "\n")
	}

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
