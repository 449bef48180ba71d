package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"workspace-agent-backend/pkg/models"
)

// Authorizer 权限入口。执行前的第一个动作就是 agent.execute 校验。
type Authorizer interface {
	RequirePermission(workspaceID int64, userEmail, permission string) (models.Role, error)
}

// ReportGenerator 报告生成（权限已在编排入口校验）
type ReportGenerator interface {
	GenerateUnchecked(workspaceID int64, actorEmail, reportType string, start, end time.Time) (*models.Report, error)
}

// EventLister 最近 GitHub 事件
type EventLister interface {
	ListGithubEvents(workspaceID int64, limit int) ([]models.GithubEvent, error)
}

// WorkspaceExecutor Google Workspace 模拟执行
type WorkspaceExecutor interface {
	Execute(workspaceID int64, actorEmail, userEmail, service, action string, payload map[string]interface{}) (map[string]interface{}, error)
}

// DocCreator 文档写入
type DocCreator interface {
	CreateDoc(doc *models.Doc) error
}

// InvoiceCreator 发票草稿创建
type InvoiceCreator interface {
	CreateDraft(workspaceID int64, createdBy, customer, businessNo string, supplyAmount, vatRate float64, metadata map[string]interface{}) (*models.Invoice, error)
}

// Result 一次编排运行的结果
type Result struct {
	Summary string                 `json:"summary"`
	Steps   []models.Step          `json:"steps"`
	Outputs map[string]interface{} `json:"outputs"`
}

// Engine 顺序多意图编排器。意图判定是大小写不敏感的子串匹配，
// 多个意图可同时命中并按固定顺序逐个执行；步骤之间互不影响，
// 单步失败记为 ok:false 继续执行，无回滚。
type Engine struct {
	auth      Authorizer
	reports   ReportGenerator
	events    EventLister
	workspace WorkspaceExecutor
	docs      DocCreator
	billing   InvoiceCreator
	now       func() time.Time
}

func NewEngine(auth Authorizer, reports ReportGenerator, events EventLister, workspace WorkspaceExecutor, docs DocCreator, billing InvoiceCreator) *Engine {
	return &Engine{
		auth:      auth,
		reports:   reports,
		events:    events,
		workspace: workspace,
		docs:      docs,
		billing:   billing,
		now:       time.Now,
	}
}

// Execute 运行编排。onStep 在每个步骤完成后被调用（可为 nil），
// 供流式接口按序推送。
func (e *Engine) Execute(workspaceID int64, actorEmail, userEmail, instruction string, context map[string]interface{}, onStep func(models.Step)) (*Result, error) {
	if _, err := e.auth.RequirePermission(workspaceID, actorEmail, "agent.execute"); err != nil {
		return nil, err
	}
	if userEmail == "" {
		userEmail = actorEmail
	}

	lowered := strings.ToLower(instruction)
	contains := func(subs ...string) bool {
		for _, sub := range subs {
			if strings.Contains(lowered, sub) {
				return true
			}
		}
		return false
	}

	result := &Result{Outputs: map[string]interface{}{}}
	emit := func(step models.Step) {
		result.Steps = append(result.Steps, step)
		if onStep != nil {
			onStep(step)
		}
	}

	today := e.now()

	// 주간 보고서
	if contains("주간") && contains("보고", "report") {
		e.runReport(result, emit, workspaceID, actorEmail, models.ReportWeekly, today.AddDate(0, 0, -6), today, "weekly_report")
	}

	// 일일 보고서
	if contains("일일", "daily") && contains("보고", "report") {
		e.runReport(result, emit, workspaceID, actorEmail, models.ReportDaily, today, today, "daily_report")
	}

	// 최근 커밋/이벤트 조회
	if contains("커밋", "github", "깃헙") {
		events, err := e.events.ListGithubEvents(workspaceID, 20)
		if err != nil {
			emit(models.Step{Module: "github", Action: "list_events", OK: false, Reason: err.Error()})
		} else {
			emit(models.Step{Module: "github", Action: "list_events", OK: true, Count: len(events)})
			result.Outputs["github_events"] = map[string]interface{}{
				"count":  len(events),
				"events": events,
			}
		}
	}

	// 일정 생성
	if contains("일정", "calendar") {
		payload, _ := context["calendar"].(map[string]interface{})
		if payload == nil {
			payload = map[string]interface{}{"title": "새 일정"}
		}
		created, err := e.workspace.Execute(workspaceID, actorEmail, userEmail, "calendar", "create", payload)
		if err != nil {
			emit(models.Step{Module: "workspace", Action: "calendar.create", OK: false, Reason: err.Error()})
		} else {
			emit(models.Step{Module: "workspace", Action: "calendar.create", OK: true})
			result.Outputs["calendar"] = created
		}
	}

	// 문서 작성
	if contains("문서", "docs") {
		space, _ := context["space"].(string)
		if space == "" {
			space = "knowledge"
		}
		title, _ := context["title"].(string)
		if title == "" {
			title = "agent-doc-" + today.Format("2006-01-02")
		}
		doc := &models.Doc{
			WorkspaceID: workspaceID,
			Space:       space,
			Title:       title,
			Content:     docBody(instruction, context),
			Tags:        []string{"agent"},
			CreatedBy:   userEmail,
		}
		if err := e.docs.CreateDoc(doc); err != nil {
			emit(models.Step{Module: "docs", Action: "create", OK: false, Reason: err.Error()})
		} else {
			emit(models.Step{Module: "docs", Action: "create", OK: true, DocID: doc.ID})
			result.Outputs["doc"] = map[string]interface{}{
				"id":    doc.ID,
				"space": doc.Space,
				"title": doc.Title,
			}
		}
	}

	// 세금계산서
	if contains("세금", "invoice", "barobill") {
		e.runInvoice(result, emit, workspaceID, userEmail, context)
	}

	// 매칭된 의도가 없으면 분석만 수행
	if len(result.Steps) == 0 {
		emit(models.Step{Module: "orchestrator", Action: "analyze_only", OK: true})
		result.Outputs["hint"] = "지시문에서 실행 가능한 의도를 찾지 못했습니다. 예: 주간 보고서, 일정 생성, 문서 작성, 세금계산서"
	}

	result.Summary = fmt.Sprintf("%d steps executed (or planned)", len(result.Steps))
	return result, nil
}

func (e *Engine) runReport(result *Result, emit func(models.Step), workspaceID int64, actorEmail, reportType string, start, end time.Time, outputKey string) {
	action := reportType + "_report"
	rep, err := e.reports.GenerateUnchecked(workspaceID, actorEmail, reportType, start, end)
	if err != nil {
		emit(models.Step{Module: "reporting", Action: action, OK: false, Reason: err.Error()})
		return
	}
	emit(models.Step{Module: "reporting", Action: action, OK: true})
	result.Outputs[outputKey] = map[string]interface{}{
		"id":           rep.ID,
		"title":        rep.Title,
		"period_start": rep.PeriodStart.Format("2006-01-02"),
		"period_end":   rep.PeriodEnd.Format("2006-01-02"),
	}
}

func (e *Engine) runInvoice(result *Result, emit func(models.Step), workspaceID int64, userEmail string, context map[string]interface{}) {
	invoiceCtx, _ := context["invoice"].(map[string]interface{})
	customer, _ := invoiceCtx["customer"].(string)
	supplyAmount, hasAmount := toFloat(invoiceCtx["supply_amount"])

	if customer == "" || !hasAmount {
		emit(models.Step{
			Module: "billing",
			Action: "create_invoice",
			OK:     false,
			Reason: "context.invoice에 customer와 supply_amount가 필요합니다",
		})
		return
	}

	businessNo, _ := invoiceCtx["business_no"].(string)
	vatRate, _ := toFloat(invoiceCtx["vat_rate"])
	inv, err := e.billing.CreateDraft(workspaceID, userEmail, customer, businessNo, supplyAmount, vatRate, map[string]interface{}{"source": "agent"})
	if err != nil {
		emit(models.Step{Module: "billing", Action: "create_invoice", OK: false, Reason: err.Error()})
		return
	}
	emit(models.Step{Module: "billing", Action: "create_invoice", OK: true})
	result.Outputs["invoice"] = map[string]interface{}{
		"id":           inv.ID,
		"customer":     inv.Customer,
		"total_amount": inv.TotalAmount,
		"status":       inv.Status,
	}
}

func docBody(instruction string, context map[string]interface{}) string {
	body := instruction
	if len(context) > 0 {
		if raw, err := json.MarshalIndent(context, "", "  "); err == nil {
			body += "\n\n```json\n" + string(raw) + "\n```\n"
		}
	}
	return body
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
