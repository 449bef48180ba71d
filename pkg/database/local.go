package database

import (
	"sort"
	"strings"
	"sync"
	"time"

	"workspace-agent-backend/pkg/models"
)

// LocalDatabase 内存数据库实现（开发与测试用）。
// 所有方法持有同一把锁，条件更新因此天然满足"只生效一次"。
type LocalDatabase struct {
	mu sync.Mutex

	users       map[string]*models.User
	workspaces  map[int64]*models.Workspace
	memberships map[int64]map[string]*models.Membership

	approvals   map[int64]*models.ApprovalRequest
	credentials map[string]*models.OAuthCredential

	executions map[int64]*models.ExecutionLog

	events        []*models.GithubEvent
	installations map[int64]*models.GithubInstallation
	repos         []*models.GithubRepo

	invoices map[int64]*models.Invoice
	reports  []*models.Report
	docs     map[int64]*models.Doc
	channels map[int64]*models.ChatChannel
	messages []*models.ChatMessage

	nextID int64
}

// NewLocalDatabase 创建内存数据库实例
func NewLocalDatabase() *LocalDatabase {
	return &LocalDatabase{
		users:         make(map[string]*models.User),
		workspaces:    make(map[int64]*models.Workspace),
		memberships:   make(map[int64]map[string]*models.Membership),
		approvals:     make(map[int64]*models.ApprovalRequest),
		credentials:   make(map[string]*models.OAuthCredential),
		executions:    make(map[int64]*models.ExecutionLog),
		installations: make(map[int64]*models.GithubInstallation),
		invoices:      make(map[int64]*models.Invoice),
		docs:          make(map[int64]*models.Doc),
		channels:      make(map[int64]*models.ChatChannel),
	}
}

func (db *LocalDatabase) nextSerial() int64 {
	db.nextID++
	return db.nextID
}

func credentialKey(provider, userEmail string) string {
	return provider + "|" + strings.ToLower(userEmail)
}

// UpsertUser 创建或更新用户
func (db *LocalDatabase) UpsertUser(email, displayName string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	if existing, ok := db.users[email]; ok {
		if displayName != "" {
			existing.DisplayName = displayName
		}
		existing.UpdatedAt = now
		return nil
	}
	db.users[email] = &models.User{
		Email:       email,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return nil
}

// GetUser 根据邮箱获取用户
func (db *LocalDatabase) GetUser(email string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	user, ok := db.users[email]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

// CreateWorkspace 创建工作区
func (db *LocalDatabase) CreateWorkspace(ws *models.Workspace) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ws.ID = db.nextSerial()
	ws.CreatedAt = time.Now()
	ws.UpdatedAt = ws.CreatedAt
	copied := *ws
	db.workspaces[ws.ID] = &copied
	return nil
}

// GetWorkspace 获取工作区
func (db *LocalDatabase) GetWorkspace(id int64) (*models.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ws, ok := db.workspaces[id]
	if !ok {
		return nil, nil
	}
	copied := *ws
	return &copied, nil
}

// ListWorkspacesForUser 列出用户所属的全部工作区
func (db *LocalDatabase) ListWorkspacesForUser(email string) ([]models.Workspace, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Workspace
	for wsID, members := range db.memberships {
		if _, ok := members[email]; ok {
			if ws, found := db.workspaces[wsID]; found {
				result = append(result, *ws)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpsertMembership 创建或更新成员关系
func (db *LocalDatabase) UpsertMembership(m *models.Membership) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	members, ok := db.memberships[m.WorkspaceID]
	if !ok {
		members = make(map[string]*models.Membership)
		db.memberships[m.WorkspaceID] = members
	}
	if existing, found := members[m.UserEmail]; found {
		existing.Role = m.Role
		existing.UpdatedAt = now
		*m = *existing
		return nil
	}
	m.CreatedAt = now
	m.UpdatedAt = now
	copied := *m
	members[m.UserEmail] = &copied
	return nil
}

// GetMembership 获取成员关系，查不到返回 (nil, nil)
func (db *LocalDatabase) GetMembership(workspaceID int64, userEmail string) (*models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, ok := db.memberships[workspaceID]
	if !ok {
		return nil, nil
	}
	m, ok := members[userEmail]
	if !ok {
		return nil, nil
	}
	copied := *m
	return &copied, nil
}

// ListMembers 列出工作区全部成员
func (db *LocalDatabase) ListMembers(workspaceID int64) ([]models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Membership
	for _, m := range db.memberships[workspaceID] {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserEmail < result[j].UserEmail })
	return result, nil
}

// UpdateMembershipRole 修改成员角色
func (db *LocalDatabase) UpdateMembershipRole(workspaceID int64, userEmail string, role models.Role) (*models.Membership, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, ok := db.memberships[workspaceID]
	if !ok {
		return nil, nil
	}
	m, ok := members[userEmail]
	if !ok {
		return nil, nil
	}
	m.Role = role
	m.UpdatedAt = time.Now()
	copied := *m
	return &copied, nil
}

// DeleteMembership 移除成员
func (db *LocalDatabase) DeleteMembership(workspaceID int64, userEmail string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	members, ok := db.memberships[workspaceID]
	if !ok {
		return false, nil
	}
	if _, found := members[userEmail]; !found {
		return false, nil
	}
	delete(members, userEmail)
	return true, nil
}

// CreateApproval 创建审批请求
func (db *LocalDatabase) CreateApproval(req *models.ApprovalRequest) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	req.ID = db.nextSerial()
	req.Status = models.ApprovalPending
	req.RequestedAt = time.Now()
	copied := *req
	db.approvals[req.ID] = &copied
	return nil
}

// GetApproval 获取审批请求
func (db *LocalDatabase) GetApproval(id int64) (*models.ApprovalRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	req, ok := db.approvals[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

// ListApprovals 按状态筛选审批请求，按时间倒序
func (db *LocalDatabase) ListApprovals(workspaceID int64, status string, limit int) ([]models.ApprovalRequest, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.ApprovalRequest
	for _, req := range db.approvals {
		if req.WorkspaceID != workspaceID {
			continue
		}
		if status != "" && string(req.Status) != status {
			continue
		}
		result = append(result, *req)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// DecideApproval 条件更新：仅 pending 可被裁决，返回是否命中
func (db *LocalDatabase) DecideApproval(id int64, status models.ApprovalStatus, decidedBy, note string, decidedAt time.Time) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	req, ok := db.approvals[id]
	if !ok {
		return false, nil
	}
	if req.Status != models.ApprovalPending {
		return false, nil
	}
	req.Status = status
	req.DecidedBy = &decidedBy
	req.DecidedAt = &decidedAt
	req.DecisionNote = note
	return true, nil
}

// UpsertOAuthCredential 创建或更新凭证，空 refresh_token 保留已存值
func (db *LocalDatabase) UpsertOAuthCredential(cred *models.OAuthCredential) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	key := credentialKey(cred.Provider, cred.UserEmail)
	if existing, ok := db.credentials[key]; ok {
		existing.AccessToken = cred.AccessToken
		if cred.RefreshToken != "" {
			existing.RefreshToken = cred.RefreshToken
		}
		existing.TokenType = cred.TokenType
		existing.Scope = cred.Scope
		existing.ExpiresAt = cred.ExpiresAt
		existing.UpdatedAt = now
		*cred = *existing
		return nil
	}
	cred.CreatedAt = now
	cred.UpdatedAt = now
	copied := *cred
	db.credentials[key] = &copied
	return nil
}

// GetOAuthCredential 获取凭证
func (db *LocalDatabase) GetOAuthCredential(provider, userEmail string) (*models.OAuthCredential, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	cred, ok := db.credentials[credentialKey(provider, userEmail)]
	if !ok {
		return nil, nil
	}
	copied := *cred
	return &copied, nil
}

// UpdateOAuthAccessToken 刷新结果整体覆盖 access token、token type、scope 与过期时间。
// refresh token 不在覆盖范围内，永不被清空。
func (db *LocalDatabase) UpdateOAuthAccessToken(provider, userEmail, accessToken, tokenType, scope, expiresAt string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	cred, ok := db.credentials[credentialKey(provider, userEmail)]
	if !ok {
		return nil
	}
	cred.AccessToken = accessToken
	cred.TokenType = tokenType
	cred.Scope = scope
	cred.ExpiresAt = expiresAt
	cred.UpdatedAt = time.Now()
	return nil
}

// DeleteOAuthCredential 断开连接
func (db *LocalDatabase) DeleteOAuthCredential(provider, userEmail string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := credentialKey(provider, userEmail)
	if _, ok := db.credentials[key]; !ok {
		return false, nil
	}
	delete(db.credentials, key)
	return true, nil
}

// CreateExecutionLog 创建 pending 状态的执行日志
func (db *LocalDatabase) CreateExecutionLog(log *models.ExecutionLog) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	log.ID = db.nextSerial()
	log.Status = models.ExecutionPending
	log.CreatedAt = time.Now()
	log.UpdatedAt = log.CreatedAt
	copied := *log
	db.executions[log.ID] = &copied
	return nil
}

// CompleteExecutionLog 标记执行完成
func (db *LocalDatabase) CompleteExecutionLog(id int64, steps []models.Step, outputs map[string]interface{}) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	log, ok := db.executions[id]
	if !ok {
		return nil
	}
	log.Status = models.ExecutionCompleted
	log.Steps = steps
	log.Outputs = outputs
	log.UpdatedAt = time.Now()
	return nil
}

// FailExecutionLog 标记执行失败
func (db *LocalDatabase) FailExecutionLog(id int64, errorMessage string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	log, ok := db.executions[id]
	if !ok {
		return nil
	}
	log.Status = models.ExecutionFailed
	log.ErrorMessage = errorMessage
	log.UpdatedAt = time.Now()
	return nil
}

// GetExecutionLog 获取执行日志
func (db *LocalDatabase) GetExecutionLog(id int64) (*models.ExecutionLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	log, ok := db.executions[id]
	if !ok {
		return nil, nil
	}
	copied := *log
	return &copied, nil
}

// ListExecutionLogs 按时间倒序列出执行日志
func (db *LocalDatabase) ListExecutionLogs(workspaceID int64, limit int) ([]models.ExecutionLog, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.ExecutionLog
	for _, log := range db.executions {
		if log.WorkspaceID == workspaceID {
			result = append(result, *log)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SaveGithubEvent 保存 webhook 事件
func (db *LocalDatabase) SaveGithubEvent(ev *models.GithubEvent) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ev.ID = db.nextSerial()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	copied := *ev
	db.events = append(db.events, &copied)
	return nil
}

// ListGithubEvents 最近事件，按时间倒序
func (db *LocalDatabase) ListGithubEvents(workspaceID int64, limit int) ([]models.GithubEvent, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.GithubEvent
	for i := len(db.events) - 1; i >= 0; i-- {
		if db.events[i].WorkspaceID == workspaceID {
			result = append(result, *db.events[i])
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// GithubEventsBetween 时间范围内的事件，按时间正序
func (db *LocalDatabase) GithubEventsBetween(workspaceID int64, start, end time.Time) ([]models.GithubEvent, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.GithubEvent
	for _, ev := range db.events {
		if ev.WorkspaceID != workspaceID {
			continue
		}
		if ev.CreatedAt.Before(start) || ev.CreatedAt.After(end) {
			continue
		}
		result = append(result, *ev)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// UpsertGithubInstallation 以 installation_id 为键创建或更新
func (db *LocalDatabase) UpsertGithubInstallation(inst *models.GithubInstallation) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := time.Now()
	if existing, ok := db.installations[inst.InstallationID]; ok {
		existing.WorkspaceID = inst.WorkspaceID
		existing.AccountLogin = inst.AccountLogin
		existing.UpdatedAt = now
		*inst = *existing
		return nil
	}
	inst.ID = db.nextSerial()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	copied := *inst
	db.installations[inst.InstallationID] = &copied
	return nil
}

// ListGithubInstallations 列出工作区的安装记录
func (db *LocalDatabase) ListGithubInstallations(workspaceID int64) ([]models.GithubInstallation, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.GithubInstallation
	for _, inst := range db.installations {
		if inst.WorkspaceID == workspaceID {
			result = append(result, *inst)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// ResolveWorkspaceFromInstallation 未知 installation 返回 0
func (db *LocalDatabase) ResolveWorkspaceFromInstallation(installationID int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	inst, ok := db.installations[installationID]
	if !ok {
		return 0, nil
	}
	return inst.WorkspaceID, nil
}

// CreateGithubRepo 关联仓库
func (db *LocalDatabase) CreateGithubRepo(repo *models.GithubRepo) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	repo.ID = db.nextSerial()
	repo.CreatedAt = time.Now()
	copied := *repo
	db.repos = append(db.repos, &copied)
	return nil
}

// ListGithubRepos 列出关联仓库
func (db *LocalDatabase) ListGithubRepos(workspaceID int64) ([]models.GithubRepo, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.GithubRepo
	for _, repo := range db.repos {
		if repo.WorkspaceID == workspaceID {
			result = append(result, *repo)
		}
	}
	return result, nil
}

// CreateInvoice 创建发票草稿
func (db *LocalDatabase) CreateInvoice(inv *models.Invoice) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	inv.ID = db.nextSerial()
	inv.Status = models.InvoiceDraft
	inv.CreatedAt = time.Now()
	inv.UpdatedAt = inv.CreatedAt
	copied := *inv
	db.invoices[inv.ID] = &copied
	return nil
}

// GetInvoice 获取发票（限定工作区）
func (db *LocalDatabase) GetInvoice(workspaceID, invoiceID int64) (*models.Invoice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	inv, ok := db.invoices[invoiceID]
	if !ok || inv.WorkspaceID != workspaceID {
		return nil, nil
	}
	copied := *inv
	return &copied, nil
}

// ListInvoices 按时间倒序列出发票
func (db *LocalDatabase) ListInvoices(workspaceID int64, limit int) ([]models.Invoice, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Invoice
	for _, inv := range db.invoices {
		if inv.WorkspaceID == workspaceID {
			result = append(result, *inv)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// IssueInvoice 条件更新：仅 draft 可开具，返回是否命中
func (db *LocalDatabase) IssueInvoice(workspaceID, invoiceID int64, metadata map[string]interface{}) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	inv, ok := db.invoices[invoiceID]
	if !ok || inv.WorkspaceID != workspaceID {
		return false, nil
	}
	if inv.Status != models.InvoiceDraft {
		return false, nil
	}
	inv.Status = models.InvoiceIssued
	if inv.Metadata == nil {
		inv.Metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		inv.Metadata[k] = v
	}
	inv.UpdatedAt = time.Now()
	return true, nil
}

// CreateReport 保存报告
func (db *LocalDatabase) CreateReport(rep *models.Report) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	rep.ID = db.nextSerial()
	rep.CreatedAt = time.Now()
	copied := *rep
	db.reports = append(db.reports, &copied)
	return nil
}

// ListReports 按时间倒序列出报告
func (db *LocalDatabase) ListReports(workspaceID int64, reportType string, limit int) ([]models.Report, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Report
	for i := len(db.reports) - 1; i >= 0; i-- {
		rep := db.reports[i]
		if rep.WorkspaceID != workspaceID {
			continue
		}
		if reportType != "" && rep.ReportType != reportType {
			continue
		}
		result = append(result, *rep)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// CreateDoc 创建文档
func (db *LocalDatabase) CreateDoc(doc *models.Doc) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc.ID = db.nextSerial()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	copied := *doc
	db.docs[doc.ID] = &copied
	return nil
}

// GetDoc 获取文档
func (db *LocalDatabase) GetDoc(id int64) (*models.Doc, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc, ok := db.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

// ListDocs 列出文档，space 为空时不筛选
func (db *LocalDatabase) ListDocs(workspaceID int64, space string, limit int) ([]models.Doc, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.Doc
	for _, doc := range db.docs {
		if doc.WorkspaceID != workspaceID {
			continue
		}
		if space != "" && doc.Space != space {
			continue
		}
		result = append(result, *doc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateDoc 更新文档
func (db *LocalDatabase) UpdateDoc(doc *models.Doc) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	existing, ok := db.docs[doc.ID]
	if !ok {
		return nil
	}
	existing.Title = doc.Title
	existing.Content = doc.Content
	existing.Space = doc.Space
	existing.Tags = doc.Tags
	existing.UpdatedAt = time.Now()
	*doc = *existing
	return nil
}

// DeleteDoc 删除文档
func (db *LocalDatabase) DeleteDoc(id int64) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.docs[id]; !ok {
		return false, nil
	}
	delete(db.docs, id)
	return true, nil
}

// SearchDocs 标题/正文子串匹配（大小写不敏感）
func (db *LocalDatabase) SearchDocs(workspaceID int64, query string, limit int) ([]models.Doc, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	needle := strings.ToLower(query)
	var result []models.Doc
	for _, doc := range db.docs {
		if doc.WorkspaceID != workspaceID {
			continue
		}
		if !strings.Contains(strings.ToLower(doc.Title), needle) &&
			!strings.Contains(strings.ToLower(doc.Content), needle) {
			continue
		}
		result = append(result, *doc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// CreateChannel 创建聊天频道
func (db *LocalDatabase) CreateChannel(ch *models.ChatChannel) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	ch.ID = db.nextSerial()
	ch.CreatedAt = time.Now()
	copied := *ch
	db.channels[ch.ID] = &copied
	return nil
}

// GetChannel 获取频道
func (db *LocalDatabase) GetChannel(id int64) (*models.ChatChannel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ch, ok := db.channels[id]
	if !ok {
		return nil, nil
	}
	copied := *ch
	return &copied, nil
}

// ListChannels 列出工作区频道
func (db *LocalDatabase) ListChannels(workspaceID int64) ([]models.ChatChannel, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.ChatChannel
	for _, ch := range db.channels {
		if ch.WorkspaceID == workspaceID {
			result = append(result, *ch)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// PostMessage 发送消息
func (db *LocalDatabase) PostMessage(msg *models.ChatMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	msg.ID = db.nextSerial()
	msg.CreatedAt = time.Now()
	copied := *msg
	db.messages = append(db.messages, &copied)
	return nil
}

// ListMessages 频道消息，按时间正序
func (db *LocalDatabase) ListMessages(channelID int64, limit int) ([]models.ChatMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var result []models.ChatMessage
	for _, msg := range db.messages {
		if msg.ChannelID == channelID {
			result = append(result, *msg)
		}
	}
	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

// HealthCheck 健康检查
func (db *LocalDatabase) HealthCheck() error {
	return nil
}

// Close 关闭连接（内存数据库无需关闭）
func (db *LocalDatabase) Close() error {
	return nil
}
