package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"workspace-agent-backend/pkg/models"

	"github.com/lib/pq"
)

// PostgresDatabase PostgreSQL数据库实现
type PostgresDatabase struct {
	db *sql.DB
}

// NewPostgresDatabase 创建PostgreSQL数据库实例
func NewPostgresDatabase(dsn string) (*PostgresDatabase, error) {
	// Sanitize DSN to avoid stray CR/LF from env values
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "prefer_simple_protocol=true"),
		addConnectionParams(dsn, "prefer_simple_protocol=true&connect_timeout=10"),
		dsn, // 最后尝试原始DSN
	}

	var db *sql.DB
	var err error

	for i, strategy := range strategies {
		db, err = sql.Open("postgres", strategy)
		if err != nil {
			fmt.Printf("❌ Connection strategy %d failed to open: %v\n", i+1, err)
			continue
		}

		// 连接池参数
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err = db.Ping(); err != nil {
			fmt.Printf("❌ Connection strategy %d failed to ping: %v\n", i+1, err)
			db.Close()
			continue
		}

		fmt.Printf("✅ PostgreSQL connection established with strategy %d\n", i+1)
		return &PostgresDatabase{db: db}, nil
	}

	return nil, fmt.Errorf("all connection strategies failed: %w", err)
}

// addConnectionParams 添加连接参数到DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}

	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}

	return dsn + separator + params
}

func marshalJSON(v interface{}) []byte {
	if v == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func unmarshalMap(data []byte) map[string]interface{} {
	if len(data) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

// UpsertUser 创建或更新用户
func (db *PostgresDatabase) UpsertUser(email, displayName string) error {
	query := `
		INSERT INTO users (email, display_name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE users.display_name END,
			updated_at = NOW()
	`
	if _, err := db.db.Exec(query, email, displayName); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// GetUser 根据邮箱获取用户
func (db *PostgresDatabase) GetUser(email string) (*models.User, error) {
	query := `
		SELECT email, COALESCE(display_name,''), created_at, updated_at
		FROM users WHERE email = $1
	`
	var user models.User
	err := db.db.QueryRow(query, email).Scan(&user.Email, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// CreateWorkspace 创建工作区
func (db *PostgresDatabase) CreateWorkspace(ws *models.Workspace) error {
	query := `
		INSERT INTO workspaces (name, owner_email, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, ws.Name, ws.OwnerEmail).Scan(&ws.ID, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// GetWorkspace 获取工作区
func (db *PostgresDatabase) GetWorkspace(id int64) (*models.Workspace, error) {
	query := `
		SELECT id, name, owner_email, created_at, updated_at
		FROM workspaces WHERE id = $1
	`
	var ws models.Workspace
	err := db.db.QueryRow(query, id).Scan(&ws.ID, &ws.Name, &ws.OwnerEmail, &ws.CreatedAt, &ws.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace: %w", err)
	}
	return &ws, nil
}

// ListWorkspacesForUser 列出用户所属的全部工作区
func (db *PostgresDatabase) ListWorkspacesForUser(email string) ([]models.Workspace, error) {
	query := `
		SELECT w.id, w.name, w.owner_email, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_email = $1
		ORDER BY w.id
	`
	rows, err := db.db.Query(query, email)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var result []models.Workspace
	for rows.Next() {
		var ws models.Workspace
		if err := rows.Scan(&ws.ID, &ws.Name, &ws.OwnerEmail, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, ws)
	}
	return result, rows.Err()
}

// UpsertMembership 创建或更新成员关系
func (db *PostgresDatabase) UpsertMembership(m *models.Membership) error {
	query := `
		INSERT INTO workspace_members (workspace_id, user_email, role, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (workspace_id, user_email) DO UPDATE SET
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`
	err := db.db.QueryRow(query, m.WorkspaceID, m.UserEmail, string(m.Role)).Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert membership: %w", err)
	}
	return nil
}

// GetMembership 获取成员关系，查不到返回 (nil, nil)
func (db *PostgresDatabase) GetMembership(workspaceID int64, userEmail string) (*models.Membership, error) {
	query := `
		SELECT workspace_id, user_email, role, created_at, updated_at
		FROM workspace_members WHERE workspace_id = $1 AND user_email = $2
	`
	var m models.Membership
	var role string
	err := db.db.QueryRow(query, workspaceID, userEmail).Scan(&m.WorkspaceID, &m.UserEmail, &role, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	m.Role = models.Role(role)
	return &m, nil
}

// ListMembers 列出工作区全部成员
func (db *PostgresDatabase) ListMembers(workspaceID int64) ([]models.Membership, error) {
	query := `
		SELECT workspace_id, user_email, role, created_at, updated_at
		FROM workspace_members WHERE workspace_id = $1
		ORDER BY user_email
	`
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var result []models.Membership
	for rows.Next() {
		var m models.Membership
		var role string
		if err := rows.Scan(&m.WorkspaceID, &m.UserEmail, &role, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		m.Role = models.Role(role)
		result = append(result, m)
	}
	return result, rows.Err()
}

// UpdateMembershipRole 修改成员角色
func (db *PostgresDatabase) UpdateMembershipRole(workspaceID int64, userEmail string, role models.Role) (*models.Membership, error) {
	query := `
		UPDATE workspace_members SET role = $3, updated_at = NOW()
		WHERE workspace_id = $1 AND user_email = $2
		RETURNING workspace_id, user_email, role, created_at, updated_at
	`
	var m models.Membership
	var roleStr string
	err := db.db.QueryRow(query, workspaceID, userEmail, string(role)).
		Scan(&m.WorkspaceID, &m.UserEmail, &roleStr, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update membership role: %w", err)
	}
	m.Role = models.Role(roleStr)
	return &m, nil
}

// DeleteMembership 移除成员
func (db *PostgresDatabase) DeleteMembership(workspaceID int64, userEmail string) (bool, error) {
	result, err := db.db.Exec(`DELETE FROM workspace_members WHERE workspace_id = $1 AND user_email = $2`, workspaceID, userEmail)
	if err != nil {
		return false, fmt.Errorf("failed to delete membership: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// CreateApproval 创建审批请求
func (db *PostgresDatabase) CreateApproval(req *models.ApprovalRequest) error {
	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := `
		INSERT INTO approvals (workspace_id, request_type, payload, reason, status, requested_by, requested_at)
		VALUES ($1, $2, $3, $4, 'pending', $5, NOW())
		RETURNING id, status, requested_at
	`
	var status string
	err := db.db.QueryRow(query, req.WorkspaceID, req.RequestType, []byte(payload), req.Reason, req.RequestedBy).
		Scan(&req.ID, &status, &req.RequestedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval: %w", err)
	}
	req.Status = models.ApprovalStatus(status)
	return nil
}

func scanApproval(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	var status string
	var payload []byte
	var decidedBy sql.NullString
	var decidedAt sql.NullTime
	var note sql.NullString
	err := scanner.Scan(&req.ID, &req.WorkspaceID, &req.RequestType, &payload, &req.Reason,
		&status, &req.RequestedBy, &req.RequestedAt, &decidedBy, &decidedAt, &note)
	if err != nil {
		return nil, err
	}
	req.Status = models.ApprovalStatus(status)
	req.Payload = payload
	if decidedBy.Valid {
		req.DecidedBy = &decidedBy.String
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	req.DecisionNote = note.String
	return &req, nil
}

const approvalColumns = `id, workspace_id, request_type, payload, COALESCE(reason,''), status,
	requested_by, requested_at, decided_by, decided_at, decision_note`

// GetApproval 获取审批请求
func (db *PostgresDatabase) GetApproval(id int64) (*models.ApprovalRequest, error) {
	row := db.db.QueryRow(`SELECT `+approvalColumns+` FROM approvals WHERE id = $1`, id)
	req, err := scanApproval(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return req, nil
}

// ListApprovals 按状态筛选审批请求，按时间倒序
func (db *PostgresDatabase) ListApprovals(workspaceID int64, status string, limit int) ([]models.ApprovalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + approvalColumns + ` FROM approvals WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var result []models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	return result, rows.Err()
}

// DecideApproval 条件更新：仅 pending 可被裁决，返回是否命中
func (db *PostgresDatabase) DecideApproval(id int64, status models.ApprovalStatus, decidedBy, note string, decidedAt time.Time) (bool, error) {
	query := `
		UPDATE approvals
		SET status = $2, decided_by = $3, decided_at = $4, decision_note = $5
		WHERE id = $1 AND status = 'pending'
	`
	result, err := db.db.Exec(query, id, string(status), decidedBy, decidedAt, note)
	if err != nil {
		return false, fmt.Errorf("failed to decide approval: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// UpsertOAuthCredential 创建或更新凭证，空 refresh_token 保留已存值
func (db *PostgresDatabase) UpsertOAuthCredential(cred *models.OAuthCredential) error {
	query := `
		INSERT INTO oauth_accounts (provider, user_email, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (provider, user_email) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token <> '' THEN EXCLUDED.refresh_token ELSE oauth_accounts.refresh_token END,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
		RETURNING refresh_token, created_at, updated_at
	`
	err := db.db.QueryRow(query, cred.Provider, strings.ToLower(cred.UserEmail), cred.AccessToken,
		cred.RefreshToken, cred.TokenType, cred.Scope, cred.ExpiresAt).
		Scan(&cred.RefreshToken, &cred.CreatedAt, &cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert oauth credential: %w", err)
	}
	return nil
}

// GetOAuthCredential 获取凭证
func (db *PostgresDatabase) GetOAuthCredential(provider, userEmail string) (*models.OAuthCredential, error) {
	query := `
		SELECT provider, user_email, access_token, COALESCE(refresh_token,''), COALESCE(token_type,''),
		       COALESCE(scope,''), COALESCE(expires_at,''), created_at, updated_at
		FROM oauth_accounts WHERE provider = $1 AND user_email = $2
	`
	var cred models.OAuthCredential
	err := db.db.QueryRow(query, provider, strings.ToLower(userEmail)).Scan(
		&cred.Provider, &cred.UserEmail, &cred.AccessToken, &cred.RefreshToken,
		&cred.TokenType, &cred.Scope, &cred.ExpiresAt, &cred.CreatedAt, &cred.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get oauth credential: %w", err)
	}
	return &cred, nil
}

// UpdateOAuthAccessToken 刷新后只更新 access token 相关字段
func (db *PostgresDatabase) UpdateOAuthAccessToken(provider, userEmail, accessToken, tokenType, scope, expiresAt string) error {
	query := `
		UPDATE oauth_accounts
		SET access_token = $3,
		    token_type = $4,
		    scope = $5,
		    expires_at = $6,
		    updated_at = NOW()
		WHERE provider = $1 AND user_email = $2
	`
	if _, err := db.db.Exec(query, provider, strings.ToLower(userEmail), accessToken, tokenType, scope, expiresAt); err != nil {
		return fmt.Errorf("failed to update oauth access token: %w", err)
	}
	return nil
}

// DeleteOAuthCredential 断开连接
func (db *PostgresDatabase) DeleteOAuthCredential(provider, userEmail string) (bool, error) {
	result, err := db.db.Exec(`DELETE FROM oauth_accounts WHERE provider = $1 AND user_email = $2`, provider, strings.ToLower(userEmail))
	if err != nil {
		return false, fmt.Errorf("failed to delete oauth credential: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// CreateExecutionLog 创建 pending 状态的执行日志
func (db *PostgresDatabase) CreateExecutionLog(log *models.ExecutionLog) error {
	query := `
		INSERT INTO agent_execution_logs (workspace_id, user_email, instruction, context, status, steps, outputs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', '[]', '{}', NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, log.WorkspaceID, log.UserEmail, log.Instruction, marshalJSON(log.Context)).
		Scan(&log.ID, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create execution log: %w", err)
	}
	log.Status = models.ExecutionPending
	return nil
}

// CompleteExecutionLog 标记执行完成
func (db *PostgresDatabase) CompleteExecutionLog(id int64, steps []models.Step, outputs map[string]interface{}) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		stepsJSON = []byte("[]")
	}
	query := `
		UPDATE agent_execution_logs
		SET status = 'completed', steps = $2, outputs = $3, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := db.db.Exec(query, id, stepsJSON, marshalJSON(outputs)); err != nil {
		return fmt.Errorf("failed to complete execution log: %w", err)
	}
	return nil
}

// FailExecutionLog 标记执行失败
func (db *PostgresDatabase) FailExecutionLog(id int64, errorMessage string) error {
	query := `
		UPDATE agent_execution_logs
		SET status = 'failed', error_message = $2, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := db.db.Exec(query, id, errorMessage); err != nil {
		return fmt.Errorf("failed to fail execution log: %w", err)
	}
	return nil
}

func scanExecutionLog(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.ExecutionLog, error) {
	var log models.ExecutionLog
	var status string
	var contextJSON, stepsJSON, outputsJSON []byte
	var errorMessage sql.NullString
	err := scanner.Scan(&log.ID, &log.WorkspaceID, &log.UserEmail, &log.Instruction,
		&contextJSON, &status, &stepsJSON, &outputsJSON, &errorMessage, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return nil, err
	}
	log.Status = models.ExecutionStatus(status)
	log.Context = unmarshalMap(contextJSON)
	log.Outputs = unmarshalMap(outputsJSON)
	if len(stepsJSON) > 0 {
		_ = json.Unmarshal(stepsJSON, &log.Steps)
	}
	log.ErrorMessage = errorMessage.String
	return &log, nil
}

const executionLogColumns = `id, workspace_id, user_email, instruction, context, status, steps, outputs, error_message, created_at, updated_at`

// GetExecutionLog 获取执行日志
func (db *PostgresDatabase) GetExecutionLog(id int64) (*models.ExecutionLog, error) {
	row := db.db.QueryRow(`SELECT `+executionLogColumns+` FROM agent_execution_logs WHERE id = $1`, id)
	log, err := scanExecutionLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution log: %w", err)
	}
	return log, nil
}

// ListExecutionLogs 按时间倒序列出执行日志
func (db *PostgresDatabase) ListExecutionLogs(workspaceID int64, limit int) ([]models.ExecutionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM agent_execution_logs WHERE workspace_id = $1 ORDER BY id DESC LIMIT %d`, executionLogColumns, limit)
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var result []models.ExecutionLog
	for rows.Next() {
		log, err := scanExecutionLog(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *log)
	}
	return result, rows.Err()
}

// SaveGithubEvent 保存 webhook 事件
func (db *PostgresDatabase) SaveGithubEvent(ev *models.GithubEvent) error {
	query := `
		INSERT INTO github_events (workspace_id, event_type, repo, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	err := db.db.QueryRow(query, ev.WorkspaceID, ev.EventType, ev.Repo, ev.Actor, marshalJSON(ev.Payload)).
		Scan(&ev.ID, &ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save github event: %w", err)
	}
	return nil
}

func scanGithubEvent(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.GithubEvent, error) {
	var ev models.GithubEvent
	var payload []byte
	err := scanner.Scan(&ev.ID, &ev.WorkspaceID, &ev.EventType, &ev.Repo, &ev.Actor, &payload, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	ev.Payload = unmarshalMap(payload)
	return &ev, nil
}

const githubEventColumns = `id, workspace_id, event_type, COALESCE(repo,''), COALESCE(actor,''), payload, created_at`

// ListGithubEvents 最近事件，按时间倒序
func (db *PostgresDatabase) ListGithubEvents(workspaceID int64, limit int) ([]models.GithubEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT %s FROM github_events WHERE workspace_id = $1 ORDER BY id DESC LIMIT %d`, githubEventColumns, limit)
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list github events: %w", err)
	}
	defer rows.Close()

	var result []models.GithubEvent
	for rows.Next() {
		ev, err := scanGithubEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	return result, rows.Err()
}

// GithubEventsBetween 时间范围内的事件，按时间正序
func (db *PostgresDatabase) GithubEventsBetween(workspaceID int64, start, end time.Time) ([]models.GithubEvent, error) {
	query := `SELECT ` + githubEventColumns + ` FROM github_events
		WHERE workspace_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at`
	rows, err := db.db.Query(query, workspaceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query github events: %w", err)
	}
	defer rows.Close()

	var result []models.GithubEvent
	for rows.Next() {
		ev, err := scanGithubEvent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ev)
	}
	return result, rows.Err()
}

// UpsertGithubInstallation 以 installation_id 为键创建或更新
func (db *PostgresDatabase) UpsertGithubInstallation(inst *models.GithubInstallation) error {
	query := `
		INSERT INTO github_installations (workspace_id, installation_id, account_login, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (installation_id) DO UPDATE SET
			workspace_id = EXCLUDED.workspace_id,
			account_login = EXCLUDED.account_login,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, inst.WorkspaceID, inst.InstallationID, inst.AccountLogin).
		Scan(&inst.ID, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert github installation: %w", err)
	}
	return nil
}

// ListGithubInstallations 列出工作区的安装记录
func (db *PostgresDatabase) ListGithubInstallations(workspaceID int64) ([]models.GithubInstallation, error) {
	query := `
		SELECT id, workspace_id, installation_id, COALESCE(account_login,''), created_at, updated_at
		FROM github_installations WHERE workspace_id = $1 ORDER BY id
	`
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list github installations: %w", err)
	}
	defer rows.Close()

	var result []models.GithubInstallation
	for rows.Next() {
		var inst models.GithubInstallation
		if err := rows.Scan(&inst.ID, &inst.WorkspaceID, &inst.InstallationID, &inst.AccountLogin, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

// ResolveWorkspaceFromInstallation 未知 installation 返回 0
func (db *PostgresDatabase) ResolveWorkspaceFromInstallation(installationID int64) (int64, error) {
	var workspaceID int64
	err := db.db.QueryRow(`SELECT workspace_id FROM github_installations WHERE installation_id = $1`, installationID).Scan(&workspaceID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve workspace from installation: %w", err)
	}
	return workspaceID, nil
}

// CreateGithubRepo 关联仓库
func (db *PostgresDatabase) CreateGithubRepo(repo *models.GithubRepo) error {
	query := `
		INSERT INTO github_repos (workspace_id, full_name, description, private, linked_by, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id, created_at
	`
	err := db.db.QueryRow(query, repo.WorkspaceID, repo.FullName, repo.Description, repo.Private, repo.LinkedBy).
		Scan(&repo.ID, &repo.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create github repo: %w", err)
	}
	return nil
}

// ListGithubRepos 列出关联仓库
func (db *PostgresDatabase) ListGithubRepos(workspaceID int64) ([]models.GithubRepo, error) {
	query := `
		SELECT id, workspace_id, full_name, COALESCE(description,''), private, linked_by, created_at
		FROM github_repos WHERE workspace_id = $1 ORDER BY id
	`
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list github repos: %w", err)
	}
	defer rows.Close()

	var result []models.GithubRepo
	for rows.Next() {
		var repo models.GithubRepo
		if err := rows.Scan(&repo.ID, &repo.WorkspaceID, &repo.FullName, &repo.Description, &repo.Private, &repo.LinkedBy, &repo.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, repo)
	}
	return result, rows.Err()
}

// CreateInvoice 创建发票草稿
func (db *PostgresDatabase) CreateInvoice(inv *models.Invoice) error {
	query := `
		INSERT INTO billing_invoices (workspace_id, customer, business_no, supply_amount, tax_amount, total_amount, status, metadata, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'draft', $7, $8, NOW(), NOW())
		RETURNING id, status, created_at, updated_at
	`
	var status string
	err := db.db.QueryRow(query, inv.WorkspaceID, inv.Customer, inv.BusinessNo, inv.SupplyAmount,
		inv.TaxAmount, inv.TotalAmount, marshalJSON(inv.Metadata), inv.CreatedBy).
		Scan(&inv.ID, &status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}
	inv.Status = models.InvoiceStatus(status)
	return nil
}

func scanInvoice(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Invoice, error) {
	var inv models.Invoice
	var status string
	var metadata []byte
	err := scanner.Scan(&inv.ID, &inv.WorkspaceID, &inv.Customer, &inv.BusinessNo, &inv.SupplyAmount,
		&inv.TaxAmount, &inv.TotalAmount, &status, &metadata, &inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = models.InvoiceStatus(status)
	inv.Metadata = unmarshalMap(metadata)
	return &inv, nil
}

const invoiceColumns = `id, workspace_id, customer, COALESCE(business_no,''), supply_amount, tax_amount, total_amount, status, metadata, created_by, created_at, updated_at`

// GetInvoice 获取发票（限定工作区）
func (db *PostgresDatabase) GetInvoice(workspaceID, invoiceID int64) (*models.Invoice, error) {
	row := db.db.QueryRow(`SELECT `+invoiceColumns+` FROM billing_invoices WHERE workspace_id = $1 AND id = $2`, workspaceID, invoiceID)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	return inv, nil
}

// ListInvoices 按时间倒序列出发票
func (db *PostgresDatabase) ListInvoices(workspaceID int64, limit int) ([]models.Invoice, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM billing_invoices WHERE workspace_id = $1 ORDER BY id DESC LIMIT %d`, invoiceColumns, limit)
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var result []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *inv)
	}
	return result, rows.Err()
}

// IssueInvoice 条件更新：仅 draft 可开具，metadata 合并新键
func (db *PostgresDatabase) IssueInvoice(workspaceID, invoiceID int64, metadata map[string]interface{}) (bool, error) {
	query := `
		UPDATE billing_invoices
		SET status = 'issued', metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE workspace_id = $1 AND id = $2 AND status = 'draft'
	`
	result, err := db.db.Exec(query, workspaceID, invoiceID, marshalJSON(metadata))
	if err != nil {
		return false, fmt.Errorf("failed to issue invoice: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// CreateReport 保存报告
func (db *PostgresDatabase) CreateReport(rep *models.Report) error {
	query := `
		INSERT INTO reports (workspace_id, report_type, period_start, period_end, title, content, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id, created_at
	`
	err := db.db.QueryRow(query, rep.WorkspaceID, rep.ReportType, rep.PeriodStart, rep.PeriodEnd,
		rep.Title, rep.Content, rep.CreatedBy).Scan(&rep.ID, &rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	return nil
}

// ListReports 按时间倒序列出报告
func (db *PostgresDatabase) ListReports(workspaceID int64, reportType string, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, workspace_id, report_type, period_start, period_end, title, content, created_by, created_at
		FROM reports WHERE workspace_id = $1
	`
	args := []interface{}{workspaceID}
	if reportType != "" {
		query += ` AND report_type = $2`
		args = append(args, reportType)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var result []models.Report
	for rows.Next() {
		var rep models.Report
		if err := rows.Scan(&rep.ID, &rep.WorkspaceID, &rep.ReportType, &rep.PeriodStart, &rep.PeriodEnd,
			&rep.Title, &rep.Content, &rep.CreatedBy, &rep.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, rep)
	}
	return result, rows.Err()
}

// CreateDoc 创建文档
func (db *PostgresDatabase) CreateDoc(doc *models.Doc) error {
	query := `
		INSERT INTO docs (workspace_id, space, title, content, tags, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := db.db.QueryRow(query, doc.WorkspaceID, doc.Space, doc.Title, doc.Content,
		pq.Array(doc.Tags), doc.CreatedBy).Scan(&doc.ID, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create doc: %w", err)
	}
	return nil
}

func scanDoc(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.Doc, error) {
	var doc models.Doc
	var tags pq.StringArray
	err := scanner.Scan(&doc.ID, &doc.WorkspaceID, &doc.Space, &doc.Title, &doc.Content,
		&tags, &doc.CreatedBy, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Tags = tags
	return &doc, nil
}

const docColumns = `id, workspace_id, space, title, content, tags, created_by, created_at, updated_at`

// GetDoc 获取文档
func (db *PostgresDatabase) GetDoc(id int64) (*models.Doc, error) {
	row := db.db.QueryRow(`SELECT `+docColumns+` FROM docs WHERE id = $1`, id)
	doc, err := scanDoc(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get doc: %w", err)
	}
	return doc, nil
}

// ListDocs 列出文档，space 为空时不筛选
func (db *PostgresDatabase) ListDocs(workspaceID int64, space string, limit int) ([]models.Doc, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + docColumns + ` FROM docs WHERE workspace_id = $1`
	args := []interface{}{workspaceID}
	if space != "" {
		query += ` AND space = $2`
		args = append(args, space)
	}
	query += fmt.Sprintf(` ORDER BY id DESC LIMIT %d`, limit)

	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list docs: %w", err)
	}
	defer rows.Close()

	var result []models.Doc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *doc)
	}
	return result, rows.Err()
}

// UpdateDoc 更新文档
func (db *PostgresDatabase) UpdateDoc(doc *models.Doc) error {
	query := `
		UPDATE docs SET space = $2, title = $3, content = $4, tags = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`
	err := db.db.QueryRow(query, doc.ID, doc.Space, doc.Title, doc.Content, pq.Array(doc.Tags)).Scan(&doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to update doc: %w", err)
	}
	return nil
}

// DeleteDoc 删除文档
func (db *PostgresDatabase) DeleteDoc(id int64) (bool, error) {
	result, err := db.db.Exec(`DELETE FROM docs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete doc: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// SearchDocs 标题/正文 ILIKE 匹配
func (db *PostgresDatabase) SearchDocs(workspaceID int64, query string, limit int) ([]models.Doc, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	sqlQuery := fmt.Sprintf(`SELECT %s FROM docs
		WHERE workspace_id = $1 AND (title ILIKE $2 OR content ILIKE $2)
		ORDER BY id DESC LIMIT %d`, docColumns, limit)
	rows, err := db.db.Query(sqlQuery, workspaceID, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to search docs: %w", err)
	}
	defer rows.Close()

	var result []models.Doc
	for rows.Next() {
		doc, err := scanDoc(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *doc)
	}
	return result, rows.Err()
}

// CreateChannel 创建聊天频道
func (db *PostgresDatabase) CreateChannel(ch *models.ChatChannel) error {
	query := `
		INSERT INTO chat_channels (workspace_id, name, created_by, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	err := db.db.QueryRow(query, ch.WorkspaceID, ch.Name, ch.CreatedBy).Scan(&ch.ID, &ch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}
	return nil
}

// GetChannel 获取频道
func (db *PostgresDatabase) GetChannel(id int64) (*models.ChatChannel, error) {
	query := `SELECT id, workspace_id, name, created_by, created_at FROM chat_channels WHERE id = $1`
	var ch models.ChatChannel
	err := db.db.QueryRow(query, id).Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.CreatedBy, &ch.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return &ch, nil
}

// ListChannels 列出工作区频道
func (db *PostgresDatabase) ListChannels(workspaceID int64) ([]models.ChatChannel, error) {
	query := `SELECT id, workspace_id, name, created_by, created_at FROM chat_channels WHERE workspace_id = $1 ORDER BY id`
	rows, err := db.db.Query(query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var result []models.ChatChannel
	for rows.Next() {
		var ch models.ChatChannel
		if err := rows.Scan(&ch.ID, &ch.WorkspaceID, &ch.Name, &ch.CreatedBy, &ch.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, ch)
	}
	return result, rows.Err()
}

// PostMessage 发送消息
func (db *PostgresDatabase) PostMessage(msg *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (channel_id, sender, content, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	err := db.db.QueryRow(query, msg.ChannelID, msg.Sender, msg.Content).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to post message: %w", err)
	}
	return nil
}

// ListMessages 频道消息，按时间正序
func (db *PostgresDatabase) ListMessages(channelID int64, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, channel_id, sender, content, created_at FROM (
			SELECT id, channel_id, sender, content, created_at
			FROM chat_messages WHERE channel_id = $1 ORDER BY id DESC LIMIT %d
		) recent ORDER BY id`, limit)
	rows, err := db.db.Query(query, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var result []models.ChatMessage
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.Sender, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, msg)
	}
	return result, rows.Err()
}

// HealthCheck 健康检查
func (db *PostgresDatabase) HealthCheck() error {
	return db.db.Ping()
}

// Close 关闭连接
func (db *PostgresDatabase) Close() error {
	return db.db.Close()
}
