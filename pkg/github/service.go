package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/security"
	"workspace-agent-backend/pkg/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidState   = errors.New("invalid or expired github state")
	ErrAppNotLinked   = errors.New("github app credentials are not configured")
	ErrUnknownInstall = errors.New("installation is not linked to any workspace")
)

const providerGitHubApp = "github_app"

// Store GitHub 集成所需的存储窄接口
type Store interface {
	UpsertGithubInstallation(inst *models.GithubInstallation) error
	ListGithubInstallations(workspaceID int64) ([]models.GithubInstallation, error)
	ResolveWorkspaceFromInstallation(installationID int64) (int64, error)
	CreateGithubRepo(repo *models.GithubRepo) error
	ListGithubRepos(workspaceID int64) ([]models.GithubRepo, error)
	SaveGithubEvent(ev *models.GithubEvent) error
}

// Service GitHub App 安装、仓库关联与 webhook 事件接入
type Service struct {
	cfg    *config.Config
	store  Store
	auth   *rbac.Authorizer
	signer *security.TokenSigner
	client *http.Client
	now    func() time.Time
}

func NewService(cfg *config.Config, store Store, auth *rbac.Authorizer, signer *security.TokenSigner) *Service {
	return &Service{
		cfg:    cfg,
		store:  store,
		auth:   auth,
		signer: signer,
		client: &http.Client{Timeout: 20 * time.Second},
		now:    time.Now,
	}
}

// InstallURL 生成 GitHub App 安装跳转地址（需要 github.link）
func (s *Service) InstallURL(workspaceID int64, actorEmail string) (map[string]interface{}, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "github.link"); err != nil {
		return nil, err
	}

	state, err := s.signer.Sign(map[string]interface{}{
		"provider":     providerGitHubApp,
		"workspace_id": workspaceID,
		"actor_email":  actorEmail,
		"nonce":        uuid.New().String(),
	}, s.cfg.StateTTL)
	if err != nil {
		return nil, err
	}

	slug := s.cfg.GitHubAppSlug
	if slug == "" {
		slug = "demo-app"
	}
	return map[string]interface{}{
		"install_url": fmt.Sprintf("https://github.com/apps/%s/installations/new?state=%s", slug, state),
		"state":       state,
		"app_linked":  s.cfg.GitHubAppSlug != "",
	}, nil
}

// Callback 安装回调：校验 state 与权限后登记 installation
func (s *Service) Callback(state string, installationID int64, accountLogin string) (*models.GithubInstallation, error) {
	claims, err := s.signer.Verify(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims["provider"] != providerGitHubApp {
		return nil, fmt.Errorf("%w: wrong provider", ErrInvalidState)
	}
	workspaceID := int64(0)
	if v, ok := claims["workspace_id"].(float64); ok {
		workspaceID = int64(v)
	}
	actorEmail, _ := claims["actor_email"].(string)
	if workspaceID == 0 || actorEmail == "" {
		return nil, fmt.Errorf("%w: incomplete claims", ErrInvalidState)
	}

	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "github.link"); err != nil {
		return nil, err
	}

	inst := &models.GithubInstallation{
		WorkspaceID:    workspaceID,
		InstallationID: installationID,
		AccountLogin:   accountLogin,
	}
	if err := s.store.UpsertGithubInstallation(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Installations 列出安装记录（需要 workspace.read）
func (s *Service) Installations(workspaceID int64, actorEmail string) ([]models.GithubInstallation, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, err
	}
	return s.store.ListGithubInstallations(workspaceID)
}

// RepoInfo GitHub API 仓库摘要
type RepoInfo struct {
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
}

// InstallationRepos 拉取 installation 可访问的仓库。
// 优先使用 App 私钥换 installation token，退回到配置的 PAT，
// 两者都没有时返回空列表和提示。
func (s *Service) InstallationRepos(workspaceID, installationID int64, actorEmail string) ([]RepoInfo, string, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, "", err
	}

	if s.cfg.GitHubAppID != "" && s.cfg.GitHubAppPrivateKey != "" {
		token, err := s.installationToken(installationID)
		if err != nil {
			return nil, "", err
		}
		repos, err := s.fetchRepos(s.cfg.GitHubAPIBaseURL+"/installation/repositories", "token "+token, true)
		return repos, "github-app", err
	}

	if s.cfg.GitHubAPIToken != "" {
		repos, err := s.fetchRepos(s.cfg.GitHubAPIBaseURL+"/user/repos?per_page=50", "token "+s.cfg.GitHubAPIToken, false)
		return repos, "api-token", err
	}

	return []RepoInfo{}, "GitHub App 자격 증명이 없어 저장소를 조회할 수 없습니다", nil
}

// appJWT RS256 短时 JWT，GitHub App 身份凭证
func (s *Service) appJWT() (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(s.cfg.GitHubAppPrivateKey))
	if err != nil {
		return "", fmt.Errorf("failed to parse github app private key: %w", err)
	}

	now := s.now()
	claims := jwt.MapClaims{
		"iat": now.Add(-time.Minute).Unix(),
		"exp": now.Add(9 * time.Minute).Unix(),
		"iss": s.cfg.GitHubAppID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
}

func (s *Service) installationToken(installationID int64) (string, error) {
	appToken, err := s.appJWT()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", s.cfg.GitHubAPIBaseURL, installationID)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+appToken)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach github: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusCreated {
		return "", &utils.UpstreamError{Service: "github", Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode installation token: %w", err)
	}
	return result.Token, nil
}

func (s *Service) fetchRepos(url, authorization string, wrapped bool) ([]RepoInfo, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach github: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return nil, &utils.UpstreamError{Service: "github", Status: resp.StatusCode, Body: string(body)}
	}

	if wrapped {
		// /installation/repositories wraps the list
		var result struct {
			Repositories []RepoInfo `json:"repositories"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to decode repositories: %w", err)
		}
		return result.Repositories, nil
	}

	var repos []RepoInfo
	if err := json.Unmarshal(body, &repos); err != nil {
		return nil, fmt.Errorf("failed to decode repositories: %w", err)
	}
	return repos, nil
}

// LinkRepo 关联仓库到工作区（需要 github.link）
func (s *Service) LinkRepo(workspaceID int64, actorEmail, fullName, description string, private bool) (*models.GithubRepo, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "github.link"); err != nil {
		return nil, err
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" || !strings.Contains(fullName, "/") {
		return nil, fmt.Errorf("full_name must look like owner/repo: %q", fullName)
	}

	repo := &models.GithubRepo{
		WorkspaceID: workspaceID,
		FullName:    fullName,
		Description: description,
		Private:     private,
		LinkedBy:    actorEmail,
	}
	if err := s.store.CreateGithubRepo(repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// LinkedRepos 列出关联仓库（需要 workspace.read）
func (s *Service) LinkedRepos(workspaceID int64, actorEmail string) ([]models.GithubRepo, error) {
	if _, err := s.auth.RequirePermission(workspaceID, actorEmail, "workspace.read"); err != nil {
		return nil, err
	}
	return s.store.ListGithubRepos(workspaceID)
}

// VerifySignature 校验 X-Hub-Signature-256。未配置 secret 时跳过校验。
func (s *Service) VerifySignature(body []byte, signatureHeader string) bool {
	if s.cfg.GitHubWebhookSecret == "" {
		return true
	}
	if !strings.HasPrefix(signatureHeader, "sha256=") {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.GitHubWebhookSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signatureHeader), []byte(expected))
}

// IngestEvent 从 webhook payload 解析 installation 并落库。
// installation 未关联任何工作区时返回 (nil, nil)，由调用方确认忽略。
func (s *Service) IngestEvent(eventType string, payload map[string]interface{}) (*models.GithubEvent, error) {
	installationID := int64(0)
	if inst, ok := payload["installation"].(map[string]interface{}); ok {
		if id, ok := inst["id"].(float64); ok {
			installationID = int64(id)
		}
	}
	if installationID == 0 {
		return nil, nil
	}

	workspaceID, err := s.store.ResolveWorkspaceFromInstallation(installationID)
	if err != nil {
		return nil, err
	}
	if workspaceID == 0 {
		return nil, nil
	}

	ev := &models.GithubEvent{
		WorkspaceID: workspaceID,
		EventType:   eventType,
		Payload:     payload,
	}
	if repo, ok := payload["repository"].(map[string]interface{}); ok {
		if name, ok := repo["full_name"].(string); ok {
			ev.Repo = name
		}
	}
	if sender, ok := payload["sender"].(map[string]interface{}); ok {
		if login, ok := sender["login"].(string); ok {
			ev.Actor = login
		}
	}

	if err := s.store.SaveGithubEvent(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
