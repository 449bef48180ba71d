package oauth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/security"
	"workspace-agent-backend/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrInvalidState     = errors.New("invalid or expired oauth state")
	ErrIdentityMismatch = errors.New("google account does not match the requested user")
	ErrCannotRefresh    = errors.New("access token expired and no refresh token is stored")
)

const (
	providerGoogle = "google"

	// offline access + consent so Google returns a refresh token
	googleScopes = "openid email profile https://www.googleapis.com/auth/calendar https://www.googleapis.com/auth/drive https://www.googleapis.com/auth/tasks"

	// refresh ahead of expiry by this margin
	refreshAhead = 2 * time.Minute
)

// Store OAuth 凭证存储的窄接口
type Store interface {
	GetOAuthCredential(provider, userEmail string) (*models.OAuthCredential, error)
	UpsertOAuthCredential(cred *models.OAuthCredential) error
	UpdateOAuthAccessToken(provider, userEmail, accessToken, tokenType, scope, expiresAt string) error
	DeleteOAuthCredential(provider, userEmail string) (bool, error)
}

// GoogleManager Google OAuth 凭证生命周期管理。
// 未配置 client 凭证且允许 mock 时走 mock 模式，换取确定性的假 token，
// 其余流程（state 校验、sticky refresh token、提前刷新）与真实模式一致。
type GoogleManager struct {
	cfg    *config.Config
	store  Store
	signer *security.TokenSigner
	client *http.Client
	now    func() time.Time
}

// ConnectInfo 连接引导信息
type ConnectInfo struct {
	AuthURL  string `json:"auth_url"`
	State    string `json:"state"`
	MockMode bool   `json:"mock_mode"`
}

// CallbackResult 回调处理结果
type CallbackResult struct {
	WorkspaceID int64                `json:"workspace_id"`
	Account     *models.OAuthAccount `json:"account"`
}

// TokenStatus EnsureValidAccessToken 的结果
type TokenStatus struct {
	Connected  bool
	Refreshed  bool
	Credential *models.OAuthCredential
}

func NewGoogleManager(cfg *config.Config, store Store, signer *security.TokenSigner) *GoogleManager {
	return &GoogleManager{
		cfg:    cfg,
		store:  store,
		signer: signer,
		client: &http.Client{Timeout: 15 * time.Second},
		now:    time.Now,
	}
}

func (m *GoogleManager) mockMode() bool {
	return !m.cfg.HasGoogleCredentials() && m.cfg.AllowMockAuth
}

// ConnectURL 生成带签名 state 的授权跳转地址
func (m *GoogleManager) ConnectURL(workspaceID int64, userEmail string) (*ConnectInfo, error) {
	state, err := m.signer.Sign(map[string]interface{}{
		"provider":     providerGoogle,
		"workspace_id": workspaceID,
		"user_email":   strings.ToLower(userEmail),
		"nonce":        uuid.New().String(),
	}, m.cfg.StateTTL)
	if err != nil {
		return nil, err
	}

	clientID := m.cfg.GoogleClientID
	if m.mockMode() {
		clientID = "mock-client"
	}

	params := url.Values{}
	params.Set("client_id", clientID)
	params.Set("redirect_uri", m.cfg.GoogleRedirectURI)
	params.Set("response_type", "code")
	params.Set("scope", googleScopes)
	params.Set("access_type", "offline")
	params.Set("prompt", "consent")
	params.Set("state", state)

	return &ConnectInfo{
		AuthURL:  m.cfg.GoogleAuthURL + "?" + params.Encode(),
		State:    state,
		MockMode: m.mockMode(),
	}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope"`
	ExpiresIn    int    `json:"expires_in"`
}

// Callback 校验 state、换 code、核对身份后落库。
// 身份不匹配时在任何写入发生之前失败。
func (m *GoogleManager) Callback(code, state string) (*CallbackResult, error) {
	claims, err := m.signer.Verify(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if claims["provider"] != providerGoogle {
		return nil, fmt.Errorf("%w: wrong provider", ErrInvalidState)
	}
	stateEmail, _ := claims["user_email"].(string)
	if stateEmail == "" {
		return nil, fmt.Errorf("%w: missing user_email", ErrInvalidState)
	}
	workspaceID := int64(0)
	if v, ok := claims["workspace_id"].(float64); ok {
		workspaceID = int64(v)
	}

	token, err := m.exchangeCode(code)
	if err != nil {
		return nil, err
	}

	// identity check before any write
	if !strings.HasPrefix(token.AccessToken, "mock_") {
		identity, err := m.fetchUserinfoEmail(token.AccessToken)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(identity, stateEmail) {
			return nil, fmt.Errorf("%w: connected %s, expected %s", ErrIdentityMismatch, identity, stateEmail)
		}
	}

	cred := &models.OAuthCredential{
		Provider:     providerGoogle,
		UserEmail:    strings.ToLower(stateEmail),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Scope:        token.Scope,
		ExpiresAt:    m.expiryFromNow(token.ExpiresIn),
	}
	if err := m.store.UpsertOAuthCredential(cred); err != nil {
		return nil, err
	}

	return &CallbackResult{
		WorkspaceID: workspaceID,
		Account:     accountView(cred),
	}, nil
}

func (m *GoogleManager) exchangeCode(code string) (*tokenResponse, error) {
	if m.mockMode() {
		suffix := code
		if len(suffix) > 12 {
			suffix = suffix[:12]
		}
		return &tokenResponse{
			AccessToken:  "mock_access_" + suffix,
			RefreshToken: "mock_refresh_" + suffix,
			TokenType:    "Bearer",
			Scope:        googleScopes,
			ExpiresIn:    3600,
		}, nil
	}

	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", m.cfg.GoogleClientID)
	form.Set("client_secret", m.cfg.GoogleClientSecret)
	form.Set("redirect_uri", m.cfg.GoogleRedirectURI)
	form.Set("grant_type", "authorization_code")

	return m.postTokenEndpoint(form)
}

func (m *GoogleManager) refreshWithToken(refreshToken string) (*tokenResponse, error) {
	if m.mockMode() || strings.HasPrefix(refreshToken, "mock_") {
		nonce, err := utils.GenerateURLToken(8)
		if err != nil {
			return nil, err
		}
		return &tokenResponse{
			AccessToken: "mock_refreshed_" + nonce,
			TokenType:   "Bearer",
			Scope:       googleScopes,
			ExpiresIn:   3600,
		}, nil
	}

	form := url.Values{}
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", m.cfg.GoogleClientID)
	form.Set("client_secret", m.cfg.GoogleClientSecret)
	form.Set("grant_type", "refresh_token")

	return m.postTokenEndpoint(form)
}

func (m *GoogleManager) postTokenEndpoint(form url.Values) (*tokenResponse, error) {
	resp, err := m.client.PostForm(m.cfg.GoogleTokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("failed to reach google token endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return nil, &utils.UpstreamError{Service: "google", Status: resp.StatusCode, Body: string(body)}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, &utils.UpstreamError{Service: "google", Status: resp.StatusCode, Body: "empty access_token"}
	}
	return &token, nil
}

func (m *GoogleManager) fetchUserinfoEmail(accessToken string) (string, error) {
	req, err := http.NewRequest(http.MethodGet, m.cfg.GoogleUserinfoURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach google userinfo endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode != http.StatusOK {
		return "", &utils.UpstreamError{Service: "google", Status: resp.StatusCode, Body: string(body)}
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("failed to decode userinfo response: %w", err)
	}
	return info.Email, nil
}

func (m *GoogleManager) expiryFromNow(expiresIn int) string {
	if expiresIn <= 0 {
		return ""
	}
	return m.now().UTC().Add(time.Duration(expiresIn) * time.Second).Format(time.RFC3339)
}

// EnsureValidAccessToken 执行前置检查：未连接返回 Connected=false；
// 过期或临近过期（2 分钟内）时刷新；无 refresh token 时报 ErrCannotRefresh。
// 刷新结果覆盖 access token、token type、scope 与过期时间；refresh token 永不被清空。
func (m *GoogleManager) EnsureValidAccessToken(userEmail string) (*TokenStatus, error) {
	cred, err := m.store.GetOAuthCredential(providerGoogle, userEmail)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return &TokenStatus{Connected: false}, nil
	}

	if !m.needsRefresh(cred) {
		return &TokenStatus{Connected: true, Credential: cred}, nil
	}

	if cred.RefreshToken == "" {
		return nil, ErrCannotRefresh
	}

	token, err := m.refreshWithToken(cred.RefreshToken)
	if err != nil {
		return nil, err
	}

	expiresAt := m.expiryFromNow(token.ExpiresIn)
	if err := m.store.UpdateOAuthAccessToken(providerGoogle, userEmail, token.AccessToken, token.TokenType, token.Scope, expiresAt); err != nil {
		return nil, err
	}

	refreshed, err := m.store.GetOAuthCredential(providerGoogle, userEmail)
	if err != nil {
		return nil, err
	}
	return &TokenStatus{Connected: true, Refreshed: true, Credential: refreshed}, nil
}

// needsRefresh 缺失或无法解析的过期时间一律视为需要刷新
func (m *GoogleManager) needsRefresh(cred *models.OAuthCredential) bool {
	if cred.ExpiresAt == "" {
		return true
	}
	expiresAt, err := time.Parse(time.RFC3339, cred.ExpiresAt)
	if err != nil {
		return true
	}
	return !expiresAt.After(m.now().UTC().Add(refreshAhead))
}

// Account 返回净化后的账号视图，未连接时返回 nil
func (m *GoogleManager) Account(userEmail string) (*models.OAuthAccount, error) {
	cred, err := m.store.GetOAuthCredential(providerGoogle, userEmail)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, nil
	}
	return accountView(cred), nil
}

// Disconnect 删除凭证
func (m *GoogleManager) Disconnect(userEmail string) (bool, error) {
	return m.store.DeleteOAuthCredential(providerGoogle, userEmail)
}

func accountView(cred *models.OAuthCredential) *models.OAuthAccount {
	return &models.OAuthAccount{
		Provider:  cred.Provider,
		UserEmail: cred.UserEmail,
		Scope:     cred.Scope,
		ExpiresAt: cred.ExpiresAt,
		Connected: true,
	}
}
