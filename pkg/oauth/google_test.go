package oauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/models"
	"workspace-agent-backend/pkg/security"
)

func mockConfig() *config.Config {
	return &config.Config{
		AppSecret:         "test-secret",
		StateTTL:          15 * time.Minute,
		AllowMockAuth:     true,
		GoogleRedirectURI: "http://localhost:3000/oauth/google/callback",
		GoogleAuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		GoogleTokenURL:    "https://oauth2.googleapis.com/token",
		GoogleUserinfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
	}
}

func newMockManager() (*GoogleManager, *database.LocalDatabase) {
	cfg := mockConfig()
	db := database.NewLocalDatabase()
	return NewGoogleManager(cfg, db, security.NewTokenSigner(cfg.AppSecret)), db
}

func TestConnectURLCarriesSignedState(t *testing.T) {
	mgr, _ := newMockManager()
	info, err := mgr.ConnectURL(5, "Alice@acme.io")
	if err != nil {
		t.Fatalf("ConnectURL: %v", err)
	}
	if !info.MockMode {
		t.Error("expected mock mode without client credentials")
	}

	parsed, err := url.Parse(info.AuthURL)
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("access_type") != "offline" || query.Get("prompt") != "consent" {
		t.Errorf("offline consent params missing: %v", query)
	}
	if !strings.Contains(query.Get("scope"), "calendar") {
		t.Errorf("scope missing calendar: %s", query.Get("scope"))
	}

	claims, err := security.NewTokenSigner("test-secret").Verify(query.Get("state"))
	if err != nil {
		t.Fatalf("state verify: %v", err)
	}
	if claims["provider"] != "google" {
		t.Errorf("provider = %v", claims["provider"])
	}
	if claims["user_email"] != "alice@acme.io" {
		t.Errorf("user_email = %v, want lowercased", claims["user_email"])
	}
	if claims["nonce"] == "" {
		t.Error("nonce missing")
	}
}

func TestCallbackMockFlow(t *testing.T) {
	mgr, db := newMockManager()
	info, _ := mgr.ConnectURL(5, "alice@acme.io")

	result, err := mgr.Callback("fake-auth-code-123456", info.State)
	if err != nil {
		t.Fatalf("Callback: %v", err)
	}
	if result.WorkspaceID != 5 {
		t.Errorf("workspace_id = %d, want 5", result.WorkspaceID)
	}
	if !result.Account.Connected || result.Account.UserEmail != "alice@acme.io" {
		t.Errorf("account = %+v", result.Account)
	}

	cred, _ := db.GetOAuthCredential("google", "alice@acme.io")
	if cred == nil {
		t.Fatal("credential not stored")
	}
	if !strings.HasPrefix(cred.AccessToken, "mock_access_") {
		t.Errorf("access_token = %s", cred.AccessToken)
	}
	if !strings.HasPrefix(cred.RefreshToken, "mock_refresh_") {
		t.Errorf("refresh_token = %s", cred.RefreshToken)
	}
}

func TestCallbackRejectsBadState(t *testing.T) {
	mgr, _ := newMockManager()
	if _, err := mgr.Callback("code", "garbage.state"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}

	// a github_app state must not be accepted by the google callback
	otherState, _ := security.NewTokenSigner("test-secret").Sign(map[string]interface{}{
		"provider": "github_app", "workspace_id": 5, "user_email": "alice@acme.io",
	}, time.Minute)
	if _, err := mgr.Callback("code", otherState); !errors.Is(err, ErrInvalidState) {
		t.Errorf("cross-provider state: got %v, want ErrInvalidState", err)
	}
}

func TestCallbackIdentityMismatchBlocksWrite(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"real-token","refresh_token":"real-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()
	userinfoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"somebody.else@gmail.com"}`))
	}))
	defer userinfoSrv.Close()

	cfg := mockConfig()
	cfg.GoogleClientID = "real-client"
	cfg.GoogleClientSecret = "real-secret"
	cfg.GoogleTokenURL = tokenSrv.URL
	cfg.GoogleUserinfoURL = userinfoSrv.URL

	db := database.NewLocalDatabase()
	mgr := NewGoogleManager(cfg, db, security.NewTokenSigner(cfg.AppSecret))

	info, _ := mgr.ConnectURL(5, "alice@acme.io")
	if _, err := mgr.Callback("code", info.State); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("got %v, want ErrIdentityMismatch", err)
	}

	// nothing persisted
	cred, _ := db.GetOAuthCredential("google", "alice@acme.io")
	if cred != nil {
		t.Error("credential must not be stored on identity mismatch")
	}
}

func TestCallbackIdentityCaseInsensitive(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"real-token","refresh_token":"real-refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenSrv.Close()
	userinfoSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"email":"Alice@Acme.IO"}`))
	}))
	defer userinfoSrv.Close()

	cfg := mockConfig()
	cfg.GoogleClientID = "real-client"
	cfg.GoogleClientSecret = "real-secret"
	cfg.GoogleTokenURL = tokenSrv.URL
	cfg.GoogleUserinfoURL = userinfoSrv.URL

	db := database.NewLocalDatabase()
	mgr := NewGoogleManager(cfg, db, security.NewTokenSigner(cfg.AppSecret))

	info, _ := mgr.ConnectURL(5, "alice@acme.io")
	if _, err := mgr.Callback("code", info.State); err != nil {
		t.Fatalf("case-insensitive identity should pass: %v", err)
	}
}

func seedCredential(db *database.LocalDatabase, expiresAt string, refreshToken string) {
	db.UpsertOAuthCredential(&models.OAuthCredential{
		Provider:     "google",
		UserEmail:    "alice@acme.io",
		AccessToken:  "mock_access_seed",
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	})
}

func TestEnsureValidAccessTokenNotConnected(t *testing.T) {
	mgr, _ := newMockManager()
	status, err := mgr.EnsureValidAccessToken("nobody@acme.io")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken: %v", err)
	}
	if status.Connected {
		t.Error("expected Connected=false")
	}
}

func TestEnsureValidAccessTokenFreshTokenUntouched(t *testing.T) {
	mgr, db := newMockManager()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	// expires in 10 minutes, outside the 2 minute refresh window
	seedCredential(db, base.Add(10*time.Minute).Format(time.RFC3339), "mock_refresh_seed")

	status, err := mgr.EnsureValidAccessToken("alice@acme.io")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken: %v", err)
	}
	if !status.Connected || status.Refreshed {
		t.Errorf("status = %+v, want connected and not refreshed", status)
	}
	if status.Credential.AccessToken != "mock_access_seed" {
		t.Errorf("access token changed: %s", status.Credential.AccessToken)
	}
}

func TestEnsureValidAccessTokenRefreshesNearExpiry(t *testing.T) {
	mgr, db := newMockManager()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	// expires in 1 minute, inside the 2 minute refresh window
	seedCredential(db, base.Add(time.Minute).Format(time.RFC3339), "mock_refresh_seed")

	status, err := mgr.EnsureValidAccessToken("alice@acme.io")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken: %v", err)
	}
	if !status.Refreshed {
		t.Error("expected refresh")
	}
	if !strings.HasPrefix(status.Credential.AccessToken, "mock_refreshed_") {
		t.Errorf("access_token = %s", status.Credential.AccessToken)
	}
	// refresh token survives the refresh
	if status.Credential.RefreshToken != "mock_refresh_seed" {
		t.Errorf("refresh_token = %s, want mock_refresh_seed", status.Credential.RefreshToken)
	}
	// scope被刷新结果覆盖
	if status.Credential.Scope != googleScopes {
		t.Errorf("scope = %s, want refreshed grant", status.Credential.Scope)
	}
}

func TestEnsureValidAccessTokenUnparsableExpiry(t *testing.T) {
	mgr, db := newMockManager()
	seedCredential(db, "not-a-timestamp", "mock_refresh_seed")

	status, err := mgr.EnsureValidAccessToken("alice@acme.io")
	if err != nil {
		t.Fatalf("EnsureValidAccessToken: %v", err)
	}
	if !status.Refreshed {
		t.Error("unparsable expiry should force a refresh")
	}
}

func TestEnsureValidAccessTokenNoRefreshToken(t *testing.T) {
	mgr, db := newMockManager()
	seedCredential(db, "", "")

	if _, err := mgr.EnsureValidAccessToken("alice@acme.io"); !errors.Is(err, ErrCannotRefresh) {
		t.Errorf("got %v, want ErrCannotRefresh", err)
	}
}

func TestAccountNeverExposesTokens(t *testing.T) {
	mgr, db := newMockManager()
	seedCredential(db, time.Now().Add(time.Hour).Format(time.RFC3339), "mock_refresh_seed")

	account, err := mgr.Account("alice@acme.io")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if account == nil || !account.Connected {
		t.Fatalf("account = %+v", account)
	}
	// models.OAuthAccount has no token fields by construction; check the view values
	if account.UserEmail != "alice@acme.io" || account.Provider != "google" {
		t.Errorf("account = %+v", account)
	}

	missing, _ := mgr.Account("nobody@acme.io")
	if missing != nil {
		t.Error("unconnected account should be nil")
	}
}

func TestDisconnect(t *testing.T) {
	mgr, db := newMockManager()
	seedCredential(db, "", "mock_refresh_seed")

	removed, err := mgr.Disconnect("alice@acme.io")
	if err != nil || !removed {
		t.Fatalf("Disconnect: removed=%v err=%v", removed, err)
	}
	removed, _ = mgr.Disconnect("alice@acme.io")
	if removed {
		t.Error("second disconnect should report false")
	}
}
