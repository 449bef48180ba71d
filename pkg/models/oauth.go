package models

import "time"

// OAuthCredential 第三方 OAuth 凭证，(provider, user_email) 唯一。
// ExpiresAt 保存为 RFC3339 文本；缺失或无法解析时视为已过期。
type OAuthCredential struct {
	Provider     string    `json:"provider" db:"provider"`
	UserEmail    string    `json:"user_email" db:"user_email"`
	AccessToken  string    `json:"access_token" db:"access_token"`
	RefreshToken string    `json:"refresh_token" db:"refresh_token"`
	TokenType    string    `json:"token_type" db:"token_type"`
	Scope        string    `json:"scope" db:"scope"`
	ExpiresAt    string    `json:"expires_at" db:"expires_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// OAuthAccount sanitized account view. Tokens never leave the server.
type OAuthAccount struct {
	Provider  string `json:"provider"`
	UserEmail string `json:"user_email"`
	Scope     string `json:"scope"`
	ExpiresAt string `json:"expires_at"`
	Connected bool   `json:"connected"`
}
