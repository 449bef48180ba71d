package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidToken covers malformed, tampered and expired tokens alike so
// callers leak nothing about which check failed.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenSigner issues HMAC-signed continuation tokens. The token carries its
// whole payload, so no server-side state is needed between redirect legs.
// There is no replay protection; payloads include a nonce so a consumer can
// add a seen-set if it ever needs one.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSigner(secret string) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), now: time.Now}
}

// Sign encodes payload plus iat/exp and appends a hex HMAC-SHA256 tag:
// base64url(json) + "." + hex(hmac). The input map is not mutated.
func (s *TokenSigner) Sign(payload map[string]interface{}, ttl time.Duration) (string, error) {
	claims := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		claims[k] = v
	}
	issuedAt := s.now().UTC()
	claims["iat"] = issuedAt.Unix()
	claims["exp"] = issuedAt.Add(ttl).Unix()

	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to encode token payload: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + s.signature(encoded), nil
}

// Verify checks the tag and expiry and returns the payload.
func (s *TokenSigner) Verify(token string) (map[string]interface{}, error) {
	// base64url never contains '.', but split on the last one anyway
	idx := strings.LastIndex(token, ".")
	if idx <= 0 || idx == len(token)-1 {
		return nil, ErrInvalidToken
	}
	encoded, tag := token[:idx], token[idx+1:]

	expected := s.signature(encoded)
	if !hmac.Equal([]byte(tag), []byte(expected)) {
		return nil, ErrInvalidToken
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidToken
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}
	if s.now().UTC().Unix() > int64(exp) {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

func (s *TokenSigner) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encoded))
	return hex.EncodeToString(mac.Sum(nil))
}
