package engine

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/getwscheck/wscheck/pkg/config"
)

const defaultTokenTTL = time.Hour

// BearerToken signs an HS256 token from the target's JWT settings.
func BearerToken(cfg *config.JWTConfig, now time.Time) (string, error) {
	ttl := cfg.TTL.Duration()
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if cfg.Issuer != "" {
		claims["iss"] = cfg.Issuer
	}
	if cfg.Subject != "" {
		claims["sub"] = cfg.Subject
	}
	if cfg.Audience != "" {
		claims["aud"] = cfg.Audience
	}
	for k, v := range cfg.Claims {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// authHeaders returns the handshake headers for a target, with the signed
// bearer token applied when JWT auth is configured.
func authHeaders(target *config.Target, now time.Time) (http.Header, error) {
	headers := make(http.Header, len(target.Headers)+1)
	for k, v := range target.Headers {
		headers.Set(k, v)
	}

	if target.Auth == nil || target.Auth.JWT == nil {
		return headers, nil
	}

	token, err := BearerToken(target.Auth.JWT, now)
	if err != nil {
		return nil, err
	}

	if name := target.Auth.JWT.Header; name != "" {
		headers.Set(name, token)
	} else {
		headers.Set("Authorization", "Bearer "+token)
	}
	return headers, nil
}
