package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"craftworker/config"
)

// TokenFetcher obtains a fresh access token on every call.
type TokenFetcher interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// NewClientCredentials returns the OAuth2 client-credentials fetcher configured in cfg,
// or nil when no token endpoint is set.
func NewClientCredentials(cfg *config.Config) TokenFetcher {
	if cfg.AuthTokenURL == "" {
		return nil
	}
	return &clientcredentials.Config{
		ClientID:     cfg.AuthClientID,
		ClientSecret: cfg.AuthClientSecret,
		TokenURL:     cfg.AuthTokenURL,
		Scopes:       cfg.AuthScopes,
	}
}

// Claims are the JWT claims accepted by the worker's endpoints.
type Claims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens presented to the worker's own endpoints.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for HS256 tokens signed with secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// GenerateToken signs a token for subject. A zero ttl yields a token without expiry.
func (v *Verifier) GenerateToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ParseToken verifies tokenStr and returns its claims.
func (v *Verifier) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims")
	}
	return claims, nil
}
