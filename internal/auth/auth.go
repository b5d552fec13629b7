package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"switchboard/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	DefaultCacheTTL    = 5 * time.Minute
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingToken = errors.New("missing token")
)

type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
	// CacheTTL bounds how long a verified token is trusted without
	// re-checking its signature. It never extends past the token's expiry.
	CacheTTL time.Duration `json:"cacheTTL"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}
	if len(c.secretBytes) < 16 {
		return errors.New("auth secret must be at least 16 bytes")
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = DefaultCacheTTL
	}

	return nil
}

type cachedPrincipal struct {
	principal models.Principal
	expiresAt time.Time
}

// AuthService issues and verifies the bearer tokens that identify a
// connecting user or company.
type AuthService struct {
	Config
	verified geche.Geche[string, cachedPrincipal]
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		verified: geche.NewMapTTLCache[string, cachedPrincipal](ctx, config.CacheTTL, time.Minute),
		now:      time.Now,
	}, nil
}

// Issue signs a token for the principal. It returns the token and its expiry.
func (as *AuthService) Issue(p models.Principal) (string, time.Time, error) {
	if p.ID == "" {
		return "", time.Time{}, errors.New("principal id is required")
	}
	now := as.now()
	expiry := now.Add(as.TokenExpiry)
	claims := Claims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secretBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiry, nil
}

// Verify returns the principal a token was issued for.
func (as *AuthService) Verify(token string) (models.Principal, error) {
	if token == "" {
		return models.Principal{}, ErrMissingToken
	}
	now := as.now()
	if cached, err := as.verified.Get(token); err == nil {
		if now.Before(cached.expiresAt) {
			return cached.principal, nil
		}
		_ = as.verified.Del(token)
		return models.Principal{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return as.secretBytes, nil
	}, jwt.WithTimeFunc(as.now), jwt.WithExpirationRequired())
	if err != nil {
		return models.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return models.Principal{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}

	role := claims.Role
	if role == "" {
		role = models.RoleUser
	}
	p := models.Principal{ID: claims.Subject, Role: role}
	as.verified.Set(token, cachedPrincipal{principal: p, expiresAt: claims.ExpiresAt.Time})
	return p, nil
}

// TokenFromHeader extracts a bearer token from an Authorization header value.
func TokenFromHeader(header string) string {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
