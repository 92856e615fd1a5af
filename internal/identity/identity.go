// Package identity resolves the signed-in user from a bearer token. Accounts live in an
// external identity provider; this service only verifies the tokens it issues.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

const DefaultTokenTTL = 24 * time.Hour

type Claims struct {
	UserID   int64  `json:"user_id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

func (c *Claims) User() *domain.User {
	role := c.Role
	if role == "" {
		role = domain.RoleCustomer
	}
	return &domain.User{
		ID:       c.UserID,
		FullName: c.FullName,
		Email:    c.Email,
		Phone:    c.Phone,
		Address:  c.Address,
		Role:     role,
	}
}

// Provider verifies HS256 tokens and, for tests and tooling, issues them.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewProvider(secret string, ttl time.Duration) (*Provider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

func (p *Provider) Issue(u *domain.User) (string, error) {
	now := p.now()
	claims := &Claims{
		UserID:   u.ID,
		FullName: u.FullName,
		Email:    u.Email,
		Phone:    u.Phone,
		Address:  u.Address,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   fmt.Sprint(u.ID),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Verify parses tokenStr and returns the user it was issued to.
func (p *Provider) Verify(tokenStr string) (*domain.User, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID <= 0 {
		return nil, fmt.Errorf("%w: no user id", ErrInvalidToken)
	}
	return claims.User(), nil
}

// FromHeader extracts the token from an Authorization header value.
func FromHeader(header string) (string, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

type ctxKey struct{}

func WithUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFromContext returns nil for anonymous requests.
func UserFromContext(ctx context.Context) *domain.User {
	u, _ := ctx.Value(ctxKey{}).(*domain.User)
	return u
}
