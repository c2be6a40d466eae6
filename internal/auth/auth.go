// Package auth authenticates the observatory operator for the control API:
// bcrypt password check against the configured hash and HS256 session
// tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/skycapture/pkg/config"
)

// Roles. An operator may change the queue; a viewer may only read.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var (
	// ErrInvalidCredentials is returned when authentication fails
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned when token validation fails
	ErrInvalidToken = errors.New("invalid or expired token")
	// ErrUnauthorized is returned when the caller lacks the required role
	ErrUnauthorized = errors.New("unauthorized access")
)

// Claims are the JWT claims for an operator session.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service checks credentials and issues tokens.
type Service struct {
	secret   []byte
	duration time.Duration
	user     string
	hash     []byte
	now      func() time.Time
}

// NewService creates a service from configuration.
func NewService(cfg config.AuthConfig) *Service {
	duration := time.Duration(cfg.TokenHours) * time.Hour
	if duration <= 0 {
		duration = 24 * time.Hour
	}
	return &Service{
		secret:   []byte(cfg.JWTSecret),
		duration: duration,
		user:     cfg.AdminUser,
		hash:     []byte(cfg.AdminPasswordHash),
		now:      time.Now,
	}
}

// Enabled reports whether an operator password is configured. Without one
// the API runs open, which is only sensible on a private network.
func (s *Service) Enabled() bool {
	return len(s.hash) > 0 && len(s.secret) > 0
}

// HashPassword hashes a plaintext password for the configuration file.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Login checks the operator credentials and returns a signed token.
func (s *Service) Login(username, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.user)) != 1 {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(s.hash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.GenerateToken(username, RoleOperator)
}

// GenerateToken signs a token for username with role.
func (s *Service) GenerateToken(username, role string) (string, error) {
	now := s.now()
	claims := &Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "skycapture",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// ValidateToken verifies the signature and expiry of a token.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer("skycapture"))
	if err != nil {
		return nil, ErrInvalidToken
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// HasRole reports whether userRole grants requiredRole.
func HasRole(userRole, requiredRole string) bool {
	level := map[string]int{RoleOperator: 1, RoleViewer: 0}
	u, ok1 := level[userRole]
	r, ok2 := level[requiredRole]
	return ok1 && ok2 && u >= r
}

type claimsKey struct{}

// ClaimsFromContext returns the claims stored by RequireRole.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok
}

// RequireRole is HTTP middleware that demands a bearer token with role. It
// lets every request through when authentication is not enabled.
func (s *Service) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := s.ValidateToken(raw)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			if !HasRole(claims.Role, role) {
				http.Error(w, ErrUnauthorized.Error(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}
