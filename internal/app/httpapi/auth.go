package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/civicworks/grantflow/internal/app/domain/user"
	"github.com/civicworks/grantflow/pkg/logger"
)

// Claims are the JWT claims carried by a session token.
type Claims struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type contextKey string

const claimsKey contextKey = "claims"

// DefaultSessionTTL bounds a session token's lifetime.
const DefaultSessionTTL = 24 * time.Hour

// IssueToken signs a session token for the user.
func IssueToken(secret []byte, u user.User, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now().UTC()
	claims := Claims{
		UserID: u.ID,
		Roles:  u.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// authMiddleware validates bearer tokens and stores their claims in the
// request context.
type authMiddleware struct {
	secret []byte
	log    *logger.Logger
}

func newAuthMiddleware(secret []byte, log *logger.Logger) *authMiddleware {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	return &authMiddleware{secret: secret, log: log}
}

// require rejects requests without a valid bearer token.
func (m *authMiddleware) require(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.parse(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if claims == nil {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("authentication required"))
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}

// optional forwards anonymous requests untouched but still validates a
// bearer token when one is presented. A bad token is rejected, not ignored.
func (m *authMiddleware) optional(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.parse(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if claims != nil {
			r = r.WithContext(context.WithValue(r.Context(), claimsKey, claims))
		}
		next(w, r)
	}
}

// parse returns nil claims with nil error when no Authorization header is
// present.
func (m *authMiddleware) parse(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid authorization header format")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		m.log.WithError(err).Warn("token validation failed")
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}

// claimsFrom returns the authenticated claims, if any.
func claimsFrom(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey).(*Claims)
	return c
}

// userIDFrom returns the authenticated user id, empty when anonymous.
func userIDFrom(ctx context.Context) string {
	if c := claimsFrom(ctx); c != nil {
		return c.UserID
	}
	return ""
}

func hasRole(c *Claims, role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
