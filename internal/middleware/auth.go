package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// TokenCookie is the cookie the web client stores the session token in.
const TokenCookie = "token"

type ctxKey int

const (
	identityKey ctxKey = iota
	accessKey
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   int64
	Username string
	Admin    bool
}

// IdentityFrom returns the caller set by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity is used by tests and by RequireAuth. It also tags the
// surrounding access log entry with the caller.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	if a, ok := ctx.Value(accessKey).(*access); ok {
		a.caller, a.authenticated = id, true
	}
	return context.WithValue(ctx, identityKey, id)
}

type AuthMiddleware struct {
	jwtSecret []byte
	isAdmin   func(username string) bool
	ttl       time.Duration
}

func NewAuthMiddleware(secret []byte, isAdmin func(string) bool) *AuthMiddleware {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &AuthMiddleware{jwtSecret: secret, isAdmin: isAdmin, ttl: 7 * 24 * time.Hour}
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether username has admin rights.
func (m *AuthMiddleware) IsAdmin(username string) bool { return m.isAdmin(username) }

// Issue signs a session token for the user.
func (m *AuthMiddleware) Issue(userID int64, username string, now time.Time) (string, error) {
	c := claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   formatID(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.jwtSecret)
}

// Parse validates a token and returns the identity it carries.
func (m *AuthMiddleware) Parse(tokenStr string) (Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}
	id, ok := parseID(c.Subject)
	if !ok {
		return Identity{}, errors.New("invalid subject")
	}
	return Identity{UserID: id, Username: c.Username, Admin: m.isAdmin(c.Username)}, nil
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearer(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		id, err := m.Parse(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin must run after RequireAuth.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFrom(r.Context())
		if !ok || !id.Admin {
			writeError(w, http.StatusForbidden, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Optional attaches the identity when a valid token is present and lets the
// request through either way.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStr := bearer(r); tokenStr != "" {
			if id, err := m.Parse(tokenStr); err == nil {
				r = r.WithContext(WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearer(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}
