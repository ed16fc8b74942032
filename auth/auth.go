package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const actorCtxKey = ctxKey("actor")

// Role is the platform role carried by an authenticated actor.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleAgent    Role = "AGENT"
	RoleCustomer Role = "CUSTOMER"
)

// Actor identifies who is calling an operation. The zero Actor is anonymous.
type Actor struct {
	UserID uint
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
func (a Actor) IsAgent() bool { return a.Role == RoleAgent }

// ActorVerifier is an optional callback to validate that a token's user still exists/is allowed.
// Set it during app bootstrap via SetActorVerifier. If nil, no extra verification is performed.
type ActorVerifier func(ctx context.Context, a Actor) bool

var verifier ActorVerifier

// SetActorVerifier configures the global verifier used by RequireAuth.
func SetActorVerifier(v ActorVerifier) { verifier = v }

var ErrInvalidToken = errors.New("invalid_token")

// Secret returns AUTH_SECRET or default dev value.
func Secret() string {
	if s := os.Getenv("AUTH_SECRET"); s != "" {
		return s
	}
	return "devtokensecret"
}

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 bearer token for the actor.
func IssueToken(a Actor, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	c := claims{
		Role: a.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(a.UserID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// ParseToken validates a bearer token and returns its actor.
func ParseToken(token, secret string) (Actor, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id64, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id64 == 0 {
		return Actor{}, ErrInvalidToken
	}
	switch c.Role {
	case RoleAdmin, RoleAgent, RoleCustomer:
	default:
		return Actor{}, ErrInvalidToken
	}
	return Actor{UserID: uint(id64), Role: c.Role}, nil
}

// WithActor stores the actor in context.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorCtxKey, a)
}

// ActorFromContext extracts the actor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorCtxKey).(Actor)
	if !ok || a.UserID == 0 {
		return Actor{}, false
	}
	return a, true
}

// UserIDFromContext extracts user id.
func UserIDFromContext(ctx context.Context) (uint, bool) {
	a, ok := ActorFromContext(ctx)
	return a.UserID, ok
}

// Middleware attaches the actor to request context if a valid bearer token is present.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
				if a, err := ParseToken(strings.TrimSpace(tok), secret); err == nil {
					r = r.WithContext(WithActor(r.Context(), a))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuth returns 401 JSON if no actor is authenticated.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := ActorFromContext(r.Context())
		if !ok || (verifier != nil && !verifier(r.Context(), a)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":"unauthorized"}`)
			return
		}
		next.ServeHTTP(w, r)
	})
}
