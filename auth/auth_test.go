package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	tok, err := IssueToken(Actor{UserID: 7, Role: RoleAgent}, "s3cret", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	a, err := ParseToken(tok, "s3cret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.UserID != 7 || a.Role != RoleAgent {
		t.Fatalf("unexpected actor %+v", a)
	}
	if _, err := ParseToken(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestParseTokenExpired(t *testing.T) {
	tok, err := IssueToken(Actor{UserID: 1, Role: RoleAdmin}, "s", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := ParseToken(tok, "s"); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestActorContext(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatalf("empty context must not carry an actor")
	}
	ctx := WithActor(context.Background(), Actor{UserID: 3, Role: RoleCustomer})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != 3 {
		t.Fatalf("UserIDFromContext = %d,%v", id, ok)
	}
}

func TestMiddlewareAndRequireAuth(t *testing.T) {
	var seen Actor
	h := Middleware("k")(RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401, got %d", rec.Code)
	}
	if rec.Body.String() != `{"error":"unauthorized"}` {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}

	tok, _ := IssueToken(Actor{UserID: 9, Role: RoleAdmin}, "k", time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("authenticated: expected 204, got %d", rec.Code)
	}
	if seen.UserID != 9 || !seen.IsAdmin() {
		t.Fatalf("unexpected actor %+v", seen)
	}
}
