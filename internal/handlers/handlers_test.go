package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/go-chi/chi/v5"
)

func withID(r *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", id)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestIDParam(t *testing.T) {
	tests := []struct {
		raw  string
		want uint
		ok   bool
	}{
		{"42", 42, true},
		{"0", 0, false},
		{"-1", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		r := withID(httptest.NewRequest(http.MethodGet, "/", nil), tt.raw)
		got, err := idParam(r)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("idParam(%q) = %d, %v", tt.raw, got, err)
		}
		if !tt.ok && !apperr.Is(err, apperr.KindBadRequest) {
			t.Errorf("idParam(%q): expected BadRequest, got %v", tt.raw, err)
		}
	}
}

func TestDecodeReason(t *testing.T) {
	w := httptest.NewRecorder()

	r := httptest.NewRequest(http.MethodPost, "/", nil)
	if reason, err := decodeReason(w, r); err != nil || reason != "" {
		t.Errorf("empty body: %q, %v", reason, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"buyer withdrew"}`))
	if reason, err := decodeReason(w, r); err != nil || reason != "buyer withdrew" {
		t.Errorf("reason body: %q, %v", reason, err)
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":`))
	if _, err := decodeReason(w, r); !apperr.Is(err, apperr.KindBadRequest) {
		t.Errorf("truncated body: expected BadRequest, got %v", err)
	}
}
