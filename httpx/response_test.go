package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/diewo77/go-brokerage/internal/apperr"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not found", apperr.NotFound("Property not found"), http.StatusNotFound, "Property not found"},
		{"bad request", apperr.BadRequest("Contract is not in DRAFT"), http.StatusBadRequest, "Contract is not in DRAFT"},
		{"forbidden", apperr.Forbidden("Access denied"), http.StatusForbidden, "Access denied"},
		{"internal", errors.New("db down"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error != tt.message {
				t.Fatalf("error = %q, want %q", body.Error, tt.message)
			}
		})
	}
}

func TestJSONNilPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusOK, nil)
	if rec.Body.String() != "null" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
}
