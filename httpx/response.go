package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/diewo77/go-brokerage/internal/apperr"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			// best-effort error response; avoid writing partial JSON
			http.Error(w, `{"error":"encode_error"}`, http.StatusInternalServerError)
			return
		}
	} else {
		body = []byte("null")
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		// nothing we can do at this point
		_ = err
	}
}

func JSONError(w http.ResponseWriter, status int, msg string, details any) {
	JSON(w, status, ErrorResponse{Error: msg, Details: details})
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindBadRequest:
		return http.StatusBadRequest
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error body. Unclassified errors are logged
// and reported as internal_error without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		JSONError(w, status, "internal_error", nil)
		return
	}
	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		JSONError(w, status, err.Error(), fields)
		return
	}
	JSONError(w, status, err.Error(), nil)
}
