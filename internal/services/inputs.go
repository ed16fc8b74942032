package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/validation"
)

func invalid(v validation.Violations) error {
	field, code := v.First()
	return apperr.Invalid(fmt.Sprintf("Invalid %s: %s", field, code), v)
}

func requiredDate(field string, t time.Time, v validation.Violations) {
	if t.IsZero() {
		v[field] = "required"
	}
}

func lower[S ~string](s S) string {
	return strings.ToLower(string(s))
}
