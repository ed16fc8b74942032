package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestAmountValidators(t *testing.T) {
	v := make(Violations)
	PositiveAmount("deposit_amount", decimal.Zero, v)
	NonNegativeAmount("advance", decimal.NewFromInt(-1), v)
	LessThan("commission", decimal.NewFromInt(100), decimal.NewFromInt(100), v)
	PositiveAmount("ok", decimal.NewFromInt(1), v)

	if len(v) != 3 {
		t.Fatalf("expected 3 violations, got %v", v)
	}
	if v["commission"] != "must_be_less_than_limit" {
		t.Errorf("commission = %q", v["commission"])
	}
	if _, ok := v["ok"]; ok {
		t.Errorf("positive amount must not be flagged")
	}
}

func TestFirstIsDeterministic(t *testing.T) {
	v := Violations{"b": "x", "a": "y", "c": "z"}
	field, code := v.First()
	if field != "a" || code != "y" {
		t.Fatalf("First() = %s,%s", field, code)
	}
	if f, _ := (Violations{}).First(); f != "" {
		t.Fatalf("expected empty field for no violations")
	}
}

func TestOneOfAndRequired(t *testing.T) {
	v := make(Violations)
	OneOf("main_contract_type", "LEASE", []string{"PURCHASE", "RENTAL"}, v)
	Required("reason", "  ", v)
	RequiredID("customer_id", 0, v)
	PositiveInt("month_count", 0, v)
	if len(v) != 4 {
		t.Fatalf("expected 4 violations, got %v", v)
	}
}
