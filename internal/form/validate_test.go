package form

import (
	"fmt"
	"testing"

	"github.com/ashureev/carebridge/internal/domain"
)

func TestApplyRule(t *testing.T) {
	tests := []struct {
		name  string
		rule  domain.ValidationRule
		value domain.Value
		want  string
	}{
		{"min passes", domain.ValidationRule{Kind: domain.RuleMin, Threshold: 18}, domain.Number(18), ""},
		{"min fails default message", domain.ValidationRule{Kind: domain.RuleMin, Threshold: 18}, domain.Number(17), "Value must be greater than or equal to 18"},
		{"max fails custom message", domain.ValidationRule{Kind: domain.RuleMax, Threshold: 10, Message: "too many"}, domain.Number(11), "too many"},
		{"min ignores strings", domain.ValidationRule{Kind: domain.RuleMin, Threshold: 18}, domain.String("3"), ""},
		{"min_length accepts exact", domain.ValidationRule{Kind: domain.RuleMinLength, Threshold: 5}, domain.String("12345"), ""},
		{"min_length rejects short", domain.ValidationRule{Kind: domain.RuleMinLength, Threshold: 5}, domain.String("123"), "Length must be greater than or equal to 5"},
		{"max_length counts runes", domain.ValidationRule{Kind: domain.RuleMaxLength, Threshold: 4}, domain.String("ãção"), ""},
		{"max_length rejects long", domain.ValidationRule{Kind: domain.RuleMaxLength, Threshold: 2}, domain.String("abc"), "Length must be less than or equal to 2"},
		{"length ignores numbers", domain.ValidationRule{Kind: domain.RuleMinLength, Threshold: 5}, domain.Number(1), ""},
		{"unknown rule ignored", domain.ValidationRule{Kind: "regex", Threshold: 1}, domain.String(""), ""},
		{"fractional threshold", domain.ValidationRule{Kind: domain.RuleMax, Threshold: 2.5}, domain.Number(3), fmt.Sprintf("Value must be less than or equal to %v", 2.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := applyRule(tt.rule, tt.value); got != tt.want {
				t.Fatalf("applyRule() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidateFieldShortCircuits(t *testing.T) {
	tpl := &domain.FormTemplate{Fields: []domain.FieldDefinition{{
		Name: "code",
		Type: domain.FieldText,
		Rules: []domain.ValidationRule{
			{Kind: domain.RuleMinLength, Threshold: 3, Message: "first"},
			{Kind: domain.RuleMaxLength, Threshold: 0, Message: "second"},
		},
	}}}
	if got := validateField(tpl, "code", domain.String("a")); got != "first" {
		t.Fatalf("validateField() = %q, want first", got)
	}
	if got := validateField(tpl, "code", domain.String("abcd")); got != "second" {
		t.Fatalf("validateField() = %q, want second", got)
	}
}

func TestValidateOptionalEmptyStillRunsRules(t *testing.T) {
	tpl := &domain.FormTemplate{Fields: []domain.FieldDefinition{{
		Name:  "note",
		Type:  domain.FieldText,
		Rules: []domain.ValidationRule{{Kind: domain.RuleMinLength, Threshold: 2}},
	}}}
	if got := validateField(tpl, "note", domain.Null()); got != "" {
		t.Fatalf("null optional value should pass, got %q", got)
	}
	if got := validateField(tpl, "note", domain.String("")); got == "" {
		t.Fatal("empty string is still a string for length rules")
	}
}
