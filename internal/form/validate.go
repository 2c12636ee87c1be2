package form

import (
	"fmt"
	"unicode/utf8"

	"github.com/ashureev/carebridge/internal/domain"
)

// Messages reported for structural validation failures.
const (
	MsgUnknownField = "field does not exist"
	MsgRequired     = "required"
)

// validateUpdates checks every update against the template and returns the
// failing fields with their messages. A nil map means all updates passed.
func validateUpdates(tpl *domain.FormTemplate, updates domain.FormData) map[string]string {
	var errs map[string]string
	for name, value := range updates {
		msg := validateField(tpl, name, value)
		if msg == "" {
			continue
		}
		if errs == nil {
			errs = make(map[string]string)
		}
		errs[name] = msg
	}
	return errs
}

func validateField(tpl *domain.FormTemplate, name string, value domain.Value) string {
	def, ok := tpl.Field(name)
	if !ok {
		return MsgUnknownField
	}
	if def.Required && value.IsEmpty() {
		return MsgRequired
	}
	for _, rule := range def.Rules {
		if msg := applyRule(rule, value); msg != "" {
			return msg
		}
	}
	return ""
}

// applyRule returns the violation message for rule, or "" when the value
// passes or the rule does not apply to the value's kind.
func applyRule(rule domain.ValidationRule, value domain.Value) string {
	switch rule.Kind {
	case domain.RuleMin:
		if n, ok := value.AsNumber(); ok && n < rule.Threshold {
			return ruleMessage(rule, "Value must be greater than or equal to %v")
		}
	case domain.RuleMax:
		if n, ok := value.AsNumber(); ok && n > rule.Threshold {
			return ruleMessage(rule, "Value must be less than or equal to %v")
		}
	case domain.RuleMinLength:
		if s, ok := value.AsString(); ok && float64(utf8.RuneCountInString(s)) < rule.Threshold {
			return ruleMessage(rule, "Length must be greater than or equal to %v")
		}
	case domain.RuleMaxLength:
		if s, ok := value.AsString(); ok && float64(utf8.RuneCountInString(s)) > rule.Threshold {
			return ruleMessage(rule, "Length must be less than or equal to %v")
		}
	}
	return ""
}

func ruleMessage(rule domain.ValidationRule, format string) string {
	if rule.Message != "" {
		return rule.Message
	}
	return fmt.Sprintf(format, rule.Threshold)
}
