package assistant

import (
	"strings"
	"unicode"
)

var (
	aidKeywords = []string{
		"benefit", "benefits", "assistance", "aid", "apply", "application",
		"eligibility", "eligible", "government program", "social security", "welfare",
		"low income", "disability", "elderly", "senior", "pension", "medical assistance",
		"support", "financial help", "grant", "allowance", "subsidy",
	}
	documentKeywords = []string{
		"generate document", "generate letter", "write a letter", "template",
		"draft", "appeal letter", "certificate letter", "request letter",
	}
	formKeywords = []string{
		"form", "fill", "application form", "submit", "document", "information",
		"certificate", "how to fill", "help me fill", "complete", "application process",
	}
)

// DetectIntent classifies a message by keyword. Aid inquiries win over
// everything else; document requests are checked before form filling
// because their phrases also contain form words like "document".
func DetectIntent(query string) Intent {
	m := newMatcher(query)
	switch {
	case m.any(aidKeywords):
		return IntentAidInquiry
	case m.any(documentKeywords):
		return IntentDocumentGeneration
	case m.any(formKeywords):
		return IntentFormFilling
	default:
		return IntentGeneral
	}
}

// matcher matches single words against whole tokens and phrases against
// the normalized text, so "aid" does not match "said".
type matcher struct {
	text   string
	tokens map[string]struct{}
}

func newMatcher(s string) matcher {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return matcher{text: " " + strings.Join(fields, " ") + " ", tokens: tokens}
}

func (m matcher) has(keyword string) bool {
	if strings.Contains(keyword, " ") {
		return strings.Contains(m.text, " "+keyword+" ")
	}
	_, ok := m.tokens[keyword]
	return ok
}

func (m matcher) any(keywords []string) bool {
	for _, k := range keywords {
		if m.has(k) {
			return true
		}
	}
	return false
}

// topicTags maps catalog tags to the words that suggest them.
var topicTags = []struct {
	tag   string
	words []string
}{
	{"senior", []string{"senior", "elderly", "old", "pension", "retired", "retirement"}},
	{"disability", []string{"disability", "disabled", "handicap", "mobility", "wheelchair"}},
	{"low-income", []string{"low income", "poor", "financial difficulty", "no income", "low-income"}},
	{"health", []string{"medical", "healthcare", "doctor", "hospital", "treatment", "medicine"}},
	{"housing", []string{"housing", "rent", "rental", "home", "house", "accommodation", "eviction"}},
	{"unemployed", []string{"unemployed", "unemployment", "job", "jobless", "laid off"}},
	{"family", []string{"family", "child", "children", "kids", "baby"}},
	{"youth", []string{"young", "youth", "student", "teenager"}},
	{"food", []string{"food", "hungry", "groceries", "meal"}},
}

// TopicTags returns the catalog tags a message hints at, in a stable order.
func TopicTags(query string) []string {
	m := newMatcher(query)
	var tags []string
	for _, t := range topicTags {
		if m.any(t.words) {
			tags = append(tags, t.tag)
		}
	}
	return tags
}
