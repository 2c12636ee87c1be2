package assistant

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		query string
		want  Intent
	}{
		{"Am I eligible for a disability pension?", IntentAidInquiry},
		{"What BENEFITS exist for my family?", IntentAidInquiry},
		{"How do I fill this form?", IntentFormFilling},
		{"Which information goes in the address field", IntentFormFilling},
		{"Please generate document for my landlord", IntentDocumentGeneration},
		{"Can you write a letter to the council", IntentDocumentGeneration},
		{"She said hello", IntentGeneral},
		{"", IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if got := DetectIntent(tt.query); got != tt.want {
				t.Fatalf("DetectIntent(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestTopicTags(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"My elderly mother needs a doctor", []string{"senior", "health"}},
		{"We are a family with low income and high rent", []string{"low-income", "housing", "family"}},
		{"I was laid off last week", []string{"unemployed"}},
		{"thoughts on the weather", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, TopicTags(tt.query)); diff != "" {
				t.Fatalf("TopicTags() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSanitizeMessage(t *testing.T) {
	if got := SanitizeMessage("  <b>hello</b> <script>alert(1)</script>world "); got != "hello world" {
		t.Fatalf("SanitizeMessage() = %q", got)
	}
	if got := SanitizeMessage("fish &amp; chips"); got != "fish & chips" {
		t.Fatalf("entities should be decoded, got %q", got)
	}
	long := make([]rune, MaxMessageRunes+10)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeMessage(string(long)); len([]rune(got)) != MaxMessageRunes {
		t.Fatalf("expected message capped at %d runes, got %d", MaxMessageRunes, len([]rune(got)))
	}
}
