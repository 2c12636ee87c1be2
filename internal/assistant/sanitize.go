package assistant

import (
	"html"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxMessageRunes bounds a single chat message.
const MaxMessageRunes = 4000

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once
)

func policy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeMessage strips markup from user input, trims it and caps its
// length. The result is plain text.
func SanitizeMessage(s string) string {
	clean := html.UnescapeString(policy().Sanitize(s))
	clean = strings.TrimSpace(clean)
	if utf8.RuneCountInString(clean) > MaxMessageRunes {
		clean = string([]rune(clean)[:MaxMessageRunes])
	}
	return clean
}
