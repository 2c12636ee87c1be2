package form

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrTemplateNotFound is returned when a template id does not resolve.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrSessionNotFound is returned when a session id does not resolve.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSection is returned when a caller names a section the
	// template does not declare.
	ErrInvalidSection = errors.New("section not found in template")
)

// ValidationError carries per-field validation messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
