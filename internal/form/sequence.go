package form

import "github.com/ashureev/carebridge/internal/domain"

// firstSection returns the lowest-ordered section name, or "" when the
// template has none. Sections are sorted at load time.
func firstSection(tpl *domain.FormTemplate) string {
	if len(tpl.Sections) == 0 {
		return ""
	}
	return tpl.Sections[0].Name
}

// nextSection returns the section following current. It returns "" when
// there is no next section. An unrecognised current section restarts at the
// first section; restarted reports when that happened.
func nextSection(tpl *domain.FormTemplate, current string) (next string, restarted bool) {
	if len(tpl.Sections) == 0 || current == "" {
		return "", false
	}
	for i, s := range tpl.Sections {
		if s.Name != current {
			continue
		}
		if i+1 < len(tpl.Sections) {
			return tpl.Sections[i+1].Name, false
		}
		return "", false
	}
	return tpl.Sections[0].Name, true
}
