package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// FieldType enumerates the input kinds a form field can take.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldEmail    FieldType = "email"
	FieldPhone    FieldType = "phone"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldCheckbox FieldType = "checkbox"
	FieldRadio    FieldType = "radio"
	FieldTextarea FieldType = "textarea"
	FieldFile     FieldType = "file"
	FieldAddress  FieldType = "address"
	FieldIDNumber FieldType = "id_number"
)

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldNumber, FieldEmail, FieldPhone, FieldDate, FieldSelect,
		FieldCheckbox, FieldRadio, FieldTextarea, FieldFile, FieldAddress, FieldIDNumber:
		return true
	}
	return false
}

// RuleKind names a validation rule.
type RuleKind string

const (
	RuleMin       RuleKind = "min"
	RuleMax       RuleKind = "max"
	RuleMinLength RuleKind = "min_length"
	RuleMaxLength RuleKind = "max_length"
)

// ValidationRule is a single constraint applied to a submitted value.
// Unknown kinds are accepted at load time and ignored during validation.
type ValidationRule struct {
	Kind      RuleKind `json:"type" yaml:"type"`
	Threshold float64  `json:"value" yaml:"value"`
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Option is a choice offered by select and radio fields.
type Option struct {
	Value       string `json:"value" yaml:"value"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Section groups fields; Order defines the traversal sequence.
type Section struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Order       int    `json:"order" yaml:"order"`
}

// FieldDefinition describes one input of a form template.
type FieldDefinition struct {
	ID             int64            `json:"id,omitempty" yaml:"-"`
	TemplateID     int64            `json:"template_id,omitempty" yaml:"-"`
	Name           string           `json:"name" yaml:"name"`
	Label          string           `json:"label" yaml:"label"`
	Type           FieldType        `json:"field_type" yaml:"field_type"`
	Section        string           `json:"section,omitempty" yaml:"section,omitempty"`
	Order          int              `json:"order" yaml:"order"`
	Required       bool             `json:"required" yaml:"required"`
	Placeholder    string           `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	HelpText       string           `json:"help_text,omitempty" yaml:"help_text,omitempty"`
	Rules          []ValidationRule `json:"validation_rules,omitempty" yaml:"validation_rules,omitempty"`
	Options        []Option         `json:"options,omitempty" yaml:"options,omitempty"`
	AutofillSource string           `json:"autofill_source,omitempty" yaml:"autofill_source,omitempty"`
	Sensitive      bool             `json:"is_sensitive" yaml:"is_sensitive"`
}

// FormTemplate is a reusable definition of a form's sections and fields.
type FormTemplate struct {
	ID           int64             `json:"id" yaml:"-"`
	AidProgramID int64             `json:"aid_program_id,omitempty" yaml:"-"`
	ProgramCode  string            `json:"program_code,omitempty" yaml:"program_code,omitempty"`
	Name         string            `json:"name" yaml:"name"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version      string            `json:"version" yaml:"version"`
	IsActive     bool              `json:"is_active" yaml:"is_active"`
	Sections     []Section         `json:"sections" yaml:"sections"`
	Fields       []FieldDefinition `json:"fields,omitempty" yaml:"fields"`
	CreatedAt    time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time         `json:"updated_at" yaml:"-"`
}

// Normalize sorts sections and fields by their order, keeping declaration
// order for ties. Call it once when a template is loaded.
func (t *FormTemplate) Normalize() {
	sort.SliceStable(t.Sections, func(i, j int) bool {
		return t.Sections[i].Order < t.Sections[j].Order
	})
	sort.SliceStable(t.Fields, func(i, j int) bool {
		return t.Fields[i].Order < t.Fields[j].Order
	})
}

// Validate checks the structural invariants of a template definition.
func (t *FormTemplate) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	sections := make(map[string]struct{}, len(t.Sections))
	for _, s := range t.Sections {
		if s.Name == "" {
			return fmt.Errorf("section name is required")
		}
		if _, dup := sections[s.Name]; dup {
			return fmt.Errorf("duplicate section %q", s.Name)
		}
		sections[s.Name] = struct{}{}
	}
	fields := make(map[string]struct{}, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" {
			return fmt.Errorf("field name is required")
		}
		if _, dup := fields[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		fields[f.Name] = struct{}{}
		if !f.Type.Valid() {
			return fmt.Errorf("field %q: unknown type %q", f.Name, f.Type)
		}
		if len(sections) > 0 && f.Section != "" {
			if _, ok := sections[f.Section]; !ok {
				return fmt.Errorf("field %q: unknown section %q", f.Name, f.Section)
			}
		}
	}
	return nil
}

// Field returns the definition of the named field.
func (t *FormTemplate) Field(name string) (*FieldDefinition, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return &t.Fields[i], true
		}
	}
	return nil, false
}

// HasSection reports whether the template declares the named section.
func (t *FormTemplate) HasSection(name string) bool {
	for _, s := range t.Sections {
		if s.Name == name {
			return true
		}
	}
	return false
}

// FieldsIn returns the fields of a section in display order.
func (t *FormTemplate) FieldsIn(section string) []FieldDefinition {
	out := make([]FieldDefinition, 0)
	for _, f := range t.Fields {
		if f.Section == section {
			out = append(out, f)
		}
	}
	return out
}

// RequiredFields returns the names of all required fields.
func (t *FormTemplate) RequiredFields() []string {
	var out []string
	for _, f := range t.Fields {
		if f.Required {
			out = append(out, f.Name)
		}
	}
	return out
}

// FormSession is one user's attempt to fill a template.
type FormSession struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	TemplateID      int64     `json:"template_id"`
	CurrentSection  string    `json:"current_section"`
	FormData        FormData  `json:"form_data"`
	CompletedFields FieldSet  `json:"completed_fields"`
	IsCompleted     bool      `json:"is_completed"`
	StartedAt       time.Time `json:"started_at"`
	LastActivity    time.Time `json:"last_activity"`
}

// MarshalJSON reports an empty current section as null.
func (s FormSession) MarshalJSON() ([]byte, error) {
	type plain FormSession
	out := struct {
		plain
		CurrentSection *string `json:"current_section"`
	}{plain: plain(s)}
	if s.CurrentSection != "" {
		out.CurrentSection = &s.CurrentSection
	}
	return json.Marshal(out)
}
