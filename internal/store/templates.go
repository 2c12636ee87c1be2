package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/jmoiron/sqlx"
)

type templateRow struct {
	ID           int64         `db:"id"`
	AidProgramID sql.NullInt64 `db:"aid_program_id"`
	Name         string        `db:"name"`
	Description  string        `db:"description"`
	Version      string        `db:"version"`
	IsActive     bool          `db:"is_active"`
	SectionsJSON string        `db:"sections_json"`
	CreatedAt    int64         `db:"created_at"`
	UpdatedAt    int64         `db:"updated_at"`
}

func (r templateRow) toDomain() (*domain.FormTemplate, error) {
	tpl := &domain.FormTemplate{
		ID:           r.ID,
		AidProgramID: r.AidProgramID.Int64,
		Name:         r.Name,
		Description:  r.Description,
		Version:      r.Version,
		IsActive:     r.IsActive,
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		UpdatedAt:    time.Unix(r.UpdatedAt, 0),
	}
	if err := json.Unmarshal([]byte(r.SectionsJSON), &tpl.Sections); err != nil {
		return nil, fmt.Errorf("decode sections of template %d: %w", r.ID, err)
	}
	return tpl, nil
}

type fieldRow struct {
	ID             int64  `db:"id"`
	TemplateID     int64  `db:"template_id"`
	Name           string `db:"name"`
	Label          string `db:"label"`
	FieldType      string `db:"field_type"`
	Section        string `db:"section"`
	SortOrder      int    `db:"sort_order"`
	Required       bool   `db:"required"`
	Placeholder    string `db:"placeholder"`
	HelpText       string `db:"help_text"`
	RulesJSON      string `db:"rules_json"`
	OptionsJSON    string `db:"options_json"`
	AutofillSource string `db:"autofill_source"`
	Sensitive      bool   `db:"is_sensitive"`
}

func (r fieldRow) toDomain() (domain.FieldDefinition, error) {
	f := domain.FieldDefinition{
		ID:             r.ID,
		TemplateID:     r.TemplateID,
		Name:           r.Name,
		Label:          r.Label,
		Type:           domain.FieldType(r.FieldType),
		Section:        r.Section,
		Order:          r.SortOrder,
		Required:       r.Required,
		Placeholder:    r.Placeholder,
		HelpText:       r.HelpText,
		AutofillSource: r.AutofillSource,
		Sensitive:      r.Sensitive,
	}
	if err := json.Unmarshal([]byte(r.RulesJSON), &f.Rules); err != nil {
		return f, fmt.Errorf("decode rules of field %s: %w", r.Name, err)
	}
	if err := json.Unmarshal([]byte(r.OptionsJSON), &f.Options); err != nil {
		return f, fmt.Errorf("decode options of field %s: %w", r.Name, err)
	}
	return f, nil
}

const templateColumns = `id, aid_program_id, name, description, version, is_active, sections_json, created_at, updated_at`

// CreateTemplate inserts a template and its fields in one transaction.
func (s *SQLStore) CreateTemplate(ctx context.Context, tpl *domain.FormTemplate) error {
	if err := tpl.Validate(); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	sections, err := json.Marshal(nonNil(tpl.Sections))
	if err != nil {
		return fmt.Errorf("encode sections: %w", err)
	}

	now := time.Now()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	if tpl.Version == "" {
		tpl.Version = "1.0"
	}

	var programID any
	if tpl.AidProgramID != 0 {
		programID = tpl.AidProgramID
	}

	return s.inTx(ctx, "create template", func(tx *sqlx.Tx) error {
		id, err := insertID(ctx, tx, `
			INSERT INTO form_templates (aid_program_id, name, description, version, is_active, sections_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			programID, tpl.Name, tpl.Description, tpl.Version, tpl.IsActive, string(sections),
			tpl.CreatedAt.Unix(), tpl.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		tpl.ID = id

		for i := range tpl.Fields {
			f := &tpl.Fields[i]
			rules, err := json.Marshal(nonNil(f.Rules))
			if err != nil {
				return fmt.Errorf("encode rules of field %s: %w", f.Name, err)
			}
			options, err := json.Marshal(nonNil(f.Options))
			if err != nil {
				return fmt.Errorf("encode options of field %s: %w", f.Name, err)
			}
			fid, err := insertID(ctx, tx, `
				INSERT INTO form_fields (template_id, name, label, field_type, section, sort_order, required,
					placeholder, help_text, rules_json, options_json, autofill_source, is_sensitive)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				RETURNING id`,
				id, f.Name, f.Label, string(f.Type), f.Section, f.Order, f.Required,
				f.Placeholder, f.HelpText, string(rules), string(options), f.AutofillSource, f.Sensitive,
			)
			if err != nil {
				return fmt.Errorf("insert field %s: %w", f.Name, err)
			}
			f.ID = fid
			f.TemplateID = id
		}
		return nil
	})
}

// GetTemplate returns a template with sections and fields.
func (s *SQLStore) GetTemplate(ctx context.Context, id int64) (*domain.FormTemplate, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+templateColumns+` FROM form_templates WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return s.withFields(ctx, row)
}

// GetTemplateByName returns the newest template with the given name.
func (s *SQLStore) GetTemplateByName(ctx context.Context, name string) (*domain.FormTemplate, error) {
	var row templateRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind(`SELECT `+templateColumns+` FROM form_templates WHERE name = ? ORDER BY id DESC LIMIT 1`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template %q: %w", name, err)
	}
	return s.withFields(ctx, row)
}

func (s *SQLStore) withFields(ctx context.Context, row templateRow) (*domain.FormTemplate, error) {
	tpl, err := row.toDomain()
	if err != nil {
		return nil, err
	}

	var rows []fieldRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, template_id, name, label, field_type, section, sort_order, required,
		       placeholder, help_text, rules_json, options_json, autofill_source, is_sensitive
		FROM form_fields WHERE template_id = ? ORDER BY sort_order, id`), row.ID)
	if err != nil {
		return nil, fmt.Errorf("list fields of template %d: %w", row.ID, err)
	}
	tpl.Fields = make([]domain.FieldDefinition, 0, len(rows))
	for _, r := range rows {
		f, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		tpl.Fields = append(tpl.Fields, f)
	}
	tpl.Normalize()
	return tpl, nil
}

// ListTemplates returns active templates without their fields.
func (s *SQLStore) ListTemplates(ctx context.Context, aidProgramID int64) ([]*domain.FormTemplate, error) {
	query := `SELECT ` + templateColumns + ` FROM form_templates WHERE is_active = ?`
	args := []any{true}
	if aidProgramID != 0 {
		query += ` AND aid_program_id = ?`
		args = append(args, aidProgramID)
	}
	query += ` ORDER BY id`

	var rows []templateRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	out := make([]*domain.FormTemplate, 0, len(rows))
	for _, r := range rows {
		tpl, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		tpl.Normalize()
		out = append(out, tpl)
	}
	return out, nil
}

// nonNil keeps empty JSON arrays from encoding as null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
