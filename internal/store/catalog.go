package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/jmoiron/sqlx"
)

const defaultListLimit = 100

type programRow struct {
	ID               int64  `db:"id"`
	Code             string `db:"code"`
	Name             string `db:"name"`
	ProgramType      string `db:"program_type"`
	ShortDescription string `db:"short_description"`
	FullDescription  string `db:"full_description"`
	BenefitAmount    string `db:"benefit_amount"`
	EligibilityJSON  string `db:"eligibility_json"`
	ProcessJSON      string `db:"process_json"`
	ContactPhone     string `db:"contact_phone"`
	ContactEmail     string `db:"contact_email"`
	Website          string `db:"website"`
	Priority         int    `db:"priority"`
	IsActive         bool   `db:"is_active"`
	CreatedAt        int64  `db:"created_at"`
	UpdatedAt        int64  `db:"updated_at"`
}

func (r programRow) toDomain() (*domain.AidProgram, error) {
	p := &domain.AidProgram{
		ID:               r.ID,
		Code:             r.Code,
		Name:             r.Name,
		ProgramType:      r.ProgramType,
		ShortDescription: r.ShortDescription,
		FullDescription:  r.FullDescription,
		BenefitAmount:    r.BenefitAmount,
		ContactPhone:     r.ContactPhone,
		ContactEmail:     r.ContactEmail,
		Website:          r.Website,
		Priority:         r.Priority,
		IsActive:         r.IsActive,
		Tags:             []string{},
		Regions:          []string{},
		CreatedAt:        time.Unix(r.CreatedAt, 0),
		UpdatedAt:        time.Unix(r.UpdatedAt, 0),
	}
	if err := json.Unmarshal([]byte(r.EligibilityJSON), &p.EligibilityCriteria); err != nil {
		return nil, fmt.Errorf("decode eligibility of program %s: %w", r.Code, err)
	}
	if err := json.Unmarshal([]byte(r.ProcessJSON), &p.ApplicationProcess); err != nil {
		return nil, fmt.Errorf("decode application process of program %s: %w", r.Code, err)
	}
	return p, nil
}

const programColumns = `p.id, p.code, p.name, p.program_type, p.short_description, p.full_description,
	p.benefit_amount, p.eligibility_json, p.process_json, p.contact_phone, p.contact_email,
	p.website, p.priority, p.is_active, p.created_at, p.updated_at`

// ListPrograms returns active programs ordered by priority, highest first.
func (s *SQLStore) ListPrograms(ctx context.Context, f domain.ProgramFilter) ([]*domain.AidProgram, error) {
	where := []string{"p.is_active = ?"}
	args := []any{true}
	if f.Type != "" {
		where = append(where, "p.program_type = ?")
		args = append(args, f.Type)
	}
	if f.Tag != "" {
		where = append(where, `EXISTS (SELECT 1 FROM program_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.program_id = p.id AND t.name = ?)`)
		args = append(args, f.Tag)
	}
	if len(f.Tags) > 0 {
		clause, inArgs, err := sqlx.In(`EXISTS (SELECT 1 FROM program_tags pt JOIN tags t ON t.id = pt.tag_id
			WHERE pt.program_id = p.id AND t.name IN (?))`, f.Tags)
		if err != nil {
			return nil, fmt.Errorf("expand tag filter: %w", err)
		}
		where = append(where, clause)
		args = append(args, inArgs...)
	}
	if f.Region != "" {
		where = append(where, `EXISTS (SELECT 1 FROM program_regions pr JOIN regions r ON r.id = pr.region_id
			WHERE pr.program_id = p.id AND r.name = ?)`)
		args = append(args, f.Region)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	query := `SELECT ` + programColumns + ` FROM aid_programs p WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY p.priority DESC, p.id LIMIT ? OFFSET ?`
	return s.selectPrograms(ctx, query, args...)
}

// SearchPrograms matches active programs by name, code or description.
func (s *SQLStore) SearchPrograms(ctx context.Context, q string, limit int) ([]*domain.AidProgram, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	pattern := "%" + strings.ToLower(strings.TrimSpace(q)) + "%"
	query := `SELECT ` + programColumns + ` FROM aid_programs p
		WHERE p.is_active = ? AND (
			LOWER(p.name) LIKE ? OR LOWER(p.code) LIKE ? OR
			LOWER(p.short_description) LIKE ? OR LOWER(p.full_description) LIKE ?)
		ORDER BY p.priority DESC, p.id LIMIT ?`
	return s.selectPrograms(ctx, query, true, pattern, pattern, pattern, pattern, limit)
}

// GetProgram returns a program by id, active or not.
func (s *SQLStore) GetProgram(ctx context.Context, id int64) (*domain.AidProgram, error) {
	programs, err := s.selectPrograms(ctx, `SELECT `+programColumns+` FROM aid_programs p WHERE p.id = ?`, id)
	if err != nil || len(programs) == 0 {
		return nil, err
	}
	return programs[0], nil
}

// GetProgramByCode returns a program by its unique code.
func (s *SQLStore) GetProgramByCode(ctx context.Context, code string) (*domain.AidProgram, error) {
	programs, err := s.selectPrograms(ctx, `SELECT `+programColumns+` FROM aid_programs p WHERE p.code = ?`, code)
	if err != nil || len(programs) == 0 {
		return nil, err
	}
	return programs[0], nil
}

func (s *SQLStore) selectPrograms(ctx context.Context, query string, args ...any) ([]*domain.AidProgram, error) {
	var rows []programRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select programs: %w", err)
	}
	if len(rows) == 0 {
		return []*domain.AidProgram{}, nil
	}

	programs := make([]*domain.AidProgram, 0, len(rows))
	byID := make(map[int64]*domain.AidProgram, len(rows))
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		p, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		programs = append(programs, p)
		byID[p.ID] = p
		ids = append(ids, p.ID)
	}

	if err := s.attachNames(ctx, `SELECT pt.program_id, t.name FROM program_tags pt
		JOIN tags t ON t.id = pt.tag_id WHERE pt.program_id IN (?) ORDER BY t.name`, ids,
		func(p *domain.AidProgram, name string) { p.Tags = append(p.Tags, name) }, byID); err != nil {
		return nil, fmt.Errorf("load program tags: %w", err)
	}
	if err := s.attachNames(ctx, `SELECT pr.program_id, r.name FROM program_regions pr
		JOIN regions r ON r.id = pr.region_id WHERE pr.program_id IN (?) ORDER BY r.name`, ids,
		func(p *domain.AidProgram, name string) { p.Regions = append(p.Regions, name) }, byID); err != nil {
		return nil, fmt.Errorf("load program regions: %w", err)
	}
	return programs, nil
}

func (s *SQLStore) attachNames(ctx context.Context, query string, ids []int64,
	add func(*domain.AidProgram, string), byID map[int64]*domain.AidProgram) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	var links []struct {
		ProgramID int64  `db:"program_id"`
		Name      string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &links, s.db.Rebind(query), args...); err != nil {
		return err
	}
	for _, l := range links {
		if p, ok := byID[l.ProgramID]; ok {
			add(p, l.Name)
		}
	}
	return nil
}

// CreateProgram inserts a program with its tag and region links.
func (s *SQLStore) CreateProgram(ctx context.Context, p *domain.AidProgram) error {
	eligibility, err := json.Marshal(nonNil(p.EligibilityCriteria))
	if err != nil {
		return fmt.Errorf("encode eligibility: %w", err)
	}
	process, err := json.Marshal(nonNil(p.ApplicationProcess))
	if err != nil {
		return fmt.Errorf("encode application process: %w", err)
	}
	now := time.Now()
	p.CreatedAt, p.UpdatedAt = now, now

	return s.inTx(ctx, "create program", func(tx *sqlx.Tx) error {
		id, err := insertID(ctx, tx, `
			INSERT INTO aid_programs (code, name, program_type, short_description, full_description,
				benefit_amount, eligibility_json, process_json, contact_phone, contact_email, website,
				priority, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			p.Code, p.Name, p.ProgramType, p.ShortDescription, p.FullDescription,
			p.BenefitAmount, string(eligibility), string(process), p.ContactPhone, p.ContactEmail, p.Website,
			p.Priority, p.IsActive, now.Unix(), now.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert program %s: %w", p.Code, wrapDuplicate(err, "program code"))
		}
		p.ID = id

		for _, name := range p.Tags {
			tagID, err := ensureNamed(ctx, tx, "tags", name)
			if err != nil {
				return fmt.Errorf("ensure tag %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO program_tags (program_id, tag_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING`), id, tagID); err != nil {
				return fmt.Errorf("link tag %s: %w", name, err)
			}
		}
		for _, name := range p.Regions {
			regionID, err := ensureNamed(ctx, tx, "regions", name)
			if err != nil {
				return fmt.Errorf("ensure region %s: %w", name, err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO program_regions (program_id, region_id) VALUES (?, ?)
				ON CONFLICT DO NOTHING`), id, regionID); err != nil {
				return fmt.Errorf("link region %s: %w", name, err)
			}
		}
		return nil
	})
}

// ensureNamed returns the id of the named row in table, inserting it first
// when missing. table is always a package constant.
func ensureNamed(ctx context.Context, tx *sqlx.Tx, table, name string) (int64, error) {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO `+table+` (name) VALUES (?) ON CONFLICT (name) DO NOTHING`), name); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.GetContext(ctx, &id, tx.Rebind(`SELECT id FROM `+table+` WHERE name = ?`), name); err != nil {
		return 0, err
	}
	return id, nil
}

// ListTags returns tags, optionally restricted to a category.
func (s *SQLStore) ListTags(ctx context.Context, category string) ([]*domain.Tag, error) {
	query := `SELECT id, name, description, category FROM tags`
	var args []any
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY name`

	tags := []*domain.Tag{}
	if err := s.db.SelectContext(ctx, &tags, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	return tags, nil
}

// CreateTag inserts a tag. An existing tag with the same name is updated.
func (s *SQLStore) CreateTag(ctx context.Context, tag *domain.Tag) error {
	return s.write(ctx, "create tag", func() error {
		id, err := insertID(ctx, s.db, `
			INSERT INTO tags (name, description, category) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET description = excluded.description, category = excluded.category
			RETURNING id`, tag.Name, tag.Description, tag.Category)
		if err != nil {
			return fmt.Errorf("insert tag %s: %w", tag.Name, err)
		}
		tag.ID = id
		return nil
	})
}

// ListRegions returns regions, optionally restricted to a country.
func (s *SQLStore) ListRegions(ctx context.Context, country string) ([]*domain.Region, error) {
	query := `SELECT id, name, country, code FROM regions`
	var args []any
	if country != "" {
		query += ` WHERE country = ?`
		args = append(args, country)
	}
	query += ` ORDER BY name`

	regions := []*domain.Region{}
	if err := s.db.SelectContext(ctx, &regions, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list regions: %w", err)
	}
	return regions, nil
}

// CreateRegion inserts a region. An existing region with the same name is updated.
func (s *SQLStore) CreateRegion(ctx context.Context, region *domain.Region) error {
	return s.write(ctx, "create region", func() error {
		id, err := insertID(ctx, s.db, `
			INSERT INTO regions (name, country, code) VALUES (?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET country = excluded.country, code = excluded.code
			RETURNING id`, region.Name, region.Country, region.Code)
		if err != nil {
			return fmt.Errorf("insert region %s: %w", region.Name, err)
		}
		region.ID = id
		return nil
	})
}
