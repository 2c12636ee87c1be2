package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

type profileRow struct {
	domain.UserProfile
	ExtraJSON string `db:"extra_json"`
	Created   int64  `db:"created_at"`
	Updated   int64  `db:"updated_at"`
}

// GetProfile returns a user's profile.
func (s *SQLStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	query := s.db.Rebind(`
		SELECT user_id, full_name, birth_date, gender, id_number, email, phone_number,
		       alternative_phone, address, city, state, postal_code, country,
		       preferred_language, accessibility_needs, income, employment_status,
		       extra_json, created_at, updated_at
		FROM user_profiles WHERE user_id = ?`)

	var row profileRow
	err := s.db.GetContext(ctx, &row, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}

	profile := row.UserProfile
	if err := json.Unmarshal([]byte(row.ExtraJSON), &profile.Extra); err != nil {
		return nil, fmt.Errorf("decode profile extras: %w", err)
	}
	profile.CreatedAt = time.Unix(row.Created, 0)
	profile.UpdatedAt = time.Unix(row.Updated, 0)
	return &profile, nil
}

// UpsertProfile creates or replaces a user's profile.
func (s *SQLStore) UpsertProfile(ctx context.Context, p *domain.UserProfile) error {
	extra := p.Extra
	if extra == nil {
		extra = domain.FormData{}
	}
	rawExtra, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("encode profile extras: %w", err)
	}

	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := s.db.Rebind(`
	INSERT INTO user_profiles (user_id, full_name, birth_date, gender, id_number, email, phone_number,
		alternative_phone, address, city, state, postal_code, country, preferred_language,
		accessibility_needs, income, employment_status, extra_json, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		full_name = excluded.full_name,
		birth_date = excluded.birth_date,
		gender = excluded.gender,
		id_number = excluded.id_number,
		email = excluded.email,
		phone_number = excluded.phone_number,
		alternative_phone = excluded.alternative_phone,
		address = excluded.address,
		city = excluded.city,
		state = excluded.state,
		postal_code = excluded.postal_code,
		country = excluded.country,
		preferred_language = excluded.preferred_language,
		accessibility_needs = excluded.accessibility_needs,
		income = excluded.income,
		employment_status = excluded.employment_status,
		extra_json = excluded.extra_json,
		updated_at = excluded.updated_at`)

	return s.write(ctx, "upsert profile", func() error {
		_, err := s.db.ExecContext(ctx, query,
			p.UserID, p.FullName, p.BirthDate, p.Gender, p.IDNumber, p.Email, p.PhoneNumber,
			p.AlternativePhone, p.Address, p.City, p.State, p.PostalCode, p.Country, p.PreferredLanguage,
			p.AccessibilityNeeds, p.Income, p.EmploymentStatus, string(rawExtra),
			p.CreatedAt.Unix(), p.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
}
