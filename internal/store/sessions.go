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

type sessionRow struct {
	ID              string         `db:"id"`
	UserID          string         `db:"user_id"`
	TemplateID      int64          `db:"template_id"`
	CurrentSection  sql.NullString `db:"current_section"`
	FormData        string         `db:"form_data"`
	CompletedFields string         `db:"completed_fields"`
	IsCompleted     bool           `db:"is_completed"`
	StartedAt       int64          `db:"started_at"`
	LastActivity    int64          `db:"last_activity"`
}

func (r sessionRow) toDomain() (*domain.FormSession, error) {
	session := &domain.FormSession{
		ID:             r.ID,
		UserID:         r.UserID,
		TemplateID:     r.TemplateID,
		CurrentSection: r.CurrentSection.String,
		IsCompleted:    r.IsCompleted,
		StartedAt:      time.Unix(r.StartedAt, 0),
		LastActivity:   time.Unix(r.LastActivity, 0),
	}
	if err := json.Unmarshal([]byte(r.FormData), &session.FormData); err != nil {
		return nil, fmt.Errorf("decode form data of session %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.CompletedFields), &session.CompletedFields); err != nil {
		return nil, fmt.Errorf("decode completed fields of session %s: %w", r.ID, err)
	}
	if session.FormData == nil {
		session.FormData = domain.FormData{}
	}
	if session.CompletedFields == nil {
		session.CompletedFields = domain.FieldSet{}
	}
	return session, nil
}

func encodeSession(session *domain.FormSession) (data, completed string, section any, err error) {
	d := session.FormData
	if d == nil {
		d = domain.FormData{}
	}
	rawData, err := json.Marshal(d)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode form data: %w", err)
	}
	rawCompleted, err := json.Marshal(session.CompletedFields)
	if err != nil {
		return "", "", nil, fmt.Errorf("encode completed fields: %w", err)
	}
	if session.CurrentSection != "" {
		section = session.CurrentSection
	}
	return string(rawData), string(rawCompleted), section, nil
}

const sessionColumns = `id, user_id, template_id, current_section, form_data, completed_fields, is_completed, started_at, last_activity`

// CreateSession inserts a new form session.
func (s *SQLStore) CreateSession(ctx context.Context, session *domain.FormSession) error {
	data, completed, section, err := encodeSession(session)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`INSERT INTO form_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	return s.write(ctx, "create session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.ID, session.UserID, session.TemplateID, section, data, completed,
			session.IsCompleted, unixOrZero(session.StartedAt), unixOrZero(session.LastActivity),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		return nil
	})
}

// GetSession returns a session by id.
func (s *SQLStore) GetSession(ctx context.Context, id string) (*domain.FormSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+sessionColumns+` FROM form_sessions WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return row.toDomain()
}

// UpdateSession persists the mutable state of a session.
func (s *SQLStore) UpdateSession(ctx context.Context, session *domain.FormSession) error {
	data, completed, section, err := encodeSession(session)
	if err != nil {
		return err
	}
	query := s.db.Rebind(`
		UPDATE form_sessions SET current_section = ?, form_data = ?, completed_fields = ?,
			is_completed = ?, last_activity = ?
		WHERE id = ?`)

	return s.write(ctx, "update session", func() error {
		result, err := s.db.ExecContext(ctx, query,
			section, data, completed, session.IsCompleted, unixOrZero(session.LastActivity), session.ID)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("session %s not found", session.ID)
		}
		return nil
	})
}

// ListSessions returns a user's sessions, most recently active first.
func (s *SQLStore) ListSessions(ctx context.Context, userID string) ([]*domain.FormSession, error) {
	var rows []sessionRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+sessionColumns+` FROM form_sessions WHERE user_id = ? ORDER BY last_activity DESC, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*domain.FormSession, 0, len(rows))
	for _, r := range rows {
		session, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, nil
}

// DeleteStaleSessions removes incomplete sessions idle since before.
func (s *SQLStore) DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM form_sessions WHERE is_completed = ? AND last_activity < ?`)

	var deleted int64
	err := s.write(ctx, "delete stale sessions", func() error {
		result, err := s.db.ExecContext(ctx, query, false, before.Unix())
		if err != nil {
			return fmt.Errorf("delete stale sessions: %w", err)
		}
		deleted, err = result.RowsAffected()
		return err
	})
	return deleted, err
}
