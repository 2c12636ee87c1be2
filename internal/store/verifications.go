package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

type verificationRow struct {
	ID        int64  `db:"id"`
	UserID    string `db:"user_id"`
	Email     string `db:"email"`
	CodeHash  string `db:"code_hash"`
	Used      bool   `db:"used"`
	CreatedAt int64  `db:"created_at"`
}

// CreateVerification stores a new verification code hash.
func (s *SQLStore) CreateVerification(ctx context.Context, v *domain.EmailVerification) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	return s.write(ctx, "create verification", func() error {
		id, err := insertID(ctx, s.db, `
			INSERT INTO email_verifications (user_id, email, code_hash, used, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`,
			v.UserID, v.Email, v.CodeHash, false, v.CreatedAt.Unix())
		if err != nil {
			return fmt.Errorf("insert verification: %w", err)
		}
		v.ID = id
		return nil
	})
}

// LatestVerification returns the newest code issued for email.
func (s *SQLStore) LatestVerification(ctx context.Context, email string) (*domain.EmailVerification, error) {
	query := s.db.Rebind(`
		SELECT id, user_id, email, code_hash, used, created_at
		FROM email_verifications WHERE email = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`)

	var row verificationRow
	err := s.db.GetContext(ctx, &row, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest verification: %w", err)
	}
	return &domain.EmailVerification{
		ID:        row.ID,
		UserID:    row.UserID,
		Email:     row.Email,
		CodeHash:  row.CodeHash,
		Used:      row.Used,
		CreatedAt: time.Unix(row.CreatedAt, 0),
	}, nil
}

// ConsumeVerification marks a matching unused code issued to userID since
// the given time as used. It reports whether a code was consumed, so a code
// works at most once even under concurrent confirmations.
func (s *SQLStore) ConsumeVerification(ctx context.Context, userID, email, codeHash string, since time.Time) (bool, error) {
	query := s.db.Rebind(`
		UPDATE email_verifications SET used = ?
		WHERE user_id = ? AND email = ? AND code_hash = ? AND used = ? AND created_at >= ?`)

	var consumed bool
	err := s.write(ctx, "consume verification", func() error {
		res, err := s.db.ExecContext(ctx, query, true, userID, email, codeHash, false, since.Unix())
		if err != nil {
			return fmt.Errorf("consume verification: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("consume verification rows: %w", err)
		}
		consumed = n > 0
		return nil
	})
	return consumed, err
}

// VerifiedEmail returns the address the user most recently verified, or ""
// when they have verified none.
func (s *SQLStore) VerifiedEmail(ctx context.Context, userID string) (string, error) {
	query := s.db.Rebind(`
		SELECT email FROM email_verifications
		WHERE user_id = ? AND used = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`)

	var email string
	err := s.db.GetContext(ctx, &email, query, userID, true)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get verified email: %w", err)
	}
	return email, nil
}

// DeleteExpiredVerifications removes codes created before the cutoff.
func (s *SQLStore) DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error) {
	query := s.db.Rebind(`DELETE FROM email_verifications WHERE created_at < ? AND used = ?`)

	var deleted int64
	err := s.write(ctx, "delete expired verifications", func() error {
		res, err := s.db.ExecContext(ctx, query, before.Unix(), false)
		if err != nil {
			return fmt.Errorf("delete expired verifications: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}
