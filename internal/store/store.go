// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/shared"
)

// ErrDuplicate is returned when a unique key already exists.
var ErrDuplicate = errors.New("already exists")

func wrapDuplicate(err error, what string) error {
	if shared.IsUniqueViolation(err) {
		return fmt.Errorf("%s: %w", what, ErrDuplicate)
	}
	return err
}

// UserStore persists anonymous users.
type UserStore interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// TemplateStore persists form templates with their fields.
type TemplateStore interface {
	// CreateTemplate inserts a template and its fields, setting their IDs.
	CreateTemplate(ctx context.Context, tpl *domain.FormTemplate) error

	// GetTemplate returns a template with sections and fields.
	GetTemplate(ctx context.Context, id int64) (*domain.FormTemplate, error)

	// GetTemplateByName returns the newest template with the given name.
	GetTemplateByName(ctx context.Context, name string) (*domain.FormTemplate, error)

	// ListTemplates returns active templates without their fields. A
	// non-zero aidProgramID restricts the list to that program.
	ListTemplates(ctx context.Context, aidProgramID int64) ([]*domain.FormTemplate, error)
}

// SessionStore persists form sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.FormSession) error
	GetSession(ctx context.Context, id string) (*domain.FormSession, error)
	UpdateSession(ctx context.Context, session *domain.FormSession) error

	// ListSessions returns a user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]*domain.FormSession, error)

	// DeleteStaleSessions removes incomplete sessions idle since before.
	DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error)
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) error
}

// CatalogStore persists aid programs, tags and regions.
type CatalogStore interface {
	// ListPrograms returns active programs ordered by priority, highest first.
	ListPrograms(ctx context.Context, filter domain.ProgramFilter) ([]*domain.AidProgram, error)
	GetProgram(ctx context.Context, id int64) (*domain.AidProgram, error)
	GetProgramByCode(ctx context.Context, code string) (*domain.AidProgram, error)

	// CreateProgram inserts a program, creating any tags and regions it
	// names that do not exist yet.
	CreateProgram(ctx context.Context, program *domain.AidProgram) error

	// SearchPrograms matches active programs by name, code or description.
	SearchPrograms(ctx context.Context, query string, limit int) ([]*domain.AidProgram, error)

	ListTags(ctx context.Context, category string) ([]*domain.Tag, error)
	CreateTag(ctx context.Context, tag *domain.Tag) error
	ListRegions(ctx context.Context, country string) ([]*domain.Region, error)
	CreateRegion(ctx context.Context, region *domain.Region) error
}

// DocumentStore persists document metadata.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*domain.Document, error)
}

// VerificationStore persists emailed verification codes.
type VerificationStore interface {
	CreateVerification(ctx context.Context, v *domain.EmailVerification) error

	// LatestVerification returns the newest code for email, used to throttle
	// resends.
	LatestVerification(ctx context.Context, email string) (*domain.EmailVerification, error)

	// ConsumeVerification atomically marks a matching unused code as used.
	ConsumeVerification(ctx context.Context, userID, email, codeHash string, since time.Time) (bool, error)

	VerifiedEmail(ctx context.Context, userID string) (string, error)
	DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	UserStore
	TemplateStore
	SessionStore
	ProfileStore
	CatalogStore
	DocumentStore
	VerificationStore

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
