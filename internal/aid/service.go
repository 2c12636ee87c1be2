// Package aid serves the welfare aid catalog: programs, tags, regions,
// search and profile-based recommendations.
package aid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

var (
	// ErrProgramNotFound is returned for unknown or inactive programs.
	ErrProgramNotFound = errors.New("aid program not found")
	// ErrInvalidInput wraps validation failures of create requests.
	ErrInvalidInput = errors.New("invalid input")
)

// Catalog is the persistence the service reads and writes. Missing rows are
// (nil, nil).
type Catalog interface {
	ListPrograms(ctx context.Context, filter domain.ProgramFilter) ([]*domain.AidProgram, error)
	GetProgram(ctx context.Context, id int64) (*domain.AidProgram, error)
	CreateProgram(ctx context.Context, program *domain.AidProgram) error
	SearchPrograms(ctx context.Context, query string, limit int) ([]*domain.AidProgram, error)
	ListTags(ctx context.Context, category string) ([]*domain.Tag, error)
	CreateTag(ctx context.Context, tag *domain.Tag) error
	ListRegions(ctx context.Context, country string) ([]*domain.Region, error)
	CreateRegion(ctx context.Context, region *domain.Region) error
}

// ProfileReader fetches a user's profile. A missing profile is (nil, nil).
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// Service implements catalog queries and recommendations.
type Service struct {
	catalog  Catalog
	profiles ProfileReader
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an aid catalog service.
func NewService(catalog Catalog, profiles ProfileReader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{catalog: catalog, profiles: profiles, logger: logger, now: time.Now}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Programs lists active programs matching filter, highest priority first.
func (s *Service) Programs(ctx context.Context, filter domain.ProgramFilter) ([]*domain.AidProgram, error) {
	filter.Limit = clampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	programs, err := s.catalog.ListPrograms(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	return programs, nil
}

// Program returns an active program by id.
func (s *Service) Program(ctx context.Context, id int64) (*domain.AidProgram, error) {
	p, err := s.catalog.GetProgram(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get program %d: %w", id, err)
	}
	if p == nil || !p.IsActive {
		return nil, ErrProgramNotFound
	}
	return p, nil
}

// CreateProgram adds a program to the catalog.
func (s *Service) CreateProgram(ctx context.Context, p *domain.AidProgram) error {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.Code == "":
		return fmt.Errorf("%w: code is required", ErrInvalidInput)
	case p.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case p.ProgramType == "":
		return fmt.Errorf("%w: program_type is required", ErrInvalidInput)
	}
	p.Tags = normalizeNames(p.Tags)
	p.Regions = normalizeNames(p.Regions)
	if err := s.catalog.CreateProgram(ctx, p); err != nil {
		return fmt.Errorf("create program: %w", err)
	}
	s.logger.Info("Aid program created", "program_id", p.ID, "code", p.Code)
	return nil
}

// Search matches active programs by name, code or description.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]*domain.AidProgram, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.AidProgram{}, nil
	}
	programs, err := s.catalog.SearchPrograms(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search programs: %w", err)
	}
	return programs, nil
}

// Tags lists tags, optionally restricted to a category.
func (s *Service) Tags(ctx context.Context, category string) ([]*domain.Tag, error) {
	return s.catalog.ListTags(ctx, strings.TrimSpace(category))
}

// CreateTag adds or updates a tag by name.
func (s *Service) CreateTag(ctx context.Context, tag *domain.Tag) error {
	tag.Name = strings.TrimSpace(tag.Name)
	if tag.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.catalog.CreateTag(ctx, tag)
}

// Regions lists regions, optionally restricted to a country.
func (s *Service) Regions(ctx context.Context, country string) ([]*domain.Region, error) {
	return s.catalog.ListRegions(ctx, strings.TrimSpace(country))
}

// CreateRegion adds or updates a region by name.
func (s *Service) CreateRegion(ctx context.Context, region *domain.Region) error {
	region.Name = strings.TrimSpace(region.Name)
	if region.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.catalog.CreateRegion(ctx, region)
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
