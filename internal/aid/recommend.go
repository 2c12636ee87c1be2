package aid

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

// recommendPool bounds how many programs are scored per recommendation.
const recommendPool = 500

// Recommend returns programs suited to the user's profile: those whose
// tags match any signal derived from the profile, highest priority first.
// Without a profile, or when no program matches, the highest priority
// programs are returned.
func (s *Service) Recommend(ctx context.Context, userID string, limit int) ([]*domain.AidProgram, error) {
	limit = clampLimit(limit)

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	programs, err := s.catalog.ListPrograms(ctx, domain.ProgramFilter{Limit: recommendPool})
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	sort.SliceStable(programs, func(i, j int) bool { return programs[i].Priority > programs[j].Priority })
	if profile == nil {
		return head(programs, limit), nil
	}

	signals := profileSignals(profile, s.now())
	if len(signals) == 0 {
		return head(programs, limit), nil
	}

	matches := make([]*domain.AidProgram, 0, len(programs))
	for _, p := range programs {
		if matchesAny(p, signals) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		s.logger.Debug("No program matches profile, falling back to priority", "user_id", userID, "signals", signals)
		return head(programs, limit), nil
	}
	return head(matches, limit), nil
}

// profileSignals derives tag keywords from a profile: one age group and,
// when the income band mentions "low", low-income.
func profileSignals(p *domain.UserProfile, now time.Time) []string {
	var signals []string
	if age, ok := p.Age(now); ok {
		switch {
		case age >= 60:
			signals = append(signals, "senior")
		case age >= 18:
			signals = append(signals, "adult")
		default:
			signals = append(signals, "youth")
		}
	}
	if strings.Contains(strings.ToLower(p.Income), "low") {
		signals = append(signals, "low-income")
	}
	return signals
}

// matchesAny reports whether any program tag contains one of the signals.
func matchesAny(p *domain.AidProgram, signals []string) bool {
	for _, sig := range signals {
		for _, tag := range p.Tags {
			if strings.Contains(strings.ToLower(tag), sig) {
				return true
			}
		}
	}
	return false
}

func head(programs []*domain.AidProgram, n int) []*domain.AidProgram {
	if len(programs) > n {
		return programs[:n]
	}
	if programs == nil {
		return []*domain.AidProgram{}
	}
	return programs
}
