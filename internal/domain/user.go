// Package domain contains core domain types for the carebridge service.
package domain

import (
	"time"
)

// User is an anonymous per-device identity.
type User struct {
	UserID     string    `json:"user_id" db:"user_id"`
	Username   string    `json:"username" db:"username"`
	LastSeenAt time.Time `json:"last_seen_at" db:"-"`
	CreatedAt  time.Time `json:"created_at" db:"-"`
	UpdatedAt  time.Time `json:"updated_at" db:"-"`
}

// IdleFor returns how long the user has been inactive at now.
func (u *User) IdleFor(now time.Time) time.Duration {
	idle := now.Sub(u.LastSeenAt)
	if idle < 0 {
		return 0
	}
	return idle
}
