package domain

import "time"

// EmailVerification is one emailed code that proves a user controls an
// address. Only a hash of the code is kept.
type EmailVerification struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CodeHash  string    `json:"-"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}
