// Package identity gives every browser an anonymous applicant id. Form
// sessions, documents and profiles are owned by that id; the per-tab chat
// session id scopes assistant history.
package identity

import "context"

// DefaultSessionIDValue is the chat session used when a request names none.
const DefaultSessionIDValue = "default"

// Applicant is the caller as seen by the handlers.
type Applicant struct {
	UserID        string
	DisplayName   string
	ChatSessionID string
	// NewDevice is set on the request that first issued the device cookie.
	NewDevice bool
}

type applicantKey struct{}

// WithApplicant returns a copy of ctx carrying a.
func WithApplicant(ctx context.Context, a Applicant) context.Context {
	if a.ChatSessionID == "" {
		a.ChatSessionID = DefaultSessionIDValue
	}
	return context.WithValue(ctx, applicantKey{}, a)
}

// FromContext returns the applicant stored in ctx, zero valued when absent.
func FromContext(ctx context.Context) Applicant {
	a, _ := ctx.Value(applicantKey{}).(Applicant)
	return a
}

// WithUserID returns a copy of ctx owned by userID with the default chat
// session.
func WithUserID(ctx context.Context, userID string) context.Context {
	return WithApplicant(ctx, Applicant{UserID: userID, DisplayName: displayName(userID)})
}

// UserIDFromContext returns the owning applicant id, "" when unidentified.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// SessionIDFromContext returns the chat session of the request.
func SessionIDFromContext(ctx context.Context) string {
	if sid := FromContext(ctx).ChatSessionID; sid != "" {
		return sid
	}
	return DefaultSessionIDValue
}
