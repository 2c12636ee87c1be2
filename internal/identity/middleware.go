package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/store"
)

// lastSeenResolution limits how often a returning applicant's last_seen
// column is rewritten.
const lastSeenResolution = 5 * time.Minute

type registrar struct {
	users  store.UserStore
	secure bool
	logger *slog.Logger
	now    func() time.Time
}

// register records a first visit and refreshes last_seen for returning
// applicants.
func (g *registrar) register(ctx context.Context, userID string, now time.Time) error {
	user, err := g.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user != nil {
		if user.IdleFor(now) < lastSeenResolution {
			return nil
		}
		return g.users.UpdateLastSeen(ctx, userID, now)
	}
	g.logger.Info("Applicant registered", "user_id", userID)
	return g.users.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   displayName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// Middleware identifies the applicant behind each request by the device
// cookie, registering unknown devices, and attaches the Applicant to the
// request context. Cookies are Secure outside development.
func Middleware(repo store.UserStore, isDev bool) func(http.Handler) http.Handler {
	g := &registrar{users: repo, secure: !isDev, logger: slog.Default(), now: time.Now}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := g.now()
			userID, issued, err := deviceID(w, r, now, g.secure)
			if err != nil {
				g.logger.Error("Failed to issue device id", "error", err)
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			if err := g.register(r.Context(), userID, now); err != nil {
				g.logger.Error("Failed to register applicant", "user_id", userID, "error", err)
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithApplicant(r.Context(), Applicant{
				UserID:        userID,
				DisplayName:   displayName(userID),
				ChatSessionID: chatSessionID(r),
				NewDevice:     issued,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns the remote host of r, used as a rate limit key for
// unidentified callers.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
