package identity

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

type fakeUsers struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	upserts  int
	lastSeen int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*domain.User)}
}

func (f *fakeUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return nil, nil
	}
	copy := *u
	return &copy, nil
}

func (f *fakeUsers) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeUsers) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeen++
	if u, ok := f.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func TestMiddlewareIssuesAndReusesCookie(t *testing.T) {
	users := newFakeUsers()
	var seen []string
	h := Middleware(users, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, UserIDFromContext(r.Context())+"|"+SessionIDFromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || !isValidAnonID(cookies[0].Value) {
		t.Fatalf("cookies = %+v", cookies)
	}
	if users.upserts != 1 {
		t.Fatalf("upserts = %d, want 1", users.upserts)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	req.Header.Set(SessionHeaderName, "tab-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(seen) != 2 || seen[1] != cookies[0].Value+"|tab-1" {
		t.Fatalf("seen = %v", seen)
	}
	if seen[0] != cookies[0].Value+"|"+DefaultSessionIDValue {
		t.Fatalf("first request = %q", seen[0])
	}
	if users.upserts != 1 || users.lastSeen != 0 {
		t.Fatalf("recent user should not be written again: upserts=%d lastSeen=%d", users.upserts, users.lastSeen)
	}
}

func TestRegisterRefreshesStaleLastSeen(t *testing.T) {
	users := newFakeUsers()
	now := time.Now()
	users.users["anon_x"] = &domain.User{UserID: "anon_x", LastSeenAt: now.Add(-time.Hour)}
	g := &registrar{users: users, logger: slog.Default(), now: time.Now}

	if err := g.register(context.Background(), "anon_x", now); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if users.lastSeen != 1 {
		t.Fatalf("lastSeen updates = %d, want 1", users.lastSeen)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	tests := map[string]string{
		"":          DefaultSessionIDValue,
		"  tab-2  ": "tab-2",
		"has space": DefaultSessionIDValue,
		"<script>":  DefaultSessionIDValue,
		"a.b:c_d-e": "a.b:c_d-e",
	}
	for in, want := range tests {
		if got := sanitizeSessionID(in); got != want {
			t.Fatalf("sanitizeSessionID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWithUserID(t *testing.T) {
	ctx := WithUserID(context.Background(), "anon_1")
	if got := UserIDFromContext(ctx); got != "anon_1" {
		t.Fatalf("UserIDFromContext() = %q", got)
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("empty context user = %q", got)
	}
	if got := SessionIDFromContext(ctx); got != DefaultSessionIDValue {
		t.Fatalf("SessionIDFromContext() = %q", got)
	}
}

func TestMiddlewareAttachesApplicant(t *testing.T) {
	users := newFakeUsers()
	var got []Applicant
	h := Middleware(users, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, FromContext(r.Context()))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/form/sessions?session_id=tab-9", nil))
	cookie := rec.Result().Cookies()[0]
	if !cookie.Secure || !cookie.HttpOnly {
		t.Fatalf("production cookie flags = %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/form/sessions", nil)
	req.AddCookie(cookie)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if len(got) != 2 {
		t.Fatalf("handler ran %d times", len(got))
	}
	first, second := got[0], got[1]
	if !first.NewDevice || second.NewDevice {
		t.Fatalf("NewDevice = %v, %v; want true, false", first.NewDevice, second.NewDevice)
	}
	if first.UserID != second.UserID || first.ChatSessionID != "tab-9" || second.ChatSessionID != DefaultSessionIDValue {
		t.Fatalf("applicants = %+v", got)
	}
	if want := "guest-" + cookie.Value[len(cookie.Value)-8:]; first.DisplayName != want || users.users[first.UserID].Username != want {
		t.Fatalf("display name = %q, stored %q, want %q", first.DisplayName, users.users[first.UserID].Username, want)
	}
}
