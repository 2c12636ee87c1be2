package verify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/notify"
)

type fakeStore struct {
	mu    sync.Mutex
	codes []domain.EmailVerification
}

func (f *fakeStore) CreateVerification(_ context.Context, v *domain.EmailVerification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.ID = int64(len(f.codes) + 1)
	f.codes = append(f.codes, *v)
	return nil
}

func (f *fakeStore) LatestVerification(_ context.Context, email string) (*domain.EmailVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.codes) - 1; i >= 0; i-- {
		if f.codes[i].Email == email {
			v := f.codes[i]
			return &v, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ConsumeVerification(_ context.Context, userID, email, codeHash string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.codes {
		c := &f.codes[i]
		if c.UserID == userID && c.Email == email && c.CodeHash == codeHash && !c.Used && !c.CreatedAt.Before(since) {
			c.Used = true
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) VerifiedEmail(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.codes) - 1; i >= 0; i-- {
		if f.codes[i].UserID == userID && f.codes[i].Used {
			return f.codes[i].Email, nil
		}
	}
	return "", nil
}

type fakeProfiles struct {
	mu       sync.Mutex
	profiles map[string]*domain.UserProfile
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, nil
	}
	copy := *p
	return &copy, nil
}

func (f *fakeProfiles) UpsertProfile(_ context.Context, p *domain.UserProfile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *p
	f.profiles[p.UserID] = &copy
	return nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fixture struct {
	svc      *Service
	store    *fakeStore
	profiles *fakeProfiles
	sender   *fakeSender
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store:    &fakeStore{},
		profiles: &fakeProfiles{profiles: map[string]*domain.UserProfile{}},
		sender:   &fakeSender{},
		now:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.store, f.profiles, f.sender, nil)
	f.svc.now = func() time.Time { return f.now }
	f.svc.newCode = func() (string, error) { return "042917", nil }
	return f
}

func TestRequestAndConfirm(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.profiles.profiles["u1"] = &domain.UserProfile{UserID: "u1", FullName: "Ana"}

	if err := f.svc.RequestCode(ctx, "u1", " Ana <ANA@Example.com> "); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.To != "ana@example.com" || !strings.Contains(msg.Body, "042917") {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if strings.Contains(f.store.codes[0].CodeHash, "042917") {
		t.Fatal("code must not be stored in clear")
	}

	f.now = f.now.Add(2 * time.Minute)
	profile, err := f.svc.Confirm(ctx, "u1", "ana@example.com", " 042917 ")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if profile.Email != "ana@example.com" || profile.FullName != "Ana" {
		t.Fatalf("Confirm() profile = %+v", profile)
	}
	stored, _ := f.profiles.GetProfile(ctx, "u1")
	if stored.Email != "ana@example.com" || stored.FullName != "Ana" {
		t.Fatalf("stored profile = %+v", stored)
	}
	if email, _ := f.svc.VerifiedEmail(ctx, "u1"); email != "ana@example.com" {
		t.Fatalf("VerifiedEmail() = %q", email)
	}

	if _, err := f.svc.Confirm(ctx, "u1", "ana@example.com", "042917"); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("second Confirm() error = %v, want ErrInvalidCode", err)
	}
}

func TestConfirmCreatesProfile(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.svc.RequestCode(ctx, "u2", "new@example.com"); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	profile, err := f.svc.Confirm(ctx, "u2", "new@example.com", "042917")
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if profile.UserID != "u2" || profile.Email != "new@example.com" {
		t.Fatalf("Confirm() profile = %+v", profile)
	}
}

func TestConfirmRejects(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		email   string
		code    string
		advance time.Duration
		want    error
	}{
		{"wrong code", "u1", "ana@example.com", "111111", 0, ErrInvalidCode},
		{"short code", "u1", "ana@example.com", "42", 0, ErrInvalidCode},
		{"other user", "u2", "ana@example.com", "042917", 0, ErrInvalidCode},
		{"expired", "u1", "ana@example.com", "042917", CodeTTL + time.Second, ErrInvalidCode},
		{"bad address", "u1", "not-an-address", "042917", 0, ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			ctx := context.Background()
			if err := f.svc.RequestCode(ctx, "u1", "ana@example.com"); err != nil {
				t.Fatalf("RequestCode() error = %v", err)
			}
			f.now = f.now.Add(tt.advance)
			if _, err := f.svc.Confirm(ctx, tt.userID, tt.email, tt.code); !errors.Is(err, tt.want) {
				t.Fatalf("Confirm() error = %v, want %v", err, tt.want)
			}
			if _, ok := f.profiles.profiles[tt.userID]; ok {
				t.Fatal("profile must not change on a rejected code")
			}
		})
	}
}

func TestRequestCodeThrottlesResends(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	if err := f.svc.RequestCode(ctx, "u1", "ana@example.com"); err != nil {
		t.Fatalf("RequestCode() error = %v", err)
	}
	f.now = f.now.Add(30 * time.Second)
	if err := f.svc.RequestCode(ctx, "u1", "ana@example.com"); !errors.Is(err, ErrTooSoon) {
		t.Fatalf("RequestCode() within interval = %v, want ErrTooSoon", err)
	}
	f.now = f.now.Add(ResendInterval)
	if err := f.svc.RequestCode(ctx, "u1", "ana@example.com"); err != nil {
		t.Fatalf("RequestCode() after interval error = %v", err)
	}
	if len(f.sender.sent) != 2 {
		t.Fatalf("expected two emails, got %d", len(f.sender.sent))
	}
}

func TestRequestCodeErrors(t *testing.T) {
	disabled := NewService(&fakeStore{}, &fakeProfiles{profiles: map[string]*domain.UserProfile{}}, nil, nil)
	if disabled.Enabled() {
		t.Fatal("service without sender should be disabled")
	}
	if err := disabled.RequestCode(context.Background(), "u1", "ana@example.com"); !errors.Is(err, ErrDisabled) {
		t.Fatalf("RequestCode() error = %v, want ErrDisabled", err)
	}

	f := newFixture()
	if err := f.svc.RequestCode(context.Background(), "u1", "@@"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("RequestCode() error = %v, want ErrInvalidEmail", err)
	}

	f.sender.err = errors.New("relay down")
	if err := f.svc.RequestCode(context.Background(), "u1", "ana@example.com"); err == nil {
		t.Fatal("expected send failure to be reported")
	}
}

func TestRandomCodeFormat(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := randomCode()
		if err != nil {
			t.Fatalf("randomCode() error = %v", err)
		}
		if len(code) != codeDigits || strings.Trim(code, "0123456789") != "" {
			t.Fatalf("randomCode() = %q", code)
		}
	}
}
