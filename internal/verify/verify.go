// Package verify proves that a user controls an email address by mailing a
// short-lived numeric code. A confirmed address is written to the user's
// profile, where completion notices and auto-fill pick it up.
package verify

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/notify"
)

const (
	// CodeTTL is how long an issued code can be confirmed.
	CodeTTL = 5 * time.Minute
	// ResendInterval is the minimum gap between codes for one address.
	ResendInterval = time.Minute

	codeDigits  = 6
	sendTimeout = 30 * time.Second
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	ErrInvalidCode  = errors.New("invalid or expired verification code")
	ErrTooSoon      = errors.New("verification code requested too recently")
	ErrDisabled     = errors.New("email delivery is not configured")
)

// Store persists issued codes.
type Store interface {
	CreateVerification(ctx context.Context, v *domain.EmailVerification) error
	LatestVerification(ctx context.Context, email string) (*domain.EmailVerification, error)
	ConsumeVerification(ctx context.Context, userID, email, codeHash string, since time.Time) (bool, error)
	VerifiedEmail(ctx context.Context, userID string) (string, error)
}

// Profiles reads and writes the profile a verified address is copied to.
type Profiles interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) error
}

// Service issues and confirms verification codes.
type Service struct {
	store    Store
	profiles Profiles
	sender   notify.Sender
	logger   *slog.Logger
	now      func() time.Time
	newCode  func() (string, error)
}

// NewService creates a verification service. A nil sender disables it.
func NewService(store Store, profiles Profiles, sender notify.Sender, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		profiles: profiles,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		newCode:  randomCode,
	}
}

// Enabled reports whether codes can be sent.
func (s *Service) Enabled() bool {
	return s.sender != nil
}

// RequestCode mails a fresh code for email to the user. Only one code per
// address is sent per ResendInterval.
func (s *Service) RequestCode(ctx context.Context, userID, email string) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	addr, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	now := s.now()
	latest, err := s.store.LatestVerification(ctx, addr)
	if err != nil {
		return err
	}
	if latest != nil && now.Sub(latest.CreatedAt) < ResendInterval {
		return ErrTooSoon
	}

	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	v := &domain.EmailVerification{
		UserID:    userID,
		Email:     addr,
		CodeHash:  hashCode(addr, code),
		CreatedAt: now,
	}
	if err := s.store.CreateVerification(ctx, v); err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.sender.Send(sendCtx, codeMessage(addr, code)); err != nil {
		return fmt.Errorf("send verification code: %w", err)
	}
	s.logger.Info("Verification code sent", "user_id", userID)
	return nil
}

// Confirm checks code and, when it matches an unused code issued to the
// user within CodeTTL, stores email on the user's profile.
func (s *Service) Confirm(ctx context.Context, userID, email, code string) (*domain.UserProfile, error) {
	addr, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	code = strings.TrimSpace(code)
	if len(code) != codeDigits {
		return nil, ErrInvalidCode
	}

	ok, err := s.store.ConsumeVerification(ctx, userID, addr, hashCode(addr, code), s.now().Add(-CodeTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidCode
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", userID, err)
	}
	if profile == nil {
		profile = &domain.UserProfile{UserID: userID}
	}
	profile.Email = addr
	if err := s.profiles.UpsertProfile(ctx, profile); err != nil {
		return nil, err
	}
	s.logger.Info("Email verified", "user_id", userID)
	return profile, nil
}

// VerifiedEmail returns the user's most recently verified address.
func (s *Service) VerifiedEmail(ctx context.Context, userID string) (string, error) {
	return s.store.VerifiedEmail(ctx, userID)
}

func normalizeEmail(email string) (string, error) {
	a, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(a.Address), nil
}

func hashCode(email, code string) string {
	sum := sha256.Sum256([]byte(email + ":" + code))
	return hex.EncodeToString(sum[:])
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func codeMessage(to, code string) notify.Message {
	var b strings.Builder
	b.WriteString("Hello,\r\n\r\n")
	fmt.Fprintf(&b, "Your CareBridge verification code is: %s\r\n\r\n", code)
	fmt.Fprintf(&b, "The code expires in %d minutes.\r\n", int(CodeTTL/time.Minute))
	b.WriteString("If you did not ask for this code, you can ignore this email.\r\n")
	return notify.Message{To: to, Subject: "Your CareBridge verification code", Body: b.String()}
}
