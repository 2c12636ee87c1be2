// Package form implements the form-session workflow: session creation,
// section sequencing, submission validation, auto-fill and completion.
package form

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/google/uuid"
)

// TemplateReader fetches templates by id. A missing template is (nil, nil).
type TemplateReader interface {
	GetTemplate(ctx context.Context, id int64) (*domain.FormTemplate, error)
}

// ProfileReader fetches a user's profile. A missing profile is (nil, nil).
type ProfileReader interface {
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
}

// SessionStore persists form sessions. A missing session is (nil, nil).
type SessionStore interface {
	CreateSession(ctx context.Context, session *domain.FormSession) error
	GetSession(ctx context.Context, id string) (*domain.FormSession, error)
	UpdateSession(ctx context.Context, session *domain.FormSession) error
}

// CompletionNotifier is told when a session becomes completed.
type CompletionNotifier interface {
	SessionCompleted(ctx context.Context, session *domain.FormSession, tpl *domain.FormTemplate) error
}

// Observer receives workflow events, typically for metrics.
type Observer interface {
	SessionCreated(templateID int64)
	SubmissionProcessed(templateID int64, accepted bool)
	SessionCompleted(templateID int64)
	AutoFillResolved(filled, missing int)
}

// Service orchestrates form sessions over the template, profile and
// session stores.
type Service struct {
	templates *templateCache
	profiles  ProfileReader
	sessions  SessionStore
	notifier  CompletionNotifier
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the completion notifier.
func WithNotifier(n CompletionNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithObserver sets the workflow event observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService creates a form workflow service.
func NewService(templates TemplateReader, profiles ProfileReader, sessions SessionStore, opts ...Option) *Service {
	s := &Service{
		templates: newTemplateCache(templates),
		profiles:  profiles,
		sessions:  sessions,
		observer:  nopObserver{},
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionInput describes a new session.
type CreateSessionInput struct {
	UserID          string          `json:"-"`
	TemplateID      int64           `json:"template_id"`
	CurrentSection  string          `json:"current_section,omitempty"`
	FormData        domain.FormData `json:"form_data,omitempty"`
	CompletedFields []string        `json:"completed_fields,omitempty"`
}

// SubmitResult is the outcome of a submission.
type SubmitResult struct {
	Success     bool                     `json:"success"`
	NextSection *string                  `json:"next_section"`
	Fields      []domain.FieldDefinition `json:"fields"`
	Completed   bool                     `json:"completed"`
	Errors      map[string]string        `json:"errors,omitempty"`
}

// AutoFillInput selects the template, user and optional sections to fill.
type AutoFillInput struct {
	TemplateID int64    `json:"template_id"`
	UserID     string   `json:"-"`
	Sections   []string `json:"sections,omitempty"`
}

// AutoFillResult holds values resolved from the profile and the fields
// that could not be resolved.
type AutoFillResult struct {
	FilledFields  domain.FormData `json:"filled_fields"`
	MissingFields []string        `json:"missing_fields"`
}

// CompletionResult is the outcome of a completion check.
type CompletionResult struct {
	Success       bool            `json:"success"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	FormData      domain.FormData `json:"form_data,omitempty"`
}

// Template returns a normalized template.
func (s *Service) Template(ctx context.Context, id int64) (*domain.FormTemplate, error) {
	return s.templates.get(ctx, id)
}

// Session returns a session by id.
func (s *Service) Session(ctx context.Context, id string) (*domain.FormSession, error) {
	session, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.FormData == nil {
		session.FormData = domain.FormData{}
	}
	if session.CompletedFields == nil {
		session.CompletedFields = domain.FieldSet{}
	}
	return session, nil
}

// CreateSession starts a new fill attempt for a template. The initial
// section is the caller's choice when given, otherwise the first section.
// Initial form data is validated like a submission and its field names
// are recorded as completed.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*domain.FormSession, error) {
	tpl, err := s.templates.get(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}

	current := firstSection(tpl)
	if in.CurrentSection != "" {
		if !tpl.HasSection(in.CurrentSection) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSection, in.CurrentSection)
		}
		current = in.CurrentSection
	}

	if errs := validateUpdates(tpl, in.FormData); errs != nil {
		return nil, &ValidationError{Fields: errs}
	}
	completed := domain.NewFieldSet(in.CompletedFields...)
	for name := range completed {
		if _, ok := tpl.Field(name); !ok {
			return nil, &ValidationError{Fields: map[string]string{name: MsgUnknownField}}
		}
	}
	data := domain.FormData{}
	for name, v := range in.FormData {
		data[name] = v
		completed.Add(name)
	}

	now := s.now()
	session := &domain.FormSession{
		ID:              s.newID(),
		UserID:          in.UserID,
		TemplateID:      in.TemplateID,
		CurrentSection:  current,
		FormData:        data,
		CompletedFields: completed,
		StartedAt:       now,
		LastActivity:    now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.observer.SessionCreated(tpl.ID)
	s.logger.Info("Form session created",
		"session_id", session.ID,
		"user_id", session.UserID,
		"template_id", tpl.ID,
		"current_section", current)
	return session, nil
}

// Fields returns the fields of section, or of the session's current section
// when section is empty, in display order. A session without a current
// section and no explicit filter yields every field of the template.
func (s *Service) Fields(ctx context.Context, sessionID, section string) ([]domain.FieldDefinition, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.get(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}

	if section == "" {
		section = session.CurrentSection
	}
	if section == "" {
		return append([]domain.FieldDefinition(nil), tpl.Fields...), nil
	}
	return tpl.FieldsIn(section), nil
}

// Submit validates updates and, when all pass, merges them into the
// session and advances it to the next section. A failed validation leaves
// the session untouched and is reported in the result, not as an error.
func (s *Service) Submit(ctx context.Context, sessionID string, updates domain.FormData) (*SubmitResult, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.get(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}

	if errs := validateUpdates(tpl, updates); errs != nil {
		s.observer.SubmissionProcessed(tpl.ID, false)
		return &SubmitResult{
			Success: false,
			Fields:  []domain.FieldDefinition{},
			Errors:  errs,
		}, nil
	}

	for name, v := range updates {
		session.FormData[name] = v
		session.CompletedFields.Add(name)
	}

	next, restarted := nextSection(tpl, session.CurrentSection)
	if restarted {
		s.logger.Warn("Unknown current section, restarting at first section",
			"session_id", session.ID,
			"section", session.CurrentSection,
			"restart_section", next)
	}
	if next != "" && next != session.CurrentSection {
		session.CurrentSection = next
	}
	session.LastActivity = s.now()

	completed := next == ""
	transitioned := completed && !session.IsCompleted
	if completed {
		session.IsCompleted = true
	}

	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("update session %s: %w", session.ID, err)
	}
	s.observer.SubmissionProcessed(tpl.ID, true)
	if transitioned {
		s.completed(ctx, session, tpl)
	}

	res := &SubmitResult{
		Success:   true,
		Fields:    []domain.FieldDefinition{},
		Completed: completed,
	}
	if next != "" {
		res.NextSection = &next
		res.Fields = tpl.FieldsIn(next)
	}
	return res, nil
}

// AutoFill resolves field values from the user's profile. Each field takes
// its autofill source attribute when the profile has it, else the attribute
// named like the field when that is non-null; anything else is missing.
func (s *Service) AutoFill(ctx context.Context, in AutoFillInput) (*AutoFillResult, error) {
	tpl, err := s.templates.get(ctx, in.TemplateID)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetProfile(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", in.UserID, err)
	}

	scope := fieldsInScope(tpl, in.Sections)
	result := &AutoFillResult{
		FilledFields:  domain.FormData{},
		MissingFields: []string{},
	}
	if profile == nil {
		for _, f := range scope {
			result.MissingFields = append(result.MissingFields, f.Name)
		}
		s.observer.AutoFillResolved(0, len(result.MissingFields))
		return result, nil
	}

	attrs := profile.Attributes()
	for _, f := range scope {
		if f.AutofillSource != "" {
			if v, ok := attrs[f.AutofillSource]; ok {
				result.FilledFields[f.Name] = v
				continue
			}
		}
		if v, ok := attrs[f.Name]; ok && !v.IsNull() {
			result.FilledFields[f.Name] = v
			continue
		}
		result.MissingFields = append(result.MissingFields, f.Name)
	}

	s.observer.AutoFillResolved(len(result.FilledFields), len(result.MissingFields))
	return result, nil
}

// Complete checks that every required field has a value and, if so, marks
// the session completed. Missing fields are reported in the result and the
// session is left untouched.
func (s *Service) Complete(ctx context.Context, sessionID string) (*CompletionResult, error) {
	session, err := s.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.get(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range tpl.RequiredFields() {
		if v, ok := session.FormData[name]; !ok || v.IsEmpty() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &CompletionResult{Success: false, MissingFields: missing}, nil
	}

	transitioned := !session.IsCompleted
	session.IsCompleted = true
	session.LastActivity = s.now()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("update session %s: %w", session.ID, err)
	}
	if transitioned {
		s.completed(ctx, session, tpl)
	}

	return &CompletionResult{Success: true, FormData: session.FormData.Clone()}, nil
}

func (s *Service) completed(ctx context.Context, session *domain.FormSession, tpl *domain.FormTemplate) {
	s.observer.SessionCompleted(tpl.ID)
	s.logger.Info("Form session completed", "session_id", session.ID, "template_id", tpl.ID)
	if s.notifier == nil {
		return
	}
	if err := s.notifier.SessionCompleted(ctx, session, tpl); err != nil {
		s.logger.Warn("Completion notification failed", "session_id", session.ID, "error", err)
	}
}

func fieldsInScope(tpl *domain.FormTemplate, sections []string) []domain.FieldDefinition {
	if len(sections) == 0 {
		return tpl.Fields
	}
	want := make(map[string]struct{}, len(sections))
	for _, s := range sections {
		want[s] = struct{}{}
	}
	var out []domain.FieldDefinition
	for _, f := range tpl.Fields {
		if _, ok := want[f.Section]; ok {
			out = append(out, f)
		}
	}
	return out
}

type nopObserver struct{}

func (nopObserver) SessionCreated(int64)            {}
func (nopObserver) SubmissionProcessed(int64, bool) {}
func (nopObserver) SessionCompleted(int64)          {}
func (nopObserver) AutoFillResolved(int, int)       {}
