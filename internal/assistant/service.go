package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

// ErrEmptyMessage is returned when a message is blank after sanitising.
var ErrEmptyMessage = errors.New("message is empty")

const systemPrompt = `You are CareBridge AI, an assistant that helps people find and apply for social welfare aid.
Explain eligibility and application steps in plain language, help users fill in application forms,
and help draft supporting letters. Only describe programs you are given details for; when unsure,
tell the user which office or website to contact. Never ask for passwords or full identity numbers.`

var intentHints = map[Intent]string{
	IntentFormFilling:        "The user needs help filling in an application form. Walk through the fields one section at a time.",
	IntentDocumentGeneration: "The user wants a document drafted. Ask for any missing details, then produce the text.",
}

// ProgramFinder lists catalog programs for context.
type ProgramFinder interface {
	Programs(ctx context.Context, filter domain.ProgramFilter) ([]*domain.AidProgram, error)
}

// Recorder observes finished chat turns.
type Recorder func(conversationType, status string, llmDuration time.Duration)

// Service answers chat messages using a language model, recent history
// and, for aid questions, matching catalog programs.
type Service struct {
	llm          LLM
	programs     ProgramFinder
	history      History
	historyLimit int
	convLog      ConversationLogger
	record       Recorder
	logger       *slog.Logger
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithHistory sets the history store and the number of turns kept.
func WithHistory(h History, limit int) Option {
	return func(s *Service) {
		s.history = h
		s.historyLimit = limit
	}
}

// WithConversationLogger sets the conversation logger.
func WithConversationLogger(l ConversationLogger) Option {
	return func(s *Service) { s.convLog = l }
}

// WithRecorder sets the per-turn recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.record = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates the chat service.
func NewService(llm LLM, programs ProgramFinder, opts ...Option) *Service {
	s := &Service{
		llm:          llm,
		programs:     programs,
		history:      NewMemoryHistory(),
		historyLimit: 20,
		convLog:      noopConversationLogger{},
		record:       func(string, string, time.Duration) {},
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Chat answers one message. A model failure is reported as a response
// with status "error" and a fixed apology rather than as an error.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	query := SanitizeMessage(req.Query)
	if query == "" {
		return nil, ErrEmptyMessage
	}
	intent := DetectIntent(query)
	key := historyKey(req.UserID, req.SessionID)

	s.logEvent(req, "inbound", "chat_user_message", intent, req.Query, nil)

	past, err := s.history.Load(ctx, key)
	if err != nil {
		s.logger.Warn("Failed to load chat history", "user_id", req.UserID, "error", err)
		past = nil
	}

	messages := []Message{{Role: RoleSystem, Content: systemPrompt}}
	if hint, ok := intentHints[intent]; ok {
		messages = append(messages, Message{Role: RoleSystem, Content: hint})
	}
	if intent == IntentAidInquiry {
		if catalog := s.catalogContext(ctx, query); catalog != "" {
			messages = append(messages, Message{Role: RoleSystem, Content: catalog})
		}
	}
	messages = append(messages, past...)
	messages = append(messages, Message{Role: RoleUser, Content: query})

	start := s.now()
	reply, err := s.llm.Complete(ctx, messages)
	elapsed := s.now().Sub(start)
	if err != nil {
		s.logger.Error("Assistant completion failed",
			"user_id", req.UserID,
			"intent", intent,
			"error", err)
		s.record(string(intent), StatusError, elapsed)
		s.logEvent(req, "outbound", "chat_error", intent, err.Error(), nil)
		return &ChatResponse{Response: apology, Status: StatusError, ConversationType: intent}, nil
	}

	if err := s.history.Append(ctx, key, s.historyLimit,
		Message{Role: RoleUser, Content: query},
		Message{Role: RoleAssistant, Content: reply},
	); err != nil {
		s.logger.Warn("Failed to save chat history", "user_id", req.UserID, "error", err)
	}

	s.record(string(intent), StatusSuccess, elapsed)
	s.logEvent(req, "outbound", "chat_assistant_message", intent, reply, map[string]any{
		"llm_ms": elapsed.Milliseconds(),
	})
	s.logger.Info("Assistant replied",
		"user_id", req.UserID,
		"intent", intent,
		"llm_ms", elapsed.Milliseconds())

	return &ChatResponse{Response: reply, Status: StatusSuccess, ConversationType: intent}, nil
}

// History returns the stored turns of a user's chat session.
func (s *Service) History(ctx context.Context, userID, sessionID string) ([]Message, error) {
	msgs, err := s.history.Load(ctx, historyKey(userID, sessionID))
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// catalogContext describes the programs matching the topics of query,
// falling back to the highest priority programs.
func (s *Service) catalogContext(ctx context.Context, query string) string {
	if s.programs == nil {
		return ""
	}
	filter := domain.ProgramFilter{Tags: TopicTags(query), Limit: 5}
	programs, err := s.programs.Programs(ctx, filter)
	if err == nil && len(programs) == 0 && len(filter.Tags) > 0 {
		programs, err = s.programs.Programs(ctx, domain.ProgramFilter{Limit: 5})
	}
	if err != nil {
		s.logger.Warn("Failed to load programs for chat context", "error", err)
		return ""
	}
	if len(programs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Programs from the CareBridge catalog that may be relevant:\n")
	for _, p := range programs {
		fmt.Fprintf(&b, "- %s (%s)", p.Name, p.Code)
		if p.ShortDescription != "" {
			fmt.Fprintf(&b, ": %s", p.ShortDescription)
		}
		if p.BenefitAmount != "" {
			fmt.Fprintf(&b, " Benefit: %s.", p.BenefitAmount)
		}
		if len(p.EligibilityCriteria) > 0 {
			fmt.Fprintf(&b, " Eligibility: %s.", strings.Join(p.EligibilityCriteria, "; "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Service) logEvent(req ChatRequest, direction, eventType string, intent Intent, content string, meta map[string]any) {
	if req.RequestID != "" {
		if meta == nil {
			meta = map[string]any{}
		}
		meta["request_id"] = req.RequestID
	}
	channel := req.Channel
	if channel == "" {
		channel = "chat_http"
	}
	s.convLog.Log(ConversationLogEvent{
		Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		Channel:    channel,
		Direction:  direction,
		EventType:  eventType,
		Intent:     intent,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}
