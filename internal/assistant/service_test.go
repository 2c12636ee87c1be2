package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/google/go-cmp/cmp"
)

type fakeLLM struct {
	mu    sync.Mutex
	calls [][]Message
	reply string
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, messages []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]Message(nil), messages...))
	return f.reply, f.err
}

func (f *fakeLLM) last() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeFinder struct {
	filters  []domain.ProgramFilter
	programs []*domain.AidProgram
}

func (f *fakeFinder) Programs(_ context.Context, filter domain.ProgramFilter) ([]*domain.AidProgram, error) {
	f.filters = append(f.filters, filter)
	if len(filter.Tags) == 0 {
		return f.programs, nil
	}
	var out []*domain.AidProgram
	for _, p := range f.programs {
		for _, tag := range filter.Tags {
			if p.HasTag(tag) {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

type recordingLog struct {
	mu     sync.Mutex
	events []ConversationLogEvent
}

func (r *recordingLog) Log(e ConversationLogEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingLog) Close() error { return nil }

func finder() *fakeFinder {
	return &fakeFinder{programs: []*domain.AidProgram{
		{Code: "ELDERLY-BENEFIT", Name: "Elderly Benefit", Tags: []string{"senior"}, EligibilityCriteria: []string{"Age 65+"}},
		{Code: "RENT-ASSISTANCE", Name: "Rent Assistance", Tags: []string{"housing"}, BenefitAmount: "Up to 600"},
	}}
}

func TestChatAidInquiryIncludesCatalog(t *testing.T) {
	llm := &fakeLLM{reply: "Here are some options."}
	f := finder()
	convLog := &recordingLog{}
	var recorded []string
	svc := NewService(llm, f,
		WithConversationLogger(convLog),
		WithRecorder(func(kind, status string, _ time.Duration) { recorded = append(recorded, kind+"/"+status) }))

	resp, err := svc.Chat(context.Background(), ChatRequest{
		Query:     "Is there a pension for elderly people?",
		UserID:    "u1",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	want := &ChatResponse{Response: "Here are some options.", Status: StatusSuccess, ConversationType: IntentAidInquiry}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("Chat() mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"senior"}, f.filters[0].Tags); diff != "" {
		t.Fatalf("catalog filter mismatch (-want +got):\n%s", diff)
	}
	msgs := llm.last()
	if msgs[0].Role != RoleSystem || !strings.Contains(msgs[0].Content, "CareBridge AI") {
		t.Fatalf("first message should be the system prompt, got %+v", msgs[0])
	}
	if !strings.Contains(msgs[1].Content, "Elderly Benefit (ELDERLY-BENEFIT)") || strings.Contains(msgs[1].Content, "RENT-ASSISTANCE") {
		t.Fatalf("unexpected catalog context: %q", msgs[1].Content)
	}
	if last := msgs[len(msgs)-1]; last.Role != RoleUser || last.Content != "Is there a pension for elderly people?" {
		t.Fatalf("last message should be the user query, got %+v", last)
	}
	if diff := cmp.Diff([]string{"aid_inquiry/success"}, recorded); diff != "" {
		t.Fatalf("recorder mismatch (-want +got):\n%s", diff)
	}
	if len(convLog.events) != 2 || convLog.events[0].EventType != "chat_user_message" || convLog.events[1].EventType != "chat_assistant_message" {
		t.Fatalf("unexpected conversation events: %+v", convLog.events)
	}
}

func TestChatCatalogFallsBackToTopPrograms(t *testing.T) {
	llm := &fakeLLM{reply: "ok"}
	f := finder()
	svc := NewService(llm, f)

	if _, err := svc.Chat(context.Background(), ChatRequest{Query: "what benefits can I apply for", UserID: "u1"}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if len(f.filters) != 1 || len(f.filters[0].Tags) != 0 {
		t.Fatalf("expected one untagged lookup, got %+v", f.filters)
	}
	if !strings.Contains(llm.last()[1].Content, "RENT-ASSISTANCE") {
		t.Fatal("expected all programs in context")
	}
}

func TestChatGeneralSkipsCatalog(t *testing.T) {
	llm := &fakeLLM{reply: "hi"}
	f := finder()
	svc := NewService(llm, f)

	resp, err := svc.Chat(context.Background(), ChatRequest{Query: "hello there", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.ConversationType != IntentGeneral {
		t.Fatalf("ConversationType = %q", resp.ConversationType)
	}
	if len(f.filters) != 0 {
		t.Fatalf("general chat should not query the catalog, got %d lookups", len(f.filters))
	}
	if got := len(llm.last()); got != 2 {
		t.Fatalf("expected system prompt and user message, got %d messages", got)
	}
}

func TestChatHistoryIsTrimmed(t *testing.T) {
	llm := &fakeLLM{reply: "answer"}
	history := NewMemoryHistory()
	svc := NewService(llm, nil, WithHistory(history, 4))
	ctx := context.Background()

	for _, q := range []string{"one", "two", "three"} {
		if _, err := svc.Chat(ctx, ChatRequest{Query: q, UserID: "u1", SessionID: "tab"}); err != nil {
			t.Fatalf("Chat(%q) error = %v", q, err)
		}
	}

	got, err := svc.History(ctx, "u1", "tab")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []Message{
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "answer"},
		{Role: RoleUser, Content: "three"},
		{Role: RoleAssistant, Content: "answer"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}

	// The third call saw the two earlier turns (trimmed to four messages).
	if n := len(llm.last()); n != 1+4+1 {
		t.Fatalf("expected 6 messages in the last request, got %d", n)
	}

	other, _ := svc.History(ctx, "u1", "other-tab")
	if len(other) != 0 {
		t.Fatalf("sessions should not share history, got %+v", other)
	}
}

func TestChatLLMFailureReturnsApology(t *testing.T) {
	llm := &fakeLLM{err: errors.New("upstream down")}
	history := NewMemoryHistory()
	var recorded []string
	svc := NewService(llm, nil,
		WithHistory(history, 10),
		WithRecorder(func(kind, status string, _ time.Duration) { recorded = append(recorded, kind+"/"+status) }))

	resp, err := svc.Chat(context.Background(), ChatRequest{Query: "How do I fill the form?", UserID: "u1"})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	want := &ChatResponse{Response: apology, Status: StatusError, ConversationType: IntentFormFilling}
	if diff := cmp.Diff(want, resp); diff != "" {
		t.Fatalf("Chat() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"form_filling/error"}, recorded); diff != "" {
		t.Fatalf("recorder mismatch (-want +got):\n%s", diff)
	}
	if msgs, _ := svc.History(context.Background(), "u1", ""); len(msgs) != 0 {
		t.Fatalf("failed turns should not be stored, got %+v", msgs)
	}
	if hint := llm.last()[1]; hint.Role != RoleSystem || !strings.Contains(hint.Content, "form") {
		t.Fatalf("expected form filling hint, got %+v", hint)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	llm := &fakeLLM{reply: "x"}
	svc := NewService(llm, nil)
	_, err := svc.Chat(context.Background(), ChatRequest{Query: "  <p></p> "})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("Chat() error = %v, want ErrEmptyMessage", err)
	}
	if len(llm.calls) != 0 {
		t.Fatal("LLM should not be called for empty messages")
	}
}
