package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/carebridge/internal/identity"
	"github.com/ashureev/carebridge/internal/middleware"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, llm LLM, limiter *middleware.RateLimiter) (*Handler, http.Handler) {
	t.Helper()
	h := NewHandler(NewService(llm, finder()), limiter, "*", true)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), "anon_test")))
		})
	})
	h.Routes(r)
	return h, r
}

func TestHandleChatPost(t *testing.T) {
	_, router := newTestRouter(t, &fakeLLM{reply: "Try the elderly benefit."}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"benefits for seniors?"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Try the elderly benefit.", resp.Response)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Equal(t, IntentAidInquiry, resp.ConversationType)
}

func TestHandleChatGetQuery(t *testing.T) {
	_, router := newTestRouter(t, &fakeLLM{reply: "hello"}, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat?query=hi", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conversation_type":"general"`)
}

func TestHandleChatErrors(t *testing.T) {
	tests := []struct {
		name   string
		llm    LLM
		body   string
		status int
	}{
		{"invalid body", &fakeLLM{reply: "x"}, `{`, http.StatusBadRequest},
		{"empty query", &fakeLLM{reply: "x"}, `{"query":"   "}`, http.StatusBadRequest},
		{"llm failure", &fakeLLM{err: errors.New("boom")}, `{"query":"hi"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, router := newTestRouter(t, tt.llm, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleChatRejectsOversizedBody(t *testing.T) {
	llm := &fakeLLM{reply: "x"}
	_, router := newTestRouter(t, llm, nil)
	body := `{"query":"` + strings.Repeat("a", maxRequestBytes) + `"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Nil(t, llm.last())
}

func TestHandleChatLLMFailureBody(t *testing.T) {
	_, router := newTestRouter(t, &fakeLLM{err: errors.New("boom")}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"hi"}`)))

	var resp ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, apology, resp.Response)
}

func TestHandleChatRateLimited(t *testing.T) {
	_, router := newTestRouter(t, &fakeLLM{reply: "ok"}, middleware.NewRateLimiter(1, 1))

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/chat?query=hi", nil))
	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/chat?query=hi", nil))

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestHandleHistory(t *testing.T) {
	_, router := newTestRouter(t, &fakeLLM{reply: "pong"}, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/chat?query=ping", nil))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/history", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "ping"},
		{Role: RoleAssistant, Content: "pong"},
	}, body.Messages)
}

func TestServeWSChat(t *testing.T) {
	h, router := newTestRouter(t, &fakeLLM{reply: "ws reply"}, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "ping"}))
	var pong wsMessage
	require.NoError(t, wsjson.Read(ctx, conn, &pong))
	assert.Equal(t, "pong", pong.Type)
	assert.Equal(t, 1, h.Connections().Count())

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "chat", Content: "How do I fill the form?"}))
	var reply wsMessage
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, wsMessage{
		Type:             "message",
		Content:          "ws reply",
		Status:           StatusSuccess,
		ConversationType: IntentFormFilling,
	}, reply)

	require.NoError(t, wsjson.Write(ctx, conn, wsMessage{Type: "resize"}))
	var unknown wsMessage
	require.NoError(t, wsjson.Read(ctx, conn, &unknown))
	assert.Equal(t, "error", unknown.Type)
}

func TestConnManagerReplacesAndUnregisters(t *testing.T) {
	m := NewConnManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	m.Register("u1", "tab-1", conn1)
	m.Register("u1", "tab-2", conn2)
	assert.Equal(t, 2, m.Count())

	// A stale unregister for another tab leaves the live one alone.
	m.Unregister("u1", "tab-2", conn1)
	assert.Same(t, conn2, m.Get("u1", "tab-2"))

	m.Unregister("u1", "tab-1", conn1)
	m.Unregister("u1", "tab-2", conn2)
	assert.Nil(t, m.Get("u1", "tab-1"))
	assert.Equal(t, 0, m.Count())
}
