// Package assistant implements the CareBridge chat assistant.
package assistant

import "github.com/ashureev/carebridge/internal/domain"

// Intent classifies what a chat message is about.
type Intent string

const (
	IntentGeneral            Intent = "general"
	IntentAidInquiry         Intent = "aid_inquiry"
	IntentFormFilling        Intent = "form_filling"
	IntentDocumentGeneration Intent = "document_generation"
)

// Chat response statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// apology is returned when the language model cannot be reached.
const apology = "I'm sorry, I cannot answer your question right now. Please try again later."

// ChatRequest is one user message.
type ChatRequest struct {
	Query     string `json:"query"`
	UserID    string `json:"-"`
	SessionID string `json:"-"`
	Channel   string `json:"-"`
	RequestID string `json:"-"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Response         string `json:"response"`
	Status           string `json:"status"`
	ConversationType Intent `json:"conversation_type"`
}

// Message is one turn of a conversation.
type Message = domain.ChatMessage

// Roles used in conversation history and model requests.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
