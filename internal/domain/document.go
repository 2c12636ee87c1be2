package domain

import "time"

// DocumentType classifies stored documents.
type DocumentType string

const (
	DocumentApplication DocumentType = "application"
	DocumentProof       DocumentType = "proof"
	DocumentStatement   DocumentType = "statement"
	DocumentUpload      DocumentType = "upload"
)

// Document is the metadata of a generated or uploaded file.
type Document struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	SessionID   string            `json:"session_id,omitempty"`
	Type        DocumentType      `json:"document_type"`
	Filename    string            `json:"filename"`
	ContentType string            `json:"content_type"`
	Size        int64             `json:"size"`
	Path        string            `json:"-"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
