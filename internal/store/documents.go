package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
)

type documentRow struct {
	ID           string `db:"id"`
	UserID       string `db:"user_id"`
	SessionID    string `db:"session_id"`
	DocType      string `db:"doc_type"`
	Filename     string `db:"filename"`
	ContentType  string `db:"content_type"`
	SizeBytes    int64  `db:"size_bytes"`
	StoragePath  string `db:"storage_path"`
	MetadataJSON string `db:"metadata_json"`
	CreatedAt    int64  `db:"created_at"`
}

func (r documentRow) toDomain() (*domain.Document, error) {
	doc := &domain.Document{
		ID:          r.ID,
		UserID:      r.UserID,
		SessionID:   r.SessionID,
		Type:        domain.DocumentType(r.DocType),
		Filename:    r.Filename,
		ContentType: r.ContentType,
		Size:        r.SizeBytes,
		Path:        r.StoragePath,
		CreatedAt:   time.Unix(r.CreatedAt, 0),
	}
	if err := json.Unmarshal([]byte(r.MetadataJSON), &doc.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of document %s: %w", r.ID, err)
	}
	return doc, nil
}

const documentColumns = `id, user_id, session_id, doc_type, filename, content_type, size_bytes, storage_path, metadata_json, created_at`

// CreateDocument records metadata for a stored document.
func (s *SQLStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode document metadata: %w", err)
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	query := s.db.Rebind(`INSERT INTO documents (` + documentColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	return s.write(ctx, "create document", func() error {
		_, err := s.db.ExecContext(ctx, query,
			doc.ID, doc.UserID, doc.SessionID, string(doc.Type), doc.Filename, doc.ContentType,
			doc.Size, doc.Path, string(rawMeta), doc.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("insert document %s: %w", doc.ID, err)
		}
		return nil
	})
}

// GetDocument returns document metadata by id.
func (s *SQLStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var row documentRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`SELECT `+documentColumns+` FROM documents WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return row.toDomain()
}

// ListDocuments returns a user's documents, newest first.
func (s *SQLStore) ListDocuments(ctx context.Context, userID string) ([]*domain.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows,
		s.db.Rebind(`SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY created_at DESC, id`), userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]*domain.Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
