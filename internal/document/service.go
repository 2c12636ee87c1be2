// Package document renders, stores and serves application documents.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/form"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrDocumentNotFound is returned for unknown or foreign documents.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrSessionIncomplete is returned when generating from an unfinished session.
	ErrSessionIncomplete = errors.New("form is not completed yet")
	// ErrUnknownType is returned for document types that cannot be generated.
	ErrUnknownType = errors.New("unknown document type")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("file too large")
	// ErrEmptyUpload is returned for zero-byte uploads.
	ErrEmptyUpload = errors.New("file is empty")
)

// Forms resolves sessions and templates.
type Forms interface {
	Session(ctx context.Context, id string) (*domain.FormSession, error)
	Template(ctx context.Context, id int64) (*domain.FormTemplate, error)
}

// Programs resolves aid programs. A missing program is (nil, nil).
type Programs interface {
	GetProgram(ctx context.Context, id int64) (*domain.AidProgram, error)
}

// Store persists document metadata. A missing document is (nil, nil).
type Store interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]*domain.Document, error)
}

// TypeInfo describes a generatable document type.
type TypeInfo struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Description  string              `json:"description"`
	DocumentType domain.DocumentType `json:"document_type"`
}

var documentTypes = []TypeInfo{
	{ID: "application_form", Name: "Application Form", Description: "Standard application form template", DocumentType: domain.DocumentApplication},
	{ID: "proof_of_eligibility", Name: "Eligibility Proof", Description: "Document proving applicant meets eligibility criteria", DocumentType: domain.DocumentProof},
	{ID: "income_statement", Name: "Income Statement", Description: "Statement explaining applicant's income situation", DocumentType: domain.DocumentStatement},
}

// Preview is a rendered document that was not stored.
type Preview struct {
	DocumentType domain.DocumentType `json:"document_type"`
	Filename     string              `json:"filename"`
	Content      string              `json:"preview_content"`
}

// UploadInput describes a user supplied file.
type UploadInput struct {
	UserID      string
	SessionID   string
	Filename    string
	ContentType string
	Description string
	Body        io.Reader
}

// Service generates documents from completed form sessions and keeps
// uploaded files.
type Service struct {
	forms    Forms
	programs Programs
	store    Store
	renderer *Renderer
	dir      string
	maxBytes int64
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a document service storing files under dir.
func NewService(forms Forms, programs Programs, store Store, dir string, maxBytes int64, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create document dir: %w", err)
	}
	renderer, err := NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("load document templates: %w", err)
	}
	return &Service{
		forms:    forms,
		programs: programs,
		store:    store,
		renderer: renderer,
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// Types lists the document types that can be generated.
func (s *Service) Types() []TypeInfo {
	return append([]TypeInfo(nil), documentTypes...)
}

// ParseType maps a query value to a generatable type. Empty means application.
func ParseType(v string) (domain.DocumentType, error) {
	if v == "" {
		return domain.DocumentApplication, nil
	}
	for _, t := range documentTypes {
		if string(t.DocumentType) == v || t.ID == v {
			return t.DocumentType, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownType, v)
}

// Generate renders and stores a document for a completed session owned by userID.
func (s *Service) Generate(ctx context.Context, userID, sessionID string, docType domain.DocumentType) (*domain.Document, error) {
	in, err := s.prepare(ctx, userID, sessionID, docType)
	if err != nil {
		return nil, err
	}
	if !in.Session.IsCompleted {
		return nil, ErrSessionIncomplete
	}

	html, err := s.renderer.Render(*in)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(s.dir, in.Reference+".html")
	if err := os.WriteFile(path, []byte(html), 0o640); err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}

	meta := map[string]string{
		"template_id": strconv.FormatInt(in.Template.ID, 10),
	}
	if in.Program != nil {
		meta["program_code"] = in.Program.Code
	}
	doc := &domain.Document{
		ID:          in.Reference,
		UserID:      userID,
		SessionID:   sessionID,
		Type:        in.Type,
		Filename:    generatedFilename(in.Program, in.Type, in.Now),
		ContentType: "text/html; charset=utf-8",
		Size:        int64(len(html)),
		Path:        path,
		Metadata:    meta,
		CreatedAt:   in.Now,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("record document: %w", err)
	}

	s.logger.Info("Document generated",
		"document_id", doc.ID,
		"session_id", sessionID,
		"document_type", in.Type)
	return doc, nil
}

// Preview renders a document without storing it. The session need not be
// completed.
func (s *Service) Preview(ctx context.Context, userID, sessionID string, docType domain.DocumentType) (*Preview, error) {
	in, err := s.prepare(ctx, userID, sessionID, docType)
	if err != nil {
		return nil, err
	}
	html, err := s.renderer.Render(*in)
	if err != nil {
		return nil, err
	}
	return &Preview{
		DocumentType: in.Type,
		Filename:     generatedFilename(in.Program, in.Type, in.Now),
		Content:      html,
	}, nil
}

func (s *Service) prepare(ctx context.Context, userID, sessionID string, docType domain.DocumentType) (*renderInput, error) {
	docType, err := ParseType(string(docType))
	if err != nil {
		return nil, err
	}
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.forms.Template(ctx, session.TemplateID)
	if err != nil {
		return nil, err
	}

	var program *domain.AidProgram
	if tpl.AidProgramID != 0 {
		program, err = s.programs.GetProgram(ctx, tpl.AidProgramID)
		if err != nil {
			return nil, fmt.Errorf("get program %d: %w", tpl.AidProgramID, err)
		}
	}

	return &renderInput{
		Type:      docType,
		Reference: s.newID(),
		Session:   session,
		Template:  tpl,
		Program:   program,
		Now:       s.now(),
	}, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*domain.FormSession, error) {
	session, err := s.forms.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, form.ErrSessionNotFound
	}
	return session, nil
}

// Upload stores a user supplied file against one of their sessions.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*domain.Document, error) {
	if _, err := s.ownedSession(ctx, in.UserID, in.SessionID); err != nil {
		return nil, err
	}

	id := s.newID()
	name := cleanFilename(in.Filename)
	if name == "" {
		name = id
	}
	path := filepath.Join(s.dir, id+strings.ToLower(filepath.Ext(name)))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(in.Body, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("store upload: %w", err)
	case closeErr != nil:
		_ = os.Remove(path)
		return nil, fmt.Errorf("store upload: %w", closeErr)
	case n > s.maxBytes:
		_ = os.Remove(path)
		return nil, ErrTooLarge
	case n == 0:
		_ = os.Remove(path)
		return nil, ErrEmptyUpload
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	meta := map[string]string{"original_filename": name}
	if d := sanitizeText(in.Description); d != "" {
		meta["description"] = d
	}
	doc := &domain.Document{
		ID:          id,
		UserID:      in.UserID,
		SessionID:   in.SessionID,
		Type:        domain.DocumentUpload,
		Filename:    name,
		ContentType: contentType,
		Size:        n,
		Path:        path,
		Metadata:    meta,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("record upload: %w", err)
	}

	s.logger.Info("Document uploaded",
		"document_id", doc.ID,
		"session_id", in.SessionID,
		"size", n)
	return doc, nil
}

// Open returns a user's document and its content.
func (s *Service) Open(ctx context.Context, userID, id string) (*domain.Document, *os.File, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc == nil || doc.UserID != userID {
		return nil, nil, ErrDocumentNotFound
	}
	f, err := os.Open(doc.Path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Document file missing", "document_id", id, "path", doc.Path)
		return nil, nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open document %s: %w", id, err)
	}
	return doc, f, nil
}

// History lists a user's documents, newest first.
func (s *Service) History(ctx context.Context, userID string) ([]*domain.Document, error) {
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	if docs == nil {
		docs = []*domain.Document{}
	}
	return docs, nil
}

func generatedFilename(p *domain.AidProgram, t domain.DocumentType, now time.Time) string {
	prefix := "carebridge"
	if p != nil && p.Code != "" {
		prefix = strings.ToLower(p.Code)
	}
	return fmt.Sprintf("%s_%s_%s.html", prefix, t, now.UTC().Format("20060102"))
}

var (
	textPolicy     *bluemonday.Policy
	textPolicyOnce sync.Once
)

func sanitizeText(s string) string {
	textPolicyOnce.Do(func() {
		textPolicy = bluemonday.StrictPolicy()
	})
	return strings.TrimSpace(textPolicy.Sanitize(s))
}

// cleanFilename keeps the base name and drops markup and characters that
// would break a Content-Disposition header.
func cleanFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f, r == '"', r == '<', r == '>':
			return -1
		}
		return r
	}, name)
	return strings.TrimSpace(name)
}
