package document

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/ashureev/carebridge/internal/form"
	"github.com/google/go-cmp/cmp"
)

type fakeForms struct {
	sessions  map[string]*domain.FormSession
	templates map[int64]*domain.FormTemplate
}

func (f *fakeForms) Session(_ context.Context, id string) (*domain.FormSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, form.ErrSessionNotFound
	}
	copy := *s
	return &copy, nil
}

func (f *fakeForms) Template(_ context.Context, id int64) (*domain.FormTemplate, error) {
	t, ok := f.templates[id]
	if !ok {
		return nil, form.ErrTemplateNotFound
	}
	return t, nil
}

type fakePrograms map[int64]*domain.AidProgram

func (f fakePrograms) GetProgram(_ context.Context, id int64) (*domain.AidProgram, error) {
	return f[id], nil
}

type fakeStore struct {
	mu   sync.Mutex
	docs []*domain.Document
	err  error
}

func (f *fakeStore) CreateDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	copy := *doc
	f.docs = append(f.docs, &copy)
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.docs {
		if d.ID == id {
			copy := *d
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, userID string) ([]*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Document
	for i := len(f.docs) - 1; i >= 0; i-- {
		if f.docs[i].UserID == userID {
			out = append(out, f.docs[i])
		}
	}
	return out, nil
}

func testTemplate() *domain.FormTemplate {
	tpl := &domain.FormTemplate{
		ID:           1,
		AidProgramID: 7,
		Name:         "Social Benefit Application",
		Sections: []domain.Section{
			{Name: "personal", Title: "Personal Information", Order: 1},
			{Name: "household", Title: "Household", Order: 2},
		},
		Fields: []domain.FieldDefinition{
			{Name: "full_name", Label: "Full Name", Type: domain.FieldText, Section: "personal", Order: 1},
			{Name: "id_number", Label: "ID Number", Type: domain.FieldIDNumber, Section: "personal", Order: 2, Sensitive: true},
			{Name: "employment_status", Label: "Employment", Type: domain.FieldSelect, Section: "household", Order: 3,
				Options: []domain.Option{{Value: "unemployed", Label: "Unemployed"}}},
			{Name: "notes", Label: "Notes", Type: domain.FieldTextarea, Order: 4},
		},
	}
	tpl.Normalize()
	return tpl
}

func newTestService(t *testing.T) (*Service, *fakeForms, *fakeStore) {
	t.Helper()
	forms := &fakeForms{
		sessions: map[string]*domain.FormSession{
			"done": {ID: "done", UserID: "anon_a", TemplateID: 1, IsCompleted: true, FormData: domain.FormData{
				"full_name":         domain.String("Maria <b>Silva</b>"),
				"id_number":         domain.String("12345678901"),
				"employment_status": domain.String("unemployed"),
				"notes":             domain.String("needs ramp"),
			}},
			"open": {ID: "open", UserID: "anon_a", TemplateID: 1, FormData: domain.FormData{
				"full_name": domain.String("Maria"),
			}},
			"other": {ID: "other", UserID: "anon_b", TemplateID: 1, IsCompleted: true, FormData: domain.FormData{}},
		},
		templates: map[int64]*domain.FormTemplate{1: testTemplate()},
	}
	programs := fakePrograms{7: {
		ID:                  7,
		Code:                "BASIC-INCOME",
		Name:                "Basic Income",
		EligibilityCriteria: []string{"Monthly income below the threshold"},
		ApplicationProcess:  []domain.ApplicationStep{{Step: 1, Title: "Register"}},
	}}
	store := &fakeStore{}
	svc, err := NewService(forms, programs, store, t.TempDir(), 16, slog.Default())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = func() time.Time { return time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC) }
	ids := 0
	svc.newID = func() string {
		ids++
		return "doc-" + string(rune('0'+ids))
	}
	return svc, forms, store
}

func TestGenerateApplication(t *testing.T) {
	svc, _, store := newTestService(t)

	doc, err := svc.Generate(context.Background(), "anon_a", "done", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if doc.ID != "doc-1" || doc.Type != domain.DocumentApplication {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if doc.Filename != "basic-income_application_20250304.html" {
		t.Fatalf("Filename = %q", doc.Filename)
	}
	if diff := cmp.Diff(map[string]string{"template_id": "1", "program_code": "BASIC-INCOME"}, doc.Metadata); diff != "" {
		t.Fatalf("metadata mismatch (-want +got):\n%s", diff)
	}
	if len(store.docs) != 1 {
		t.Fatalf("expected one stored document, got %d", len(store.docs))
	}

	raw, err := os.ReadFile(doc.Path)
	if err != nil {
		t.Fatalf("read generated file: %v", err)
	}
	html := string(raw)
	for _, want := range []string{
		"Social Benefit Application",
		"Basic Income (BASIC-INCOME)",
		"Personal Information",
		"*******8901",
		"Unemployed",
		"Other",
		"needs ramp",
		"Register",
		"Maria &lt;b&gt;Silva&lt;/b&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("generated document missing %q", want)
		}
	}
	if strings.Contains(html, "12345678901") {
		t.Error("sensitive value should be masked")
	}
	if int64(len(raw)) != doc.Size {
		t.Errorf("Size = %d, file has %d bytes", doc.Size, len(raw))
	}
}

func TestGenerateErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    string
		session string
		docType domain.DocumentType
		want    error
	}{
		{"incomplete session", "anon_a", "open", domain.DocumentApplication, ErrSessionIncomplete},
		{"foreign session", "anon_a", "other", domain.DocumentApplication, form.ErrSessionNotFound},
		{"missing session", "anon_a", "nope", domain.DocumentApplication, form.ErrSessionNotFound},
		{"upload is not generated", "anon_a", "done", domain.DocumentUpload, ErrUnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Generate(ctx, tt.user, tt.session, tt.docType); !errors.Is(err, tt.want) {
				t.Fatalf("Generate() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestGenerateRemovesFileWhenRecordFails(t *testing.T) {
	svc, _, store := newTestService(t)
	store.err = errors.New("disk quota")

	if _, err := svc.Generate(context.Background(), "anon_a", "done", domain.DocumentProof); err == nil {
		t.Fatal("expected error")
	}
	entries, _ := os.ReadDir(svc.dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files left behind, got %d", len(entries))
	}
}

func TestPreviewAllowsIncompleteSession(t *testing.T) {
	svc, _, store := newTestService(t)

	p, err := svc.Preview(context.Background(), "anon_a", "open", domain.DocumentStatement)
	if err != nil {
		t.Fatalf("Preview() error = %v", err)
	}
	if !strings.Contains(p.Content, "I, Maria, state") {
		t.Fatalf("statement should name the applicant:\n%s", p.Content)
	}
	if p.Filename != "basic-income_statement_20250304.html" {
		t.Fatalf("Filename = %q", p.Filename)
	}
	if len(store.docs) != 0 {
		t.Fatal("preview must not store documents")
	}
}

func TestUploadAndOpen(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	doc, err := svc.Upload(ctx, UploadInput{
		UserID:      "anon_a",
		SessionID:   "open",
		Filename:    `..\..\scan "1".PDF`,
		Description: "<i>signed</i> copy",
		Body:        strings.NewReader("%PDF-1.4"),
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Filename != "scan 1.PDF" || doc.Type != domain.DocumentUpload || doc.Size != 8 {
		t.Fatalf("unexpected upload: %+v", doc)
	}
	if doc.ContentType != "application/pdf" {
		t.Fatalf("ContentType = %q", doc.ContentType)
	}
	if doc.Metadata["description"] != "signed copy" {
		t.Fatalf("description = %q", doc.Metadata["description"])
	}
	if !strings.HasSuffix(doc.Path, "doc-1.pdf") {
		t.Fatalf("Path = %q", doc.Path)
	}

	got, f, err := svc.Open(ctx, "anon_a", doc.ID)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer f.Close()
	body, _ := io.ReadAll(f)
	if string(body) != "%PDF-1.4" || got.Filename != doc.Filename {
		t.Fatalf("unexpected content %q / %+v", body, got)
	}

	if _, _, err := svc.Open(ctx, "anon_b", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("foreign Open() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestUploadLimits(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   UploadInput
		want error
	}{
		{"too large", UploadInput{UserID: "anon_a", SessionID: "open", Filename: "a.txt", Body: strings.NewReader(strings.Repeat("x", 17))}, ErrTooLarge},
		{"empty", UploadInput{UserID: "anon_a", SessionID: "open", Filename: "a.txt", Body: strings.NewReader("")}, ErrEmptyUpload},
		{"foreign session", UploadInput{UserID: "anon_a", SessionID: "other", Filename: "a.txt", Body: strings.NewReader("x")}, form.ErrSessionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upload(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("Upload() error = %v, want %v", err, tt.want)
			}
		})
	}
	entries, _ := os.ReadDir(svc.dir)
	if len(entries) != 0 {
		t.Fatalf("rejected uploads should leave no files, got %d", len(entries))
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	first, _ := svc.Generate(ctx, "anon_a", "done", domain.DocumentApplication)
	second, _ := svc.Generate(ctx, "anon_a", "done", domain.DocumentProof)

	docs, err := svc.History(ctx, "anon_a")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(docs) != 2 || docs[0].ID != second.ID || docs[1].ID != first.ID {
		t.Fatalf("unexpected history order: %+v", docs)
	}
	empty, _ := svc.History(ctx, "anon_b")
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil history, got %#v", empty)
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    domain.DocumentType
		wantErr bool
	}{
		{"", domain.DocumentApplication, false},
		{"proof", domain.DocumentProof, false},
		{"income_statement", domain.DocumentStatement, false},
		{"upload", "", true},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseType(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestMask(t *testing.T) {
	tests := map[string]string{
		"":            "",
		"abc":         "***",
		"1234":        "****",
		"12345":       "*2345",
		"ãbcdéfgh":    "****éfgh",
		"12345678901": "*******8901",
	}
	for in, want := range tests {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
