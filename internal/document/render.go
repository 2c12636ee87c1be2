package document

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/carebridge/internal/domain"
	"github.com/flosch/pongo2/v6"
)

//go:embed templates/*.html
var templateFiles embed.FS

var registerFilters sync.Once

// Renderer turns completed sessions into HTML documents.
type Renderer struct {
	set *pongo2.TemplateSet
}

// NewRenderer loads the embedded document templates.
func NewRenderer() (*Renderer, error) {
	sub, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		return nil, err
	}
	registerFilters.Do(func() {
		if !pongo2.FilterExists("mask") {
			_ = pongo2.RegisterFilter("mask", filterMask)
		}
	})
	return &Renderer{set: pongo2.NewSet("documents", pongo2.NewFSLoader(sub))}, nil
}

type renderField struct {
	Label     string
	Value     string
	Sensitive bool
}

type renderSection struct {
	Title  string
	Fields []renderField
}

// renderInput is everything a document template can show.
type renderInput struct {
	Type      domain.DocumentType
	Reference string
	Session   *domain.FormSession
	Template  *domain.FormTemplate
	Program   *domain.AidProgram
	Now       time.Time
}

// Render executes the template for in.Type.
func (r *Renderer) Render(in renderInput) (string, error) {
	tpl, err := r.set.FromCache(string(in.Type) + ".html")
	if err != nil {
		return "", fmt.Errorf("load %s template: %w", in.Type, err)
	}

	ctx := pongo2.Context{
		"title":        documentTitle(in.Type, in.Template),
		"form_name":    in.Template.Name,
		"reference":    in.Reference,
		"generated_at": in.Now.UTC().Format("2006-01-02 15:04 MST"),
		"sections":     sectionsOf(in.Template, in.Session.FormData),
		"applicant":    in.Session.FormData["full_name"].Text(),
		"program":      nil,
	}
	if in.Program != nil {
		ctx["program"] = in.Program
	}

	var buf bytes.Buffer
	if err := tpl.ExecuteWriter(ctx, &buf); err != nil {
		return "", fmt.Errorf("render %s: %w", in.Type, err)
	}
	return buf.String(), nil
}

func documentTitle(t domain.DocumentType, tpl *domain.FormTemplate) string {
	switch t {
	case domain.DocumentProof:
		return "Proof of Eligibility: " + tpl.Name
	case domain.DocumentStatement:
		return "Income Statement: " + tpl.Name
	default:
		return tpl.Name
	}
}

// sectionsOf lists filled fields grouped by section in display order.
// Fields outside any declared section are collected under "Other".
func sectionsOf(tpl *domain.FormTemplate, data domain.FormData) []renderSection {
	var out []renderSection
	seen := map[string]bool{}
	for _, s := range tpl.Sections {
		seen[s.Name] = true
		title := s.Title
		if title == "" {
			title = s.Name
		}
		if fields := filled(tpl.FieldsIn(s.Name), data); len(fields) > 0 {
			out = append(out, renderSection{Title: title, Fields: fields})
		}
	}

	var rest []domain.FieldDefinition
	for _, f := range tpl.Fields {
		if !seen[f.Section] {
			rest = append(rest, f)
		}
	}
	if fields := filled(rest, data); len(fields) > 0 {
		out = append(out, renderSection{Title: "Other", Fields: fields})
	}
	return out
}

func filled(defs []domain.FieldDefinition, data domain.FormData) []renderField {
	var out []renderField
	for _, f := range defs {
		v, ok := data[f.Name]
		if !ok || v.IsEmpty() {
			continue
		}
		label := f.Label
		if label == "" {
			label = f.Name
		}
		out = append(out, renderField{Label: label, Value: displayValue(f, v), Sensitive: f.Sensitive})
	}
	return out
}

// displayValue shows option labels instead of raw option values.
func displayValue(f domain.FieldDefinition, v domain.Value) string {
	text := v.Text()
	for _, o := range f.Options {
		if o.Value == text && o.Label != "" {
			return o.Label
		}
	}
	return text
}

// Mask hides all but the last four characters of s.
func Mask(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	runes := []rune(s)
	return strings.Repeat("*", n-4) + string(runes[n-4:])
}

func filterMask(in *pongo2.Value, _ *pongo2.Value) (*pongo2.Value, *pongo2.Error) {
	return pongo2.AsValue(Mask(in.String())), nil
}
