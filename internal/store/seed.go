package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/ashureev/carebridge/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed seed/*.yaml
var defaultSeed embed.FS

// Seed is reference data loaded at startup: the aid catalog and the form
// templates that belong to it.
type Seed struct {
	Tags      []domain.Tag          `json:"tags" yaml:"tags"`
	Regions   []domain.Region       `json:"regions" yaml:"regions"`
	Programs  []domain.AidProgram   `json:"programs" yaml:"programs"`
	Templates []domain.FormTemplate `json:"templates" yaml:"templates"`
}

func (s *Seed) merge(other *Seed) {
	s.Tags = append(s.Tags, other.Tags...)
	s.Regions = append(s.Regions, other.Regions...)
	s.Programs = append(s.Programs, other.Programs...)
	s.Templates = append(s.Templates, other.Templates...)
}

// DefaultSeed returns the seed compiled into the binary.
func DefaultSeed() (*Seed, error) {
	sub, err := fs.Sub(defaultSeed, "seed")
	if err != nil {
		return nil, err
	}
	return LoadSeed(sub)
}

// LoadSeed reads every .yaml, .yml and .json file at the root of fsys, in
// lexical order, and merges them into one Seed.
func LoadSeed(fsys fs.FS) (*Seed, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := &Seed{}
	for _, name := range names {
		var unmarshal func([]byte, any) error
		switch strings.ToLower(path.Ext(name)) {
		case ".yaml", ".yml":
			unmarshal = yaml.Unmarshal
		case ".json":
			unmarshal = json.Unmarshal
		default:
			continue
		}
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read seed file %s: %w", name, err)
		}
		var part Seed
		if err := unmarshal(raw, &part); err != nil {
			return nil, fmt.Errorf("parse seed file %s: %w", name, err)
		}
		out.merge(&part)
	}
	return out, nil
}

// SeedTarget is the part of the repository a seed is written to.
type SeedTarget interface {
	CatalogStore
	TemplateStore
}

// ApplySeed writes seed data that is not present yet. Tags and regions are
// upserted by name; programs are matched by code and templates by name, and
// existing ones are left untouched.
func ApplySeed(ctx context.Context, target SeedTarget, seed *Seed, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for i := range seed.Tags {
		if err := target.CreateTag(ctx, &seed.Tags[i]); err != nil {
			return fmt.Errorf("seed tag %s: %w", seed.Tags[i].Name, err)
		}
	}
	for i := range seed.Regions {
		if err := target.CreateRegion(ctx, &seed.Regions[i]); err != nil {
			return fmt.Errorf("seed region %s: %w", seed.Regions[i].Name, err)
		}
	}

	programIDs := make(map[string]int64, len(seed.Programs))
	created := 0
	for i := range seed.Programs {
		p := &seed.Programs[i]
		existing, err := target.GetProgramByCode(ctx, p.Code)
		if err != nil {
			return fmt.Errorf("look up program %s: %w", p.Code, err)
		}
		if existing != nil {
			programIDs[p.Code] = existing.ID
			continue
		}
		if err := target.CreateProgram(ctx, p); err != nil {
			return fmt.Errorf("seed program %s: %w", p.Code, err)
		}
		programIDs[p.Code] = p.ID
		created++
	}

	templates := 0
	for i := range seed.Templates {
		tpl := &seed.Templates[i]
		existing, err := target.GetTemplateByName(ctx, tpl.Name)
		if err != nil {
			return fmt.Errorf("look up template %s: %w", tpl.Name, err)
		}
		if existing != nil {
			continue
		}
		if tpl.ProgramCode != "" {
			id, ok := programIDs[tpl.ProgramCode]
			if !ok {
				p, err := target.GetProgramByCode(ctx, tpl.ProgramCode)
				if err != nil {
					return fmt.Errorf("look up program %s: %w", tpl.ProgramCode, err)
				}
				if p == nil {
					return fmt.Errorf("template %s: unknown program %q", tpl.Name, tpl.ProgramCode)
				}
				id = p.ID
			}
			tpl.AidProgramID = id
		}
		if err := target.CreateTemplate(ctx, tpl); err != nil {
			return fmt.Errorf("seed template %s: %w", tpl.Name, err)
		}
		templates++
	}

	logger.Info("Seed applied",
		"tags", len(seed.Tags),
		"regions", len(seed.Regions),
		"programs_created", created,
		"templates_created", templates,
	)
	return nil
}
