package domain

import "time"

// ApplicationStep is one step of an aid program's application process.
type ApplicationStep struct {
	Step        int    `json:"step" yaml:"step"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// AidProgram is a welfare aid offering in the catalog.
type AidProgram struct {
	ID                  int64             `json:"id" yaml:"-"`
	Code                string            `json:"code" yaml:"code"`
	Name                string            `json:"name" yaml:"name"`
	ProgramType         string            `json:"program_type" yaml:"program_type"`
	ShortDescription    string            `json:"short_description,omitempty" yaml:"short_description,omitempty"`
	FullDescription     string            `json:"full_description,omitempty" yaml:"full_description,omitempty"`
	BenefitAmount       string            `json:"benefit_amount,omitempty" yaml:"benefit_amount,omitempty"`
	EligibilityCriteria []string          `json:"eligibility_criteria" yaml:"eligibility_criteria"`
	ApplicationProcess  []ApplicationStep `json:"application_process" yaml:"application_process"`
	ContactPhone        string            `json:"contact_phone,omitempty" yaml:"contact_phone,omitempty"`
	ContactEmail        string            `json:"contact_email,omitempty" yaml:"contact_email,omitempty"`
	Website             string            `json:"website,omitempty" yaml:"website,omitempty"`
	Priority            int               `json:"priority" yaml:"priority"`
	IsActive            bool              `json:"is_active" yaml:"is_active"`
	Tags                []string          `json:"tags" yaml:"tags"`
	Regions             []string          `json:"regions" yaml:"regions"`
	CreatedAt           time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt           time.Time         `json:"updated_at" yaml:"-"`
}

// HasTag reports whether the program carries the named tag.
func (p *AidProgram) HasTag(name string) bool {
	for _, t := range p.Tags {
		if t == name {
			return true
		}
	}
	return false
}

// Tag labels aid programs by topic or target group.
type Tag struct {
	ID          int64  `json:"id" db:"id" yaml:"-"`
	Name        string `json:"name" db:"name" yaml:"name"`
	Description string `json:"description,omitempty" db:"description" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" db:"category" yaml:"category,omitempty"`
}

// Region is a geographic area where a program is offered.
type Region struct {
	ID      int64  `json:"id" db:"id" yaml:"-"`
	Name    string `json:"name" db:"name" yaml:"name"`
	Country string `json:"country,omitempty" db:"country" yaml:"country,omitempty"`
	Code    string `json:"code,omitempty" db:"code" yaml:"code,omitempty"`
}

// ProgramFilter narrows catalog listings. Empty fields do not filter.
type ProgramFilter struct {
	Type   string
	Tag    string
	Region string
	Tags   []string
	Offset int
	Limit  int
}
