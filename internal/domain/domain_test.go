package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestValueUnmarshalKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Value
	}{
		{"null", `null`, Null()},
		{"string", `"Ana"`, String("Ana")},
		{"number", `42.5`, Number(42.5)},
		{"bool", `true`, Bool(true)},
		{"list", `["a","b"]`, List("a", "b")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Value
			if err := json.Unmarshal([]byte(tt.raw), &got); err != nil {
				t.Fatalf("Unmarshal(%s) failed: %v", tt.raw, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("Unmarshal(%s) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValueRejectsObjects(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"a":1}`), &v); err == nil {
		t.Fatal("expected object value to be rejected")
	}
	if err := json.Unmarshal([]byte(`[1,2]`), &v); err == nil {
		t.Fatal("expected non-string list to be rejected")
	}
}

func TestValueIsEmpty(t *testing.T) {
	if !Null().IsEmpty() || !String("").IsEmpty() {
		t.Fatal("null and empty string must count as empty")
	}
	if Number(0).IsEmpty() || Bool(false).IsEmpty() || String(" ").IsEmpty() {
		t.Fatal("zero number, false and whitespace are present values")
	}
}

func TestFormDataRoundTrip(t *testing.T) {
	in := FormData{"full_name": String("Ana"), "income": Number(1200), "note": Null()}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out FormData
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if diff := cmp.Diff(in, out, cmp.Comparer(func(a, b Value) bool { return a.Equal(b) })); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFieldSetMarshalsSorted(t *testing.T) {
	raw, err := json.Marshal(NewFieldSet("phone", "full_name", "phone"))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(raw) != `["full_name","phone"]` {
		t.Fatalf("unexpected encoding: %s", raw)
	}
}

func TestTemplateNormalizeIsStable(t *testing.T) {
	tpl := FormTemplate{
		Sections: []Section{
			{Name: "contact", Order: 2},
			{Name: "personal", Order: 1},
			{Name: "extra", Order: 2},
		},
		Fields: []FieldDefinition{
			{Name: "b", Order: 1},
			{Name: "a", Order: 0},
			{Name: "c", Order: 1},
		},
	}
	tpl.Normalize()

	var sections, fields []string
	for _, s := range tpl.Sections {
		sections = append(sections, s.Name)
	}
	for _, f := range tpl.Fields {
		fields = append(fields, f.Name)
	}
	if diff := cmp.Diff([]string{"personal", "contact", "extra"}, sections); diff != "" {
		t.Fatalf("section order mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, fields); diff != "" {
		t.Fatalf("field order mismatch (-want +got):\n%s", diff)
	}
}

func TestTemplateValidate(t *testing.T) {
	base := func() FormTemplate {
		return FormTemplate{
			Name:     "housing",
			Sections: []Section{{Name: "personal", Order: 1}},
			Fields:   []FieldDefinition{{Name: "full_name", Type: FieldText, Section: "personal"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*FormTemplate)
		wantErr bool
	}{
		{"valid", func(*FormTemplate) {}, false},
		{"duplicate section", func(t *FormTemplate) { t.Sections = append(t.Sections, Section{Name: "personal"}) }, true},
		{"duplicate field", func(t *FormTemplate) { t.Fields = append(t.Fields, t.Fields[0]) }, true},
		{"unknown type", func(t *FormTemplate) { t.Fields[0].Type = "slider" }, true},
		{"unknown section", func(t *FormTemplate) { t.Fields[0].Section = "contact" }, true},
		{"missing name", func(t *FormTemplate) { t.Name = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := base()
			tt.mutate(&tpl)
			err := tpl.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestProfileAttributesSkipUnset(t *testing.T) {
	p := UserProfile{
		FullName: "Ana",
		Income:   "low",
		Extra:    FormData{"household_size": Number(3), "full_name": String("shadowed")},
	}
	attrs := p.Attributes()
	if v := attrs["full_name"]; !v.Equal(String("Ana")) {
		t.Fatalf("full_name = %v, want Ana", v)
	}
	if _, ok := attrs["phone_number"]; ok {
		t.Fatal("unset phone_number must be absent")
	}
	if v := attrs["household_size"]; !v.Equal(Number(3)) {
		t.Fatalf("household_size = %v, want 3", v)
	}
}

func TestProfileAge(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		birth string
		want  int
		ok    bool
	}{
		{"1960-03-10", 66, true},
		{"1960-03-11", 65, true},
		{"2010-12-31", 15, true},
		{"", 0, false},
		{"10/03/1960", 0, false},
	}
	for _, tt := range tests {
		p := UserProfile{BirthDate: tt.birth}
		got, ok := p.Age(now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Age(%q) = %d, %v; want %d, %v", tt.birth, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormSessionCurrentSectionNullable(t *testing.T) {
	tests := []struct {
		section string
		want    string
	}{
		{"", `"current_section":null`},
		{"contact", `"current_section":"contact"`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(&FormSession{ID: "s1", CurrentSection: tt.section, FormData: FormData{}})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !strings.Contains(string(b), tt.want) {
			t.Fatalf("json %s does not contain %s", b, tt.want)
		}
		if strings.Count(string(b), "current_section") != 1 {
			t.Fatalf("current_section emitted more than once: %s", b)
		}
	}
}
