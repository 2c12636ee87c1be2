package domain

import "time"

// UserProfile holds the personal details used to pre-fill forms.
type UserProfile struct {
	UserID             string    `json:"user_id" db:"user_id"`
	FullName           string    `json:"full_name,omitempty" db:"full_name"`
	BirthDate          string    `json:"birth_date,omitempty" db:"birth_date"`
	Gender             string    `json:"gender,omitempty" db:"gender"`
	IDNumber           string    `json:"id_number,omitempty" db:"id_number"`
	Email              string    `json:"email,omitempty" db:"email"`
	PhoneNumber        string    `json:"phone_number,omitempty" db:"phone_number"`
	AlternativePhone   string    `json:"alternative_phone,omitempty" db:"alternative_phone"`
	Address            string    `json:"address,omitempty" db:"address"`
	City               string    `json:"city,omitempty" db:"city"`
	State              string    `json:"state,omitempty" db:"state"`
	PostalCode         string    `json:"postal_code,omitempty" db:"postal_code"`
	Country            string    `json:"country,omitempty" db:"country"`
	PreferredLanguage  string    `json:"preferred_language,omitempty" db:"preferred_language"`
	AccessibilityNeeds string    `json:"accessibility_needs,omitempty" db:"accessibility_needs"`
	Income             string    `json:"income,omitempty" db:"income"`
	EmploymentStatus   string    `json:"employment_status,omitempty" db:"employment_status"`
	Extra              FormData  `json:"extra,omitempty" db:"-"`
	CreatedAt          time.Time `json:"created_at" db:"-"`
	UpdatedAt          time.Time `json:"updated_at" db:"-"`
}

// Attributes returns the profile as an attribute mapping keyed by the
// canonical attribute names. Unset attributes are absent. Extra entries
// are included as stored and never shadow a typed attribute.
func (p *UserProfile) Attributes() map[string]Value {
	attrs := make(map[string]Value, 16+len(p.Extra))
	for k, v := range p.Extra {
		attrs[k] = v
	}
	set := func(key, val string) {
		if val != "" {
			attrs[key] = String(val)
		}
	}
	set("full_name", p.FullName)
	set("birth_date", p.BirthDate)
	set("gender", p.Gender)
	set("id_number", p.IDNumber)
	set("email", p.Email)
	set("phone_number", p.PhoneNumber)
	set("alternative_phone", p.AlternativePhone)
	set("address", p.Address)
	set("city", p.City)
	set("state", p.State)
	set("postal_code", p.PostalCode)
	set("country", p.Country)
	set("preferred_language", p.PreferredLanguage)
	set("accessibility_needs", p.AccessibilityNeeds)
	set("income", p.Income)
	set("employment_status", p.EmploymentStatus)
	return attrs
}

// Age returns the age in whole years at now, or false when the birth date
// is unset or malformed.
func (p *UserProfile) Age(now time.Time) (int, bool) {
	if p.BirthDate == "" {
		return 0, false
	}
	born, err := time.Parse("2006-01-02", p.BirthDate)
	if err != nil {
		return 0, false
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	return age, true
}
