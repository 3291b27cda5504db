package model

import "strings"

// Category is reference data for skills.
//
// IsManual is tri-state:
//
//	true  → the category is in-person only
//	false → the category is online only
//	nil   → the skill owner chooses (Skill.IsOnline decides)
type Category struct {
	ID       string  `json:"id"       yaml:"id"`
	Name     string  `json:"name"     yaml:"name"`
	IsManual *bool   `json:"isManual,omitempty" yaml:"isManual,omitempty"`
	ImageURL *string `json:"imageURL,omitempty" yaml:"imageURL,omitempty"`
	// SortOrder positions the category in listings; lower first.
	SortOrder int `json:"-" yaml:"order,omitempty"`
}

// Skill is a service listing posted by a user.
//
// User and Category are denormalized snapshots taken when the skill is
// written. They are NOT joined at read time, so a profile change has to be
// propagated to every skill the user owns (see CatalogManager.PropagateName).
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       string   `json:"price"` // amount with its unit suffix, e.g. "20€/h"
	Category    Category `json:"category"`
	User        User     `json:"user"`
	IsOnline    *bool    `json:"isOnline,omitempty"`
}

// Online resolves whether the skill is delivered online.
//
// The category's manual flag wins over the skill's own IsOnline field.
// The second return value is false when neither side says anything.
func (s Skill) Online() (online bool, known bool) {
	if s.Category.IsManual != nil {
		return !*s.Category.IsManual, true
	}
	if s.IsOnline != nil {
		return *s.IsOnline, true
	}
	return false, false
}

// PriceUnit is the suffix appended to a skill's price amount.
type PriceUnit string

const (
	PriceUnitHour    PriceUnit = "/h"
	PriceUnitSession PriceUnit = "/sesión"
	PriceUnitFixed   PriceUnit = ""
)

// Currency is prepended to every price unit.
const Currency = "€"

// ParsePriceUnit maps the wire names "hour", "session" and "fixed" to a unit.
func ParsePriceUnit(s string) (PriceUnit, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hour", "h", "/h":
		return PriceUnitHour, true
	case "session", "/sesión":
		return PriceUnitSession, true
	case "fixed", "":
		return PriceUnitFixed, true
	}
	return "", false
}

// FormatPrice joins an amount and a unit: FormatPrice("20", PriceUnitHour) == "20€/h".
func FormatPrice(amount string, unit PriceUnit) string {
	return strings.TrimSpace(amount) + Currency + string(unit)
}
