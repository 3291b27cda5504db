package service

import (
	"strings"

	"github.com/tinkapp/tink/internal/model"
)

// Presence selects skills by delivery mode.
type Presence int

const (
	PresenceAny Presence = iota
	PresenceOnline
	PresenceInPerson
)

// ParsePresence maps the query values "", "any", "online" and "in_person".
func ParsePresence(s string) (Presence, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return PresenceAny, true
	case "online":
		return PresenceOnline, true
	case "in_person", "inperson", "manual":
		return PresenceInPerson, true
	}
	return PresenceAny, false
}

// Filter narrows a skill list. Each zero-valued criterion matches
// everything; a skill is kept only when every criterion matches.
type Filter struct {
	CategoryID string
	Presence   Presence
	Text       string
}

// Match reports whether s passes every criterion.
func (f Filter) Match(s model.Skill) bool {
	if f.CategoryID != "" && s.Category.ID != f.CategoryID {
		return false
	}

	if f.Presence != PresenceAny {
		online, known := s.Online()
		if !known {
			return false
		}
		if online != (f.Presence == PresenceOnline) {
			return false
		}
	}

	if text := strings.TrimSpace(f.Text); text != "" {
		needle := strings.ToLower(text)
		if !strings.Contains(strings.ToLower(s.Name), needle) &&
			!strings.Contains(strings.ToLower(s.Description), needle) {
			return false
		}
	}

	return true
}

// Apply returns the skills that match, in their original order.
func (f Filter) Apply(skills []model.Skill) []model.Skill {
	out := make([]model.Skill, 0, len(skills))
	for _, s := range skills {
		if f.Match(s) {
			out = append(out, s)
		}
	}
	return out
}
