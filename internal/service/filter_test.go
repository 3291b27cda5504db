package service

import (
	"testing"

	"github.com/tinkapp/tink/internal/model"
)

func filterFixture() []model.Skill {
	inPerson := model.BoolPtr(true)
	return []model.Skill{
		{ID: "guitar", Name: "Guitarra", Description: "Clases", Category: model.Category{ID: "music"}, IsOnline: model.BoolPtr(true)},
		{ID: "piano", Name: "Piano", Description: "Clases de PIANO", Category: model.Category{ID: "music"}, IsOnline: model.BoolPtr(false)},
		{ID: "plumber", Name: "Fontanero", Description: "Reparaciones", Category: model.Category{ID: "home", IsManual: inPerson}, IsOnline: model.BoolPtr(true)},
		{ID: "math", Name: "Mates", Description: "Repaso", Category: model.Category{ID: "classes"}},
	}
}

// ===== FILTER TESTS =====

func TestFilter_ZeroValueMatchesEverything(t *testing.T) {
	skills := filterFixture()
	if got := (Filter{}).Apply(skills); len(got) != len(skills) {
		t.Errorf("Apply() len = %d, want %d", len(got), len(skills))
	}
}

func TestFilter_Criteria(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"category", Filter{CategoryID: "music"}, []string{"guitar", "piano"}},
		{"online", Filter{Presence: PresenceOnline}, []string{"guitar"}},
		// The category flag beats the skill's own IsOnline.
		{"in person", Filter{Presence: PresenceInPerson}, []string{"piano", "plumber"}},
		{"text in description, any case", Filter{Text: "piano"}, []string{"piano"}},
		{"text in name", Filter{Text: "fonta"}, []string{"plumber"}},
		{"intersection", Filter{CategoryID: "music", Presence: PresenceInPerson, Text: "clases"}, []string{"piano"}},
		{"no match", Filter{CategoryID: "home", Presence: PresenceOnline}, []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := skillIDs(tc.filter.Apply(filterFixture()))
			if !equalIDs(got, tc.want...) {
				t.Errorf("Apply() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilter_UnknownPresenceOnlyMatchesAny(t *testing.T) {
	math := filterFixture()[3]
	if !(Filter{}).Match(math) {
		t.Error("any presence must match")
	}
	if (Filter{Presence: PresenceOnline}).Match(math) || (Filter{Presence: PresenceInPerson}).Match(math) {
		t.Error("a skill with no presence information matched a specific presence")
	}
}

func TestParsePresence(t *testing.T) {
	cases := map[string]Presence{
		"":          PresenceAny,
		"any":       PresenceAny,
		"online":    PresenceOnline,
		"ONLINE":    PresenceOnline,
		"in_person": PresenceInPerson,
	}
	for in, want := range cases {
		got, ok := ParsePresence(in)
		if !ok || got != want {
			t.Errorf("ParsePresence(%q) = %v, %v; want %v", in, got, ok, want)
		}
	}
	if _, ok := ParsePresence("teleport"); ok {
		t.Error("ParsePresence accepted an unknown value")
	}
}
