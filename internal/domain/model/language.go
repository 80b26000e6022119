package model

import "sort"

type Language struct {
	Slug     string `json:"slug" yaml:"slug"` // Key used by API clients
	Name     string `json:"name" yaml:"name"`
	Runtime  string `json:"-" yaml:"runtime"`  // Sandbox runtime name
	Version  string `json:"-" yaml:"version"`  // Sandbox runtime version
	FileName string `json:"-" yaml:"filename"` // Source file name inside the sandbox
	IsActive bool   `json:"is_active" yaml:"active"`
}

// LanguageSet is the allow-list of languages submissions may use.
type LanguageSet map[string]Language

func NewLanguageSet(langs []Language) LanguageSet {
	set := make(LanguageSet, len(langs))
	for _, l := range langs {
		if l.IsActive {
			set[l.Slug] = l
		}
	}
	return set
}

func (s LanguageSet) Lookup(slug string) (Language, bool) {
	l, ok := s[slug]
	return l, ok
}

// Slugs returns the allowed language slugs in sorted order.
func (s LanguageSet) Slugs() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
