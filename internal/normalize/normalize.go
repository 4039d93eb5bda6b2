// Package normalize strips cosmetic language and quality decorations from
// channel names so that matching compares channel identity.
package normalize

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Defaults used when no prefix/suffix configuration has been saved.
var (
	DefaultPrefixes = []string{"| ES |", "| FR |", "| EN |", "| PT |"}
	DefaultSuffixes = []string{"HD", "1080", "4K", "UHD", "SD"}
)

// Affixes is an ordered prefix and suffix configuration.
type Affixes struct {
	Prefixes []string `yaml:"prefixes" json:"prefixes"`
	Suffixes []string `yaml:"suffixes" json:"suffixes"`
}

// Default returns a copy of the default affix lists.
func Default() Affixes {
	return Affixes{
		Prefixes: append([]string(nil), DefaultPrefixes...),
		Suffixes: append([]string(nil), DefaultSuffixes...),
	}
}

// Normalize is Normalize(name, a.Prefixes, a.Suffixes).
func (a Affixes) Normalize(name string) string {
	return Normalize(name, a.Prefixes, a.Suffixes)
}

// Normalize trims name, removes the first prefix (in list order) it starts
// with, then the first suffix it ends with. Comparison ignores case and at
// most one prefix and one suffix are removed.
func Normalize(name string, prefixes, suffixes []string) string {
	s := strings.TrimSpace(name)
	for _, p := range prefixes {
		if p != "" && len(s) >= len(p) && strings.EqualFold(s[:len(p)], p) {
			s = strings.TrimSpace(s[len(p):])
			break
		}
	}
	for _, x := range suffixes {
		if x != "" && len(s) >= len(x) && strings.EqualFold(s[len(s)-len(x):], x) {
			s = strings.TrimSpace(s[:len(s)-len(x)])
			break
		}
	}
	return s
}

// Lower lowercases s using Unicode rules.
func Lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// Compact removes all whitespace from s.
func Compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}
