// Package search ranks named entities against a free-text query with a tiered
// policy: exact, then substring, then per-word fuzzy, then whole-name fuzzy.
package search

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/plextuner/m3u-curator/internal/normalize"
	"github.com/plextuner/m3u-curator/internal/similarity"
)

// Named is anything with a display name to match against.
type Named interface {
	SearchName() string
}

// MatchType is the broad tier a match came from.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchPartial MatchType = "partial"
	MatchFuzzy   MatchType = "fuzzy"
)

// Match is one ranked result.
type Match[T Named] struct {
	Item        T
	Score       float64
	Type        MatchType
	Highlighted string
}

// Weights holds the per-tier scores. Fuzzy tiers scale their similarity by
// WordFuzzy and GlobalFuzzy.
type Weights struct {
	Exact                  float64
	NormalizedExact        float64
	Contains               float64
	NormalizedContains     float64
	LongContains           float64
	LongNormalizedContains float64
	WordFuzzy              float64
	GlobalFuzzy            float64
	// LongQuery is the rune length a query must exceed for the Long* tiers.
	LongQuery int
	// MinWord is the rune length a word must exceed to take part in word fuzzy matching.
	MinWord int
}

var DefaultWeights = Weights{
	Exact:                  1.0,
	NormalizedExact:        0.95,
	Contains:               0.9,
	NormalizedContains:     0.85,
	LongContains:           0.8,
	LongNormalizedContains: 0.75,
	WordFuzzy:              0.7,
	GlobalFuzzy:            0.6,
	LongQuery:              3,
	MinWord:                2,
}

// Default minimum similarities used by the callers in this module.
const (
	MinSimilaritySearch     = 0.6
	MinSimilarityEPGBrowse  = 0.4
	MinSimilarityEPGSuggest = 0.5
	DefaultMaxSuggestions   = 5
)

// Engine scores names. The zero value has no affixes and no tier weights;
// use New.
type Engine struct {
	Affixes normalize.Affixes
	Weights Weights
	// MaxCandidates caps how many candidates are scored per query (0 = all).
	MaxCandidates int
}

// New returns an engine with DefaultWeights.
func New(a normalize.Affixes) *Engine {
	return &Engine{Affixes: a, Weights: DefaultWeights}
}

// Normalize strips affixes and lowercases s.
func (e *Engine) Normalize(s string) string {
	return normalize.Lower(e.Affixes.Normalize(s))
}

type query struct {
	raw  string
	norm string
}

func (e *Engine) prepare(q string) query {
	return query{raw: normalize.Lower(q), norm: e.Normalize(q)}
}

// Score rates one name against q. A zero score means no tier matched.
func (e *Engine) Score(name, q string, minSimilarity float64) (float64, MatchType) {
	if strings.TrimSpace(q) == "" {
		return 0, ""
	}
	return e.score(name, e.prepare(q), minSimilarity)
}

func (e *Engine) score(name string, q query, minSimilarity float64) (float64, MatchType) {
	w := e.Weights
	raw := normalize.Lower(name)
	norm := e.Normalize(name)
	// A query made only of decorations normalizes to "" and would match every name.
	hasNorm := q.norm != ""

	switch {
	case raw == q.raw:
		return w.Exact, MatchExact
	case hasNorm && norm == q.norm:
		return w.NormalizedExact, MatchExact
	case strings.Contains(raw, q.raw):
		return w.Contains, MatchPartial
	case hasNorm && strings.Contains(norm, q.norm):
		return w.NormalizedContains, MatchPartial
	case utf8.RuneCountInString(q.raw) > w.LongQuery && strings.Contains(raw, q.raw):
		return w.LongContains, MatchPartial
	case utf8.RuneCountInString(q.norm) > w.LongQuery && strings.Contains(norm, q.norm):
		return w.LongNormalizedContains, MatchPartial
	}

	if s := e.wordScore(norm, q.norm, minSimilarity); s > 0 {
		return s, MatchFuzzy
	}
	if !hasNorm {
		return 0, ""
	}
	if g := similarity.Score(q.norm, norm); g >= minSimilarity && g > 0 {
		return g * w.GlobalFuzzy, MatchFuzzy
	}
	return 0, ""
}

// wordScore averages, over every query word, the best similarity against the
// name's words, counting only those that clear minSimilarity.
func (e *Engine) wordScore(name, q string, minSimilarity float64) float64 {
	qWords := e.words(q)
	nWords := e.words(name)
	if len(qWords) == 0 || len(nWords) == 0 {
		return 0
	}
	var total float64
	matched := 0
	for _, qw := range qWords {
		best := 0.0
		for _, nw := range nWords {
			if s := similarity.Score(qw, nw); s > best {
				best = s
			}
		}
		if best >= minSimilarity {
			matched++
			total += best
		}
	}
	if matched == 0 {
		return 0
	}
	return total / float64(len(qWords)) * e.Weights.WordFuzzy
}

func (e *Engine) words(s string) []string {
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) > e.Weights.MinWord {
			out = append(out, f)
		}
	}
	return out
}

// Search ranks candidates by Score, dropping those that score 0. Results are
// ordered by descending score; ties keep candidate order. A blank query
// returns nil.
func Search[T Named](e *Engine, candidates []T, q string, minSimilarity float64) []Match[T] {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if e.MaxCandidates > 0 && len(candidates) > e.MaxCandidates {
		candidates = candidates[:e.MaxCandidates]
	}
	pq := e.prepare(q)
	var out []Match[T]
	for _, c := range candidates {
		name := c.SearchName()
		s, typ := e.score(name, pq, minSimilarity)
		if s <= 0 {
			continue
		}
		out = append(out, Match[T]{
			Item:        c,
			Score:       s,
			Type:        typ,
			Highlighted: e.highlight(name, q, pq.norm),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Suggest returns up to max distinct words from the normalized candidate names
// that extend the normalized partial query, in first-seen order.
func Suggest[T Named](e *Engine, candidates []T, partial string, max int) []string {
	if strings.TrimSpace(partial) == "" || utf8.RuneCountInString(partial) < 2 {
		return nil
	}
	if max <= 0 {
		max = DefaultMaxSuggestions
	}
	p := e.Normalize(partial)
	if p == "" {
		return nil
	}
	plen := utf8.RuneCountInString(p)
	seen := make(map[string]struct{})
	var out []string
	for _, c := range candidates {
		for _, w := range e.words(e.Affixes.Normalize(c.SearchName())) {
			if utf8.RuneCountInString(w) <= plen || !strings.HasPrefix(normalize.Lower(w), p) {
				continue
			}
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// Highlight wraps case-insensitive occurrences of q in name with <mark> tags,
// falling back to the normalized query when the raw one does not occur.
func (e *Engine) Highlight(name, q string) string {
	return e.highlight(name, q, e.Normalize(q))
}

func (e *Engine) highlight(name, raw, norm string) string {
	for _, term := range []string{raw, norm} {
		if strings.TrimSpace(term) == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
		if err != nil {
			continue
		}
		if re.MatchString(name) {
			return re.ReplaceAllString(name, "<mark>$0</mark>")
		}
	}
	return name
}
