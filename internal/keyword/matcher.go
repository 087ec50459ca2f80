package keyword

import (
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// DefaultFields is used when no match fields are configured.
var DefaultFields = []string{"title"}

// Options tunes a Matcher.
type Options struct {
	Exclusions    []string
	Fields        []string
	CaseSensitive bool
}

// Matcher holds a compiled keyword and exclusion set. It is safe for
// concurrent use.
type Matcher struct {
	keywords   []pattern
	exclusions []pattern
	fields     []string
}

// New compiles keywords and exclusions. Blank entries are ignored.
func New(keywords []string, opts Options) *Matcher {
	m := &Matcher{
		keywords:   compileAll(keywords, opts.CaseSensitive),
		exclusions: compileAll(opts.Exclusions, opts.CaseSensitive),
		fields:     opts.Fields,
	}
	if len(m.fields) == 0 {
		m.fields = DefaultFields
	}
	return m
}

func compileAll(raw []string, caseSensitive bool) []pattern {
	out := make([]pattern, 0, len(raw))
	for _, r := range raw {
		if p, ok := compile(r, caseSensitive); ok {
			out = append(out, p)
		}
	}
	return out
}

// Matches reports whether keyword occurs in text under the default rules.
func Matches(text, keyword string) bool {
	p, ok := compile(keyword, false)
	return ok && p.match(text)
}

// FirstMatch returns the first keyword, in list order, that occurs in text.
// Space markers are stripped from the returned keyword.
func FirstMatch(text string, keywords []string) (string, bool) {
	return New(keywords, Options{}).FirstMatch(text)
}

// Len returns the number of usable keywords.
func (m *Matcher) Len() int { return len(m.keywords) }

// Empty reports whether the matcher can never match.
func (m *Matcher) Empty() bool { return len(m.keywords) == 0 }

// FirstMatch returns the first keyword found in text, ignoring exclusions.
func (m *Matcher) FirstMatch(text string) (string, bool) {
	for _, p := range m.keywords {
		if p.match(text) {
			return p.core, true
		}
	}
	return "", false
}

// ExcludedText reports whether any exclusion occurs in text.
func (m *Matcher) ExcludedText(text string) bool {
	for _, p := range m.exclusions {
		if p.match(text) {
			return true
		}
	}
	return false
}

// Excluded reports whether any exclusion occurs in one of the match fields.
func (m *Matcher) Excluded(rec tender.Record) bool {
	for _, f := range m.fields {
		if m.ExcludedText(rec.Field(f)) {
			return true
		}
	}
	return false
}

// Match returns the first keyword found across the match fields. Excluded
// records never match.
func (m *Matcher) Match(rec tender.Record) (string, bool) {
	if m.Excluded(rec) {
		return "", false
	}
	for _, f := range m.fields {
		if kw, ok := m.FirstMatch(rec.Field(f)); ok {
			return kw, true
		}
	}
	return "", false
}

// SearchTerms returns the keywords without space markers, for units that
// filter at the source.
func (m *Matcher) SearchTerms() []string {
	seen := make(map[string]struct{}, len(m.keywords))
	terms := make([]string, 0, len(m.keywords))
	for _, p := range m.keywords {
		if _, ok := seen[p.core]; ok {
			continue
		}
		seen[p.core] = struct{}{}
		terms = append(terms, p.core)
	}
	return terms
}

// Filter applies the matcher to a unit's output. Post-filtered records are
// tagged with their first keyword and dropped when nothing matches.
// Pre-filtered records keep the keyword reported by the unit and are only
// checked against the exclusions.
func (m *Matcher) Filter(records []tender.Record, prefiltered bool) []tender.Record {
	out := make([]tender.Record, 0, len(records))
	for _, rec := range records {
		if prefiltered {
			if !m.Excluded(rec) {
				out = append(out, rec)
			}
			continue
		}
		kw, ok := m.Match(rec)
		if !ok {
			continue
		}
		rec.MatchedKeyword = &kw
		out = append(out, rec)
	}
	return out
}
