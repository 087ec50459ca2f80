package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// shortLen is the rune length up to which a keyword needs letter boundaries.
const shortLen = 2

type pattern struct {
	core     string
	variants []string
	leading  bool
	trailing bool
	short    bool
}

func compile(raw string, caseSensitive bool) (pattern, bool) {
	core := strings.TrimSpace(raw)
	if core == "" {
		return pattern{}, false
	}
	p := pattern{
		core:     core,
		leading:  strings.HasPrefix(raw, " "),
		trailing: strings.HasSuffix(raw, " "),
		short:    utf8.RuneCountInString(core) <= shortLen,
	}
	if caseSensitive {
		p.variants = []string{core}
	} else {
		p.variants = variants(core)
	}
	return p, true
}

// variants returns the keyword as given, with its first rune lowered, fully
// lowered and fully uppered, without duplicates.
func variants(core string) []string {
	r, size := utf8.DecodeRuneInString(core)
	candidates := []string{
		core,
		string(unicode.ToLower(r)) + core[size:],
		strings.ToLower(core),
		strings.ToUpper(core),
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

func (p pattern) match(text string) bool {
	if text == "" {
		return false
	}
	for _, v := range p.variants {
		if p.matchVariant(text, v) {
			return true
		}
	}
	return false
}

func (p pattern) matchVariant(text, v string) bool {
	offset := 0
	for offset <= len(text) {
		idx := strings.Index(text[offset:], v)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(v)
		if p.bounded(text, start, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return false
}

func (p pattern) bounded(text string, start, end int) bool {
	hasBefore, hasAfter := start > 0, end < len(text)
	prev, _ := utf8.DecodeLastRuneInString(text[:start])
	next, _ := utf8.DecodeRuneInString(text[end:])

	switch {
	case p.leading || p.trailing:
		if p.leading && hasBefore && !unicode.IsSpace(prev) {
			return false
		}
		if p.trailing && hasAfter && !unicode.IsSpace(next) {
			return false
		}
		return true
	case p.short:
		if hasBefore && unicode.IsLetter(prev) {
			return false
		}
		if hasAfter && unicode.IsLetter(next) {
			return false
		}
		return true
	default:
		return true
	}
}
