package gate

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ContentFilter matches message text against a banned-term set.
type ContentFilter struct {
	terms []string
}

// NewContentFilter normalizes and deduplicates the provided terms.
func NewContentFilter(terms []string) *ContentFilter {
	seen := make(map[string]struct{}, len(terms))
	normalized := make([]string, 0, len(terms))
	for _, term := range terms {
		value := normalizeText(term)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return &ContentFilter{terms: normalized}
}

// Empty reports whether the filter has no terms.
func (f *ContentFilter) Empty() bool {
	return f == nil || len(f.terms) == 0
}

// Match returns the first banned term contained in text.
func (f *ContentFilter) Match(text string) (string, bool) {
	if f.Empty() {
		return "", false
	}
	normalized := normalizeText(text)
	for _, term := range f.terms {
		if strings.Contains(normalized, term) {
			return term, true
		}
	}
	return "", false
}

// normalizeText lowercases and folds combining marks so decorated spellings
// match their plain form.
func normalizeText(text string) string {
	// the transformer is stateful and must not be shared between goroutines
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	lowered := strings.ToLower(strings.TrimSpace(text))
	folded, _, err := transform.String(fold, lowered)
	if err != nil {
		return lowered
	}
	return folded
}
