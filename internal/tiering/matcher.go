package tiering

import (
	"regexp"
	"strings"
)

// NameMatches reports whether an entity name appears in the search text.
// Three strategies are tried in order: exact substring, whole-word match,
// and word-prefix match for names of at least 3 characters (so "Harbor"
// still matches "Harbors"). Matching is case-insensitive.
func NameMatches(name, searchText string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || searchText == "" {
		return false
	}
	searchText = strings.ToLower(searchText)

	// Strategy 1: exact substring
	if strings.Contains(searchText, name) {
		return true
	}

	// Strategy 2: word-boundary match
	pattern, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
	if err == nil && pattern.MatchString(searchText) {
		return true
	}

	// Strategy 3: prefix match for names >= 3 chars
	if len(name) >= 3 {
		for _, word := range strings.FieldsFunc(searchText, func(r rune) bool {
			return !isWordRune(r)
		}) {
			if strings.HasPrefix(word, name) {
				return true
			}
		}
	}

	return false
}

func isWordRune(r rune) bool {
	return r == '\'' || r == '-' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r > 127
}

// keywordMatches reports whether any of the keywords appears in the search text.
func keywordMatches(keywords []string, searchText string) bool {
	for _, kw := range keywords {
		if NameMatches(kw, searchText) {
			return true
		}
	}
	return false
}
