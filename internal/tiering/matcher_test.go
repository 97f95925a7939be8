package tiering

import "testing"

func TestNameMatches(t *testing.T) {
	tests := []struct {
		name   string
		search string
		want   bool
	}{
		{"Mira", "I walk over and greet Mira warmly", true},
		{"mira", "I walk over and greet MIRA warmly", true}, // case-insensitive
		{"Harbor", "I walk to the Harbor", true},
		{"Harbor", "I walk to the harbors", true}, // word-prefix for names >= 3 chars
		{"Mira", "", false},
		{"Mira", "The admiral spoke", false}, // not a substring
		{"", "some text", false},
		{"Iron Key", "she produced the iron key from her cloak", true}, // multi-word names
	}

	for _, tt := range tests {
		if got := NameMatches(tt.name, tt.search); got != tt.want {
			t.Errorf("NameMatches(%q, %q) = %v, want %v", tt.name, tt.search, got, tt.want)
		}
	}
}

func TestNameMatchesWholeWord(t *testing.T) {
	// Whole-word occurrence must always match.
	if !NameMatches("Ash", "the ash settled over the valley") {
		t.Error("whole word should match")
	}
	// Regex metacharacters in names must not break matching.
	if !NameMatches("Dr. Voss", "they summoned Dr. Voss at midnight") {
		t.Error("name with metacharacters should match literally")
	}
}

func TestKeywordMatches(t *testing.T) {
	if !keywordMatches([]string{"pact", "oath"}, "she swore the oath at dusk") {
		t.Error("keyword should match")
	}
	if keywordMatches([]string{"pact", "oath"}, "nothing relevant here") {
		t.Error("no keyword should match")
	}
	if keywordMatches(nil, "anything") {
		t.Error("empty keyword list never matches")
	}
}
