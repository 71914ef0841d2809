package highlight

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedPhrases(userID int64, phrases ...string) []StoredHighlight {
	result := make([]StoredHighlight, 0, len(phrases))
	for _, p := range phrases {
		result = append(result, StoredHighlight{GuildID: 1, UserID: userID, Highlight: p})
	}
	return result
}

func TestMatcherWholeWord(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "cat"))

	cases := []struct {
		text    string
		matches int
	}{
		{text: "the cat sat", matches: 1},
		{text: "cat", matches: 1},
		{text: "cat!", matches: 1},
		{text: "(cat)", matches: 1},
		{text: "category", matches: 0},
		{text: "concatenate", matches: 0},
		{text: "bobcat", matches: 0},
		{text: "cat_nap", matches: 0},
		{text: "cat-nap", matches: 1},
		{text: "cat5", matches: 0},
		{text: "", matches: 0},
	}

	for i, c := range cases {
		t.Run("#"+strconv.Itoa(i), func(st *testing.T) {
			got := m.Scan(c.text)
			if len(got) != c.matches {
				st.Errorf("scanning %q: got %d matches, expected %d", c.text, len(got), c.matches)
			}
		})
	}
}

func TestMatcherCaseInsensitive(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "Cat"))

	matches := m.Scan("the CAT sat")
	require.Len(t, matches, 1)
	assert.Equal(t, "cat", matches[0].Phrase)
	// owner's casing is preserved for display
	assert.Equal(t, "Cat", matches[0].Owners[0].PreferredCaps)

	assert.Len(t, m.Scan("cat!"), 1)
	assert.Len(t, m.Scan("category"), 0)
}

func TestMatcherOverlappingPatterns(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "rust", "rust lang"))

	text := "I love Rust lang today"
	matches := m.Scan(text)
	require.Len(t, matches, 2)

	byPhrase := make(map[string]Match)
	for _, match := range matches {
		byPhrase[match.Phrase] = match
	}

	short, ok := byPhrase["rust"]
	require.True(t, ok)
	assert.Equal(t, "Rust", text[short.Start:short.End])

	long, ok := byPhrase["rust lang"]
	require.True(t, ok)
	assert.Equal(t, "Rust lang", text[long.Start:long.End])
}

func TestMatcherSuffixPatterns(t *testing.T) {
	// "lang" is a proper suffix of "rust lang", both have to be reported
	// from a single scan position
	m := NewMatcher(storedPhrases(10, "lang", "rust lang"))

	matches := m.Scan("rust lang")
	require.Len(t, matches, 2)
}

func TestMatcherSharedPhrase(t *testing.T) {
	phrases := append(storedPhrases(10, "coffee"), storedPhrases(20, "Coffee")...)
	m := NewMatcher(phrases)

	assert.Equal(t, 1, m.NumPatterns())

	matches := m.Scan("anyone want coffee?")
	require.Len(t, matches, 1)
	require.Len(t, matches[0].Owners, 2)

	caps := []string{matches[0].Owners[0].PreferredCaps, matches[0].Owners[1].PreferredCaps}
	assert.Contains(t, caps, "coffee")
	assert.Contains(t, caps, "Coffee")
}

func TestMatcherEmptyPhrase(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "", "   "))
	assert.Equal(t, 0, m.NumPatterns())
	assert.Len(t, m.Scan("anything at all"), 0)
}

func TestMatcherNormalization(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "  rust   lang  "))

	matches := m.Scan("rust lang is neat")
	require.Len(t, matches, 1)
	assert.Equal(t, "rust lang", matches[0].Phrase)
	assert.Equal(t, "rust lang", matches[0].Owners[0].PreferredCaps)
}

func TestMatcherUnicode(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "café"))

	text := "meet me at the CAFÉ!"
	matches := m.Scan(text)
	require.Len(t, matches, 1)
	assert.Equal(t, "CAFÉ", text[matches[0].Start:matches[0].End])

	assert.Len(t, m.Scan("cafés"), 0)
}

func TestMatcherMessageEdges(t *testing.T) {
	m := NewMatcher(storedPhrases(10, "go"))

	assert.Len(t, m.Scan("go now"), 1)
	assert.Len(t, m.Scan("lets go"), 1)
	assert.Len(t, m.Scan("go"), 1)
	assert.Len(t, m.Scan("golang"), 0)
	assert.Len(t, m.Scan("forgo"), 0)
}

func BenchmarkMatcherScan(b *testing.B) {
	phrases := make([]StoredHighlight, 0, 1000)
	for i := 0; i < 1000; i++ {
		phrases = append(phrases, StoredHighlight{GuildID: 1, UserID: int64(i), Highlight: "phrase" + strconv.Itoa(i)})
	}
	m := NewMatcher(phrases)

	text := strings.Repeat("nothing interesting here phrase500 ", 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Scan(text)
	}
}
