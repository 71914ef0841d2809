package highlight

import (
	"strings"
	"unicode"
)

// PhraseOwner is a user that registered a given phrase, PreferredCaps is
// the casing they typed it with, which is what gets shown back to them in
// the notification.
type PhraseOwner struct {
	UserID        int64
	PreferredCaps string
}

// pattern is one distinct lower-cased phrase in the automaton, several
// users registering the same phrase share a single pattern.
type pattern struct {
	text    string
	runeLen int
	owners  []PhraseOwner
}

// Match is a single whole-word occurrence of a pattern in a scanned
// message. Start and End are byte offsets into the original text so the
// matched region can be highlighted when the notification is delivered.
type Match struct {
	Phrase string // lower-cased phrase text, the cooldown key component
	Owners []PhraseOwner
	Start  int
	End    int
}

type acNode struct {
	children map[rune]int32
	fail     int32
	// next node up the fail chain that terminates at least one pattern,
	// -1 if there is none. Lets the scan report overlapping matches
	// ("rust" inside "rust lang") without walking the whole chain.
	dictLink int32
	patterns []int32
}

// Matcher is an immutable multi-pattern automaton over the trigger
// phrases of one guild. Scanning is a single pass over the message,
// independent of how many phrases are registered. A Matcher is never
// mutated after construction so it is safe for any number of concurrent
// scans.
type Matcher struct {
	nodes    []acNode
	patterns []pattern

	isWordChar func(r rune) bool
}

// IsWordChar is the default word-character predicate used for whole-word
// boundaries, matching \w semantics: letters, digits and underscore.
func IsWordChar(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// NormalizeHighlight is applied to phrases both at registration time and
// at index build time, keeping the case-insensitive uniqueness constraint
// meaningful. It trims surrounding whitespace and collapses internal runs
// of whitespace to a single space.
func NormalizeHighlight(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NewMatcher compiles the provided phrases into an automaton. Phrases are
// normalized and lower-cased, empty phrases are skipped, identical texts
// registered by several users are merged into a single pattern carrying
// all owners.
func NewMatcher(phrases []StoredHighlight) *Matcher {
	m := &Matcher{
		isWordChar: IsWordChar,
	}

	byText := make(map[string]int32)
	for _, p := range phrases {
		normalized := strings.ToLower(NormalizeHighlight(p.Highlight))
		if normalized == "" {
			continue
		}

		owner := PhraseOwner{UserID: p.UserID, PreferredCaps: NormalizeHighlight(p.Highlight)}
		if idx, ok := byText[normalized]; ok {
			m.patterns[idx].owners = append(m.patterns[idx].owners, owner)
			continue
		}

		byText[normalized] = int32(len(m.patterns))
		m.patterns = append(m.patterns, pattern{
			text:    normalized,
			runeLen: len([]rune(normalized)),
			owners:  []PhraseOwner{owner},
		})
	}

	m.build()
	return m
}

// NumPatterns returns the number of distinct phrases in the automaton.
func (m *Matcher) NumPatterns() int {
	return len(m.patterns)
}

func (m *Matcher) build() {
	m.nodes = []acNode{{children: make(map[rune]int32), fail: 0, dictLink: -1}}

	// trie phase
	for i := range m.patterns {
		cur := int32(0)
		for _, r := range m.patterns[i].text {
			next, ok := m.nodes[cur].children[r]
			if !ok {
				next = int32(len(m.nodes))
				m.nodes = append(m.nodes, acNode{children: make(map[rune]int32), fail: 0, dictLink: -1})
				m.nodes[cur].children[r] = next
			}
			cur = next
		}
		m.nodes[cur].patterns = append(m.nodes[cur].patterns, int32(i))
	}

	// breadth first failure link phase
	queue := make([]int32, 0, len(m.nodes))
	for _, child := range m.nodes[0].children {
		queue = append(queue, child)
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for r, child := range m.nodes[cur].children {
			queue = append(queue, child)

			fail := m.nodes[cur].fail
			for {
				// next != child only matters at the root, a node is never
				// its own suffix
				if next, ok := m.nodes[fail].children[r]; ok && next != child {
					fail = next
					break
				}
				if fail == 0 {
					break
				}
				fail = m.nodes[fail].fail
			}
			m.nodes[child].fail = fail

			if len(m.nodes[fail].patterns) > 0 {
				m.nodes[child].dictLink = fail
			} else {
				m.nodes[child].dictLink = m.nodes[fail].dictLink
			}
		}
	}
}

// Scan runs the automaton over the message text and returns every
// whole-word match, including overlapping ones. The text is lower-cased
// rune by rune during the scan, the phrases were lower-cased the same way
// at build time.
func (m *Matcher) Scan(text string) []Match {
	if len(m.patterns) == 0 || text == "" {
		return nil
	}

	runes := make([]rune, 0, len(text))
	// byte offset of each rune plus a trailing end offset, for mapping
	// rune spans back to byte spans in the original text
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		runes = append(runes, unicode.ToLower(r))
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	var matches []Match

	state := int32(0)
	for i, r := range runes {
		for state != 0 {
			if _, ok := m.nodes[state].children[r]; ok {
				break
			}
			state = m.nodes[state].fail
		}
		if next, ok := m.nodes[state].children[r]; ok {
			state = next
		} else {
			continue
		}

		for node := state; node != -1; node = m.nodes[node].dictLink {
			for _, pi := range m.nodes[node].patterns {
				p := &m.patterns[pi]
				start := i + 1 - p.runeLen
				if !m.wholeWord(runes, start, i+1) {
					continue
				}

				matches = append(matches, Match{
					Phrase: p.text,
					Owners: p.owners,
					Start:  offsets[start],
					End:    offsets[i+1],
				})
			}
		}
	}

	return matches
}

// wholeWord reports whether the rune span [start, end) is not directly
// adjacent to a word character on either side, preventing "cat" from
// matching inside "category".
func (m *Matcher) wholeWord(runes []rune, start, end int) bool {
	if start > 0 && m.isWordChar(runes[start-1]) {
		return false
	}
	if end < len(runes) && m.isWordChar(runes[end]) {
		return false
	}
	return true
}
