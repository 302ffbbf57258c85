package extraction

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/armon/go-radix"
)

// phraseIndex finds lower-cased phrases inside a message by probing a radix
// tree at every rune offset.
type phraseIndex struct {
	tree *radix.Tree
}

type phraseMatch struct {
	start, end int // byte offsets into the probed string
	phrase     string
	value      string
}

func newPhraseIndex() *phraseIndex {
	return &phraseIndex{tree: radix.New()}
}

func (p *phraseIndex) insert(phrase, value string) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" {
		return
	}
	p.tree.Insert(phrase, value)
}

// first returns the leftmost match, longest at that offset. With
// wordBounded both ends must sit on a word boundary.
func (p *phraseIndex) first(s string, wordBounded bool) (phraseMatch, bool) {
	for i := 0; i < len(s); {
		if !wordBounded || atWordStart(s, i) {
			if m, ok := p.at(s, i, wordBounded); ok {
				return m, true
			}
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return phraseMatch{}, false
}

func (p *phraseIndex) at(s string, i int, wordBounded bool) (phraseMatch, bool) {
	var best phraseMatch
	found := false
	// WalkPath visits shorter prefixes first, so the last accepted wins.
	p.tree.WalkPath(s[i:], func(key string, v interface{}) bool {
		end := i + len(key)
		if wordBounded && !atWordEnd(s, end) {
			return false
		}
		best = phraseMatch{start: i, end: end, phrase: key, value: v.(string)}
		found = true
		return false
	})
	return best, found
}

// contains reports whether any phrase occurs as a substring of s.
func (p *phraseIndex) contains(s string) bool {
	_, ok := p.first(s, false)
	return ok
}

type vocabularyEntry struct {
	phrase, value string
}

// vocabulary is checked in list order: the earliest entry whose phrase
// occurs in the message wins, wherever it occurs.
type vocabulary []vocabularyEntry

func newVocabulary(entries []VocabularyEntry) (vocabulary, error) {
	if len(entries) == 0 {
		return nil, errors.New("vocabulary is empty")
	}
	v := make(vocabulary, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		phrase := strings.ToLower(strings.TrimSpace(e.Phrase))
		value := strings.TrimSpace(e.Value)
		if phrase == "" || value == "" {
			return nil, fmt.Errorf("entry %d needs both phrase and value", i)
		}
		if seen[phrase] {
			return nil, fmt.Errorf("duplicate phrase %q", phrase)
		}
		seen[phrase] = true
		v = append(v, vocabularyEntry{phrase: phrase, value: value})
	}
	return v, nil
}

// match expects lower-cased input.
func (v vocabulary) match(s string) (string, bool) {
	for _, e := range v {
		if strings.Contains(s, e.phrase) {
			return e.value, true
		}
	}
	return "", false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}

func atWordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func atWordEnd(s string, end int) bool {
	if end >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[end:])
	return !isWordRune(r)
}
