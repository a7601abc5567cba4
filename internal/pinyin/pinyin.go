// Package pinyin provides toneless pinyin conversion and sliding-window
// homophone matching used as a fallback when exact keyword matching misses
// due to ASR mishearing a banned term as a different but similarly-sounding
// one.
//
// Grounded on the compliance filter chain's pinyin fallback: a banned
// keyword is pre-converted to its pinyin syllables once, and flagged
// transcript text is converted the same way and scanned with a fixed-length
// sliding window for an exact syllable-sequence match.
package pinyin

import (
	"strings"

	py "github.com/mozillazg/go-pinyin"
)

var args = func() py.Args {
	a := py.NewArgs()
	a.Style = py.Normal // toneless syllables, e.g. "bao" not "bǎo" or "bao3"
	a.Fallback = func(r rune, a py.Args) []string {
		// Non-Han runes (digits, Latin letters, punctuation) pass through
		// unchanged as single-syllable "words" so mixed-script text still
		// lines up position-for-position with the source.
		return []string{string(r)}
	}
	return a
}()

// ToSyllables converts text into a flat list of lowercase, tone-free pinyin
// syllables, one per character (non-Han runes pass through unchanged).
func ToSyllables(text string) []string {
	if text == "" {
		return nil
	}
	return py.LazyPinyin(text, args)
}

// KeywordPattern is a banned keyword pre-converted to its pinyin form for
// repeated matching against transcript text.
type KeywordPattern struct {
	// Keyword is the original banned term.
	Keyword string
	// Pinyin is Keyword's syllables joined with a single space, matching the
	// join format used when scanning candidate windows.
	Pinyin string
	// Len is the character count of Keyword, which equals its syllable count.
	Len int
}

// BuildKeywordPattern precomputes the [KeywordPattern] for a banned keyword.
func BuildKeywordPattern(keyword string) KeywordPattern {
	syllables := ToSyllables(keyword)
	return KeywordPattern{
		Keyword: keyword,
		Pinyin:  strings.Join(syllables, " "),
		Len:     len(syllables),
	}
}

// Contains reports whether textSyllables contains an exact match of
// pattern's pinyin using a fixed-length sliding window, and if so at what
// syllable index the match starts.
func Contains(textSyllables []string, pattern KeywordPattern) (index int, found bool) {
	if pattern.Len == 0 || len(textSyllables) < pattern.Len {
		return 0, false
	}
	for i := 0; i+pattern.Len <= len(textSyllables); i++ {
		window := strings.Join(textSyllables[i:i+pattern.Len], " ")
		if window == pattern.Pinyin {
			return i, true
		}
	}
	return 0, false
}

// Match scans text against every pattern in order and returns the first
// keyword whose pinyin form is found, or ok=false if none match.
func Match(text string, patterns []KeywordPattern) (keyword string, ok bool) {
	if text == "" || len(patterns) == 0 {
		return "", false
	}
	textSyllables := ToSyllables(text)
	for _, p := range patterns {
		if _, found := Contains(textSyllables, p); found {
			return p.Keyword, true
		}
	}
	return "", false
}
