// Package transcript implements the four-phase text correction pipeline
// described for insurance product-briefing transcripts:
//
//  1. Rule-based clean — noise-phrase removal, repeated-fragment collapse,
//     Chinese-digit-year normalization (see clean.go).
//  2. Hotword replace — single-pass multi-pattern substitution driven by a
//     hotwords file (see hotword.go).
//  3. Light CSC — an optional, pluggable Chinese-spelling-correction model
//     (see csc.go); identity when unavailable.
//  4. LLM polish — batched JSON correction calls with tolerant response
//     parsing (see llmcorrect).
//
// Every phase accepts and returns a list of [Entry] and preserves Ids: a
// phase never reorders, splits, or merges entries.
package transcript

// Entry is one unit of text flowing through the correction pipeline,
// addressed by Id so phases can be applied out of order and reassembled.
type Entry struct {
	ID   int
	Text string
}

// CloneEntries returns a copy of entries so callers can mutate the result
// without aliasing the input slice.
func CloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// EntriesToMap indexes entries by Id for O(1) lookup during result merging.
func EntriesToMap(entries []Entry) map[int]string {
	m := make(map[int]string, len(entries))
	for _, e := range entries {
		m[e.ID] = e.Text
	}
	return m
}
