package transcript

import (
	"regexp"
	"strings"
)

// noiseCN is the exact set of bare Chinese interjections treated as noise.
// Grounded on the ASR post-processing noise table (original _is_noise_segment).
var noiseCN = map[string]struct{}{
	"嗯": {}, "啊": {}, "哦": {}, "呃": {}, "唔": {}, "嘿": {}, "哈": {}, "呵": {},
	"噢": {}, "喔": {}, "诶": {}, "哎": {}, "唉": {}, "呀": {}, "吧": {}, "呢": {},
	"嘛": {}, "咯": {}, "喽": {}, "哇": {}, "嗯嗯": {}, "啊啊": {}, "哦哦": {},
}

// noiseEN is the exact set of English filler words/phrases treated as noise.
var noiseEN = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "um": {}, "uh": {}, "yeah": {}, "yes": {},
	"no": {}, "oh": {}, "ah": {}, "er": {}, "hmm": {}, "hm": {}, "mm": {},
	"mhm": {}, "ok": {}, "okay": {},
	"the the": {}, "the yeah": {}, "a a": {}, "um um": {}, "uh uh": {},
}

// cjkPunctRun collapses a run of two or more identical CJK punctuation marks
// into a single one, e.g. "。。。" -> "。".
var cjkPunctRun = regexp.MustCompile(`。{2,}|，{2,}|、{2,}|！{2,}|？{2,}|；{2,}|：{2,}`)

// allPunctuation matches text made up entirely of punctuation/whitespace,
// with nothing else left to say.
var allPunctuation = regexp.MustCompile(`^[\p{P}\p{Zs}]*$`)

// chineseDigitYear matches a run of exactly four Chinese numeral characters,
// e.g. "二零二五" -> normalized to the ASCII year "2025".
var chineseDigitYear = regexp.MustCompile(`[零一二三四五六七八九]{4}`)

var chineseDigitMap = map[rune]byte{
	'零': '0', '一': '1', '二': '2', '三': '3', '四': '4',
	'五': '5', '六': '6', '七': '7', '八': '8', '九': '9',
}

// repeatedFragment matches a short CJK fragment (1-4 runes) immediately
// followed by one or more exact repeats of itself, e.g. "那个那个" or "嗯嗯嗯".
var repeatedFragment = regexp.MustCompile(`(\p{Han}{1,4})(\1)+`)

// noiseStripPunct mirrors the punctuation set _is_noise_segment strips before
// comparing against the filler-word tables.
var noiseStripPunct = regexp.MustCompile(`[。，、！？；：.!?;,: ]`)

// NormalizeForNoiseCheck lowercases text and collapses CJK/ASCII punctuation
// to spaces, the normalization IsNoiseText's classifier assumes has already
// been applied. Callers that feed raw ASR text straight into IsNoiseText
// (rather than pre-normalized text) must run it through here first.
func NormalizeForNoiseCheck(text string) string {
	cleaned := noiseStripPunct.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

// CleanResult is the outcome of phase-1 rule-based cleaning for one entry.
type CleanResult struct {
	ID       int
	Text     string
	Filtered bool // true when the entry was reduced to nothing meaningful
}

// Clean runs phase 1 (rule-based clean) over entries. It never reorders or
// drops entries from the returned slice — a dropped entry is represented with
// Filtered=true and an empty Text, so downstream phases and the final
// TranscriptEntry.text_corrected can stay aligned by Id.
func Clean(entries []Entry) []CleanResult {
	out := make([]CleanResult, 0, len(entries))
	for _, e := range entries {
		text := strings.TrimSpace(e.Text)

		if IsNoiseText(NormalizeForNoiseCheck(text)) || allPunctuation.MatchString(text) {
			out = append(out, CleanResult{ID: e.ID, Filtered: true})
			continue
		}

		text = stripRepeatedFillerPrefix(text)
		text = collapseRepeatedFragments(text)
		text = cjkPunctRun.ReplaceAllStringFunc(text, func(m string) string { return string([]rune(m)[0]) })
		text = normalizeChineseDigitYears(text)
		text = strings.TrimSpace(text)

		if text == "" || allPunctuation.MatchString(text) {
			out = append(out, CleanResult{ID: e.ID, Filtered: true})
			continue
		}

		out = append(out, CleanResult{ID: e.ID, Text: text})
	}
	return out
}

// IsNoiseText reports whether text is nothing but interjections/filler.
//
// Three acceptance rules, matching the ASR noise-segment classifier:
//   - an exact match against the CN or EN noise set;
//   - a short (<=6 rune) CJK string whose distinct characters, ignoring
//     spaces, are all in noiseCN and which uses at most 2 distinct characters;
//   - every space-separated word is in the EN noise set.
//
// Exported so the ASR post-processing stage can apply the identical
// noise-segment rule SenseVoice-mode output needs before it ever reaches
// this correction pipeline.
func IsNoiseText(text string) bool {
	if text == "" {
		return true
	}
	lower := strings.ToLower(text)
	if _, ok := noiseCN[text]; ok {
		return true
	}
	if _, ok := noiseEN[lower]; ok {
		return true
	}

	runes := []rune(text)
	if len(runes) <= 6 {
		distinct := make(map[rune]struct{})
		allNoise := true
		for _, r := range runes {
			if r == ' ' {
				continue
			}
			s := string(r)
			if _, ok := noiseCN[s]; !ok {
				allNoise = false
				break
			}
			distinct[r] = struct{}{}
		}
		if allNoise && len(distinct) <= 2 {
			return true
		}
	}

	words := strings.Fields(lower)
	if len(words) > 0 {
		allEN := true
		for _, w := range words {
			if _, ok := noiseEN[w]; !ok {
				allEN = false
				break
			}
		}
		if allEN {
			return true
		}
	}

	return false
}

// fillerPrefixes lists English filler tokens that, when repeated at the
// start of a sentence, are stripped entirely (e.g. "the the order" -> "order").
var fillerPrefixes = []string{"the", "um", "uh", "yeah"}

func stripRepeatedFillerPrefix(text string) string {
	words := strings.Fields(text)
	i := 0
	for i+1 < len(words) {
		w := strings.ToLower(words[i])
		if w != strings.ToLower(words[i+1]) {
			break
		}
		isFiller := false
		for _, f := range fillerPrefixes {
			if w == f {
				isFiller = true
				break
			}
		}
		if !isFiller {
			break
		}
		i++
	}
	if i == 0 {
		return text
	}
	return strings.Join(words[i:], " ")
}

func collapseRepeatedFragments(text string) string {
	return repeatedFragment.ReplaceAllString(text, "$1")
}

func normalizeChineseDigitYears(text string) string {
	return chineseDigitYear.ReplaceAllStringFunc(text, func(match string) string {
		b := make([]byte, 0, 4)
		for _, r := range match {
			d, ok := chineseDigitMap[r]
			if !ok {
				return match
			}
			b = append(b, d)
		}
		return string(b)
	})
}
