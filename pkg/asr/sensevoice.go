package asr

import (
	"regexp"
	"strings"

	"github.com/copernicus-go/copernicus/internal/transcript"
)

// senseVoiceTagPattern strips SenseVoice's special emotion/event tags, e.g.
// "<|zh|><|NEUTRAL|><|Speech|><|woitn|>".
var senseVoiceTagPattern = regexp.MustCompile(`<\|[^|]+\|>`)

// emojiPattern strips the emoji ranges SenseVoice output tends to emit.
var emojiPattern = regexp.MustCompile(`[\x{1F300}-\x{1F9FF}\x{2600}-\x{27BF}\x{1F600}-\x{1F64F}\x{1F680}-\x{1F6FF}]+`)

// repeatedPunct matches a run of 2+ CJK punctuation marks (commas and colons
// included); CleanSenseVoiceText replaces each such run with a single "。".
var repeatedPunct = regexp.MustCompile(`[。，、！？；：]{2,}`)

// barePunctLine matches a line that, after trimming, is nothing but
// punctuation.
var barePunctLine = regexp.MustCompile(`^\s*[。，、！？；：]+\s*$`)

// CleanSenseVoiceText strips SenseVoice's special tags, emoji, and collapses
// repeated punctuation, matching the engine's raw-text post-processing.
func CleanSenseVoiceText(text string) string {
	text = senseVoiceTagPattern.ReplaceAllString(text, "")
	text = emojiPattern.ReplaceAllString(text, "")
	text = repeatedPunct.ReplaceAllString(text, "。")
	if barePunctLine.MatchString(text) {
		text = ""
	}
	return strings.TrimSpace(text)
}

// IsNoiseSegment reports whether text is nothing but filler/interjections —
// the same rule phase-1 text correction applies, reused here so SenseVoice
// output can be noise-filtered before it ever reaches the transcript.
func IsNoiseSegment(text string) bool {
	return transcript.IsNoiseText(transcript.NormalizeForNoiseCheck(text))
}

// CharTimestamp is one character-level timestamp pair, as SenseVoice emits
// them: [startMs, endMs] for the character at the same index in the item's
// text.
type CharTimestamp struct {
	StartMs int
	EndMs   int
}

// RawItem is one SenseVoice generate() result entry, prior to cleaning,
// noise filtering, and long-segment splitting.
type RawItem struct {
	Text       string
	Timestamps []CharTimestamp
}

// BuildSenseVoiceSegments assembles the final ASR Result from a list of raw
// SenseVoice items: each is text-cleaned, noise-filtered (when filterNoise is
// true), and split at punctuation boundaries if its duration exceeds
// maxSegmentMs.
func BuildSenseVoiceSegments(items []RawItem, maxSegmentMs int, filterNoise bool) Result {
	var segments []Segment
	var allText strings.Builder

	for _, item := range items {
		cleaned := CleanSenseVoiceText(item.Text)
		if cleaned == "" {
			continue
		}
		if filterNoise && IsNoiseSegment(cleaned) {
			continue
		}

		var startMs, endMs int
		if len(item.Timestamps) > 0 {
			startMs = item.Timestamps[0].StartMs
			endMs = item.Timestamps[len(item.Timestamps)-1].EndMs
		}

		if endMs-startMs > maxSegmentMs && len(item.Timestamps) > 0 {
			for _, sub := range SplitLongSegment(cleaned, item.Timestamps, maxSegmentMs) {
				segments = append(segments, Segment{Text: sub.Text, StartMs: sub.StartMs, EndMs: sub.EndMs})
				allText.WriteString(sub.Text)
			}
			continue
		}

		segments = append(segments, Segment{Text: cleaned, StartMs: startMs, EndMs: endMs})
		allText.WriteString(cleaned)
	}

	return Result{Text: allText.String(), Segments: segments}
}

// SplitLongSegment splits text into shorter spans when its character-level
// timestamps span more than maxDurationMs, breaking at the nearest preceding
// punctuation mark found so far. Falls back to a hard split at the
// duration-exceeding index when no punctuation boundary exists.
func SplitLongSegment(text string, timestamps []CharTimestamp, maxDurationMs int) []Segment {
	runes := []rune(text)
	if len(timestamps) < 2 {
		return []Segment{{Text: text}}
	}
	n := min(len(runes), len(timestamps))

	punctChars := map[rune]struct{}{
		'。': {}, '！': {}, '？': {}, '；': {}, '，': {}, '、': {}, '：': {},
		'.': {}, '!': {}, '?': {}, ';': {}, ',': {}, ':': {},
	}

	var results []Segment
	currentStartIdx := 0
	currentStartMs := timestamps[0].StartMs

	for i := 0; i < n; i++ {
		duration := timestamps[i].EndMs - currentStartMs
		if duration < maxDurationMs {
			continue
		}

		splitIdx := i
		for j := i; j > currentStartIdx; j-- {
			if j < len(runes) {
				if _, isPunct := punctChars[runes[j]]; isPunct {
					splitIdx = j + 1
					break
				}
			}
		}

		subText := strings.TrimSpace(string(runes[currentStartIdx:min(splitIdx, len(runes))]))
		if subText != "" {
			endIdx := min(splitIdx-1, len(timestamps)-1)
			if endIdx < 0 {
				endIdx = 0
			}
			results = append(results, Segment{
				Text:    subText,
				StartMs: currentStartMs,
				EndMs:   timestamps[endIdx].EndMs,
			})
		}

		currentStartIdx = splitIdx
		if splitIdx < len(timestamps) {
			currentStartMs = timestamps[splitIdx].StartMs
		}
	}

	if currentStartIdx < len(runes) {
		remaining := strings.TrimSpace(string(runes[currentStartIdx:]))
		if remaining != "" {
			results = append(results, Segment{
				Text:    remaining,
				StartMs: currentStartMs,
				EndMs:   timestamps[len(timestamps)-1].EndMs,
			})
		}
	}

	if len(results) == 0 {
		return []Segment{{Text: text, StartMs: timestamps[0].StartMs, EndMs: timestamps[len(timestamps)-1].EndMs}}
	}
	return results
}
