package pipeline

import (
	"fmt"
	"strings"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

var sentenceEndingRunes = map[rune]bool{
	'。': true, '！': true, '？': true, '.': true, '!': true, '?': true,
	'；': true, ';': true, '\n': true,
}

// FormatTimestamp renders milliseconds as MM:SS, or HH:MM:SS once the
// recording passes an hour. Exported so callers outside the package (the
// task store, building the persisted transcript entry from a
// [TranscriptEntryResult]) render timestamps the same way the pipeline does
// internally.
func FormatTimestamp(ms int) string {
	return formatTimestamp(ms)
}

// formatTimestamp renders milliseconds as MM:SS, or HH:MM:SS once the
// recording passes an hour.
func formatTimestamp(ms int) string {
	totalSeconds := ms / 1000
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

// splitSentences splits text at sentence-ending punctuation, keeping the
// punctuation with the fragment that precedes it. Returns [text] unchanged
// if no boundary is found.
func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	var parts []string
	start := 0
	for i, r := range runes {
		if sentenceEndingRunes[r] {
			parts = append(parts, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		parts = append(parts, string(runes[start:]))
	}
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{text}
	}
	return out
}

// preMergeSegments combines consecutive same-speaker segments separated by
// less than gapMs, cutting total segment count ahead of LLM correction so
// batches carry more context per call. Each merged segment's SubSentences
// preserves the original per-segment boundaries for later fine-grained
// splitting, and its Confidence is the length-weighted average of its
// constituent segments.
func preMergeSegments(segments []asr.Segment, gapMs int) []asr.Segment {
	if len(segments) == 0 {
		return nil
	}

	toSub := func(seg asr.Segment) asr.SubSentence {
		return asr.SubSentence{Text: seg.Text, StartMs: seg.StartMs, EndMs: seg.EndMs}
	}

	merged := make([]asr.Segment, 0, len(segments))
	cur := asr.Segment{
		Text:         segments[0].Text,
		StartMs:      segments[0].StartMs,
		EndMs:        segments[0].EndMs,
		Confidence:   segments[0].Confidence,
		Speaker:      segments[0].Speaker,
		SubSentences: []asr.SubSentence{toSub(segments[0])},
	}

	for _, seg := range segments[1:] {
		sameSpeaker := seg.Speaker == cur.Speaker
		withinGap := seg.StartMs-cur.EndMs < gapMs

		if sameSpeaker && withinGap {
			lenCur := len([]rune(cur.Text))
			lenSeg := len([]rune(seg.Text))
			totalLen := lenCur + lenSeg
			if totalLen > 0 {
				cur.Confidence = (cur.Confidence*float64(lenCur) + seg.Confidence*float64(lenSeg)) / float64(totalLen)
			}
			cur.Text += seg.Text
			cur.EndMs = seg.EndMs
			cur.SubSentences = append(cur.SubSentences, toSub(seg))
			continue
		}

		merged = append(merged, cur)
		cur = asr.Segment{
			Text:         seg.Text,
			StartMs:      seg.StartMs,
			EndMs:        seg.EndMs,
			Confidence:   seg.Confidence,
			Speaker:      seg.Speaker,
			SubSentences: []asr.SubSentence{toSub(seg)},
		}
	}
	merged = append(merged, cur)
	return merged
}

// smoothSpeakers reassigns a segment's speaker to match its neighbours when
// it differs from both, its neighbours agree with each other, and its
// duration is short — this is diarization flicker, not a real speaker turn.
// Same algorithm as internal/diarize.SmoothSpeakers, applied here to
// pkg/asr.Segment (which also carries Confidence/SubSentences that the
// diarizer's own Segment type doesn't need to know about).
func smoothSpeakers(segments []asr.Segment, maxDurationMs int) []asr.Segment {
	if len(segments) < 3 {
		return segments
	}
	for i := 1; i < len(segments)-1; i++ {
		prev := segments[i-1].Speaker
		cur := segments[i].Speaker
		next := segments[i+1].Speaker
		duration := segments[i].EndMs - segments[i].StartMs

		if cur != prev && prev == next && duration < maxDurationMs {
			segments[i].Speaker = prev
		}
	}
	return segments
}

// splitCorrectedBySubSentences maps LLM-corrected text back onto the
// original sub-sentence time spans, splitting at punctuation and allocating
// each fragment's duration proportionally to its character length.
func splitCorrectedBySubSentences(correctedText string, subs []asr.SubSentence) []asr.SubSentence {
	if len(subs) == 0 || strings.TrimSpace(correctedText) == "" {
		return []asr.SubSentence{{Text: correctedText}}
	}
	if len(subs) == 1 {
		return []asr.SubSentence{{Text: correctedText, StartMs: subs[0].StartMs, EndMs: subs[0].EndMs}}
	}

	fragments := splitSentences(correctedText)
	if len(fragments) == 0 {
		fragments = []string{correctedText}
	}

	totalStart := subs[0].StartMs
	totalEnd := subs[len(subs)-1].EndMs
	totalDuration := totalEnd - totalStart
	if totalDuration < 1 {
		totalDuration = 1
	}

	totalChars := 0
	for _, f := range fragments {
		totalChars += len([]rune(f))
	}
	if totalChars == 0 {
		totalChars = 1
	}

	result := make([]asr.SubSentence, 0, len(fragments))
	cursor := totalStart
	for i, frag := range fragments {
		ratio := float64(len([]rune(frag))) / float64(totalChars)
		duration := int(float64(totalDuration)*ratio + 0.5)
		fragStart := cursor
		var fragEnd int
		if i < len(fragments)-1 {
			fragEnd = cursor + duration
		} else {
			fragEnd = totalEnd
		}
		result = append(result, asr.SubSentence{Text: frag, StartMs: fragStart, EndMs: fragEnd})
		cursor = fragEnd
	}
	return result
}

// splitOriginalBySubSentences splits the pre-correction text back into one
// fragment per sub-sentence by prefix-matching, since the original text was
// built by concatenating sub-sentence texts in order. A mismatch (the LLM
// path never touches original text, but a caller passing mismatched inputs
// would hit it) falls back to putting everything remaining in one fragment.
func splitOriginalBySubSentences(originalText string, subs []asr.SubSentence) []string {
	if len(subs) <= 1 {
		return []string{originalText}
	}

	result := make([]string, 0, len(subs))
	remaining := originalText
	for i, sub := range subs {
		if i == len(subs)-1 {
			result = append(result, remaining)
			continue
		}
		if strings.HasPrefix(remaining, sub.Text) {
			result = append(result, sub.Text)
			remaining = remaining[len(sub.Text):]
			continue
		}
		result = append(result, remaining)
		remaining = ""
	}
	for len(result) < len(subs) {
		result = append(result, "")
	}
	return result
}
