// Package llmparse holds output-parsing helpers shared by every service that
// drives an LLM through a strict-JSON prompt: stripping a reasoning model's
// <think> block and recovering a JSON object or array from output that isn't
// always clean JSON (markdown fences, a stray sentence before or after).
package llmparse

import (
	"regexp"
	"strings"
)

var (
	thinkPairRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpenRe  = regexp.MustCompile(`(?s)<think>.*`)
	thinkCloseRe = regexp.MustCompile(`(?s)^.*?</think>`)
)

// StripThinkTags removes <think>...</think> blocks from LLM output,
// including an unterminated opening or dangling closing tag.
func StripThinkTags(text string) string {
	text = thinkPairRe.ReplaceAllString(text, "")
	text = thinkOpenRe.ReplaceAllString(text, "")
	text = thinkCloseRe.ReplaceAllString(text, "")
	return text
}

func stripFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// ExtractJSONObject extracts a JSON object from LLM output, stripping think
// tags and markdown fences first.
func ExtractJSONObject(text string) string {
	text = stripFences(StripThinkTags(text))
	if idx := strings.IndexByte(text, '{'); idx > 0 {
		text = text[idx:]
	}
	if last := strings.LastIndexByte(text, '}'); last >= 0 {
		text = text[:last+1]
	}
	return strings.TrimSpace(text)
}

// ExtractJSONArray extracts a JSON array from LLM output, stripping think
// tags and markdown fences first. Falls back to extracting a JSON object
// (for models that wrap the array, e.g. {"violations": [...]}).
func ExtractJSONArray(text string) string {
	text = stripFences(StripThinkTags(text))

	arrStart := strings.IndexByte(text, '[')
	objStart := strings.IndexByte(text, '{')
	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndexByte(text, ']'); end > arrStart {
			return text[arrStart : end+1]
		}
	}
	if start := objStart; start >= 0 {
		if end := strings.LastIndexByte(text, '}'); end > start {
			return text[start : end+1]
		}
	}
	return strings.TrimSpace(text)
}
