package compliance

import (
	"log/slog"
	"sort"

	"github.com/copernicus-go/copernicus/internal/pinyin"
)

// OCRResult is one keyframe's extracted on-screen text, as produced by the
// OCR pipeline stage. EvidenceEnricher attaches the nearest one in time to
// transcript-sourced violations as supporting context.
type OCRResult struct {
	TimestampMs int
	Text        string
	FramePath   string
}

// ConfidenceFilter drops violations below a confidence threshold.
type ConfidenceFilter struct {
	Threshold float64
}

// NewConfidenceFilter returns a ConfidenceFilter with the given threshold.
func NewConfidenceFilter(threshold float64) ConfidenceFilter {
	return ConfidenceFilter{Threshold: threshold}
}

// Apply drops every violation whose confidence is below the threshold.
func (f ConfidenceFilter) Apply(violations []Violation, logger *slog.Logger) []Violation {
	result := make([]Violation, 0, len(violations))
	for _, v := range violations {
		if v.Confidence >= f.Threshold {
			result = append(result, v)
		}
	}
	if dropped := len(violations) - len(result); dropped > 0 && logger != nil {
		logger.Info("confidence filter dropped violations",
			"dropped", dropped, "total", len(violations), "threshold", f.Threshold)
	}
	return result
}

// ExactMatchValidator re-validates exact-mode rule violations against the
// regex/pinyin patterns precompiled for the rule, and supplements the set
// with violations the LLM missed entirely by scanning the full transcript
// text itself.
type ExactMatchValidator struct{}

// Apply re-validates LLM-reported exact-mode violations and adds any the LLM
// missed, by scanning fullText. rules supplies the exact-mode rule set to
// check against; violations for semantic/visual rules pass through
// untouched.
func (ExactMatchValidator) Apply(violations []Violation, rules []StructuredRule, fullText string, logger *slog.Logger) []Violation {
	exactRules := make(map[int]StructuredRule)
	for _, r := range rules {
		if r.CheckMode == CheckExact {
			exactRules[r.ID] = r
		}
	}
	if len(exactRules) == 0 {
		return violations
	}

	validated := make([]Violation, 0, len(violations))
	dropped := 0

	for _, v := range violations {
		if _, isExact := exactRules[v.RuleID]; !isExact {
			validated = append(validated, v)
			continue
		}

		pattern := ExactPattern(v.RuleID)
		if pattern == nil {
			validated = append(validated, v)
			continue
		}

		textToCheck := v.OriginalText
		switch {
		case pattern.MatchString(textToCheck):
			validated = append(validated, v)
		case pinyinMatch(textToCheck, PinyinPatterns(v.RuleID)) != "":
			validated = append(validated, v)
		default:
			dropped++
			if logger != nil {
				logger.Info("exact match validator dropped false positive",
					"rule_id", v.RuleID, "original_text", truncate(textToCheck, 100))
			}
		}
	}

	reported := make(map[int]struct{}, len(validated))
	for _, v := range validated {
		reported[v.RuleID] = struct{}{}
	}

	for ruleID, rule := range exactRules {
		if _, ok := reported[ruleID]; ok {
			continue
		}

		pattern := ExactPattern(ruleID)
		if pattern == nil {
			continue
		}

		if loc := pattern.FindStringIndex(fullText); loc != nil {
			match := fullText[loc[0]:loc[1]]
			validated = append(validated, Violation{
				RuleID:       ruleID,
				RuleContent:  rule.Content,
				Timestamp:    "00:00",
				OriginalText: extractContext(fullText, loc[0], 80),
				Reason:       "精确匹配检测到禁止用语「" + match + "」",
				Severity:     rule.SeverityDefault,
				Confidence:   1.0,
				Status:       StatusPending,
				Source:       SourceTranscript,
			})
			if logger != nil {
				logger.Info("exact match validator added missing violation",
					"rule_id", ruleID, "keyword", match)
			}
			continue
		}

		if kw := pinyinMatch(fullText, PinyinPatterns(ruleID)); kw != "" {
			validated = append(validated, Violation{
				RuleID:       ruleID,
				RuleContent:  rule.Content,
				Timestamp:    "00:00",
				OriginalText: extractContext(fullText, 0, 80),
				Reason:       "拼音匹配检测到禁止用语同音字（对应「" + kw + "」）",
				Severity:     rule.SeverityDefault,
				Confidence:   0.95,
				Status:       StatusPending,
				Source:       SourceTranscript,
			})
			if logger != nil {
				logger.Info("exact match validator added missing violation via pinyin",
					"rule_id", ruleID, "keyword", kw)
			}
		}
	}

	if dropped > 0 && logger != nil {
		logger.Info("exact match validator dropped false positives", "count", dropped)
	}
	return validated
}

// pinyinMatch returns the first keyword pattern found by sliding-window
// pinyin match in text, or "" if text is empty or nothing matches.
func pinyinMatch(text string, patterns []pinyin.KeywordPattern) string {
	if text == "" || len(patterns) == 0 {
		return ""
	}
	syllables := pinyin.ToSyllables(text)
	for _, p := range patterns {
		if _, found := pinyin.Contains(syllables, p); found {
			return p.Keyword
		}
	}
	return ""
}

// extractContext returns the radius-rune window around the rune index
// nearest to byte offset bytePos in text.
func extractContext(text string, bytePos, radius int) string {
	runes := []rune(text[:min(bytePos, len(text))])
	pos := len(runes)
	allRunes := []rune(text)

	start := pos - radius
	if start < 0 {
		start = 0
	}
	end := pos + radius
	if end > len(allRunes) {
		end = len(allRunes)
	}
	return string(allRunes[start:end])
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// DeduplicationFilter merges violations of the same rule whose timestamps
// fall within windowMs of each other, keeping the higher-confidence one.
type DeduplicationFilter struct {
	WindowMs int
}

// NewDeduplicationFilter returns a DeduplicationFilter with the given window.
func NewDeduplicationFilter(windowMs int) DeduplicationFilter {
	return DeduplicationFilter{WindowMs: windowMs}
}

// Apply merges near-duplicate violations, sorted by rule id then timestamp.
func (f DeduplicationFilter) Apply(violations []Violation, logger *slog.Logger) []Violation {
	if len(violations) == 0 {
		return violations
	}

	sorted := make([]Violation, len(violations))
	copy(sorted, violations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RuleID != sorted[j].RuleID {
			return sorted[i].RuleID < sorted[j].RuleID
		}
		return sorted[i].TimestampMs < sorted[j].TimestampMs
	})

	result := make([]Violation, 0, len(sorted))
	var prev *Violation

	for i := range sorted {
		v := sorted[i]
		if prev != nil && prev.RuleID == v.RuleID && absInt(v.TimestampMs-prev.TimestampMs) < f.WindowMs {
			if v.Confidence > prev.Confidence {
				result[len(result)-1] = v
				prev = &result[len(result)-1]
			}
			continue
		}
		result = append(result, v)
		prev = &result[len(result)-1]
	}

	if deduped := len(violations) - len(result); deduped > 0 && logger != nil {
		logger.Info("deduplication filter merged duplicates", "merged", deduped, "window_ms", f.WindowMs)
	}
	return result
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// EvidenceEnricher attaches the nearest-in-time OCR record to
// transcript-sourced violations that don't already carry evidence text.
type EvidenceEnricher struct {
	MarginMs int
}

// NewEvidenceEnricher returns an EvidenceEnricher with the given search margin.
func NewEvidenceEnricher(marginMs int) EvidenceEnricher {
	return EvidenceEnricher{MarginMs: marginMs}
}

// Apply fills EvidenceText/EvidenceURL on violations where a nearby OCR
// record exists. Violations already carrying evidence, or not sourced from
// the transcript, are left untouched.
func (e EvidenceEnricher) Apply(violations []Violation, ocrResults []OCRResult) []Violation {
	if len(ocrResults) == 0 {
		return violations
	}

	for i := range violations {
		v := &violations[i]
		if v.EvidenceText != nil || v.Source != SourceTranscript {
			continue
		}
		best, ok := findNearestOCR(v.TimestampMs, ocrResults, e.MarginMs)
		if !ok {
			continue
		}
		text := best.Text
		v.EvidenceText = &text
		if best.FramePath != "" {
			url := filepathBase(best.FramePath)
			v.EvidenceURL = &url
		}
	}
	return violations
}

func findNearestOCR(timestampMs int, ocrResults []OCRResult, marginMs int) (OCRResult, bool) {
	bestDiff := marginMs + 1
	var best OCRResult
	found := false
	for _, ocr := range ocrResults {
		diff := absInt(ocr.TimestampMs - timestampMs)
		if diff < bestDiff {
			bestDiff = diff
			best = ocr
			found = true
		}
	}
	return best, found
}

// filepathBase mirrors os.path.basename without pulling in path/filepath for
// a single call; OCR frame paths are always forward-slash-separated, having
// been produced by the same pipeline regardless of host OS.
func filepathBase(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// FilterOptions bounds the filter chain's tunables.
type FilterOptions struct {
	ConfidenceThreshold float64
	DedupWindowMs       int
	EvidenceMarginMs    int
}

// DefaultFilterOptions matches the thresholds the audit engine was tuned
// against.
func DefaultFilterOptions() FilterOptions {
	return FilterOptions{
		ConfidenceThreshold: 0.7,
		DedupWindowMs:       30000,
		EvidenceMarginMs:    10000,
	}
}

// RunFilters runs the full post-processing chain in order:
// ConfidenceFilter -> ExactMatchValidator -> DeduplicationFilter ->
// EvidenceEnricher, then restores timestamp order.
func RunFilters(violations []Violation, rules []StructuredRule, fullText string, ocrResults []OCRResult, opts FilterOptions, logger *slog.Logger) []Violation {
	result := NewConfidenceFilter(opts.ConfidenceThreshold).Apply(violations, logger)

	if len(rules) > 0 {
		result = ExactMatchValidator{}.Apply(result, rules, fullText, logger)
	}

	result = NewDeduplicationFilter(opts.DedupWindowMs).Apply(result, logger)
	result = NewEvidenceEnricher(opts.EvidenceMarginMs).Apply(result, ocrResults)

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].TimestampMs < result[j].TimestampMs
	})
	return result
}
