package compliance

import "testing"

func exactRule12() StructuredRule {
	return builtinIndex[12]
}

func TestConfidenceFilterApply(t *testing.T) {
	violations := []Violation{
		{RuleID: 1, Confidence: 0.9},
		{RuleID: 2, Confidence: 0.5},
		{RuleID: 3, Confidence: 0.71},
	}
	got := NewConfidenceFilter(0.7).Apply(violations, nil)
	if len(got) != 2 {
		t.Fatalf("got %d violations, want 2: %+v", len(got), got)
	}
	for _, v := range got {
		if v.RuleID == 2 {
			t.Errorf("low-confidence violation (rule 2) should have been dropped")
		}
	}
}

func TestExactMatchValidatorDropsFalsePositive(t *testing.T) {
	violations := []Violation{
		{RuleID: 12, OriginalText: "这是一段完全不相关的话", Confidence: 0.9},
	}
	rules := []StructuredRule{exactRule12()}
	got := ExactMatchValidator{}.Apply(violations, rules, "全文没有任何禁止词汇", nil)
	if len(got) != 0 {
		t.Errorf("got %d violations, want 0 (false positive should be dropped): %+v", len(got), got)
	}
}

func TestExactMatchValidatorKeepsRegexHit(t *testing.T) {
	violations := []Violation{
		{RuleID: 12, OriginalText: "这笔钱随时可以存取", Confidence: 0.9},
	}
	rules := []StructuredRule{exactRule12()}
	got := ExactMatchValidator{}.Apply(violations, rules, "这笔钱随时可以存取", nil)
	if len(got) != 1 {
		t.Fatalf("got %d violations, want 1 (regex hit kept): %+v", len(got), got)
	}
}

func TestExactMatchValidatorAddsMissedViolationViaRegex(t *testing.T) {
	rules := []StructuredRule{exactRule12()}
	fullText := "这款理财可以随时存取，非常灵活"
	got := ExactMatchValidator{}.Apply(nil, rules, fullText, nil)
	if len(got) != 1 {
		t.Fatalf("got %d violations, want 1 (missed violation added from full text scan): %+v", len(got), got)
	}
	if got[0].RuleID != 12 || got[0].Confidence != 1.0 {
		t.Errorf("added violation = %+v, want rule_id=12 confidence=1.0", got[0])
	}
}

func TestExactMatchValidatorNoExactRulesIsNoop(t *testing.T) {
	violations := []Violation{{RuleID: 1, OriginalText: "无所谓", Confidence: 0.9}}
	semanticOnly := []StructuredRule{builtinIndex[1]}
	got := ExactMatchValidator{}.Apply(violations, semanticOnly, "无所谓", nil)
	if len(got) != 1 {
		t.Errorf("got %d violations, want passthrough of 1", len(got))
	}
}

func TestDeduplicationFilterMergesWithinWindow(t *testing.T) {
	violations := []Violation{
		{RuleID: 5, TimestampMs: 1000, Confidence: 0.8},
		{RuleID: 5, TimestampMs: 5000, Confidence: 0.95},
		{RuleID: 5, TimestampMs: 90000, Confidence: 0.9},
	}
	got := NewDeduplicationFilter(30000).Apply(violations, nil)
	if len(got) != 2 {
		t.Fatalf("got %d violations, want 2 (first two merged): %+v", len(got), got)
	}
	if got[0].Confidence != 0.95 {
		t.Errorf("merged violation kept confidence %v, want 0.95 (higher)", got[0].Confidence)
	}
	if got[1].TimestampMs != 90000 {
		t.Errorf("second violation timestamp = %d, want 90000", got[1].TimestampMs)
	}
}

func TestDeduplicationFilterDifferentRulesNotMerged(t *testing.T) {
	violations := []Violation{
		{RuleID: 5, TimestampMs: 1000, Confidence: 0.8},
		{RuleID: 6, TimestampMs: 1000, Confidence: 0.8},
	}
	got := NewDeduplicationFilter(30000).Apply(violations, nil)
	if len(got) != 2 {
		t.Errorf("got %d violations, want 2 (different rules never merge)", len(got))
	}
}

func TestEvidenceEnricherAttachesNearestOCR(t *testing.T) {
	ts := "existing"
	_ = ts
	violations := []Violation{
		{RuleID: 3, TimestampMs: 10000, Source: SourceTranscript},
	}
	ocr := []OCRResult{
		{TimestampMs: 5000, Text: "far", FramePath: "/frames/far.jpg"},
		{TimestampMs: 10500, Text: "near", FramePath: "/frames/near.jpg"},
	}
	got := NewEvidenceEnricher(10000).Apply(violations, ocr)
	if got[0].EvidenceText == nil || *got[0].EvidenceText != "near" {
		t.Errorf("EvidenceText = %v, want 'near'", got[0].EvidenceText)
	}
	if got[0].EvidenceURL == nil || *got[0].EvidenceURL != "near.jpg" {
		t.Errorf("EvidenceURL = %v, want 'near.jpg'", got[0].EvidenceURL)
	}
}

func TestEvidenceEnricherSkipsNonTranscriptAndExisting(t *testing.T) {
	existing := "already set"
	violations := []Violation{
		{RuleID: 3, TimestampMs: 10000, Source: SourceTranscript, EvidenceText: &existing},
		{RuleID: 3, TimestampMs: 10000, Source: SourceOCR},
	}
	ocr := []OCRResult{{TimestampMs: 10000, Text: "near"}}
	got := NewEvidenceEnricher(10000).Apply(violations, ocr)
	if *got[0].EvidenceText != existing {
		t.Errorf("should not overwrite existing evidence text")
	}
	if got[1].EvidenceText != nil {
		t.Errorf("should not attach evidence to non-transcript-sourced violations")
	}
}

func TestRunFiltersRestoresTimestampOrder(t *testing.T) {
	violations := []Violation{
		{RuleID: 1, TimestampMs: 5000, Confidence: 0.9},
		{RuleID: 2, TimestampMs: 1000, Confidence: 0.9},
	}
	got := RunFilters(violations, nil, "", nil, DefaultFilterOptions(), nil)
	if len(got) != 2 || got[0].TimestampMs != 1000 || got[1].TimestampMs != 5000 {
		t.Errorf("RunFilters did not restore timestamp order: %+v", got)
	}
}
