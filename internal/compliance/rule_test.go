package compliance

import "testing"

func TestNewRegistryEnrichMatchesByContent(t *testing.T) {
	reg := NewRegistry()
	rules := []Rule{
		{ID: 99, Content: "讲师应在现场充分进行风险提示和免责条款说明"},
	}
	enriched := reg.Enrich(rules)
	if len(enriched) != 1 {
		t.Fatalf("got %d enriched rules, want 1", len(enriched))
	}
	if enriched[0].Title != "风险提示" {
		t.Errorf("Title = %q, want 风险提示 (matched via content tokens)", enriched[0].Title)
	}
	if enriched[0].Content != rules[0].Content {
		t.Errorf("Content should be the original parsed content, not the built-in's")
	}
}

func TestNewRegistryEnrichFallsBackWhenNoMatch(t *testing.T) {
	reg := NewRegistry()
	rules := []Rule{{ID: 1, Content: "完全无法匹配任何内置规则的奇怪文本"}}
	enriched := reg.Enrich(rules)
	if len(enriched) != 1 {
		t.Fatalf("got %d enriched rules, want 1", len(enriched))
	}
	if enriched[0].CheckMode != CheckSemantic {
		t.Errorf("fallback rule CheckMode = %v, want semantic", enriched[0].CheckMode)
	}
}

func TestExactPatternAndPinyinPatternsOnlyForExactRules(t *testing.T) {
	if ExactPattern(12) == nil {
		t.Errorf("rule 12 is exact-mode and should have a compiled pattern")
	}
	if ExactPattern(1) != nil {
		t.Errorf("rule 1 is semantic-mode and should have no exact pattern")
	}
	if len(PinyinPatterns(12)) == 0 {
		t.Errorf("rule 12 should have precomputed pinyin patterns")
	}
}

func TestGroupBySource(t *testing.T) {
	rules := []StructuredRule{
		{ID: 1, EvidenceSources: []string{"transcript"}},
		{ID: 2, EvidenceSources: []string{"ocr"}},
		{ID: 3, EvidenceSources: []string{"transcript", "ocr"}},
	}
	groups := GroupBySource(rules)
	if len(groups["transcript"]) != 1 || len(groups["ocr"]) != 1 || len(groups["mixed"]) != 1 {
		t.Errorf("groups = %+v", groups)
	}
}
