// Package compliance implements rule-based audit of corrected transcripts
// against a registry of insurance product-briefing compliance rules.
//
// A rule file (CSV or XLSX, arbitrary numbering and wording) is parsed, then
// enriched against a built-in registry of 13 structured rules by matching on
// rule content rather than id, so the mapping survives a reordered or
// renumbered rule file. Enriched rules drive a map/reduce LLM audit pass,
// whose raw violations are then run through a filter chain that trims false
// positives, fills in ones the LLM missed via exact/pinyin matching, merges
// duplicates, and attaches OCR evidence.
package compliance

import (
	"regexp"
	"strings"

	"github.com/copernicus-go/copernicus/internal/pinyin"
)

// RuleCategory classifies what a rule is checking.
type RuleCategory string

const (
	CategoryForbiddenPhrase RuleCategory = "forbidden_phrase"
	CategoryBehavioral      RuleCategory = "behavioral"
	CategoryDocument        RuleCategory = "document"
	CategoryVisualCheck     RuleCategory = "visual_check"
)

// CheckMode determines how a rule is evaluated.
type CheckMode string

const (
	// CheckExact rules are pre-validated with a Go regexp/pinyin fallback
	// before (and in addition to) the LLM's own judgment.
	CheckExact CheckMode = "exact"
	// CheckSemantic rules rely entirely on the LLM's judgment.
	CheckSemantic CheckMode = "semantic"
	// CheckVisual rules require OCR evidence and are skipped without it.
	CheckVisual CheckMode = "visual"
)

// Severity is a violation's reported severity.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// StructuredRule is one compliance rule with full metadata: category, check
// mode, evidence sources, and (for exact-mode rules) the forbidden keywords
// themselves.
type StructuredRule struct {
	ID              int
	Title           string
	Content         string
	Category        RuleCategory
	CheckMode       CheckMode
	EvidenceSources []string
	Keywords        []string
	Description     string
	SeverityDefault Severity
}

// Rule is a single rule parsed from a CSV/XLSX file, before enrichment.
type Rule struct {
	ID      int
	Content string
}

// builtinRules is the verbatim 13-rule registry for insurance product
// briefing sessions.
var builtinRules = []StructuredRule{
	{
		ID: 1, Title: "如实告知",
		Content:         "讲师应提醒投保人如实告知健康状况和相关信息",
		Category:        CategoryBehavioral,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否在产说会中提醒投保人如实告知。仅当完全未提及告知义务时才标记违规；简略提及不构成违规。",
		SeverityDefault: SeverityMedium,
	},
	{
		ID: 2, Title: "风险提示",
		Content:         "讲师应充分提示保险产品的风险和免责条款",
		Category:        CategoryBehavioral,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否提及产品风险和免责条款。仅当完全未提及风险/免责时才标记违规；合规的风险提示内容本身不构成违规。",
		SeverityDefault: SeverityMedium,
	},
	{
		ID: 3, Title: "产品条款展示",
		Content:         "产说会现场应展示产品条款和保险合同重要内容",
		Category:        CategoryVisualCheck,
		CheckMode:       CheckVisual,
		EvidenceSources: []string{"ocr"},
		Description:     "检查现场是否通过屏幕/投影展示了产品条款。需要 OCR 证据支持，纯语音转录无法判定。如无 OCR 数据则跳过此规则。",
		SeverityDefault: SeverityMedium,
	},
	{
		ID: 4, Title: "全程双录",
		Content:         "产说会全程应进行录音录像",
		Category:        CategoryBehavioral,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查是否提及录音录像安排。此规则侧重流程合规，仅当明确表示未录制时才标记违规。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 5, Title: "不得夸大收益",
		Content:         "不得夸大或变相夸大保险产品收益，不得承诺保证收益",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"保证收益", "稳赚", "只赚不赔", "翻倍", "年化收益率"},
		Description:     "检查是否夸大产品收益或承诺保证收益。注意：产品参数的客观陈述（如投保年龄、费率、保额）不是'夸大'；保单利益演示中标注'假设投资回报率'属于合规披露，不是承诺收益；仅当讲师做出超越合同条款的收益承诺时才标记违规。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 6, Title: "不得诋毁同业",
		Content:         "不得诋毁、贬低其他保险公司或其产品",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Keywords:        []string{"垃圾公司", "骗人", "倒闭"},
		Description:     "检查是否贬低或诋毁竞争对手。客观对比产品特征不构成诋毁；仅当使用贬义词汇攻击其他公司或产品时才标记违规。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 7, Title: "信息披露完整",
		Content:         "产说会材料应包含完整的产品信息和公司信息披露",
		Category:        CategoryVisualCheck,
		CheckMode:       CheckVisual,
		EvidenceSources: []string{"ocr"},
		Description:     "检查展示材料是否包含完整的产品和公司信息。需要 OCR 证据支持，纯语音转录无法判定。如无 OCR 数据则跳过此规则。",
		SeverityDefault: SeverityLow,
	},
	{
		ID: 8, Title: "不得误导",
		Content:         "不得以任何方式误导投保人，不得隐瞒重要信息",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Description:     "检查是否存在误导投保人或隐瞒重要信息的行为。正常的产品介绍和条款解读不构成误导；仅当故意曲解条款含义或隐瞒关键限制条件时才标记违规。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 9, Title: "不得夸大经营成果",
		Content:         "不得夸大公司经营成果或使用未经核实的数据",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"行业第一", "最大", "最强", "最好"},
		Description:     "检查是否夸大公司经营成果。注意：产品参数的客观陈述（如投保年龄范围、保障期限）不是'夸大经营成果'；合同条款中载明的保额、费率等属于产品事实，不涉及经营成果；仅当使用无依据的排名、未经核实的统计数据来美化公司时才标记违规。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 10, Title: "讲师资质",
		Content:         "主讲人应具备相应的保险从业资格",
		Category:        CategoryBehavioral,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查讲师是否展示或提及从业资格。未提及资格不一定违规（可能在会前已验证）；仅当有证据表明讲师无资质时才标记违规。",
		SeverityDefault: SeverityLow,
	},
	{
		ID: 11, Title: "适当性义务",
		Content:         "应根据投保人需求推荐适合的产品，不得强制搭售",
		Category:        CategoryBehavioral,
		CheckMode:       CheckSemantic,
		EvidenceSources: []string{"transcript"},
		Description:     "检查是否根据客户需求推荐产品。正常的产品推荐话术不构成违规；仅当强制搭售或完全不考虑客户需求时才标记违规。",
		SeverityDefault: SeverityMedium,
	},
	{
		ID: 12, Title: "禁止混淆概念",
		Content:         "不得将保险产品与银行存款、基金等混淆，不得使用存取、利息、本金等概念",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckExact,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"存取", "利息", "本金", "存款", "储蓄", "存钱", "取钱", "利率"},
		Description:     "检查是否将保险与银行存款混淆。此规则使用精确匹配：文本中出现禁止关键词即违规。同音字替代也应识别（如'保种'可能是'保证'，'犁息'可能是'利息'）。",
		SeverityDefault: SeverityHigh,
	},
	{
		ID: 13, Title: "禁止不当用语",
		Content:         "不得使用保证、保种水平、零风险等不当用语描述保险产品",
		Category:        CategoryForbiddenPhrase,
		CheckMode:       CheckExact,
		EvidenceSources: []string{"transcript", "ocr"},
		Keywords:        []string{"保种水平", "保证水平", "零风险", "无风险", "绝对安全", "百分百", "100%赔付"},
		Description:     "检查是否使用禁止用语描述保险产品。此规则使用精确匹配：文本中出现禁止关键词即违规。注意同音字替代（如'保种'='保证'）。",
		SeverityDefault: SeverityHigh,
	},
}

// matchTokens maps a built-in rule id to the content substrings used to
// recognize it in an arbitrarily-worded/numbered CSV or XLSX rule file.
var matchTokens = map[int][]string{
	1:  {"如实告知", "告知义务", "健康状况"},
	2:  {"风险提示", "免责条款"},
	3:  {"条款展示", "条款", "统一印制", "宣传材料"},
	4:  {"全程双录", "双录", "录音录像", "摄录"},
	5:  {"夸大收益", "保证收益", "承诺收益", "变相夸大"},
	6:  {"诋毁同业", "诋毁", "贬低"},
	7:  {"信息披露", "课件文件名", "定稿日期"},
	8:  {"虚假陈述", "误导宣传", "误导", "不实对比"},
	9:  {"保单利益", "分红", "经营成果", "万能险", "投资收益"},
	10: {"讲师资质", "从业资格", "认证资格", "师资", "资料归档"},
	11: {"适当性", "搭售", "主讲人"},
	12: {"存取", "利息", "本金", "混淆", "比率简单对比"},
	13: {"保种水平", "保证水平", "零风险", "不允许出现"},
}

var (
	builtinIndex  map[int]StructuredRule
	exactPatterns map[int]*regexp.Regexp
	exactPinyin   map[int][]pinyin.KeywordPattern
)

func init() {
	builtinIndex = make(map[int]StructuredRule, len(builtinRules))
	exactPatterns = make(map[int]*regexp.Regexp)
	exactPinyin = make(map[int][]pinyin.KeywordPattern)

	for _, r := range builtinRules {
		builtinIndex[r.ID] = r
		if r.CheckMode != CheckExact || len(r.Keywords) == 0 {
			continue
		}
		escaped := make([]string, len(r.Keywords))
		for i, kw := range r.Keywords {
			escaped[i] = regexp.QuoteMeta(kw)
		}
		exactPatterns[r.ID] = regexp.MustCompile(strings.Join(escaped, "|"))

		patterns := make([]pinyin.KeywordPattern, len(r.Keywords))
		for i, kw := range r.Keywords {
			patterns[i] = pinyin.BuildKeywordPattern(kw)
		}
		exactPinyin[r.ID] = patterns
	}
}

// Registry maps CSV/XLSX-parsed rules onto the built-in 13-rule metadata.
type Registry struct {
	index map[int]StructuredRule
}

// NewRegistry returns a Registry seeded with the built-in rules.
func NewRegistry() *Registry {
	idx := make(map[int]StructuredRule, len(builtinIndex))
	for k, v := range builtinIndex {
		idx[k] = v
	}
	return &Registry{index: idx}
}

// Enrich converts parsed rules into [StructuredRule] values, matching each
// against the built-in registry by content rather than id so the mapping
// survives a rule file whose numbering doesn't match the built-ins.
// Unmatched rules fall back to a default semantic-check rule.
func (reg *Registry) Enrich(rules []Rule) []StructuredRule {
	out := make([]StructuredRule, 0, len(rules))
	for _, r := range rules {
		if builtin := matchByContent(r.Content); builtin != nil {
			enriched := *builtin
			enriched.Content = r.Content
			out = append(out, enriched)
			continue
		}
		out = append(out, StructuredRule{
			ID:              r.ID,
			Title:           "规则",
			Content:         r.Content,
			Category:        CategoryBehavioral,
			CheckMode:       CheckSemantic,
			EvidenceSources: []string{"transcript"},
			Description:     "基于规则原文进行语义审核。仅当文本明确违反此规则要求时才标记违规；客观事实陈述不构成违规。",
			SeverityDefault: SeverityMedium,
		})
	}
	return out
}

// matchByContent scores every built-in rule's match tokens against content
// and returns the highest-scoring rule with a nonzero score, or nil.
func matchByContent(content string) *StructuredRule {
	bestID := 0
	bestScore := 0
	for ruleID, tokens := range matchTokens {
		score := 0
		for _, t := range tokens {
			if strings.Contains(content, t) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestID = ruleID
		}
	}
	if bestID == 0 {
		return nil
	}
	r := builtinIndex[bestID]
	return &r
}

// ExactPattern returns the precompiled regexp for an exact-mode rule's
// keywords, or nil if rule_id isn't an exact-mode built-in rule.
func ExactPattern(ruleID int) *regexp.Regexp {
	return exactPatterns[ruleID]
}

// PinyinPatterns returns the precomputed pinyin patterns for an exact-mode
// rule's keywords, or nil.
func PinyinPatterns(ruleID int) []pinyin.KeywordPattern {
	return exactPinyin[ruleID]
}

// GroupBySource partitions rules into three groups by which evidence
// sources they require: transcript-only, OCR-only, or mixed.
func GroupBySource(rules []StructuredRule) map[string][]StructuredRule {
	groups := map[string][]StructuredRule{
		"transcript": {},
		"ocr":        {},
		"mixed":      {},
	}
	for _, r := range rules {
		switch sourceSetKey(r.EvidenceSources) {
		case "transcript":
			groups["transcript"] = append(groups["transcript"], r)
		case "ocr":
			groups["ocr"] = append(groups["ocr"], r)
		default:
			groups["mixed"] = append(groups["mixed"], r)
		}
	}
	return groups
}

func sourceSetKey(sources []string) string {
	set := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		set[s] = struct{}{}
	}
	if len(set) == 1 {
		if _, ok := set["transcript"]; ok {
			return "transcript"
		}
		if _, ok := set["ocr"]; ok {
			return "ocr"
		}
	}
	return "mixed"
}
