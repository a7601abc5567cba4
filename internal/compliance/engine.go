package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/copernicus-go/copernicus/internal/llmparse"
	llm "github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/types"
)

const (
	defaultMaxTextChars = 20000
	defaultChunkSize    = 2000
	defaultNumCtx       = 8192
	auditMaxRetries     = 2
	defaultOCRMarginMs  = 10000
)

const auditSystemPrompt = `你是一个保险行业合规审核专家，执行严格的合规质检任务。

### 核心工作方法
1. 你必须逐条对照【审核标准】中的每一条规则，检查【语音转录文本】中是否存在违反。
2. 宁严勿松：有疑似违规的内容也必须报告（标记为 medium），绝不放过。
3. 对于包含"不允许出现"、"不得"、"禁止"等关键词的规则，执行精确匹配——只要转录文本中出现了规则禁止的字样或语义相近的表述，即判定为违规。
4. ASR 转写存在同音字误差（如"保种"可能是"保证"），你必须结合上下文语义判断，不要因为同音字差异而漏判。

### 绝对格式约束
1. 你必须且只能输出一段合法的 JSON 数组。
2. 严禁输出任何 Markdown 标记、开场白、结束语或解释文字。
3. 如果没有发现违规，输出空数组 []。

### JSON 输出结构（数组中的每个元素）
{
    "rule_id": 对应审核标准的编号(整数),
    "timestamp": "违规发生的时间(来自转录文本中的时间标记，如 05:20)",
    "timestamp_ms": 违规发生的毫秒时间戳(整数),
    "end_ms": 违规结束的毫秒时间戳(整数),
    "speaker": "说话人标识",
    "original_text": "涉及违规的原始文本内容(原文摘录)",
    "reason": "详细解释为什么违规，必须引用具体规则编号和规则原文",
    "severity": "high 或 medium 或 low",
    "confidence": 0.0到1.0的置信度(浮点数)
}

### 严重程度判定标准
- high: 明确违反禁止性规定（如虚假陈述、承诺收益、同业诋毁、使用禁止字样、不当对比）
- medium: 疑似违规或措辞不当（如夸大但未明确承诺、混淆概念、缺失必要说明）
- low: 轻微不规范（如用词不够严谨、风险提示不充分）`

const summarySystemPrompt = `你是一个保险行业合规审核专家。请根据给定的违规检查结果，生成一段简明的合规审核总结。

### 要求
1. 概括主要违规类型和数量。
2. 指出最严重的问题。
3. 给出简要的改进建议。
4. 控制在 200 字以内。
5. 不要输出 Markdown 标记，直接输出纯文本。`

const strictJSONArrayReminder = "你上次的回答不是合法 JSON 数组。请严格只输出 JSON 数组，不要输出任何其他内容。"

// ProgressFunc reports map/reduce progress as (completed, total) steps.
type ProgressFunc func(completed, total int)

// EngineOption configures an [Engine].
type EngineOption func(*Engine)

// WithMaxTextChars overrides the total transcript character budget before
// truncation kicks in. Default: 20000.
func WithMaxTextChars(n int) EngineOption {
	return func(e *Engine) { e.maxTextChars = n }
}

// WithChunkSize overrides the per-map-chunk character budget. Default: 2000.
func WithChunkSize(n int) EngineOption {
	return func(e *Engine) { e.chunkSize = n }
}

// WithNumCtx overrides the context window size requested of a local model.
// Default: 8192.
func WithNumCtx(n int) EngineOption {
	return func(e *Engine) { e.numCtx = n }
}

// WithLogger attaches a logger; a nil logger disables audit-pass logging.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithOCRMarginMs overrides how far (in ms) an OCR record's timestamp may
// fall outside a chunk's own time range and still be surfaced to the LLM in
// that chunk's audit prompt. Default: 10000.
func WithOCRMarginMs(n int) EngineOption {
	return func(e *Engine) { e.ocrMarginMs = n }
}

// Engine runs the map/reduce LLM compliance audit: rules and a corrected
// transcript go in, a scored [Report] comes out. Long transcripts are
// chunked so no single LLM call needs more context than numCtx allows.
type Engine struct {
	llm          llm.Provider
	maxTextChars int
	chunkSize    int
	numCtx       int
	ocrMarginMs  int
	logger       *slog.Logger
}

// NewEngine returns an Engine backed by provider.
func NewEngine(provider llm.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		llm:          provider,
		maxTextChars: defaultMaxTextChars,
		chunkSize:    defaultChunkSize,
		numCtx:       defaultNumCtx,
		ocrMarginMs:  defaultOCRMarginMs,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// AuditInput bundles an audit run's inputs. OCRResults, if present, are
// surfaced to the LLM itself during judging (not just attached to findings
// afterward by [EvidenceEnricher]) so visual-only rules have a chance of
// being caught by the model rather than only by the exact-match validator.
type AuditInput struct {
	Rules           []StructuredRule
	Entries         []types.TranscriptEntry
	FewShotExamples []string
	OCRResults      []OCRResult
	OnProgress      ProgressFunc
}

// Audit runs the full map/reduce compliance pass: entries are grouped into
// character-bounded chunks, each chunk is audited by a concurrent LLM call,
// violations are pooled and sorted, and a final LLM pass produces a summary.
// The filter chain in filters.go is a separate, explicit step callers run
// over the returned violations — Audit itself returns the raw LLM findings.
func (e *Engine) Audit(ctx context.Context, in AuditInput) (Report, error) {
	entries := e.truncateToTextBudget(in.Entries)

	chunks := buildEntryChunks(entries, e.chunkSize)
	totalSteps := len(chunks) + 1
	if e.logger != nil {
		e.logger.Info("compliance audit starting",
			"entries", len(entries), "chunks", len(chunks), "chunk_size", e.chunkSize)
	}
	reportProgress(in.OnProgress, 0, totalSteps)

	results := make([][]Violation, len(chunks))
	var completed int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			vs := e.auditChunk(ctx, i, len(chunks), in.Rules, chunk, in.FewShotExamples, in.OCRResults)
			results[i] = vs

			mu.Lock()
			completed++
			reportProgress(in.OnProgress, completed, totalSteps)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var allViolations []Violation
	for _, vs := range results {
		allViolations = append(allViolations, vs...)
	}
	sort.SliceStable(allViolations, func(i, j int) bool {
		return allViolations[i].TimestampMs < allViolations[j].TimestampMs
	})

	summary := e.generateSummary(ctx, in.Rules, allViolations)
	reportProgress(in.OnProgress, totalSteps, totalSteps)

	score := calculateScore(allViolations)

	return Report{
		TotalRules:           len(in.Rules),
		TotalSegmentsChecked: len(entries),
		Violations:           allViolations,
		Summary:              summary,
		ComplianceScore:      score,
	}, nil
}

func reportProgress(fn ProgressFunc, completed, total int) {
	if fn != nil {
		fn(completed, total)
	}
}

// truncateToTextBudget drops trailing entries once the running character
// total would exceed maxTextChars, so a single audit never sends an
// unbounded transcript into the chunker.
func (e *Engine) truncateToTextBudget(entries []types.TranscriptEntry) []types.TranscriptEntry {
	total := 0
	for _, entry := range entries {
		total += len([]rune(entry.TextCorrected))
	}
	if total <= e.maxTextChars {
		return entries
	}

	if e.logger != nil {
		e.logger.Warn("transcript too long, truncating entries", "total_chars", total, "max_chars", e.maxTextChars)
	}

	var truncated []types.TranscriptEntry
	acc := 0
	for _, entry := range entries {
		n := len([]rune(entry.TextCorrected))
		if acc+n > e.maxTextChars {
			break
		}
		truncated = append(truncated, entry)
		acc += n
	}
	return truncated
}

// buildEntryChunks groups entries by character count, never splitting a
// single entry across chunks.
func buildEntryChunks(entries []types.TranscriptEntry, chunkSize int) [][]types.TranscriptEntry {
	var chunks [][]types.TranscriptEntry
	var current []types.TranscriptEntry
	currentLen := 0

	for _, entry := range entries {
		textLen := len([]rune(entry.TextCorrected))
		if len(current) > 0 && currentLen+textLen > chunkSize {
			chunks = append(chunks, current)
			current = nil
			currentLen = 0
		}
		current = append(current, entry)
		currentLen += textLen
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// auditChunk is the map step: one LLM call judging one chunk of entries
// against every rule. A malformed response is retried once with a stricter
// reminder; if both attempts fail the chunk contributes no violations
// rather than aborting the whole audit.
func (e *Engine) auditChunk(ctx context.Context, chunkIndex, totalChunks int, rules []StructuredRule, entries []types.TranscriptEntry, fewShotExamples []string, ocrResults []OCRResult) []Violation {
	tsToMs := make(map[string]int)
	tsToEndMs := make(map[string]int)
	for _, entry := range entries {
		if entry.Timestamp == "" {
			continue
		}
		if _, ok := tsToMs[entry.Timestamp]; !ok {
			tsToMs[entry.Timestamp] = entry.TimestampMs
			tsToEndMs[entry.Timestamp] = entry.EndMs
		}
	}

	chunkOCR := selectChunkOCR(entries, ocrResults, e.ocrMarginMs)
	userPrompt := buildAuditUserPrompt(chunkIndex, totalChunks, rules, entries, fewShotExamples, chunkOCR)

	for attempt := 0; attempt < auditMaxRetries; attempt++ {
		messages := []types.Message{{Role: "user", Content: userPrompt}}
		if attempt > 0 {
			messages = append(messages, types.Message{Role: "user", Content: strictJSONArrayReminder})
		}

		req := llm.CompletionRequest{
			SystemPrompt: auditSystemPrompt,
			JSONFormat:   true,
			NumCtx:       e.numCtx,
			NumPredict:   4096,
			Think:        llm.ThinkDisabled,
			Messages:     messages,
		}

		resp, err := e.llm.Complete(ctx, req)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn("audit chunk attempt failed", "chunk", chunkIndex+1, "of", totalChunks, "attempt", attempt+1, "err", err)
			}
			continue
		}

		raw := llmparse.StripThinkTags(resp.Content)
		violations, parseErr := parseViolations(raw, rules, tsToMs, tsToEndMs)
		if parseErr == nil {
			if e.logger != nil {
				e.logger.Info("audit chunk done", "chunk", chunkIndex+1, "of", totalChunks, "violations", len(violations))
			}
			return violations
		}
		if e.logger != nil {
			e.logger.Warn("audit chunk attempt failed", "chunk", chunkIndex+1, "of", totalChunks, "attempt", attempt+1, "err", parseErr)
		}
	}

	if e.logger != nil {
		e.logger.Error("audit chunk all attempts failed", "chunk", chunkIndex+1, "of", totalChunks)
	}
	return nil
}

// selectChunkOCR returns the OCR records whose timestamp falls within
// marginMs of entries' own time span, deduplicated within the same
// (timestamp, text) pair and sorted chronologically. entries with no
// TimestampMs/EndMs (ms both zero) produce an empty chunk span and thus no
// OCR records, rather than matching everything.
func selectChunkOCR(entries []types.TranscriptEntry, ocrResults []OCRResult, marginMs int) []OCRResult {
	if len(ocrResults) == 0 || len(entries) == 0 {
		return nil
	}

	startMs, endMs := entries[0].TimestampMs, entries[0].EndMs
	for _, entry := range entries {
		if entry.TimestampMs < startMs {
			startMs = entry.TimestampMs
		}
		entryEnd := entry.EndMs
		if entryEnd < entry.TimestampMs {
			entryEnd = entry.TimestampMs
		}
		if entryEnd > endMs {
			endMs = entryEnd
		}
	}
	if startMs == 0 && endMs == 0 {
		return nil
	}
	lo, hi := startMs-marginMs, endMs+marginMs

	type key struct {
		ts   int
		text string
	}
	seen := make(map[key]struct{})
	var selected []OCRResult
	for _, ocr := range ocrResults {
		if ocr.TimestampMs < lo || ocr.TimestampMs > hi {
			continue
		}
		k := key{ocr.TimestampMs, ocr.Text}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		selected = append(selected, ocr)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].TimestampMs < selected[j].TimestampMs
	})
	return selected
}

func buildAuditUserPrompt(chunkIndex, totalChunks int, rules []StructuredRule, entries []types.TranscriptEntry, fewShotExamples []string, ocrResults []OCRResult) string {
	var rulesText strings.Builder
	for i, r := range rules {
		if i > 0 {
			rulesText.WriteByte('\n')
		}
		fmt.Fprintf(&rulesText, "%d. %s", r.ID, r.Content)
	}

	var transcriptText strings.Builder
	for i, entry := range entries {
		if i > 0 {
			transcriptText.WriteByte('\n')
		}
		ts := entry.Timestamp
		if ts == "" {
			ts = "??:??"
		}
		speaker := entry.Speaker
		if speaker == "" {
			speaker = "未知"
		}
		fmt.Fprintf(&transcriptText, "[%s] [%s]: %s", ts, speaker, entry.TextCorrected)
	}

	var parts []string
	parts = append(parts, fmt.Sprintf("【审核标准】\n%s", rulesText.String()))

	if len(fewShotExamples) > 0 {
		n := len(fewShotExamples)
		if n > 5 {
			n = 5
		}
		var examplesText strings.Builder
		for i, ex := range fewShotExamples[:n] {
			if i > 0 {
				examplesText.WriteByte('\n')
			}
			fmt.Fprintf(&examplesText, "- %s", ex)
		}
		parts = append(parts, fmt.Sprintf("【历史违规案例参考】\n%s\n（以上为真实违规案例，供你参考判断标准的严格程度。）", examplesText.String()))
	}

	parts = append(parts, fmt.Sprintf("【语音转录文本 - 第 %d/%d 段】\n%s", chunkIndex+1, totalChunks, transcriptText.String()))

	if len(ocrResults) > 0 {
		var ocrText strings.Builder
		for i, ocr := range ocrResults {
			if i > 0 {
				ocrText.WriteByte('\n')
			}
			fmt.Fprintf(&ocrText, "[%s]: %s", formatMsTimestamp(ocr.TimestampMs), ocr.Text)
		}
		parts = append(parts, fmt.Sprintf("【画面文字识别(OCR)记录 - 与本段时间对齐】\n%s\n"+
			"（以上为该时段屏幕上出现的文字，可能包含产品资料、字幕或宣传页面内容，供你判断视觉类违规。）", ocrText.String()))
	}

	parts = append(parts, "请逐条对照审核标准，仔细检查上述转录文本。\n"+
		"注意：\n"+
		"1. 对每一条标准都要检查，不要遗漏。\n"+
		"2. 包含'不允许出现'或'不得'的规则，只要文本中出现了相应字样（即使有同音字差异），即为违规。\n"+
		"3. 将违规原文完整摘录到 original_text 中。\n"+
		"4. 有疑似违规的也要报告，severity 标记为 medium。")

	return strings.Join(parts, "\n\n")
}

// generateSummary is the reduce step. On LLM failure it falls back to a
// deterministic severity-count sentence rather than leaving the report
// without any summary at all.
func (e *Engine) generateSummary(ctx context.Context, rules []StructuredRule, violations []Violation) string {
	if len(violations) == 0 {
		return "审核完成，未发现违规内容。"
	}

	var violationText strings.Builder
	for i, v := range violations {
		if i > 0 {
			violationText.WriteByte('\n')
		}
		fmt.Fprintf(&violationText, "- [%s] [%s] 违反规则%d: %s", v.Timestamp, v.Severity, v.RuleID, v.Reason)
	}
	userPrompt := fmt.Sprintf("共 %d 条审核标准，发现 %d 条违规：\n\n%s", len(rules), len(violations), violationText.String())

	req := llm.CompletionRequest{
		SystemPrompt: summarySystemPrompt,
		NumCtx:       e.numCtx,
		NumPredict:   1024,
		Think:        llm.ThinkDisabled,
		Messages:     []types.Message{{Role: "user", Content: userPrompt}},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("summary generation failed", "err", err)
		}
		return fallbackSummary(violations)
	}
	return strings.TrimSpace(llmparse.StripThinkTags(resp.Content))
}

func fallbackSummary(violations []Violation) string {
	var high, medium, low int
	for _, v := range violations {
		switch v.Severity {
		case SeverityHigh:
			high++
		case SeverityMedium:
			medium++
		default:
			low++
		}
	}
	return fmt.Sprintf("发现 %d 条违规（高风险 %d 条，中风险 %d 条，低风险 %d 条）。", len(violations), high, medium, low)
}

// calculateScore deducts 15/8/3 points per high/medium/low violation from a
// 100-point baseline, floored at zero and rounded to one decimal place.
func calculateScore(violations []Violation) float64 {
	deduction := 0.0
	for _, v := range violations {
		switch v.Severity {
		case SeverityHigh:
			deduction += 15.0
		case SeverityMedium:
			deduction += 8.0
		default:
			deduction += 3.0
		}
	}
	score := math.Max(0.0, 100.0-deduction)
	return math.Round(score*10) / 10
}

// parseTimestampToMs parses a "MM:SS" or "HH:MM:SS" string to milliseconds,
// returning 0 for anything it can't parse.
func parseTimestampToMs(ts string) int {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	toInt := func(s string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}
	switch len(parts) {
	case 2:
		m, ok1 := toInt(parts[0])
		s, ok2 := toInt(parts[1])
		if ok1 && ok2 {
			return (m*60 + s) * 1000
		}
	case 3:
		h, ok1 := toInt(parts[0])
		m, ok2 := toInt(parts[1])
		s, ok3 := toInt(parts[2])
		if ok1 && ok2 && ok3 {
			return (h*3600 + m*60 + s) * 1000
		}
	}
	return 0
}

// formatMsTimestamp renders a millisecond offset as "MM:SS", matching the
// transcript's own timestamp display so the LLM sees OCR and speech on a
// shared clock.
func formatMsTimestamp(ms int) string {
	total := ms / 1000
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

var validSeverities = map[string]Severity{
	"high":   SeverityHigh,
	"medium": SeverityMedium,
	"low":    SeverityLow,
}

// rawViolation mirrors the LLM's JSON violation shape loosely: every field
// is permissive (json.Number / any) since models are inconsistent about
// quoting numbers.
type rawViolation struct {
	RuleID       json.Number `json:"rule_id"`
	RuleContent  string      `json:"rule_content"`
	Timestamp    any         `json:"timestamp"`
	TimestampMs  json.Number `json:"timestamp_ms"`
	EndMs        json.Number `json:"end_ms"`
	Speaker      any         `json:"speaker"`
	OriginalText any         `json:"original_text"`
	Reason       any         `json:"reason"`
	Severity     any         `json:"severity"`
	Confidence   json.Number `json:"confidence"`
}

// parseViolations parses raw LLM output into a Violation slice, tolerating a
// bare array, a wrapped object ({"violations"/"results"/"items"/"data": [...]}),
// or a single violation object. When ts_to_ms holds a precise millisecond
// value for a returned timestamp string, that value overrides whatever the
// LLM reported — the model only ever sees "[MM:SS]" text and can't reliably
// reconstruct the exact millisecond offset.
func parseViolations(raw string, rules []StructuredRule, tsToMs, tsToEndMs map[string]int) ([]Violation, error) {
	span := llmparse.ExtractJSONArray(raw)

	var data any
	if err := json.Unmarshal([]byte(span), &data); err != nil {
		return nil, fmt.Errorf("parse violations json: %w", err)
	}

	items, err := normalizeToItemList(data)
	if err != nil {
		return nil, err
	}

	rulesByID := make(map[int]string, len(rules))
	for _, r := range rules {
		rulesByID[r.ID] = r.Content
	}

	violations := make([]Violation, 0, len(items))
	for _, raw := range items {
		b, err := json.Marshal(raw)
		if err != nil {
			continue
		}
		var rv rawViolation
		if err := json.Unmarshal(b, &rv); err != nil {
			continue
		}

		ruleID := jsonNumberToInt(rv.RuleID)
		ruleContent := rv.RuleContent
		if ruleContent == "" {
			ruleContent = rulesByID[ruleID]
		}
		tsStr := anyToString(rv.Timestamp, "00:00")
		llmTsMs := jsonNumberToInt(rv.TimestampMs)
		llmEndMs := jsonNumberToInt(rv.EndMs)

		severity := SeverityLow
		if sev, ok := validSeverities[strings.ToLower(anyToString(rv.Severity, "low"))]; ok {
			severity = sev
		}

		var preciseMs, preciseEnd int
		if ms, ok := tsToMs[tsStr]; ok {
			preciseMs = ms
			preciseEnd = tsToEndMs[tsStr]
		} else if llmTsMs != 0 {
			preciseMs = llmTsMs
			preciseEnd = llmEndMs
		} else {
			preciseMs = parseTimestampToMs(tsStr)
			preciseEnd = llmEndMs
		}
		if preciseEnd == 0 {
			preciseEnd = preciseMs
		}

		confidence := jsonNumberToFloat(rv.Confidence, 0.5)

		violations = append(violations, Violation{
			RuleID:       ruleID,
			RuleContent:  ruleContent,
			Timestamp:    tsStr,
			TimestampMs:  preciseMs,
			EndMs:        preciseEnd,
			Speaker:      anyToString(rv.Speaker, ""),
			OriginalText: anyToString(rv.OriginalText, ""),
			Reason:       anyToString(rv.Reason, ""),
			Severity:     severity,
			Confidence:   confidence,
			Status:       StatusPending,
			Source:       SourceTranscript,
		})
	}

	return violations, nil
}

// normalizeToItemList handles the shapes an LLM might wrap its array in: a
// bare array, an object carrying the array under a known key, or a single
// violation object.
func normalizeToItemList(data any) ([]any, error) {
	switch v := data.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"violations", "results", "items", "data"} {
			if list, ok := v[key].([]any); ok {
				return list, nil
			}
		}
		if _, ok := v["rule_id"]; ok {
			return []any{v}, nil
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("unrecognized violations shape")
	}
}

func jsonNumberToInt(n json.Number) int {
	if n == "" {
		return 0
	}
	if i, err := n.Int64(); err == nil {
		return int(i)
	}
	if f, err := n.Float64(); err == nil {
		return int(f)
	}
	return 0
}

func jsonNumberToFloat(n json.Number, fallback float64) float64 {
	if n == "" {
		return fallback
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return fallback
}

func anyToString(v any, fallback string) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return fallback
	default:
		return fmt.Sprintf("%v", x)
	}
}
