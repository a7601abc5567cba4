// Package evaluate scores a corrected transcript against a three-dimension
// rubric (logic, information density, expression) and produces a short
// summary, a set of keywords, and a sentiment read. Long transcripts are
// evaluated with a map-reduce pass instead of a single oversized call, to
// keep any one LLM request's context window within budget.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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
	evaluateMaxRetries  = 2
)

const evaluationSystemPrompt = `你是一个严格的数据提取引擎，不是聊天助手。
任务：根据用户输入的转写文本，提取关键评估指标。

### 评分维度 (满分 100 分)
请基于以下 3 个维度进行打分：
1. 逻辑连贯性 (35分)：开场、正文、结尾是否清晰，观点是否连贯。
2. 信息密度 (35分)：是否输出了有价值的干货（如数据、案例、论据），内容是否充实。
3. 表达清晰度 (30分)：语言是否清晰易懂，是否有歧义或冗余。

### 绝对格式约束
1. 你必须且只能输出一段合法的 JSON 字符串。
2. 严禁输出任何 Markdown 标记、开场白、结束语或解释文字。
3. 忽略 ASR 转写产生的轻微同音字错误，关注语义本身。
4. 如果无法提取某些字段，请填空字符串或 0。

### JSON 输出结构
{
    "meta": {
        "title": "拟定一个精准的标题",
        "category": "推测内容分类(如: 宏观经济/科技/企业培训/产品介绍)",
        "keywords": ["关键词1", "关键词2", "关键词3"]
    },
    "scores": {
        "logic": 0,
        "info_density": 0,
        "expression": 0,
        "total": 0
    },
    "analysis": {
        "main_points": ["核心观点1", "核心观点2", "核心观点3"],
        "key_data": ["提及的关键数据1", "提及的关键数据2"],
        "sentiment": "整体情感倾向(积极/中立/消极)"
    },
    "summary": "300字以内的深度摘要"
}`

const mapSystemPrompt = `你是一个专业的内容分析助手。
任务：阅读给定的文本片段，提炼核心内容。

要求：
1. 提取该片段的核心观点（2-5 条）。
2. 提取提到的关键数据或事实（如有）。
3. 简要概括该片段的主题（1-2 句话）。
4. 不要写开场白或结束语，直接输出要点。
5. 忽略 ASR 转写的轻微同音字错误，关注语义。`

const strictJSONReminder = "你上次的回答不是合法JSON。请严格只输出JSON，不要输出任何思考过程、Markdown或解释文字。"

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

// WithLogger attaches a logger; a nil logger disables evaluation-pass logging.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// Engine scores a transcript against the rubric, switching automatically
// between a single direct call and a map-reduce pass based on text length.
type Engine struct {
	llm          llm.Provider
	maxTextChars int
	chunkSize    int
	numCtx       int
	logger       *slog.Logger
}

// NewEngine returns an Engine backed by provider.
func NewEngine(provider llm.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		llm:          provider,
		maxTextChars: defaultMaxTextChars,
		chunkSize:    defaultChunkSize,
		numCtx:       defaultNumCtx,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Evaluate scores text, automatically switching to a map-reduce pass once
// text exceeds the configured chunk size.
func (e *Engine) Evaluate(ctx context.Context, text string, onProgress ProgressFunc) (Result, error) {
	if runes := []rune(text); len(runes) > e.maxTextChars {
		if e.logger != nil {
			e.logger.Warn("text too long for evaluation, truncating",
				"chars", len(runes), "max_chars", e.maxTextChars)
		}
		text = string(runes[:e.maxTextChars])
	}

	if len([]rune(text)) <= e.chunkSize {
		reportProgress(onProgress, 0, 1)
		result, err := e.evaluateDirect(ctx, text)
		if err != nil {
			return Result{}, err
		}
		reportProgress(onProgress, 1, 1)
		return result, nil
	}

	return e.evaluateMapReduce(ctx, text, onProgress)
}

func (e *Engine) evaluateDirect(ctx context.Context, text string) (Result, error) {
	if e.logger != nil {
		e.logger.Info("direct evaluation", "chars", len([]rune(text)))
	}
	return e.callEvaluationLLM(ctx, text)
}

// evaluateMapReduce splits text into chunks, extracts each chunk's key
// points concurrently (map), then combines every chunk summary into one
// final evaluation call (reduce).
func (e *Engine) evaluateMapReduce(ctx context.Context, text string, onProgress ProgressFunc) (Result, error) {
	chunks := chunkText(text, e.chunkSize, 0)
	totalSteps := len(chunks) + 1
	if e.logger != nil {
		e.logger.Info("map-reduce evaluation",
			"chars", len([]rune(text)), "chunks", len(chunks), "chunk_size", e.chunkSize)
	}
	reportProgress(onProgress, 0, totalSteps)

	summaries := make([]string, len(chunks))
	var completed int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, chunk := range chunks {
		i, chunk := i, chunk
		wg.Add(1)
		go func() {
			defer wg.Done()
			summaries[i] = e.mapChunk(ctx, i, chunk, len(chunks))

			mu.Lock()
			completed++
			reportProgress(onProgress, completed, totalSteps)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var combined strings.Builder
	for i, s := range summaries {
		if i > 0 {
			combined.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&combined, "【片段 %d/%d】\n%s", i+1, len(chunks), s)
	}
	if e.logger != nil {
		e.logger.Info("map phase done, starting reduce", "combined_chars", combined.Len())
	}

	result, err := e.reduce(ctx, combined.String())
	if err != nil {
		return Result{}, err
	}
	reportProgress(onProgress, totalSteps, totalSteps)
	return result, nil
}

// mapChunk extracts one chunk's key points. On LLM failure it falls back to
// the chunk's first 500 characters rather than dropping it from the reduce
// step entirely.
func (e *Engine) mapChunk(ctx context.Context, index int, chunk string, total int) string {
	if e.logger != nil {
		e.logger.Info("map chunk", "chunk", index+1, "of", total, "chars", len([]rune(chunk)))
	}

	req := llm.CompletionRequest{
		SystemPrompt: mapSystemPrompt,
		NumCtx:       e.numCtx,
		NumPredict:   1024,
		Think:        llm.ThinkDisabled,
		Messages: []types.Message{{
			Role:    "user",
			Content: fmt.Sprintf("以下是第 %d/%d 个文本片段，请提炼核心要点：\n\n%s", index+1, total, chunk),
		}},
	}

	resp, err := e.llm.Complete(ctx, req)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("map chunk failed, falling back to raw excerpt", "chunk", index+1, "of", total, "err", err)
		}
		return truncateRunes(chunk, 500)
	}

	content := strings.TrimSpace(llmparse.StripThinkTags(resp.Content))
	if content == "" {
		return fmt.Sprintf("（片段 %d 无法提取要点）", index+1)
	}
	return content
}

func (e *Engine) reduce(ctx context.Context, combinedSummary string) (Result, error) {
	text := "以下是一篇长文的分段要点合集。请综合这些要点，对原文整体进行评估并生成最终报告。\n\n" + combinedSummary
	return e.callEvaluationLLM(ctx, text)
}

// callEvaluationLLM drives the single/reduce-pass evaluation call, retrying
// with a stricter reminder if the model's output doesn't parse as the
// expected JSON shape.
func (e *Engine) callEvaluationLLM(ctx context.Context, text string) (Result, error) {
	var lastErr error

	for attempt := 1; attempt <= evaluateMaxRetries; attempt++ {
		messages := []types.Message{{
			Role: "user",
			Content: fmt.Sprintf(
				"【待分析文本开始】\n%s\n【待分析文本结束】\n\n再次提醒：请忽略文本中的口语化表达，仅输出 JSON 格式的评估报告。",
				text,
			),
		}}
		if attempt > 1 {
			messages = append(messages, types.Message{Role: "user", Content: strictJSONReminder})
		}

		req := llm.CompletionRequest{
			SystemPrompt: evaluationSystemPrompt,
			JSONFormat:   true,
			NumCtx:       e.numCtx,
			NumPredict:   4096,
			Messages:     messages,
		}

		resp, err := e.llm.Complete(ctx, req)
		if err != nil {
			lastErr = err
			if e.logger != nil {
				e.logger.Warn("evaluate attempt failed", "attempt", attempt, "of", evaluateMaxRetries, "err", err)
			}
			continue
		}

		content := llmparse.ExtractJSONObject(resp.Content)
		var result Result
		if err := json.Unmarshal([]byte(content), &result); err != nil {
			lastErr = fmt.Errorf("parse evaluation json: %w", err)
			if e.logger != nil {
				e.logger.Warn("evaluate attempt failed", "attempt", attempt, "of", evaluateMaxRetries,
					"err", err, "extracted", truncateRunes(content, 150))
			}
			continue
		}

		if e.logger != nil {
			e.logger.Info("evaluation succeeded", "attempt", attempt, "of", evaluateMaxRetries,
				"title", result.Meta.Title, "total_score", result.Scores.Total)
		}
		return result, nil
	}

	if e.logger != nil {
		e.logger.Error("all evaluate attempts failed", "retries", evaluateMaxRetries)
	}
	return Result{}, lastErr
}

func reportProgress(fn ProgressFunc, completed, total int) {
	if fn != nil {
		fn(completed, total)
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
