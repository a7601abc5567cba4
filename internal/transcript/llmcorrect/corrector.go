// Package llmcorrect implements phase 4 of the transcript correction
// pipeline: batched, LLM-driven polishing of ASR output.
//
// Entries are grouped into small batches (bounded by both entry count and
// total character length) and sent to an [llm.Provider] as a single JSON
// correction request per batch, addressed by Id so the model's response can
// be merged back without reordering or splitting anything. Batches run
// concurrently, bounded by a semaphore, since nothing about one batch depends
// on another.
//
// Model output is parsed tolerantly: three JSON shapes are accepted, a
// leading <think>...</think> block (common on reasoning models) is stripped
// first, and a regex-based fallback recovers id/text pairs from output that
// isn't valid JSON at all. A batch that still can't be parsed after retrying
// twice with a stricter reminder falls back to its original, uncorrected
// text — a correction pass must never lose content.
package llmcorrect

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/semaphore"

	llm "github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/types"
)

const (
	defaultBatchMaxEntries = 15
	defaultBatchMaxChars   = 800
	defaultMaxConcurrency  = 4
	defaultTemperature     = 0.1
	defaultMaxRetries      = 2
)

// Entry is one unit of text submitted for correction, addressed by ID.
type Entry struct {
	ID   int
	Text string
}

const systemPrompt = `You are correcting automatic speech recognition (ASR) output from recordings of insurance product briefing sessions.

You will receive a numbered batch of transcript entries. For each entry:
- Fix obvious ASR mistakes: homophone errors, garbled financial/insurance terms, misheard numbers, and broken punctuation.
- Do NOT change the meaning, add information, or remove information.
- Do NOT merge, split, reorder, or drop entries. Every id you receive must appear exactly once in your response.
- If an entry needs no change, return it unchanged.

Respond with ONLY a JSON object in this exact format (no markdown, no prose, no <think> block):
{
  "corrections": [
    {"id": <entry id>, "text": "<corrected text>"}
  ]
}`

const strictReminder = "\n\nYour previous response could not be parsed as JSON. Respond with ONLY the JSON object described above — no markdown fences, no commentary, no reasoning text."

// Option configures a [Corrector].
type Option func(*Corrector)

// WithTemperature overrides the sampling temperature. Default: 0.1.
func WithTemperature(t float64) Option {
	return func(c *Corrector) { c.temperature = t }
}

// WithBatchBounds overrides the per-batch entry count and character budget.
// Defaults: 15 entries, 800 characters.
func WithBatchBounds(maxEntries, maxChars int) Option {
	return func(c *Corrector) {
		c.batchMaxEntries = maxEntries
		c.batchMaxChars = maxChars
	}
}

// WithMaxConcurrency bounds how many batches are in flight at once. Default: 4.
func WithMaxConcurrency(n int) Option {
	return func(c *Corrector) { c.maxConcurrency = n }
}

// Corrector runs phase 4 (LLM polish) over a list of [Entry] values.
// It is safe for concurrent use.
type Corrector struct {
	llm             llm.Provider
	temperature     float64
	batchMaxEntries int
	batchMaxChars   int
	maxConcurrency  int
}

// New returns a new [Corrector] backed by provider.
func New(provider llm.Provider, opts ...Option) *Corrector {
	c := &Corrector{
		llm:             provider,
		temperature:     defaultTemperature,
		batchMaxEntries: defaultBatchMaxEntries,
		batchMaxChars:   defaultBatchMaxChars,
		maxConcurrency:  defaultMaxConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct runs every entry through LLM polish and returns a new slice in the
// same order and with the same length as entries. When a batch can't be
// parsed even after retrying, that batch's entries are returned unchanged —
// Correct never drops an entry and never returns fewer results than it was
// given.
func (c *Corrector) Correct(ctx context.Context, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	batches := batchEntries(entries, c.batchMaxEntries, c.batchMaxChars)

	sem := semaphore.NewWeighted(int64(max(1, c.maxConcurrency)))
	results := make([][]Entry, len(batches))
	errs := make([]error, len(batches))

	g := make(chan struct{}, len(batches))
	for i, batch := range batches {
		i, batch := i, batch
		if err := sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			results[i] = batch
			g <- struct{}{}
			continue
		}
		go func() {
			defer sem.Release(1)
			defer func() { g <- struct{}{} }()
			corrected, err := c.correctBatch(ctx, batch)
			if err != nil {
				results[i] = batch
				return
			}
			results[i] = corrected
		}()
	}
	for range batches {
		<-g
	}

	out := make([]Entry, 0, len(entries))
	for _, r := range results {
		out = append(out, r...)
	}
	for _, err := range errs {
		if err != nil {
			return out, fmt.Errorf("llmcorrect: %w", err)
		}
	}
	return out, nil
}

// correctBatch sends one batch to the LLM and parses the response, retrying
// up to defaultMaxRetries times with a stricter reminder while the response
// isn't parseable.
func (c *Corrector) correctBatch(ctx context.Context, batch []Entry) ([]Entry, error) {
	ids := make([]int, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
	}

	userMsg := formatBatch(batch)
	var lastErr error

	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		msg := userMsg
		if attempt > 0 {
			msg += strictReminder
		}

		req := llm.CompletionRequest{
			SystemPrompt: systemPrompt,
			Temperature:  c.temperature,
			JSONFormat:   true,
			Messages: []types.Message{
				{Role: "user", Content: msg},
			},
		}

		resp, err := c.llm.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("complete: %w", err)
		}

		corrections, parseErr := parseBatchResponse(resp.Content, ids)
		if parseErr == nil {
			return applyCorrections(batch, corrections), nil
		}
		lastErr = parseErr
	}

	return nil, fmt.Errorf("parse response after %d attempts: %w", defaultMaxRetries+1, lastErr)
}

// applyCorrections merges parsed id->text corrections back into batch order,
// falling back to the original text for any id the model omitted.
func applyCorrections(batch []Entry, corrections map[int]string) []Entry {
	out := make([]Entry, len(batch))
	for i, e := range batch {
		if text, ok := corrections[e.ID]; ok {
			out[i] = Entry{ID: e.ID, Text: text}
		} else {
			out[i] = e
		}
	}
	return out
}

// formatBatch renders entries as a numbered list for the user message.
func formatBatch(batch []Entry) string {
	var sb strings.Builder
	sb.WriteString("Entries:\n")
	for _, e := range batch {
		fmt.Fprintf(&sb, "[%d] %s\n", e.ID, e.Text)
	}
	return sb.String()
}

// batchEntries splits entries into groups, each bounded by both maxEntries
// count and maxChars total text length. A single entry longer than maxChars
// still gets its own batch rather than being split mid-sentence.
func batchEntries(entries []Entry, maxEntries, maxChars int) [][]Entry {
	if maxEntries <= 0 {
		maxEntries = defaultBatchMaxEntries
	}
	if maxChars <= 0 {
		maxChars = defaultBatchMaxChars
	}

	var batches [][]Entry
	var current []Entry
	currentChars := 0

	for _, e := range entries {
		entryLen := len([]rune(e.Text))
		wouldOverflow := len(current) > 0 &&
			(len(current) >= maxEntries || currentChars+entryLen > maxChars)
		if wouldOverflow {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, e)
		currentChars += entryLen
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// think-tag stripping, grounded on the same pattern used to clean reasoning
// model output before JSON extraction.
var (
	thinkPairRe = regexp.MustCompile(`(?s)<think>.*?</think>`)
	thinkOpenRe = regexp.MustCompile(`(?s)^\s*<think>`)
)

func stripThinkTags(s string) string {
	s = thinkPairRe.ReplaceAllString(s, "")
	s = thinkOpenRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// extractJSONSpan slices from the first '{' or '[' to the matching last '}'
// or ']', tolerating surrounding prose the model wasn't told to add but
// sometimes does anyway.
func extractJSONSpan(s string) string {
	startObj := strings.IndexByte(s, '{')
	startArr := strings.IndexByte(s, '[')
	start := -1
	switch {
	case startObj == -1:
		start = startArr
	case startArr == -1:
		start = startObj
	default:
		start = min(startObj, startArr)
	}
	if start == -1 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// shapeCorrections is shape A/B: either {"corrections": [...]} or a bare [...]
// array of {"id","text"} objects.
type shapeCorrections struct {
	Corrections []struct {
		ID   json.Number `json:"id"`
		Text string      `json:"text"`
	} `json:"corrections"`
}

// idTextEntryRe is the regex fallback for when the response isn't valid JSON
// at all: it pulls out every "id": N ... "text": "..." pair it can find.
var idTextEntryRe = regexp.MustCompile(`"id"\s*:\s*"?(\d+)"?\s*,\s*"text"\s*:\s*"((?:[^"\\]|\\.)*)"`)

// parseBatchResponse tolerantly parses content into an id->corrected-text
// map. It tries, in order:
//
//  1. {"corrections": [{"id":1,"text":"..."}, ...]}
//  2. a bare [{"id":1,"text":"..."}, ...] array
//  3. {"1": "...", "2": "..."} — an id-keyed object
//  4. a regex scan for "id"/"text" pairs, as a last resort against
//     near-miss JSON a stricter schema would reject outright.
//
// An error is returned only when none of the four shapes yield at least one
// correction. Coverage of wantIDs is not checked here; ids the model omitted
// keep their original text in applyCorrections.
func parseBatchResponse(content string, wantIDs []int) (map[int]string, error) {
	cleaned := stripMarkdownFences(stripThinkTags(content))
	span := extractJSONSpan(cleaned)

	if m := tryShapeCorrections(span); m != nil {
		return m, nil
	}
	if m := tryShapeBareArray(span); m != nil {
		return m, nil
	}
	if m := tryShapeIDKeyedObject(span); m != nil {
		return m, nil
	}
	if m := tryRegexFallback(cleaned); m != nil {
		return m, nil
	}

	return nil, fmt.Errorf("no recognizable correction shape in response")
}

func tryShapeCorrections(span string) map[int]string {
	var r shapeCorrections
	if err := json.Unmarshal([]byte(span), &r); err != nil || len(r.Corrections) == 0 {
		return nil
	}
	out := make(map[int]string, len(r.Corrections))
	for _, c := range r.Corrections {
		id, err := c.ID.Int64()
		if err != nil {
			continue
		}
		out[int(id)] = c.Text
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tryShapeBareArray(span string) map[int]string {
	var entries []struct {
		ID   json.Number `json:"id"`
		Text string      `json:"text"`
	}
	if err := json.Unmarshal([]byte(span), &entries); err != nil || len(entries) == 0 {
		return nil
	}
	out := make(map[int]string, len(entries))
	for _, e := range entries {
		id, err := e.ID.Int64()
		if err != nil {
			continue
		}
		out[int(id)] = e.Text
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tryShapeIDKeyedObject(span string) map[int]string {
	var raw map[string]string
	if err := json.Unmarshal([]byte(span), &raw); err != nil || len(raw) == 0 {
		return nil
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		id, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil
		}
		out[id] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func tryRegexFallback(content string) map[int]string {
	matches := idTextEntryRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[int]string, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		text := strings.ReplaceAll(m[2], `\"`, `"`)
		text = strings.ReplaceAll(text, `\\`, `\`)
		out[id] = text
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
