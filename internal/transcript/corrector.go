package transcript

import (
	"context"
	"log/slog"

	"github.com/copernicus-go/copernicus/internal/transcript/llmcorrect"
)

// ScoredEntry pairs an [Entry] with the ASR engine's own confidence for that
// segment, in [0, 1]. Confidence drives the phase-4 fast path: entries the
// ASR engine was already sure about skip the LLM call entirely.
type ScoredEntry struct {
	Entry
	Confidence float64
}

// defaultLLMConfidenceThreshold is the ASR confidence above which an entry is
// considered good enough to skip LLM polish. Below this, an entry is
// considered worth the extra latency of an LLM pass.
const defaultLLMConfidenceThreshold = 0.85

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithHotwordReplacer installs the phase-2 hotword substitution step.
// Without one, phase 2 is a no-op.
func WithHotwordReplacer(r *Replacer) PipelineOption {
	return func(p *Pipeline) { p.hotwords = r }
}

// WithCSCModel installs the phase-3 light spelling-correction model.
// Without one, phase 3 uses [NoopCSC].
func WithCSCModel(m CSCModel) PipelineOption {
	return func(p *Pipeline) { p.csc = m }
}

// WithLLMCorrector installs the phase-4 LLM polish step. Without one, phase 4
// is skipped entirely (the pipeline runs phases 1-3 only).
func WithLLMCorrector(c *llmcorrect.Corrector) PipelineOption {
	return func(p *Pipeline) { p.llm = c }
}

// WithLLMConfidenceThreshold overrides the ASR confidence above which an
// entry bypasses phase 4. Default: 0.85.
func WithLLMConfidenceThreshold(threshold float64) PipelineOption {
	return func(p *Pipeline) { p.llmConfidenceThreshold = threshold }
}

// WithLogger overrides the logger used for phase-3 degradation warnings.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline runs the full four-phase correction pipeline described in this
// package's doc comment: rule-based clean, hotword replace, light CSC, and
// LLM polish, in that order, preserving entry Ids throughout.
type Pipeline struct {
	hotwords               *Replacer
	csc                    CSCModel
	llm                    *llmcorrect.Corrector
	logger                 *slog.Logger
	llmConfidenceThreshold float64 // ASR confidence above which phase 4 is skipped
}

// NewPipeline returns a [Pipeline] configured with the given options. All
// phases are optional except phase 1, which always runs.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		csc:                    NoopCSC{},
		llmConfidenceThreshold: defaultLLMConfidenceThreshold,
		logger:                 slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct runs entries through all configured phases and returns the
// corrected text for every entry, in the same order and with the same
// length as the input. An entry phase 1 judges pure noise comes back with an
// empty Text rather than being removed from the slice, so callers can still
// align results back to source timestamps by index or Id.
func (p *Pipeline) Correct(ctx context.Context, entries []ScoredEntry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	raw := make([]Entry, len(entries))
	confidence := make(map[int]float64, len(entries))
	for i, e := range entries {
		raw[i] = e.Entry
		confidence[e.ID] = e.Confidence
	}

	cleaned := Clean(raw)
	working := make([]Entry, 0, len(cleaned))
	filtered := make(map[int]bool, len(cleaned))
	for _, c := range cleaned {
		filtered[c.ID] = c.Filtered
		if c.Filtered {
			continue
		}
		working = append(working, Entry{ID: c.ID, Text: c.Text})
	}

	if p.hotwords != nil {
		working = p.hotwords.ReplaceEntries(working)
	}

	working = ApplyCSC(ctx, p.csc, working, p.logger)

	if p.llm != nil && len(working) > 0 {
		lowConfidence := make([]llmcorrect.Entry, 0, len(working))
		for _, e := range working {
			if confidence[e.ID] >= p.llmConfidenceThreshold {
				continue
			}
			lowConfidence = append(lowConfidence, llmcorrect.Entry{ID: e.ID, Text: e.Text})
		}

		if len(lowConfidence) > 0 {
			polished, err := p.llm.Correct(ctx, lowConfidence)
			if err != nil {
				return nil, err
			}
			polishedByID := make(map[int]string, len(polished))
			for _, e := range polished {
				polishedByID[e.ID] = e.Text
			}
			for i, e := range working {
				if text, ok := polishedByID[e.ID]; ok {
					working[i].Text = text
				}
			}
		}
	}

	correctedByID := make(map[int]string, len(working))
	for _, e := range working {
		correctedByID[e.ID] = e.Text
	}

	out := make([]Entry, len(raw))
	for i, e := range raw {
		if filtered[e.ID] {
			out[i] = Entry{ID: e.ID, Text: ""}
			continue
		}
		out[i] = Entry{ID: e.ID, Text: correctedByID[e.ID]}
	}
	return out, nil
}
