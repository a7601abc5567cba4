package transcript

import (
	"context"
	"log/slog"
)

// CSCModel is phase 3: a pluggable light Chinese-spelling-correction model.
// Implementations wrap a small local model (e.g. a BERT-based corrector)
// that fixes single-character typos without needing a full LLM round trip.
// The pipeline degrades gracefully when none is configured.
type CSCModel interface {
	// Correct returns a spelling-corrected version of text. Implementations
	// should return the input unchanged, with an error, on anything they
	// can't confidently fix rather than guessing.
	Correct(ctx context.Context, text string) (string, error)
}

// NoopCSC is the zero-value [CSCModel]: every call returns its input
// unchanged. It is the default when no model is configured, so phase 3 is
// always safe to invoke even when light CSC isn't available.
type NoopCSC struct{}

// Correct implements [CSCModel].
func (NoopCSC) Correct(_ context.Context, text string) (string, error) {
	return text, nil
}

var _ CSCModel = NoopCSC{}

// ApplyCSC runs phase 3 over entries using model. A per-entry error is
// logged and that entry's text is left unchanged rather than aborting the
// whole batch — light CSC is a quality-of-life pass, not load-bearing.
func ApplyCSC(ctx context.Context, model CSCModel, entries []Entry, logger *slog.Logger) []Entry {
	if model == nil {
		model = NoopCSC{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	out := CloneEntries(entries)
	for i, e := range out {
		corrected, err := model.Correct(ctx, e.Text)
		if err != nil {
			logger.Warn("csc correction failed, keeping original text",
				"entry_id", e.ID, "error", err)
			continue
		}
		out[i].Text = corrected
	}
	return out
}
