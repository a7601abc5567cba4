package taskstore

import (
	"strings"
	"time"

	"github.com/copernicus-go/copernicus/internal/pipeline"
	"github.com/copernicus-go/copernicus/pkg/types"
)

// TranscriptEntry is the persisted, API-facing shape of one transcript
// line: [pipeline.TranscriptEntryResult] plus the stable ID and
// MM:SS-formatted Timestamp the pipeline package itself has no reason to
// compute (it has no notion of "the Nth entry across the whole task").
type TranscriptEntry struct {
	ID            int     `json:"id"`
	Speaker       string  `json:"speaker"`
	Text          string  `json:"text"`
	TextCorrected string  `json:"text_corrected"`
	Timestamp     string  `json:"timestamp"`
	TimestampMs   int     `json:"timestamp_ms"`
	EndMs         int     `json:"end_ms"`
	Confidence    float64 `json:"confidence"`
}

// toTranscriptEntries assigns sequential IDs and renders timestamps for the
// fine-grained entries [pipeline.TranscriptBuildStage] produced.
func toTranscriptEntries(results []pipeline.TranscriptEntryResult) []TranscriptEntry {
	entries := make([]TranscriptEntry, len(results))
	for i, r := range results {
		entries[i] = TranscriptEntry{
			ID:            i,
			Speaker:       r.Speaker,
			Text:          r.Text,
			TextCorrected: r.TextCorrected,
			Timestamp:     pipeline.FormatTimestamp(r.StartMs),
			TimestampMs:   r.StartMs,
			EndMs:         r.EndMs,
		}
	}
	return entries
}

// toSharedEntries converts the task store's persisted transcript shape into
// the pkg/types.TranscriptEntry the evaluate and compliance engines operate
// on. Confidence is always 1.0: by the time an entry reaches TranscriptBuild
// its per-segment ASR confidence has already been consumed by
// TextCorrectionStage's fast-path decision, and nothing downstream reads it.
func toSharedEntries(entries []TranscriptEntry) []types.TranscriptEntry {
	out := make([]types.TranscriptEntry, len(entries))
	for i, e := range entries {
		out[i] = types.TranscriptEntry{
			ID:            e.ID,
			Speaker:       e.Speaker,
			Text:          e.Text,
			TextCorrected: e.TextCorrected,
			Timestamp:     e.Timestamp,
			TimestampMs:   e.TimestampMs,
			EndMs:         e.EndMs,
			Confidence:    1.0,
		}
	}
	return out
}

// joinCorrectedText concatenates every entry's corrected text, one per
// line, matching the text an evaluation/compliance rerun is built from.
func joinCorrectedText(entries []types.TranscriptEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.TextCorrected
	}
	return strings.Join(lines, "\n")
}

// totalElapsed sums every stage's recorded duration into the processing
// time reported alongside a transcript result.
func totalElapsed(elapsed []pipeline.StageElapsed) time.Duration {
	var total time.Duration
	for _, e := range elapsed {
		total += e.Took
	}
	return total
}
