// Package diarize assigns speaker labels to VAD segments using sliding-window
// voiceprint embeddings and cosine-distance agglomerative clustering.
//
// For a long segment, several overlapping windows are embedded separately and
// clustered together with every other segment's windows; each segment's
// final speaker is decided by majority vote across its own windows' cluster
// labels. The one case VAD can't help with — a single segment spanning the
// whole recording with no internal timestamps — is handled by clustering
// the sliding windows directly and splitting the segment into per-speaker
// turns at the window boundaries, with text allocated to each turn in
// proportion to its share of the turn's total duration.
package diarize

import (
	"context"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// EmbeddingModel extracts a fixed-length voiceprint embedding from a PCM
// audio window. Concrete implementations wrap a speaker-embedding model
// (e.g. CAM++) behind this interface so Diarizer stays model-agnostic.
type EmbeddingModel interface {
	Embed(ctx context.Context, samples []float32, sampleRate int) ([]float64, error)
}

// VADSegment is one speech segment as reported by voice activity detection,
// before speaker labels are assigned.
type VADSegment struct {
	Text    string
	StartMs int
	EndMs   int
}

// Segment is a VADSegment with a resolved speaker label. Speaker is a
// 0-based cluster index; -1 means no embedding could be extracted for it.
type Segment struct {
	Text    string
	StartMs int
	EndMs   int
	Speaker int
}

// Config bounds the sliding-window and clustering behavior.
type Config struct {
	// WindowMs is the sliding-window length used to sample embeddings from a
	// segment longer than ThresholdMs.
	WindowMs int
	// StepMs is the sliding-window stride.
	StepMs int
	// MinWindowMs is the shortest window an embedding will be extracted from;
	// anything shorter is skipped rather than padded.
	MinWindowMs int
	// ThresholdMs is the segment duration above which sliding-window
	// extraction (rather than a single whole-segment embedding) is used.
	ThresholdMs int
	// DistanceThreshold is the cosine-distance cutoff for agglomerative
	// clustering: two clusters merge only while the average inter-cluster
	// distance stays below this value.
	DistanceThreshold float64
	// MaxWindows bounds how many sliding windows the single-segment,
	// no-timestamps fallback will extract, widening the step to fit if the
	// naive window count would exceed it.
	MaxWindows int
}

// DefaultConfig matches the thresholds the clustering pass was tuned
// against.
func DefaultConfig() Config {
	return Config{
		WindowMs:          1500,
		StepMs:            750,
		MinWindowMs:       500,
		ThresholdMs:       3000,
		DistanceThreshold: 0.5,
		MaxWindows:        500,
	}
}

// Diarizer assigns speaker labels to VAD segments from one recording's audio.
type Diarizer struct {
	model EmbeddingModel
	cfg   Config
}

// New returns a Diarizer backed by model.
func New(model EmbeddingModel, cfg Config) *Diarizer {
	return &Diarizer{model: model, cfg: cfg}
}

// windowEmbedding is one sliding-window sample: its embedding, the index of
// the VAD segment it was drawn from, and its time span.
type windowEmbedding struct {
	vec     []float64
	segIdx  int
	startMs int
	endMs   int
}

// Diarize assigns a speaker label to each of segments, given the full
// decoded audio it was drawn from. audioDurationMs is the total decoded
// audio length, used when a segment reports start==end==0 (no usable
// timestamp).
func (d *Diarizer) Diarize(ctx context.Context, samples []float32, sampleRate int, audioDurationMs int, segments []VADSegment) ([]Segment, error) {
	if len(segments) == 0 {
		return nil, nil
	}

	allInvalidTimestamps := true
	for _, seg := range segments {
		if seg.StartMs != 0 || seg.EndMs != 0 {
			allInvalidTimestamps = false
			break
		}
	}

	var windows []windowEmbedding
	singleUntimedSegment := allInvalidTimestamps && len(segments) == 1

	if singleUntimedSegment {
		stepMs := d.cfg.StepMs
		if audioDurationMs > 0 && d.cfg.MaxWindows > 0 {
			expectedWindows := audioDurationMs / stepMs
			if expectedWindows > d.cfg.MaxWindows {
				stepMs = audioDurationMs / d.cfg.MaxWindows
			}
		}
		embs, err := d.extractSlidingWindowEmbeddings(ctx, samples, sampleRate, 0, audioDurationMs, stepMs)
		if err != nil {
			return nil, err
		}
		for _, e := range embs {
			windows = append(windows, windowEmbedding{vec: e.vec, segIdx: 0, startMs: e.startMs, endMs: e.endMs})
		}
	} else {
		for segIdx, seg := range segments {
			segStart, segEnd := seg.StartMs, seg.EndMs
			if segStart == 0 && segEnd == 0 && seg.Text != "" {
				segStart, segEnd = 0, audioDurationMs
			}
			duration := segEnd - segStart

			if duration > d.cfg.ThresholdMs {
				embs, err := d.extractSlidingWindowEmbeddings(ctx, samples, sampleRate, segStart, segEnd, d.cfg.StepMs)
				if err != nil {
					return nil, err
				}
				for _, e := range embs {
					windows = append(windows, windowEmbedding{vec: e.vec, segIdx: segIdx, startMs: e.startMs, endMs: e.endMs})
				}
			} else if emb, ok, err := d.extractSingleEmbedding(ctx, samples, sampleRate, segStart, segEnd); err != nil {
				return nil, err
			} else if ok {
				windows = append(windows, windowEmbedding{vec: emb, segIdx: segIdx, startMs: segStart, endMs: segEnd})
			}
		}
	}

	var labels []int
	segmentSpeakers := make(map[int]int)

	switch {
	case len(windows) >= 2:
		vectors := make([][]float64, len(windows))
		for i, w := range windows {
			vectors[i] = w.vec
		}
		labels = agglomerativeCluster(vectors, d.cfg.DistanceThreshold)

		votes := make(map[int]map[int]int)
		for i, w := range windows {
			if votes[w.segIdx] == nil {
				votes[w.segIdx] = make(map[int]int)
			}
			votes[w.segIdx][labels[i]]++
		}
		for segIdx, counts := range votes {
			segmentSpeakers[segIdx] = majorityLabel(counts)
		}
	case len(windows) == 1:
		labels = []int{0}
		segmentSpeakers[windows[0].segIdx] = 0
	}

	if singleUntimedSegment && len(distinctLabels(labels)) > 1 && len(windows) > 1 {
		return d.splitBySpeakerTurns(segments[0], windows, labels), nil
	}

	out := make([]Segment, len(segments))
	for i, seg := range segments {
		spk, ok := segmentSpeakers[i]
		if !ok {
			spk = -1
		}
		out[i] = Segment{Text: seg.Text, StartMs: seg.StartMs, EndMs: seg.EndMs, Speaker: spk}
	}
	return out, nil
}

type embeddingWindow struct {
	vec     []float64
	startMs int
	endMs   int
}

// extractSlidingWindowEmbeddings samples overlapping windows of length
// cfg.WindowMs, every stepMs, across [segStartMs, segEndMs), skipping any
// trailing window shorter than cfg.MinWindowMs.
func (d *Diarizer) extractSlidingWindowEmbeddings(ctx context.Context, samples []float32, sampleRate, segStartMs, segEndMs, stepMs int) ([]embeddingWindow, error) {
	var out []embeddingWindow
	minSamples := sampleRate * d.cfg.MinWindowMs / 1000

	windowStart := segStartMs
	for windowStart < segEndMs {
		windowEnd := min(windowStart+d.cfg.WindowMs, segEndMs)
		if windowEnd-windowStart < d.cfg.MinWindowMs {
			break
		}

		startSample := max(0, windowStart*sampleRate/1000)
		endSample := min(len(samples), windowEnd*sampleRate/1000)
		if endSample-startSample < minSamples {
			windowStart += stepMs
			continue
		}

		vec, err := d.model.Embed(ctx, samples[startSample:endSample], sampleRate)
		if err == nil && vec != nil {
			out = append(out, embeddingWindow{vec: vec, startMs: windowStart, endMs: windowEnd})
		}
		windowStart += stepMs
	}
	return out, nil
}

// extractSingleEmbedding embeds a short segment as one window.
func (d *Diarizer) extractSingleEmbedding(ctx context.Context, samples []float32, sampleRate, startMs, endMs int) ([]float64, bool, error) {
	if endMs-startMs < d.cfg.MinWindowMs {
		return nil, false, nil
	}

	startSample := max(0, startMs*sampleRate/1000)
	endSample := min(len(samples), endMs*sampleRate/1000)
	minSamples := sampleRate * d.cfg.MinWindowMs / 1000
	if endSample-startSample < minSamples {
		return nil, false, nil
	}

	vec, err := d.model.Embed(ctx, samples[startSample:endSample], sampleRate)
	if err != nil {
		return nil, false, nil
	}
	return vec, vec != nil, nil
}

// splitBySpeakerTurns handles the single-segment-no-timestamps case: window
// labels are merged into contiguous speaker turns, and the segment's text is
// allocated across turns in proportion to each turn's share of total
// duration (there's no word-level timing to split on more precisely).
func (d *Diarizer) splitBySpeakerTurns(originalSeg VADSegment, windows []windowEmbedding, labels []int) []Segment {
	if len(windows) == 0 || len(labels) != len(windows) {
		return []Segment{{Text: originalSeg.Text, StartMs: originalSeg.StartMs, EndMs: originalSeg.EndMs, Speaker: 0}}
	}

	type labeled struct {
		w     windowEmbedding
		label int
	}
	sorted := make([]labeled, len(windows))
	for i, w := range windows {
		sorted[i] = labeled{w: w, label: labels[i]}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].w.startMs < sorted[j].w.startMs })

	type turn struct {
		speaker int
		startMs int
		endMs   int
	}
	var turns []turn
	cur := turn{speaker: sorted[0].label, startMs: sorted[0].w.startMs, endMs: sorted[0].w.endMs}
	for _, s := range sorted[1:] {
		if s.label == cur.speaker {
			cur.endMs = s.w.endMs
			continue
		}
		turns = append(turns, cur)
		cur = turn{speaker: s.label, startMs: s.w.startMs, endMs: s.w.endMs}
	}
	turns = append(turns, cur)

	totalDuration := turns[len(turns)-1].endMs - turns[0].startMs
	if totalDuration <= 0 {
		totalDuration = 1
	}

	fullText := []rune(originalSeg.Text)
	textLen := len(fullText)

	var segments []Segment
	textOffset := 0
	for i, t := range turns {
		var turnText string
		if i == len(turns)-1 {
			turnText = string(fullText[textOffset:])
		} else {
			charCount := textLen * (t.endMs - t.startMs) / totalDuration
			end := min(textOffset+charCount, textLen)
			turnText = string(fullText[textOffset:end])
			textOffset = end
		}
		if trimmed := trimSpace(turnText); trimmed != "" {
			segments = append(segments, Segment{Text: turnText, StartMs: t.startMs, EndMs: t.endMs, Speaker: t.speaker})
		}
	}

	if len(segments) == 0 {
		return []Segment{{Text: originalSeg.Text, StartMs: originalSeg.StartMs, EndMs: originalSeg.EndMs, Speaker: 0}}
	}
	return segments
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceByte(s[start]) {
		start++
	}
	for end > start && isSpaceByte(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func majorityLabel(counts map[int]int) int {
	best, bestCount := 0, -1
	// Deterministic tie-break: lowest label wins, matching Counter.most_common's
	// stable-insertion-order behavior closely enough for clustering output
	// that ties are rare and inconsequential either way.
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	for _, l := range labels {
		if counts[l] > bestCount {
			best, bestCount = l, counts[l]
		}
	}
	return best
}

// SmoothSpeakers removes single-segment speaker flicker: a segment whose
// speaker differs from both neighbours, and whose own duration is under
// maxFlickerMs, is reassigned to match them. Segments are mutated in place
// and the same slice is returned for convenience.
func SmoothSpeakers(segments []Segment, maxFlickerMs int) []Segment {
	if len(segments) < 3 {
		return segments
	}
	for i := 1; i < len(segments)-1; i++ {
		prev, curr, next := segments[i-1].Speaker, segments[i].Speaker, segments[i+1].Speaker
		duration := segments[i].EndMs - segments[i].StartMs
		if curr != prev && prev == next && duration < maxFlickerMs {
			segments[i].Speaker = prev
		}
	}
	return segments
}

func distinctLabels(labels []int) map[int]struct{} {
	out := make(map[int]struct{})
	for _, l := range labels {
		out[l] = struct{}{}
	}
	return out
}

// cosineDistance returns 1 - cosine_similarity(a, b), matching sklearn's
// metric="cosine" convention (0 = identical direction, 2 = opposite).
func cosineDistance(a, b []float64) float64 {
	normA := floats.Norm(a, 2)
	normB := floats.Norm(b, 2)
	if normA == 0 || normB == 0 {
		return 1
	}
	sim := floats.Dot(a, b) / (normA * normB)
	return 1 - sim
}

// agglomerativeCluster performs average-linkage agglomerative clustering by
// cosine distance, merging the closest pair of clusters repeatedly until the
// smallest remaining inter-cluster distance exceeds distanceThreshold. This
// reproduces scikit-learn's
// AgglomerativeClustering(n_clusters=None, distance_threshold=t,
// metric="cosine", linkage="average") without requiring scikit-learn: no Go
// clustering library in the ecosystem implements this exact
// distance-threshold-stopping, average-linkage, cosine-metric combination.
func agglomerativeCluster(vectors [][]float64, distanceThreshold float64) []int {
	n := len(vectors)
	clusters := make([][]int, n)
	for i := range clusters {
		clusters[i] = []int{i}
	}

	dist := make([][]float64, n)
	for i := range dist {
		dist[i] = make([]float64, n)
		for j := range dist[i] {
			if i != j {
				dist[i][j] = cosineDistance(vectors[i], vectors[j])
			}
		}
	}

	active := make([]bool, n)
	for i := range active {
		active[i] = true
	}

	for {
		bestI, bestJ, bestDist := -1, -1, math.Inf(1)
		for i := 0; i < n; i++ {
			if !active[i] {
				continue
			}
			for j := i + 1; j < n; j++ {
				if !active[j] {
					continue
				}
				d := averageLinkageDistance(clusters[i], clusters[j], dist)
				if d < bestDist {
					bestDist = d
					bestI, bestJ = i, j
				}
			}
		}

		if bestI == -1 || bestDist > distanceThreshold {
			break
		}

		clusters[bestI] = append(clusters[bestI], clusters[bestJ]...)
		active[bestJ] = false
	}

	labels := make([]int, n)
	label := 0
	for i := 0; i < n; i++ {
		if !active[i] {
			continue
		}
		for _, member := range clusters[i] {
			labels[member] = label
		}
		label++
	}
	return labels
}

func averageLinkageDistance(a, b []int, dist [][]float64) float64 {
	var sum float64
	for _, i := range a {
		for _, j := range b {
			sum += dist[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}
