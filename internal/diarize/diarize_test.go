package diarize

import (
	"context"
	"strings"
	"testing"
)

// stubEmbedder returns a 2-vector embedding derived from the mean sample
// value of the window, so two windows of differing amplitude land in
// different directions (and therefore different clusters) while windows of
// the same amplitude collapse to the same direction.
type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, samples []float32, sampleRate int) ([]float64, error) {
	var sum float32
	for _, s := range samples {
		sum += s
	}
	mean := float64(sum) / float64(len(samples))
	return []float64{mean, -mean}, nil
}

func testConfig() Config {
	return Config{
		WindowMs:          500,
		StepMs:            500,
		MinWindowMs:       100,
		ThresholdMs:       100000, // force single-embedding-per-segment path by default
		DistanceThreshold: 0.5,
		MaxWindows:        500,
	}
}

func constSamples(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestDiarizeAssignsDifferentSpeakersToDistinctAmplitudes(t *testing.T) {
	sampleRate := 1000
	samples := make([]float32, 0, 4000)
	samples = append(samples, constSamples(2000, 1.0)...)
	samples = append(samples, constSamples(2000, -1.0)...)

	segments := []VADSegment{
		{Text: "讲师介绍产品", StartMs: 0, EndMs: 2000},
		{Text: "投保人提问", StartMs: 2000, EndMs: 4000},
	}

	d := New(stubEmbedder{}, testConfig())
	out, err := d.Diarize(context.Background(), samples, sampleRate, 4000, segments)
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d segments, want 2", len(out))
	}
	if out[0].Speaker == out[1].Speaker {
		t.Errorf("expected distinct speakers for opposite-amplitude segments, got %d for both", out[0].Speaker)
	}
}

func TestDiarizeAssignsSameSpeakerToSimilarAmplitudes(t *testing.T) {
	sampleRate := 1000
	samples := constSamples(4000, 1.0)

	segments := []VADSegment{
		{Text: "第一句话", StartMs: 0, EndMs: 2000},
		{Text: "第二句话", StartMs: 2000, EndMs: 4000},
	}

	d := New(stubEmbedder{}, testConfig())
	out, err := d.Diarize(context.Background(), samples, sampleRate, 4000, segments)
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if out[0].Speaker != out[1].Speaker {
		t.Errorf("expected same speaker for near-identical amplitude segments, got %d vs %d", out[0].Speaker, out[1].Speaker)
	}
}

func TestDiarizeSplitsSingleUntimedSegmentByTurns(t *testing.T) {
	sampleRate := 1000
	samples := make([]float32, 0, 4000)
	samples = append(samples, constSamples(2000, 1.0)...)
	samples = append(samples, constSamples(2000, -1.0)...)

	segments := []VADSegment{
		{Text: "讲师介绍产品风险与收益，随后投保人提出了几个问题并得到解答", StartMs: 0, EndMs: 0},
	}

	cfg := testConfig()
	cfg.ThresholdMs = 100 // irrelevant for the single-untimed-segment path, kept low for clarity

	d := New(stubEmbedder{}, cfg)
	out, err := d.Diarize(context.Background(), samples, sampleRate, 4000, segments)
	if err != nil {
		t.Fatalf("Diarize() error = %v", err)
	}
	if len(out) < 2 {
		t.Fatalf("got %d segments, want at least 2 (split by speaker turn)", len(out))
	}

	var rebuilt strings.Builder
	for _, seg := range out {
		rebuilt.WriteString(seg.Text)
	}
	if rebuilt.Len() == 0 {
		t.Errorf("split segments lost all text")
	}

	first, last := out[0].Speaker, out[len(out)-1].Speaker
	if first == last && len(out) == 2 {
		t.Errorf("expected alternating speakers across the split, got %d for both halves", first)
	}
}

func TestDiarizeNoSegmentsReturnsNil(t *testing.T) {
	d := New(stubEmbedder{}, testConfig())
	out, err := d.Diarize(context.Background(), nil, 16000, 0, nil)
	if err != nil || out != nil {
		t.Errorf("Diarize() = (%v, %v), want (nil, nil)", out, err)
	}
}

func TestCosineDistanceIdenticalVectorsIsZero(t *testing.T) {
	d := cosineDistance([]float64{1, 2, 3}, []float64{1, 2, 3})
	if d > 1e-9 {
		t.Errorf("cosineDistance(identical) = %v, want ~0", d)
	}
}

func TestCosineDistanceOrthogonalVectorsIsOne(t *testing.T) {
	d := cosineDistance([]float64{1, 0}, []float64{0, 1})
	if d < 0.999 || d > 1.001 {
		t.Errorf("cosineDistance(orthogonal) = %v, want ~1", d)
	}
}

func TestAgglomerativeClusterMergesCloseVectors(t *testing.T) {
	vectors := [][]float64{
		{1, 0.01},
		{1, -0.01},
		{-0.01, 1},
		{0.01, 1},
	}
	labels := agglomerativeCluster(vectors, 0.05)
	if labels[0] != labels[1] {
		t.Errorf("expected first pair in same cluster, got labels %v", labels)
	}
	if labels[2] != labels[3] {
		t.Errorf("expected second pair in same cluster, got labels %v", labels)
	}
	if labels[0] == labels[2] {
		t.Errorf("expected the two pairs in different clusters, got labels %v", labels)
	}
}

func TestAgglomerativeClusterSingleVector(t *testing.T) {
	labels := agglomerativeCluster([][]float64{{1, 0}}, 0.5)
	if len(labels) != 1 || labels[0] != 0 {
		t.Errorf("labels = %v, want [0]", labels)
	}
}

func TestSmoothSpeakersFixesShortFlicker(t *testing.T) {
	segs := []Segment{
		{Speaker: 0, StartMs: 0, EndMs: 1000},
		{Speaker: 1, StartMs: 1000, EndMs: 1800}, // 800ms flicker surrounded by speaker 0
		{Speaker: 0, StartMs: 1800, EndMs: 3000},
	}
	out := SmoothSpeakers(segs, 1500)
	if out[1].Speaker != 0 {
		t.Errorf("flickered segment speaker = %d, want 0", out[1].Speaker)
	}
}

func TestSmoothSpeakersKeepsLongSegment(t *testing.T) {
	segs := []Segment{
		{Speaker: 0, StartMs: 0, EndMs: 1000},
		{Speaker: 1, StartMs: 1000, EndMs: 3000}, // 2000ms, exceeds maxFlickerMs
		{Speaker: 0, StartMs: 3000, EndMs: 4000},
	}
	out := SmoothSpeakers(segs, 1500)
	if out[1].Speaker != 1 {
		t.Errorf("long segment speaker = %d, want unchanged 1", out[1].Speaker)
	}
}

func TestSmoothSpeakersKeepsGenuineChange(t *testing.T) {
	segs := []Segment{
		{Speaker: 0, StartMs: 0, EndMs: 1000},
		{Speaker: 1, StartMs: 1000, EndMs: 1500},
		{Speaker: 2, StartMs: 1500, EndMs: 2500}, // neighbours disagree, no smoothing
	}
	out := SmoothSpeakers(segs, 1500)
	if out[1].Speaker != 1 {
		t.Errorf("segment speaker = %d, want unchanged 1 (neighbours disagree)", out[1].Speaker)
	}
}
