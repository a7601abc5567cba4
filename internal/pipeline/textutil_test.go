package pipeline

import (
	"reflect"
	"testing"

	"github.com/copernicus-go/copernicus/pkg/asr"
)

func TestFormatTimestampUnderAnHour(t *testing.T) {
	if got := formatTimestamp(125_000); got != "02:05" {
		t.Errorf("formatTimestamp(125000) = %q, want 02:05", got)
	}
}

func TestFormatTimestampOverAnHour(t *testing.T) {
	if got := formatTimestamp(3_725_000); got != "01:02:05" {
		t.Errorf("formatTimestamp(3725000) = %q, want 01:02:05", got)
	}
}

func TestSplitSentencesSplitsOnPunctuation(t *testing.T) {
	got := splitSentences("你好。今天天气不错！谢谢")
	want := []string{"你好。", "今天天气不错！", "谢谢"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitSentences() = %v, want %v", got, want)
	}
}

func TestSplitSentencesNoBoundaryReturnsWholeText(t *testing.T) {
	got := splitSentences("no punctuation here")
	if len(got) != 1 || got[0] != "no punctuation here" {
		t.Errorf("splitSentences() = %v, want [whole text]", got)
	}
}

func TestPreMergeSegmentsCombinesSameSpeakerWithinGap(t *testing.T) {
	segs := []asr.Segment{
		{Text: "hello ", StartMs: 0, EndMs: 1000, Confidence: 0.9, Speaker: 0},
		{Text: "world", StartMs: 1200, EndMs: 2000, Confidence: 0.7, Speaker: 0},
	}
	got := preMergeSegments(segs, 500)
	if len(got) != 1 {
		t.Fatalf("got %d segments, want 1", len(got))
	}
	if got[0].Text != "hello world" {
		t.Errorf("Text = %q, want %q", got[0].Text, "hello world")
	}
	if got[0].StartMs != 0 || got[0].EndMs != 2000 {
		t.Errorf("span = [%d,%d], want [0,2000]", got[0].StartMs, got[0].EndMs)
	}
	// weighted by rune length: "hello " = 6 runes, "world" = 5 runes
	wantConf := (0.9*6 + 0.7*5) / 11
	if diff := got[0].Confidence - wantConf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Confidence = %v, want %v", got[0].Confidence, wantConf)
	}
	if len(got[0].SubSentences) != 2 {
		t.Errorf("SubSentences count = %d, want 2", len(got[0].SubSentences))
	}
}

func TestPreMergeSegmentsSplitsOnSpeakerChange(t *testing.T) {
	segs := []asr.Segment{
		{Text: "a", StartMs: 0, EndMs: 100, Speaker: 0},
		{Text: "b", StartMs: 150, EndMs: 250, Speaker: 1},
	}
	got := preMergeSegments(segs, 500)
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2 (different speakers)", len(got))
	}
}

func TestPreMergeSegmentsSplitsOnLargeGap(t *testing.T) {
	segs := []asr.Segment{
		{Text: "a", StartMs: 0, EndMs: 100, Speaker: 0},
		{Text: "b", StartMs: 5000, EndMs: 5100, Speaker: 0},
	}
	got := preMergeSegments(segs, 500)
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2 (gap exceeds threshold)", len(got))
	}
}

func TestSmoothSpeakersFixesShortFlicker(t *testing.T) {
	segs := []asr.Segment{
		{Speaker: 0, StartMs: 0, EndMs: 1000},
		{Speaker: 1, StartMs: 1000, EndMs: 1200}, // short flicker
		{Speaker: 0, StartMs: 1200, EndMs: 2000},
	}
	out := smoothSpeakers(segs, 1500)
	if out[1].Speaker != 0 {
		t.Errorf("middle segment speaker = %d, want 0 (smoothed)", out[1].Speaker)
	}
}

func TestSmoothSpeakersKeepsGenuineChange(t *testing.T) {
	segs := []asr.Segment{
		{Speaker: 0, StartMs: 0, EndMs: 1000},
		{Speaker: 1, StartMs: 1000, EndMs: 3000}, // long enough to be real
		{Speaker: 0, StartMs: 3000, EndMs: 4000},
	}
	out := smoothSpeakers(segs, 1500)
	if out[1].Speaker != 1 {
		t.Errorf("middle segment speaker = %d, want 1 (not flicker)", out[1].Speaker)
	}
}

func TestSplitCorrectedBySubSentencesSingleSubReturnsWholeSpan(t *testing.T) {
	subs := []asr.SubSentence{{Text: "hi", StartMs: 0, EndMs: 500}}
	got := splitCorrectedBySubSentences("hello", subs)
	if len(got) != 1 || got[0].StartMs != 0 || got[0].EndMs != 500 {
		t.Errorf("got %+v, want single span [0,500]", got)
	}
}

func TestSplitCorrectedBySubSentencesAllocatesProportionally(t *testing.T) {
	subs := []asr.SubSentence{
		{Text: "a", StartMs: 0, EndMs: 500},
		{Text: "b", StartMs: 500, EndMs: 1000},
	}
	// Two sentences, roughly equal length -> roughly equal time split.
	got := splitCorrectedBySubSentences("你好。再见。", subs)
	if len(got) != 2 {
		t.Fatalf("got %d fragments, want 2", len(got))
	}
	if got[0].StartMs != 0 {
		t.Errorf("first fragment start = %d, want 0", got[0].StartMs)
	}
	if got[len(got)-1].EndMs != 1000 {
		t.Errorf("last fragment end = %d, want 1000 (total span end)", got[len(got)-1].EndMs)
	}
}

func TestSplitOriginalBySubSentencesPrefixMatches(t *testing.T) {
	subs := []asr.SubSentence{{Text: "hello "}, {Text: "world"}}
	got := splitOriginalBySubSentences("hello world", subs)
	want := []string{"hello ", "world"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSplitOriginalBySubSentencesSingleSubReturnsWhole(t *testing.T) {
	got := splitOriginalBySubSentences("anything", []asr.SubSentence{{Text: "x"}})
	if len(got) != 1 || got[0] != "anything" {
		t.Errorf("got %v, want [anything]", got)
	}
}
