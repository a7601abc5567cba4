package asr

import "testing"

func TestCleanSenseVoiceTextStripsTagsAndEmoji(t *testing.T) {
	in := "<|zh|><|NEUTRAL|><|Speech|>这是一个测试😀🎵"
	got := CleanSenseVoiceText(in)
	want := "这是一个测试"
	if got != want {
		t.Errorf("CleanSenseVoiceText() = %q, want %q", got, want)
	}
}

func TestCleanSenseVoiceTextCollapsesRepeatedPunctuation(t *testing.T) {
	got := CleanSenseVoiceText("真的吗。。。")
	want := "真的吗。"
	if got != want {
		t.Errorf("CleanSenseVoiceText() = %q, want %q", got, want)
	}
}

func TestCleanSenseVoiceTextDropsBarePunctuationLine(t *testing.T) {
	if got := CleanSenseVoiceText("   。，！  "); got != "" {
		t.Errorf("CleanSenseVoiceText() = %q, want empty", got)
	}
}

func TestIsNoiseSegment(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"嗯嗯", true},
		{"the the", true},
		{"本产品收益不保证", false},
	}
	for _, tt := range tests {
		if got := IsNoiseSegment(tt.text); got != tt.want {
			t.Errorf("IsNoiseSegment(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestBuildSenseVoiceSegmentsFiltersNoiseAndCleans(t *testing.T) {
	items := []RawItem{
		{Text: "<|zh|>讲师介绍了产品收益。", Timestamps: []CharTimestamp{{StartMs: 0, EndMs: 500}, {StartMs: 500, EndMs: 2000}}},
		{Text: "嗯嗯", Timestamps: []CharTimestamp{{StartMs: 2000, EndMs: 2500}}},
	}
	result := BuildSenseVoiceSegments(items, 15000, true)
	if len(result.Segments) != 1 {
		t.Fatalf("got %d segments, want 1 (noise filtered): %+v", len(result.Segments), result.Segments)
	}
	if result.Segments[0].Text != "讲师介绍了产品收益。" {
		t.Errorf("Text = %q", result.Segments[0].Text)
	}
}

func TestBuildSenseVoiceSegmentsKeepsNoiseWhenFilterDisabled(t *testing.T) {
	items := []RawItem{
		{Text: "嗯嗯", Timestamps: []CharTimestamp{{StartMs: 0, EndMs: 500}}},
	}
	result := BuildSenseVoiceSegments(items, 15000, false)
	if len(result.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(result.Segments))
	}
}

func TestSplitLongSegmentBreaksAtPunctuation(t *testing.T) {
	text := "第一句话在这里。第二句话也在这里。"
	runes := []rune(text)
	timestamps := make([]CharTimestamp, len(runes))
	for i := range timestamps {
		timestamps[i] = CharTimestamp{StartMs: i * 1000, EndMs: (i + 1) * 1000}
	}

	segs := SplitLongSegment(text, timestamps, 8000)
	if len(segs) < 2 {
		t.Fatalf("got %d segments, want at least 2: %+v", len(segs), segs)
	}
	for _, s := range segs {
		if s.EndMs < s.StartMs {
			t.Errorf("segment has EndMs < StartMs: %+v", s)
		}
	}
}

func TestSplitLongSegmentShortInputReturnsWhole(t *testing.T) {
	segs := SplitLongSegment("短文本", []CharTimestamp{{StartMs: 0, EndMs: 500}}, 15000)
	if len(segs) != 1 || segs[0].Text != "短文本" {
		t.Errorf("got %+v, want whole text unsplit", segs)
	}
}
