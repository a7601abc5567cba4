package evaluate

import (
	"strings"
	"testing"
)

func TestChunkTextShortTextSingleChunk(t *testing.T) {
	chunks := chunkText("短文本", 100, 0)
	if len(chunks) != 1 || chunks[0] != "短文本" {
		t.Errorf("chunks = %v", chunks)
	}
}

func TestChunkTextSplitsAtSentenceBoundary(t *testing.T) {
	text := "第一句话内容在这里。第二句话内容也在这里。第三句话内容同样在这里。"
	chunks := chunkText(text, 12, 0)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	for i, c := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(c, "。") {
			t.Errorf("chunk %d = %q, want it to end at a sentence boundary", i, c)
		}
	}
	if strings.Join(chunks, "") != text {
		t.Errorf("rejoined chunks lost or duplicated text: got %q", strings.Join(chunks, ""))
	}
}

func TestChunkTextNoSentenceBoundaryHardSplits(t *testing.T) {
	text := strings.Repeat("字", 30)
	chunks := chunkText(text, 10, 0)
	if len(chunks) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(chunks))
	}
}

func TestChunkTextWithOverlapRepeatsTrailingRunes(t *testing.T) {
	text := strings.Repeat("字", 30)
	chunks := chunkText(text, 10, 3)
	// start sequence: 0, 7, 14, 21 -> chunk lengths 10, 10, 10, 9.
	wantLens := []int{10, 10, 10, 9}
	if len(chunks) != len(wantLens) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(wantLens))
	}
	for i, c := range chunks {
		if got := len([]rune(c)); got != wantLens[i] {
			t.Errorf("chunk %d length = %d, want %d", i, got, wantLens[i])
		}
	}
}
