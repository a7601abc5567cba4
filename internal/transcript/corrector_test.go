package transcript

import (
	"context"
	"testing"

	llm "github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/types"

	"github.com/copernicus-go/copernicus/internal/transcript/llmcorrect"
)

type stubLLMProvider struct {
	complete func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

func (s *stubLLMProvider) StreamCompletion(context.Context, llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, nil
}

func (s *stubLLMProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return s.complete(ctx, req)
}

func (s *stubLLMProvider) CountTokens([]types.Message) (int, error) { return 0, nil }

func (s *stubLLMProvider) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

func (s *stubLLMProvider) IsReachable(ctx context.Context) error { return nil }

func TestPipelineCorrectAllPhases(t *testing.T) {
	provider := &stubLLMProvider{
		complete: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: `{"corrections":[{"id":2,"text":"本产品不保证本金安全"}]}`}, nil
		},
	}
	rep := NewReplacer([]HotwordRule{{Wrong: "友邦", Right: "AIA"}})
	pipeline := NewPipeline(
		WithHotwordReplacer(rep),
		WithLLMCorrector(llmcorrect.New(provider)),
		WithLLMConfidenceThreshold(0.85),
	)

	entries := []ScoredEntry{
		{Entry: Entry{ID: 1, Text: "嗯"}, Confidence: 0.3},
		{Entry: Entry{ID: 2, Text: "本产品报证本金安全"}, Confidence: 0.4},
		{Entry: Entry{ID: 3, Text: "友邦人寿欢迎您"}, Confidence: 0.99},
	}

	out, err := pipeline.Correct(context.Background(), entries)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d entries, want 3", len(out))
	}
	if out[0].Text != "" {
		t.Errorf("entry 1 (noise) = %q, want empty", out[0].Text)
	}
	if out[1].Text != "本产品不保证本金安全" {
		t.Errorf("entry 2 = %q, want LLM-polished text", out[1].Text)
	}
	if out[2].Text != "AIA人寿欢迎您" {
		t.Errorf("entry 3 = %q, want hotword-replaced, LLM-skipped text", out[2].Text)
	}
}

func TestPipelineCorrectNoOptionalPhases(t *testing.T) {
	pipeline := NewPipeline()
	entries := []ScoredEntry{
		{Entry: Entry{ID: 1, Text: "本产品保证收益率为百分之三"}, Confidence: 0.2},
	}
	out, err := pipeline.Correct(context.Background(), entries)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out[0].Text != "本产品保证收益率为百分之三" {
		t.Errorf("got %q, want unchanged (no phase 2-4 configured)", out[0].Text)
	}
}

func TestPipelineCorrectEmpty(t *testing.T) {
	pipeline := NewPipeline()
	out, err := pipeline.Correct(context.Background(), nil)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if out != nil {
		t.Errorf("got %v, want nil", out)
	}
}
