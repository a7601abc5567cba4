package evaluate

import (
	"context"
	"strings"
	"sync"
	"testing"

	llm "github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/types"
)

// stubProvider returns responses in order, repeating the last one once
// exhausted. Safe for the concurrent map-stage calls the engine makes.
type stubProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (s *stubProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return nil, nil
}

func (s *stubProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return &llm.CompletionResponse{Content: s.responses[idx]}, nil
}

func (s *stubProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }

func (s *stubProvider) Capabilities() types.ModelCapabilities { return types.ModelCapabilities{} }

func (s *stubProvider) IsReachable(ctx context.Context) error { return nil }

const sampleEvaluationJSON = `{
	"meta": {"title": "保险产品介绍", "category": "产品介绍", "keywords": ["重疾险", "保费"]},
	"scores": {"logic": 30, "info_density": 28, "expression": 25, "total": 83},
	"analysis": {"main_points": ["保障范围广"], "key_data": ["保额50万"], "sentiment": "积极"},
	"summary": "讲解了重疾险产品的保障范围和保费情况。"
}`

func TestEvaluateDirectShortText(t *testing.T) {
	provider := &stubProvider{responses: []string{sampleEvaluationJSON}}
	engine := NewEngine(provider, WithChunkSize(1000))

	var progress [][2]int
	result, err := engine.Evaluate(context.Background(), "讲师：今天给大家介绍一款重疾险产品。", func(completed, total int) {
		progress = append(progress, [2]int{completed, total})
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Meta.Title != "保险产品介绍" {
		t.Errorf("Title = %q", result.Meta.Title)
	}
	if result.Scores.Total != 83 {
		t.Errorf("Total = %d, want 83", result.Scores.Total)
	}
	if len(progress) != 2 || progress[0] != [2]int{0, 1} || progress[1] != [2]int{1, 1} {
		t.Errorf("progress = %v, want [{0 1} {1 1}]", progress)
	}
	if provider.calls != 1 {
		t.Errorf("calls = %d, want 1 (direct path)", provider.calls)
	}
}

func TestEvaluateMapReduceLongText(t *testing.T) {
	provider := &stubProvider{responses: []string{
		"片段要点：保障范围广。",
		"片段要点：保费合理。",
		sampleEvaluationJSON,
	}}
	engine := NewEngine(provider, WithChunkSize(20))

	longText := strings.Repeat("这是一段很长的转写文本。", 10)
	result, err := engine.Evaluate(context.Background(), longText, nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Scores.Total != 83 {
		t.Errorf("Total = %d, want 83", result.Scores.Total)
	}
	if provider.calls < 3 {
		t.Errorf("calls = %d, want at least 3 (map chunks + reduce)", provider.calls)
	}
}

func TestEvaluateRetriesOnMalformedJSON(t *testing.T) {
	provider := &stubProvider{responses: []string{"not json at all", sampleEvaluationJSON}}
	engine := NewEngine(provider)

	result, err := engine.Evaluate(context.Background(), "短文本", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Meta.Title != "保险产品介绍" {
		t.Errorf("Title = %q, want recovery on second attempt", result.Meta.Title)
	}
	if provider.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", provider.calls)
	}
}

func TestEvaluateAllAttemptsFailReturnsError(t *testing.T) {
	provider := &stubProvider{responses: []string{"garbage", "still garbage"}}
	engine := NewEngine(provider)

	_, err := engine.Evaluate(context.Background(), "短文本", nil)
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
}

func TestEvaluateTruncatesOverlongText(t *testing.T) {
	provider := &stubProvider{responses: []string{sampleEvaluationJSON}}
	engine := NewEngine(provider, WithMaxTextChars(10), WithChunkSize(1000))

	_, err := engine.Evaluate(context.Background(), "这是一段超过十个字符的转写文本内容", nil)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("calls = %d, want 1 (truncated text stays under chunk size)", provider.calls)
	}
}
