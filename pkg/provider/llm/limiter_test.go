package llm_test

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/pkg/provider/llm"
	"github.com/copernicus-go/copernicus/pkg/provider/llm/mock"
	"github.com/copernicus-go/copernicus/pkg/types"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "dial tcp: i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestLimiterCompleteRetriesNetworkError(t *testing.T) {
	inner := &mock.Provider{CompleteErr: timeoutErr{}}
	lim := llm.NewLimiter(1, 2, time.Microsecond)
	p := lim.Wrap(inner)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error after retries are exhausted")
	}
	var transportErr *errs.Error
	if !errors.As(err, &transportErr) || transportErr.Kind != errs.KindTransport {
		t.Errorf("err = %v, want an errs.KindTransport wrapped error", err)
	}
	if len(inner.CompleteCalls) != 3 {
		t.Errorf("CompleteCalls = %d, want 3 (1 initial + 2 retries)", len(inner.CompleteCalls))
	}
}

func TestLimiterCompleteDoesNotRetryNonRetryableError(t *testing.T) {
	inner := &mock.Provider{CompleteErr: errors.New("malformed request")}
	lim := llm.NewLimiter(1, 3, time.Microsecond)
	p := lim.Wrap(inner)

	_, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if len(inner.CompleteCalls) != 1 {
		t.Errorf("CompleteCalls = %d, want 1 (no retry for a non-retryable error)", len(inner.CompleteCalls))
	}
}

// flakyProvider fails its first N calls with a retryable error, then succeeds.
type flakyProvider struct {
	failures int32
	calls    int32
}

func (f *flakyProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return nil, timeoutErr{}
	}
	return &llm.CompletionResponse{Content: "ok"}, nil
}

func (f *flakyProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (f *flakyProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }
func (f *flakyProvider) Capabilities() types.ModelCapabilities             { return types.ModelCapabilities{} }
func (f *flakyProvider) IsReachable(ctx context.Context) error             { return nil }

func TestLimiterCompleteSucceedsAfterTransientFailure(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	lim := llm.NewLimiter(1, 5, time.Microsecond)
	p := lim.Wrap(inner)

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete returned err = %v, want nil after the flaky provider recovers", err)
	}
	if resp.Content != "ok" {
		t.Errorf("resp.Content = %q, want %q", resp.Content, "ok")
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Errorf("calls = %d, want 3 (2 failures + 1 success)", got)
	}
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	const maxConcurrent = 2
	lim := llm.NewLimiter(maxConcurrent, 0, time.Millisecond)

	var inFlight int32
	var maxObserved int32
	block := make(chan struct{})

	inner := &blockingProvider{
		onCall: func() {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				cur := atomic.LoadInt32(&maxObserved)
				if n <= cur || atomic.CompareAndSwapInt32(&maxObserved, cur, n) {
					break
				}
			}
			<-block
			atomic.AddInt32(&inFlight, -1)
		},
	}
	p := lim.Wrap(inner)

	const callers = 5
	done := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, _ = p.Complete(context.Background(), llm.CompletionRequest{})
			done <- struct{}{}
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(block)
	for i := 0; i < callers; i++ {
		<-done
	}

	if got := atomic.LoadInt32(&maxObserved); got > maxConcurrent {
		t.Errorf("max concurrent calls observed = %d, want <= %d", got, maxConcurrent)
	}
}

// blockingProvider calls onCall synchronously from Complete, letting tests
// observe how many calls are in flight at once under a [llm.Limiter].
type blockingProvider struct {
	onCall func()
}

func (b *blockingProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	b.onCall()
	return &llm.CompletionResponse{}, nil
}

func (b *blockingProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk)
	close(ch)
	return ch, nil
}

func (b *blockingProvider) CountTokens(messages []types.Message) (int, error) { return 0, nil }
func (b *blockingProvider) Capabilities() types.ModelCapabilities             { return types.ModelCapabilities{} }
func (b *blockingProvider) IsReachable(ctx context.Context) error             { return nil }

func TestLimiterIsReachablePassesThroughWithoutRetry(t *testing.T) {
	wantErr := errors.New("unreachable")
	inner := &mock.Provider{ReachableErr: wantErr}
	lim := llm.NewLimiter(1, 5, time.Microsecond)
	p := lim.Wrap(inner)

	if err := p.IsReachable(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("IsReachable() = %v, want %v", err, wantErr)
	}
}
