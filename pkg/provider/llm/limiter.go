package llm

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/copernicus-go/copernicus/internal/errs"
	"github.com/copernicus-go/copernicus/pkg/types"
)

// Limiter is the process-wide concurrency/retry policy spec.md §4.3 assigns
// to the LLMClient layer: at most MaxConcurrent in-flight calls across every
// provider it wraps (one counting semaphore shared by every caller), and a
// bounded retry with exponential backoff on network/5xx-shaped errors.
// Every LLM-consuming component (Corrector, Evaluator, compliance Engine)
// must be constructed with a [Provider] wrapped by the *same* Limiter
// instance so they all contend for the same permits, per spec.md §9.
type Limiter struct {
	sem        *semaphore.Weighted
	maxRetries int
	baseDelay  time.Duration

	// sleep is overridable in tests so backoff doesn't actually block.
	sleep func(context.Context, time.Duration) error
}

// NewLimiter returns a Limiter allowing at most maxConcurrent in-flight LLM
// calls, retrying a failed call up to maxRetries times with delay
// baseDelay * 2^(attempt-1) between attempts. maxConcurrent <= 0 defaults to
// 1; maxRetries <= 0 disables retries (a single attempt, no backoff).
func NewLimiter(maxConcurrent, maxRetries int, baseDelay time.Duration) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	return &Limiter{
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wrap returns a [Provider] that routes every call through l: each call
// acquires one of l's permits for its full duration (the streaming variant
// holds its permit until the stream is fully drained, not just until the
// first chunk arrives, per spec.md §9's "semaphore around the whole chat
// call") and retries per l's policy on a retryable error.
func (l *Limiter) Wrap(inner Provider) Provider {
	return &limitedProvider{inner: inner, limiter: l}
}

type limitedProvider struct {
	inner   Provider
	limiter *Limiter
}

func (p *limitedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	var resp *CompletionResponse
	err := p.limiter.retry(ctx, func() error {
		if err := p.limiter.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer p.limiter.sem.Release(1)

		r, err := p.inner.Complete(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamCompletion acquires its permit before the inner stream starts and
// releases it only once the forwarded channel is fully drained, so a slow
// stream occupies a concurrency slot for its entire lifetime rather than
// just its setup. Retries only cover the inner call's initial error return
// (a stream that fails to start); once the caller begins reading chunks, a
// mid-stream failure is surfaced as a Chunk with FinishReason "error" per
// [Provider]'s contract and is not retried here, since tokens already
// delivered to the caller cannot be un-sent.
func (p *limitedProvider) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error) {
	if err := p.limiter.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var inner <-chan Chunk
	err := p.limiter.retry(ctx, func() error {
		ch, err := p.inner.StreamCompletion(ctx, req)
		if err != nil {
			return err
		}
		inner = ch
		return nil
	})
	if err != nil {
		p.limiter.sem.Release(1)
		return nil, err
	}

	out := make(chan Chunk, 32)
	go func() {
		defer close(out)
		defer p.limiter.sem.Release(1)
		for chunk := range inner {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (p *limitedProvider) CountTokens(messages []types.Message) (int, error) {
	return p.inner.CountTokens(messages)
}

func (p *limitedProvider) Capabilities() types.ModelCapabilities {
	return p.inner.Capabilities()
}

// IsReachable passes straight through to inner, bypassing the semaphore and
// retry policy: a readiness probe must fail fast and must not compete with
// in-flight audit/correction calls for a permit.
func (p *limitedProvider) IsReachable(ctx context.Context) error {
	return p.inner.IsReachable(ctx)
}

// retry runs fn, retrying up to l.maxRetries additional times with
// base*2^(attempt-1) backoff when fn's error is retryable (network-shaped or
// an upstream 5xx), per spec.md §4.3/§9. ctx cancellation always aborts
// immediately without consuming a retry. The final error, if every attempt
// was exhausted, is wrapped as [errs.Transport].
func (l *Limiter) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			delay := l.baseDelay * (1 << (attempt - 1))
			if err := l.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return errs.Transport(lastErr, "llm call failed after %d attempts", l.maxRetries+1)
}

// isRetryable reports whether err looks like a transient network failure or
// an upstream 5xx response, the two error shapes spec.md §4.3 says should be
// retried (parse/validation errors must not be).
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Structural check for SDK error types that expose an HTTP status code
	// without depending on any specific provider SDK's concrete error type.
	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		return code >= 500 && code < 600
	}

	msg := err.Error()
	for _, needle := range []string{
		"connection reset", "connection refused", "broken pipe",
		"i/o timeout", "EOF", "TLS handshake", "no such host",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
