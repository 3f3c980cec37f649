package providers

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// RetryConfig bounds how hard a single provider is retried before the call
// fails over or gives up.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxTries:        3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsed:      time.Minute,
	}
}

// Resilient throttles calls through a token bucket and retries rate-limit and
// transient failures with exponential backoff. Other failures are returned
// after the first attempt.
type Resilient struct {
	llm     LLMProvider
	embed   EmbeddingProvider
	limiter *rate.Limiter
	retry   RetryConfig
}

// NewResilient wraps p, which must implement LLMProvider, EmbeddingProvider or
// both. rps <= 0 disables throttling.
func NewResilient(p any, retry RetryConfig, rps float64) *Resilient {
	r := &Resilient{retry: retry}
	r.llm, _ = p.(LLMProvider)
	r.embed, _ = p.(EmbeddingProvider)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if r.retry.MaxTries == 0 {
		r.retry.MaxTries = 1
	}
	return r
}

type callResult[T any] struct {
	val  T
	info ProviderInfo
}

func (r *Resilient) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, ProviderInfo, error) {
	res, err := do(ctx, r, func(ctx context.Context) (GenerateResponse, ProviderInfo, error) {
		return r.llm.Generate(ctx, req)
	})
	return res.val, res.info, err
}

func (r *Resilient) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	res, err := do(ctx, r, func(ctx context.Context) ([][]float32, ProviderInfo, error) {
		return r.embed.Embed(ctx, req)
	})
	return res.val, res.info, err
}

func (r *Resilient) supportsLLM() bool   { return r.llm != nil }
func (r *Resilient) supportsEmbed() bool { return r.embed != nil }

func do[T any](ctx context.Context, r *Resilient, call func(context.Context) (T, ProviderInfo, error)) (callResult[T], error) {
	var last callResult[T]
	op := func() (callResult[T], error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return last, backoff.Permanent(err)
			}
		}
		v, info, err := call(ctx)
		last = callResult[T]{val: v, info: info}
		if err != nil {
			if Retryable(err) && ctx.Err() == nil {
				return last, err
			}
			return last, backoff.Permanent(err)
		}
		return last, nil
	}

	b := backoff.NewExponentialBackOff()
	if r.retry.InitialInterval > 0 {
		b.InitialInterval = r.retry.InitialInterval
	}
	if r.retry.MaxInterval > 0 {
		b.MaxInterval = r.retry.MaxInterval
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.retry.MaxTries),
	}
	if r.retry.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(r.retry.MaxElapsed))
	}
	res, err := backoff.Retry(ctx, op, opts...)
	if err != nil {
		return last, err
	}
	return res, nil
}
