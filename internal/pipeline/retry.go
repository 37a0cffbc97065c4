package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/dgallion1/quizgest/internal/extract"
)

// RetryPolicy bounds model retries on overload.
type RetryPolicy struct {
	MaxRetries     uint          // total attempts
	InitialBackoff time.Duration // wait before the second attempt; doubles after
}

// DefaultRetryPolicy allows 3 attempts starting at a 2s wait.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 2 * time.Second}
}

// Backoff returns the wait after failed attempt n (0-indexed).
func (p RetryPolicy) Backoff(n uint) time.Duration {
	return p.InitialBackoff << n
}

// ModelClient submits prompts with overload retries and latency tracking.
type ModelClient struct {
	gen    extract.Generator
	policy RetryPolicy
	stats  *extract.LLMStats
	log    *slog.Logger
	timer  retry.Timer
}

func NewModelClient(gen extract.Generator, policy RetryPolicy, stats *extract.LLMStats, log *slog.Logger) *ModelClient {
	if policy.MaxRetries == 0 {
		policy.MaxRetries = DefaultRetryPolicy().MaxRetries
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = DefaultRetryPolicy().InitialBackoff
	}
	if stats == nil {
		stats = extract.NewLLMStats(time.Hour)
	}
	if log == nil {
		log = slog.Default()
	}
	return &ModelClient{gen: gen, policy: policy, stats: stats, log: log}
}

// Model names the backing model.
func (c *ModelClient) Model() string { return c.gen.Model() }

// Stats returns the latency and outcome window for model calls.
func (c *ModelClient) Stats() *extract.LLMStats { return c.stats }

// Submit sends prompt, retrying overload errors. When every attempt is
// overloaded it returns ok=false and a nil error so the caller can skip
// the batch. Any other error is returned at once.
func (c *ModelClient) Submit(ctx context.Context, prompt *extract.Prompt) (text string, ok bool, err error) {
	text, err = retry.DoWithData(
		func() (string, error) {
			start := time.Now()
			out, err := c.gen.Generate(ctx, prompt)
			switch {
			case err == nil:
				c.stats.Record(time.Since(start), extract.OutcomeOK)
			case extract.IsRetryable(err):
				c.stats.Record(time.Since(start), extract.OutcomeOverloaded)
			default:
				c.stats.Record(time.Since(start), extract.OutcomeFailed)
			}
			return out, err
		},
		c.retryOptions(ctx)...,
	)
	if err == nil {
		return text, true, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", false, ctxErr
	}
	if extract.IsRetryable(err) {
		c.log.Error("model still overloaded after retries, skipping batch",
			"model", c.gen.Model(), "attempts", c.policy.MaxRetries, "error", err)
		return "", false, nil
	}
	return "", false, err
}

func (c *ModelClient) retryOptions(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(c.policy.MaxRetries),
		// retry-go numbers the first wait 1.
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return c.policy.Backoff(max(n, 1) - 1)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(extract.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			if n+1 < c.policy.MaxRetries {
				c.log.Warn("model overloaded, retrying",
					"attempt", n+1, "max_attempts", c.policy.MaxRetries,
					"backoff", c.policy.Backoff(n), "error", err)
			}
		}),
	}
	if c.timer != nil {
		opts = append(opts, retry.WithTimer(c.timer))
	}
	return opts
}
