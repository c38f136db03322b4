package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"research-rag/internal/models"
)

// Mode controls how a batch is dispatched to the provider.
type Mode int

const (
	// Sequential sends one request at a time.
	Sequential Mode = iota
	// Grouped sends fixed-size groups concurrently, one group at a time.
	Grouped
)

type Options struct {
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// CallDelay is slept before every provider call, successful or not.
	CallDelay time.Duration
	Mode      Mode
	GroupSize int
	// Dimension rejects vectors of any other length when positive.
	Dimension int
}

// Client wraps a Provider with pacing and a bounded retry policy.
type Client struct {
	provider Provider
	opts     Options
}

func NewClient(p Provider, opts Options) *Client {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = 1
	}
	return &Client{provider: p, opts: opts}
}

// Embed returns the vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := c.embedWithRetry(ctx, text)
	if err != nil {
		return nil, &models.EmbeddingError{Index: 0, Provider: c.provider.Name(), Err: err}
	}
	return vec, nil
}

// EmbedBatch returns one vector per text, in input order. The first item
// that exhausts its retries fails the whole batch.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if c.opts.Mode == Sequential || c.opts.GroupSize == 1 {
		for i, text := range texts {
			vec, err := c.embedWithRetry(ctx, text)
			if err != nil {
				return nil, &models.EmbeddingError{Index: i, Provider: c.provider.Name(), Err: err}
			}
			out[i] = vec
		}
		return out, nil
	}

	for start := 0; start < len(texts); start += c.opts.GroupSize {
		end := min(start+c.opts.GroupSize, len(texts))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.embedWithRetry(gctx, texts[i])
				if err != nil {
					return &models.EmbeddingError{Index: i, Provider: c.provider.Name(), Err: err}
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.opts.BaseDelay << (attempt - 1)
			log.Warn().Err(lastErr).
				Str("provider", c.provider.Name()).
				Int("attempt", attempt).
				Bool("rate_limited", IsRateLimited(lastErr)).
				Dur("backoff", delay).
				Msg("Retrying embedding")
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		if err := sleep(ctx, c.opts.CallDelay); err != nil {
			return nil, err
		}

		vec, err := c.provider.Embed(ctx, text)
		if err == nil {
			err = c.check(vec)
		}
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) check(vec []float32) error {
	if len(vec) == 0 {
		return models.ErrMalformedEmbedding
	}
	if c.opts.Dimension > 0 && len(vec) != c.opts.Dimension {
		return fmt.Errorf("%w: got %d dimensions, want %d", models.ErrMalformedEmbedding, len(vec), c.opts.Dimension)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
