// Package ratelimit implements the Rate Governor (spec §4.7): a
// cross-process, advisory RPM/TPM limiter backed by the shared KV
// store, so N worker processes observe one global sliding window.
// Grounded directly on original_source's apps/api/mentorfy/core/rate_limiter.py.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

const windowSeconds = 60
const keyTTL = 61 * time.Second

// maxAcquireAttempts bounds the advisory wait (spec §4.7): a bounded
// attempt count prevents infinite waits and surfaces as an error the
// worker runtime may retry.
const maxAcquireAttempts = 20

// Governor enforces per-provider RPM/TPM caps using sorted sets keyed
// `rate_limit:<provider>:rpm` / `:tpm` (spec §4.7).
type Governor struct {
	client *redis.Client
	prefix string
}

// NewGovernor wraps an existing go-redis client.
func NewGovernor(client *redis.Client, prefix string) *Governor {
	if prefix == "" {
		prefix = "pipeline"
	}
	return &Governor{client: client, prefix: prefix}
}

func (g *Governor) rpmKey(provider string) string { return fmt.Sprintf("%s:rate_limit:%s:rpm", g.prefix, provider) }
func (g *Governor) tpmKey(provider string) string { return fmt.Sprintf("%s:rate_limit:%s:tpm", g.prefix, provider) }

// AcquireRequest prunes entries older than 60s; if the count is under
// cap it records the current instant and grants; otherwise it returns
// the wait until the oldest entry ages out.
func (g *Governor) AcquireRequest(ctx context.Context, provider string, cap int) (bool, time.Duration, error) {
	key := g.rpmKey(provider)
	now := time.Now()
	cutoff := float64(now.Add(-windowSeconds * time.Second).UnixNano())

	if err := g.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff)).Err(); err != nil {
		return false, 0, fmt.Errorf("ratelimit: prune rpm: %w", err)
	}
	count, err := g.client.ZCard(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: count rpm: %w", err)
	}
	if int(count) < cap {
		member := fmt.Sprintf("%d-%d", now.UnixNano(), rand.Int63())
		pipe := g.client.TxPipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, key, keyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, 0, fmt.Errorf("ratelimit: record rpm: %w", err)
		}
		return true, 0, nil
	}

	oldest, err := g.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return false, time.Second, nil
	}
	oldestAt := time.Unix(0, int64(oldest[0].Score))
	wait := oldestAt.Add(windowSeconds * time.Second).Sub(now)
	if wait < 0 {
		wait = 0
	}
	return false, wait, nil
}

// AcquireTokens prunes, sums the current window's token counts, and
// either admits n or returns the wait until enough tokens expire.
func (g *Governor) AcquireTokens(ctx context.Context, provider string, n, cap int) (bool, time.Duration, error) {
	key := g.tpmKey(provider)
	now := time.Now()
	cutoff := float64(now.Add(-windowSeconds * time.Second).UnixNano())

	if err := g.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff)).Err(); err != nil {
		return false, 0, fmt.Errorf("ratelimit: prune tpm: %w", err)
	}
	entries, err := g.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ratelimit: scan tpm: %w", err)
	}

	sum := 0
	for _, e := range entries {
		_, tok := decodeTPMMember(e.Member)
		sum += tok
	}

	if sum+n <= cap {
		member := fmt.Sprintf("%d:%d", now.UnixNano(), n)
		pipe := g.client.TxPipeline()
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
		pipe.Expire(ctx, key, keyTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return false, 0, fmt.Errorf("ratelimit: record tpm: %w", err)
		}
		return true, 0, nil
	}

	// Find the instant at which enough tokens will have expired out of
	// the window to admit n.
	freed := 0
	for _, e := range entries {
		_, tok := decodeTPMMember(e.Member)
		freed += tok
		if sum-freed+n <= cap {
			expiresAt := time.Unix(0, int64(e.Score)).Add(windowSeconds * time.Second)
			wait := expiresAt.Sub(now)
			if wait < 0 {
				wait = 0
			}
			return false, wait, nil
		}
	}
	return false, windowSeconds * time.Second, nil
}

func decodeTPMMember(member string) (ts int64, tokens int) {
	fmt.Sscanf(member, "%d:%d", &ts, &tokens)
	return
}

// WaitForRequest loops AcquireRequest with exponential backoff + jitter
// (base 2, cap 30s, jitter in [0.8, 1.2]) as specified in §4.5/§4.7,
// bounded by maxAcquireAttempts.
func (g *Governor) WaitForRequest(ctx context.Context, provider string, cap int) error {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		ok, wait, err := g.AcquireRequest(ctx, provider, cap)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := sleepBackoff(ctx, attempt, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("ratelimit: exhausted %d attempts acquiring request for %s", maxAcquireAttempts, provider)
}

// WaitForTokens is the token-budget analogue of WaitForRequest.
func (g *Governor) WaitForTokens(ctx context.Context, provider string, n, cap int) error {
	for attempt := 0; attempt < maxAcquireAttempts; attempt++ {
		ok, wait, err := g.AcquireTokens(ctx, provider, n, cap)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := sleepBackoff(ctx, attempt, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("ratelimit: exhausted %d attempts acquiring %d tokens for %s", maxAcquireAttempts, n, provider)
}

func sleepBackoff(ctx context.Context, attempt int, hint time.Duration) error {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	if hint > base {
		base = hint
	}
	jitter := 0.8 + rand.Float64()*0.4
	d := time.Duration(float64(base) * jitter)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
