package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

const (
	resultKeyPrefix   = "corr:v1"
	enhancedKeyPrefix = "combo:v1"
)

// DefaultTTL keeps correlations fresh for a day before recomputation.
const DefaultTTL = 24 * time.Hour

// CorrelationCache persists computed correlation results keyed by
// (user, cause, effect, time range). Expiry is anchored at ComputedAt, never
// at last read, so traffic cannot keep a stale correlation alive. Entries
// are only ever replaced whole by key.
type CorrelationCache struct {
	provider Provider
	ttl      time.Duration
	now      func() time.Time
}

// NewCorrelationCache wraps a Provider with correlation-typed access.
func NewCorrelationCache(provider Provider, ttl time.Duration) *CorrelationCache {
	if provider == nil {
		provider = NoopProvider{}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CorrelationCache{provider: provider, ttl: ttl, now: time.Now}
}

type resultEnvelope struct {
	Result    models.CorrelationResult `json:"result"`
	ExpiresAt int64                    `json:"expiresAtMs"`
}

type enhancedEnvelope struct {
	Result    models.EnhancedResult `json:"result"`
	ExpiresAt int64                 `json:"expiresAtMs"`
}

type expiryProbe struct {
	ExpiresAt int64 `json:"expiresAtMs"`
}

// GetResult returns a cached pair correlation, reporting false on miss or
// logical expiry. Expired entries are treated as misses even before a sweep
// physically removes them.
func (c *CorrelationCache) GetResult(ctx context.Context, userID string, pair models.Pair, tr models.TimeRange) (models.CorrelationResult, bool, error) {
	key := resultKey(userID, pair, tr)
	payload, err := c.provider.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return models.CorrelationResult{}, false, nil
	}
	if err != nil {
		return models.CorrelationResult{}, false, err
	}

	var envelope resultEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// Corrupt entries are dropped rather than surfaced.
		_ = c.provider.Del(ctx, key)
		return models.CorrelationResult{}, false, nil
	}
	if c.expired(envelope.ExpiresAt) {
		return models.CorrelationResult{}, false, nil
	}
	return envelope.Result, true, nil
}

// SetResult inserts-or-replaces the entry for the result's key.
func (c *CorrelationCache) SetResult(ctx context.Context, result models.CorrelationResult, tr models.TimeRange) error {
	key := resultKey(result.UserID, models.Pair{CauseID: result.CauseID, EffectID: result.EffectID}, tr)
	return c.put(ctx, key, resultEnvelope{
		Result:    result,
		ExpiresAt: result.ComputedAt.Add(c.ttl).UnixMilli(),
	})
}

// GetEnhanced returns a cached enhanced (individual + combinations) result.
func (c *CorrelationCache) GetEnhanced(ctx context.Context, userID, effectID string, tr models.TimeRange) (models.EnhancedResult, bool, error) {
	key := enhancedKey(userID, effectID, tr)
	payload, err := c.provider.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return models.EnhancedResult{}, false, nil
	}
	if err != nil {
		return models.EnhancedResult{}, false, err
	}

	var envelope enhancedEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		_ = c.provider.Del(ctx, key)
		return models.EnhancedResult{}, false, nil
	}
	if c.expired(envelope.ExpiresAt) {
		return models.EnhancedResult{}, false, nil
	}
	return envelope.Result, true, nil
}

// SetEnhanced inserts-or-replaces the enhanced entry for its key.
func (c *CorrelationCache) SetEnhanced(ctx context.Context, result models.EnhancedResult, tr models.TimeRange) error {
	key := enhancedKey(result.UserID, result.EffectID, tr)
	return c.put(ctx, key, enhancedEnvelope{
		Result:    result,
		ExpiresAt: result.ComputedAt.Add(c.ttl).UnixMilli(),
	})
}

// CleanupExpired physically removes all of the user's entries past expiry
// and returns the number removed.
func (c *CorrelationCache) CleanupExpired(ctx context.Context, userID string) (int, error) {
	removed := 0
	for _, prefix := range []string{resultKeyPrefix, enhancedKeyPrefix} {
		keys, err := c.provider.Scan(ctx, fmt.Sprintf("%s:%s:*", prefix, userID))
		if err != nil {
			return removed, fmt.Errorf("scan %s entries: %w", prefix, err)
		}
		for _, key := range keys {
			payload, err := c.provider.Get(ctx, key)
			if errors.Is(err, ErrCacheMiss) {
				continue
			}
			if err != nil {
				return removed, err
			}
			var probe expiryProbe
			if err := json.Unmarshal(payload, &probe); err != nil || c.expired(probe.ExpiresAt) {
				if err := c.provider.Del(ctx, key); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}

func (c *CorrelationCache) put(ctx context.Context, key string, envelope any) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	// The provider TTL is a physical backstop only; logical expiry is
	// checked against the envelope so reads never extend freshness.
	return c.provider.Set(ctx, key, payload, 2*c.ttl)
}

func (c *CorrelationCache) expired(expiresAtMs int64) bool {
	return expiresAtMs <= c.now().UnixMilli()
}

func resultKey(userID string, pair models.Pair, tr models.TimeRange) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", resultKeyPrefix, userID, pair.CauseID, pair.EffectID, tr.Tag())
}

func enhancedKey(userID, effectID string, tr models.TimeRange) string {
	return fmt.Sprintf("%s:%s:%s:%s", enhancedKeyPrefix, userID, effectID, tr.Tag())
}
