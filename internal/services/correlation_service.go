package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/cache"
	"github.com/symptomtrace/correlation-engine/internal/engine"
	"github.com/symptomtrace/correlation-engine/internal/metrics"
	"github.com/symptomtrace/correlation-engine/internal/models"
	"github.com/symptomtrace/correlation-engine/internal/utils"
)

// CorrelationService fans correlation requests out to the engine with
// cache-first lookups and per-key single-flight deduplication: at most one
// computation runs for a (user, cause, effect, range) key at any moment, and
// concurrent callers for that key all observe the same result.
type CorrelationService struct {
	logger    *slog.Logger
	computer  *engine.Computer
	detector  *engine.Detector
	cache     *cache.CorrelationCache
	latencies *utils.LatencyTracker

	mu               sync.Mutex
	inflightPairs    map[string]*pairCall
	inflightEnhanced map[string]*enhancedCall
}

type pairCall struct {
	done   chan struct{}
	result models.CorrelationResult
	err    error
}

type enhancedCall struct {
	done   chan struct{}
	result models.EnhancedResult
	err    error
}

// NewCorrelationService constructs the orchestration facade. The cache is
// injected; single-flight state is private to this instance.
func NewCorrelationService(logger *slog.Logger, computer *engine.Computer, detector *engine.Detector, resultCache *cache.CorrelationCache) *CorrelationService {
	if logger == nil {
		logger = slog.Default()
	}
	if resultCache == nil {
		resultCache = cache.NewCorrelationCache(cache.NoopProvider{}, 0)
	}
	return &CorrelationService{
		logger:           logger,
		computer:         computer,
		detector:         detector,
		cache:            resultCache,
		latencies:        utils.NewLatencyTracker(1024),
		inflightPairs:    make(map[string]*pairCall),
		inflightEnhanced: make(map[string]*enhancedCall),
	}
}

// ComputePair computes (or serves from cache) a single pair correlation.
func (s *CorrelationService) ComputePair(ctx context.Context, req models.CorrelationRequest) (models.CorrelationResult, error) {
	result, _, err := s.computePair(ctx, req)
	return result, err
}

// ComputeMultiplePairs processes each requested pair independently. A pair's
// failure is recorded and does not abort its siblings. Completion order is
// unspecified; callers correlate by (CauseID, EffectID). The context is
// checked between pairs so an external deadline still yields the portion
// already computed, alongside the context error.
func (s *CorrelationService) ComputeMultiplePairs(ctx context.Context, userID string, pairs []models.Pair, tr models.TimeRange, minSampleSize int) (models.BatchResult, error) {
	batch := models.BatchResult{
		Results: make([]models.CorrelationResult, 0, len(pairs)),
		Errors:  make(map[string]string),
	}
	if userID == "" {
		return batch, fmt.Errorf("user id is required")
	}
	if err := tr.Validate(); err != nil {
		return batch, err
	}

	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			return batch, err
		}
		result, computed, err := s.computePair(ctx, models.CorrelationRequest{
			UserID:        userID,
			Pair:          pair,
			TimeRange:     tr,
			MinSampleSize: minSampleSize,
		})
		if err != nil {
			batch.Errors[pair.Key()] = err.Error()
			continue
		}
		if computed {
			batch.Computed++
		}
		batch.Results = append(batch.Results, result)
	}
	return batch, nil
}

// ComputeWithCombinations serves the enhanced (individual + combinations)
// result for an effect, cache-first with single-flight per key.
func (s *CorrelationService) ComputeWithCombinations(ctx context.Context, req models.EnhancedRequest) (models.EnhancedResult, error) {
	if req.UserID == "" {
		return models.EnhancedResult{}, fmt.Errorf("user id is required")
	}
	if req.EffectID == "" {
		return models.EnhancedResult{}, fmt.Errorf("effect id is required")
	}
	if err := req.TimeRange.Validate(); err != nil {
		return models.EnhancedResult{}, err
	}

	cached, ok, err := s.cache.GetEnhanced(ctx, req.UserID, req.EffectID, req.TimeRange)
	if err != nil {
		s.logger.Warn("enhanced cache read failed", slog.Any("error", err))
	}
	if ok {
		metrics.ObserveCache(metrics.CacheHit)
		return cached, nil
	}
	metrics.ObserveCache(metrics.CacheMiss)

	key := "enhanced:" + req.UserID + ":" + req.EffectID + ":" + req.TimeRange.Tag()

	s.mu.Lock()
	if call, running := s.inflightEnhanced[key]; running {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.result, call.err
		case <-ctx.Done():
			return models.EnhancedResult{}, ctx.Err()
		}
	}
	call := &enhancedCall{done: make(chan struct{})}
	s.inflightEnhanced[key] = call
	s.mu.Unlock()

	call.result, call.err = s.computeEnhanced(ctx, req)

	// The key is cleared on failure too, so a transient error never wedges it.
	s.mu.Lock()
	delete(s.inflightEnhanced, key)
	s.mu.Unlock()
	close(call.done)

	return call.result, call.err
}

func (s *CorrelationService) computeEnhanced(ctx context.Context, req models.EnhancedRequest) (models.EnhancedResult, error) {
	if s.detector == nil {
		return models.EnhancedResult{}, fmt.Errorf("combination detector not configured")
	}

	start := time.Now()
	result, err := s.detector.ComputeWithCombinations(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveComputation(duration, metrics.OutcomeError)
		return models.EnhancedResult{}, err
	}
	metrics.ObserveComputation(duration, metrics.OutcomeSuccess)
	s.observeLatency(duration)

	if err := s.cache.SetEnhanced(ctx, result, req.TimeRange); err != nil {
		s.logger.Warn("enhanced cache write failed", slog.Any("error", err))
	}
	return result, nil
}

// computePair reports whether the result was freshly computed (vs cached).
func (s *CorrelationService) computePair(ctx context.Context, req models.CorrelationRequest) (models.CorrelationResult, bool, error) {
	if s.computer == nil {
		return models.CorrelationResult{}, false, fmt.Errorf("correlation computer not configured")
	}

	cached, ok, err := s.cache.GetResult(ctx, req.UserID, req.Pair, req.TimeRange)
	if err != nil {
		s.logger.Warn("cache read failed", slog.Any("error", err))
	}
	if ok {
		metrics.ObserveCache(metrics.CacheHit)
		return cached, false, nil
	}
	metrics.ObserveCache(metrics.CacheMiss)

	key := req.UserID + ":" + req.Pair.Key() + ":" + req.TimeRange.Tag()

	s.mu.Lock()
	if call, running := s.inflightPairs[key]; running {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.result, false, call.err
		case <-ctx.Done():
			return models.CorrelationResult{}, false, ctx.Err()
		}
	}
	call := &pairCall{done: make(chan struct{})}
	s.inflightPairs[key] = call
	s.mu.Unlock()

	start := time.Now()
	call.result, call.err = s.computer.Compute(ctx, req)
	duration := time.Since(start)

	if call.err == nil {
		metrics.ObserveComputation(duration, metrics.OutcomeSuccess)
		s.observeLatency(duration)
		if err := s.cache.SetResult(ctx, call.result, req.TimeRange); err != nil {
			s.logger.Warn("cache write failed", slog.Any("error", err))
		}
	} else {
		metrics.ObserveComputation(duration, metrics.OutcomeError)
	}

	s.mu.Lock()
	delete(s.inflightPairs, key)
	s.mu.Unlock()
	close(call.done)

	return call.result, call.err == nil, call.err
}

// CleanupExpired sweeps the user's expired cache entries.
func (s *CorrelationService) CleanupExpired(ctx context.Context, userID string) (int, error) {
	return s.cache.CleanupExpired(ctx, userID)
}

func (s *CorrelationService) observeLatency(duration time.Duration) {
	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("correlation latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
}

// LatencyP95 returns the current p95 computation latency.
func (s *CorrelationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}
