package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/engine"
	"github.com/symptomtrace/correlation-engine/internal/metrics"
	"github.com/symptomtrace/correlation-engine/internal/models"
	"github.com/symptomtrace/correlation-engine/internal/services"
	"github.com/symptomtrace/correlation-engine/internal/utils"
)

// EventStore extends the engine's event reads with user enumeration for the
// batch path.
type EventStore interface {
	engine.EventSource
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Scheduler decides when cached correlations are stale and recomputes them:
// periodically on a ticker, and on demand via the cron endpoint.
type Scheduler struct {
	logger        *slog.Logger
	service       *services.CorrelationService
	store         EventStore
	interval      time.Duration
	window        time.Duration
	pairCap       int
	minSampleSize int
	now           func() time.Time
}

// Config tunes a Scheduler; zero values fall back to defaults.
type Config struct {
	Interval      time.Duration
	Window        time.Duration
	PairCap       int
	MinSampleSize int
}

// New constructs a Scheduler over the orchestration service and event store.
func New(logger *slog.Logger, service *services.CorrelationService, store EventStore, cfg Config) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.Window <= 0 {
		cfg.Window = 30 * 24 * time.Hour
	}
	if cfg.PairCap <= 0 {
		cfg.PairCap = engine.DefaultMaxPairs
	}
	if cfg.MinSampleSize <= 0 {
		cfg.MinSampleSize = engine.DefaultMinSampleSize
	}
	return &Scheduler{
		logger:        logger,
		service:       service,
		store:         store,
		interval:      cfg.Interval,
		window:        cfg.Window,
		pairCap:       cfg.PairCap,
		minSampleSize: cfg.MinSampleSize,
		now:           time.Now,
	}
}

// Run executes periodic recalculation until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := s.RunBatch(ctx)
			if err != nil {
				s.logger.Error("scheduled recalculation failed", slog.Any("error", err))
				continue
			}
			s.logger.Info("scheduled recalculation finished",
				slog.Int("users", summary.UsersProcessed),
				slog.Int("pairs", summary.PairsComputed),
				slog.Int("created", summary.CacheEntriesCreated),
				slog.Int("cleaned", summary.ExpiredEntriesCleaned),
				slog.Int("errors", len(summary.Errors)),
				slog.Duration("duration", summary.Duration))
		}
	}
}

// RunBatch recalculates correlations for every known user over the trailing
// window. Per-user and per-pair failures are recorded in the summary and
// never abort the run; only user enumeration failing is fatal.
func (s *Scheduler) RunBatch(ctx context.Context) (models.BatchSummary, error) {
	start := s.now()
	summary := models.BatchSummary{Errors: make([]string, 0)}

	users, err := s.store.ListUserIDs(ctx)
	if err != nil {
		return summary, utils.NewAppError("scheduler.RunBatch", "list users", err)
	}

	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			summary.Duration = s.now().Sub(start)
			return summary, err
		}
		s.processUser(ctx, userID, &summary)
		summary.UsersProcessed++
	}

	summary.Duration = s.now().Sub(start)
	metrics.ObserveBatchRun(summary.Duration)
	return summary, nil
}

func (s *Scheduler) processUser(ctx context.Context, userID string, summary *models.BatchSummary) {
	cleaned, err := s.service.CleanupExpired(ctx, userID)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: cleanup: %v", userID, err))
	}
	summary.ExpiredEntriesCleaned += cleaned

	tr := models.TrailingRange(s.now(), s.window)
	pairs, effects, err := s.candidatePairs(ctx, userID, tr)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: candidates: %v", userID, err))
		return
	}
	if len(pairs) == 0 {
		return
	}

	batch, err := s.service.ComputeMultiplePairs(ctx, userID, pairs, tr, s.minSampleSize)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: batch: %v", userID, err))
	}
	summary.PairsComputed += len(batch.Results)
	summary.CacheEntriesCreated += batch.Computed
	for key, msg := range batch.Errors {
		summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %s: %s", userID, key, msg))
	}

	for _, effectID := range effects {
		if ctx.Err() != nil {
			return
		}
		_, err := s.service.ComputeWithCombinations(ctx, models.EnhancedRequest{
			UserID:        userID,
			EffectID:      effectID,
			TimeRange:     tr,
			MinSampleSize: s.minSampleSize,
			MaxPairs:      s.pairCap,
		})
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: combinations %s: %v", userID, effectID, err))
		}
	}
}

// candidatePairs crosses the causes and symptoms observed in range, in
// first-observed order, capped at pairCap. The deterministic cap keeps
// repeated runs comparable.
func (s *Scheduler) candidatePairs(ctx context.Context, userID string, tr models.TimeRange) ([]models.Pair, []string, error) {
	foods, err := s.store.FetchFoodEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch food events: %w", err)
	}
	triggers, err := s.store.FetchTriggerEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch trigger events: %w", err)
	}
	medications, err := s.store.FetchMedicationEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch medication events: %w", err)
	}
	symptoms, err := s.store.FetchSymptomEvents(ctx, userID, tr.Start, tr.End)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch symptom events: %w", err)
	}

	sort.SliceStable(foods, func(i, j int) bool { return foods[i].Timestamp.Before(foods[j].Timestamp) })
	sort.SliceStable(triggers, func(i, j int) bool { return triggers[i].Timestamp.Before(triggers[j].Timestamp) })
	sort.SliceStable(medications, func(i, j int) bool { return medications[i].Timestamp.Before(medications[j].Timestamp) })
	sort.SliceStable(symptoms, func(i, j int) bool { return symptoms[i].Timestamp.Before(symptoms[j].Timestamp) })

	causes := make([]string, 0)
	seenCauses := make(map[string]struct{})
	for _, event := range foods {
		for _, foodID := range event.FoodIDs {
			key := strings.ToLower(foodID)
			if _, ok := seenCauses[key]; ok {
				continue
			}
			seenCauses[key] = struct{}{}
			causes = append(causes, key)
		}
	}
	for _, event := range triggers {
		key := strings.ToLower(event.TriggerID)
		if _, ok := seenCauses[key]; ok {
			continue
		}
		seenCauses[key] = struct{}{}
		causes = append(causes, key)
	}
	for _, event := range medications {
		key := strings.ToLower(event.MedicationID)
		if _, ok := seenCauses[key]; ok {
			continue
		}
		seenCauses[key] = struct{}{}
		causes = append(causes, key)
	}

	effects := make([]string, 0)
	seenEffects := make(map[string]struct{})
	for _, event := range symptoms {
		key := strings.ToLower(event.Name)
		if _, ok := seenEffects[key]; ok {
			continue
		}
		seenEffects[key] = struct{}{}
		effects = append(effects, key)
	}

	pairs := make([]models.Pair, 0, s.pairCap)
	for _, cause := range causes {
		for _, effect := range effects {
			if len(pairs) >= s.pairCap {
				return pairs, effects, nil
			}
			pairs = append(pairs, models.Pair{CauseID: cause, EffectID: effect})
		}
	}
	return pairs, effects, nil
}
