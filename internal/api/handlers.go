package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/engine"
	"github.com/symptomtrace/correlation-engine/internal/models"
	"github.com/symptomtrace/correlation-engine/internal/scheduler"
	"github.com/symptomtrace/correlation-engine/internal/services"
	"github.com/symptomtrace/correlation-engine/internal/utils"
)

// DefaultTrailingWindow is applied when a request omits its time range.
const DefaultTrailingWindow = 30 * 24 * time.Hour

// BatchRunner triggers a full recalculation; implemented by the scheduler.
type BatchRunner interface {
	RunBatch(ctx context.Context) (models.BatchSummary, error)
}

// Handlers holds the HTTP endpoint implementations.
type Handlers struct {
	logger    *slog.Logger
	service   *services.CorrelationService
	store     scheduler.EventStore
	batch     BatchRunner
	cronToken string
	now       func() time.Time
}

// NewHandlers constructs the endpoint set.
func NewHandlers(logger *slog.Logger, service *services.CorrelationService, store scheduler.EventStore, batch BatchRunner, cronToken string) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:    logger,
		service:   service,
		store:     store,
		batch:     batch,
		cronToken: cronToken,
		now:       time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type windowScoreDTO struct {
	Window     string   `json:"window"`
	Score      float64  `json:"score"`
	SampleSize int      `json:"sampleSize"`
	PValue     *float64 `json:"pValue,omitempty"`
}

type correlationResultDTO struct {
	CauseID      string           `json:"causeId"`
	EffectID     string           `json:"effectId"`
	WindowScores []windowScoreDTO `json:"windowScores"`
	BestWindow   windowScoreDTO   `json:"bestWindow"`
	SampleSize   int              `json:"sampleSize"`
	ComputedAtMs int64            `json:"computedAtMs"`
}

type combinationDTO struct {
	CauseIDs         []string  `json:"causeIds"`
	EffectID         string    `json:"effectId"`
	Window           string    `json:"window"`
	JointScore       float64   `json:"jointScore"`
	SynergyScore     float64   `json:"synergyScore"`
	IndividualScores []float64 `json:"individualScores"`
	SampleSize       int       `json:"sampleSize"`
}

type enhancedResponse struct {
	UserID       string                 `json:"userId"`
	EffectID     string                 `json:"effectId"`
	Individual   []correlationResultDTO `json:"individual"`
	Combinations []combinationDTO       `json:"combinations"`
	ComputedAtMs int64                  `json:"computedAtMs"`
}

type enhancedRequestBody struct {
	UserID        string `json:"userId"`
	SymptomID     string `json:"symptomId"`
	StartMs       int64  `json:"startMs"`
	EndMs         int64  `json:"endMs"`
	MinSampleSize int    `json:"minSampleSize"`
}

// EnhancedCorrelation serves individual correlations plus combination effects
// for one symptom. Missing identifiers are a 400; internal failures are a 500
// with a generic message.
func (h *Handlers) EnhancedCorrelation(w http.ResponseWriter, r *http.Request) {
	var body enhancedRequestBody
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		query := r.URL.Query()
		body.UserID = query.Get("userId")
		body.SymptomID = query.Get("symptomId")
		body.StartMs = parseInt64(query.Get("startMs"))
		body.EndMs = parseInt64(query.Get("endMs"))
		body.MinSampleSize = int(parseInt64(query.Get("minSampleSize")))
	}

	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if body.SymptomID == "" {
		writeError(w, http.StatusBadRequest, "symptomId is required")
		return
	}
	tr, err := h.timeRange(body.StartMs, body.EndMs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.ComputeWithCombinations(r.Context(), models.EnhancedRequest{
		UserID:        body.UserID,
		EffectID:      body.SymptomID,
		TimeRange:     tr,
		MinSampleSize: body.MinSampleSize,
	})
	if err != nil {
		h.logger.Error("enhanced correlation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "correlation computation failed")
		return
	}

	writeJSON(w, http.StatusOK, toEnhancedResponse(result))
}

type pairDTO struct {
	CauseID  string `json:"causeId"`
	EffectID string `json:"effectId"`
}

type pairsRequestBody struct {
	UserID        string    `json:"userId"`
	Pairs         []pairDTO `json:"pairs"`
	StartMs       int64     `json:"startMs"`
	EndMs         int64     `json:"endMs"`
	MinSampleSize int       `json:"minSampleSize"`
}

type pairsResponse struct {
	Results []correlationResultDTO `json:"results"`
	Errors  map[string]string      `json:"errors"`
}

// CorrelationPairs computes a batch of (cause, effect) pairs. Per-pair
// failures are reported alongside the successful results.
func (h *Handlers) CorrelationPairs(w http.ResponseWriter, r *http.Request) {
	var body pairsRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if len(body.Pairs) == 0 {
		writeError(w, http.StatusBadRequest, "at least one pair is required")
		return
	}
	tr, err := h.timeRange(body.StartMs, body.EndMs)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pairs := make([]models.Pair, 0, len(body.Pairs))
	for _, p := range body.Pairs {
		if p.CauseID == "" || p.EffectID == "" {
			writeError(w, http.StatusBadRequest, "pair causeId and effectId are required")
			return
		}
		pairs = append(pairs, models.Pair{CauseID: p.CauseID, EffectID: p.EffectID})
	}

	batch, err := h.service.ComputeMultiplePairs(r.Context(), body.UserID, pairs, tr, body.MinSampleSize)
	if err != nil {
		h.logger.Error("pair batch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "correlation computation failed")
		return
	}

	response := pairsResponse{
		Results: make([]correlationResultDTO, 0, len(batch.Results)),
		Errors:  batch.Errors,
	}
	for _, result := range batch.Results {
		response.Results = append(response.Results, toResultDTO(result))
	}
	writeJSON(w, http.StatusOK, response)
}

type changePointDTO struct {
	Index int   `json:"index"`
	DayMs int64 `json:"dayMs"`
}

type regimeDTO struct {
	StartMs      int64   `json:"startMs"`
	EndMs        int64   `json:"endMs"`
	MeanSeverity float64 `json:"meanSeverity"`
}

type changePointsResponse struct {
	UserID       string           `json:"userId"`
	Symptom      string           `json:"symptom"`
	SeriesLength int              `json:"seriesLength"`
	ChangePoints []changePointDTO `json:"changePoints"`
	Regimes      []regimeDTO      `json:"regimes"`
}

// SeverityChangePoints segments the user's daily symptom severity series
// into statistically distinct regimes.
func (h *Handlers) SeverityChangePoints(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("userId")
	symptom := query.Get("symptom")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if symptom == "" {
		writeError(w, http.StatusBadRequest, "symptom is required")
		return
	}
	tr, err := h.timeRange(parseInt64(query.Get("startMs")), parseInt64(query.Get("endMs")))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	penalty := 10.0
	if raw := query.Get("penalty"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "penalty must be a non-negative number")
			return
		}
		penalty = parsed
	}

	events, err := h.store.FetchSymptomEvents(r.Context(), userID, tr.Start, tr.End)
	if err != nil {
		h.logger.Error("symptom fetch failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "trend analysis failed")
		return
	}

	series := engine.BuildDailySeverity(events, symptom)
	values := make([]float64, len(series))
	for i, point := range series {
		values[i] = point.Value
	}
	points := engine.Pelt(values, nil, penalty)
	regimes := engine.DetectSeverityRegimes(series, penalty)

	response := changePointsResponse{
		UserID:       userID,
		Symptom:      symptom,
		SeriesLength: len(series),
		ChangePoints: make([]changePointDTO, 0, len(points)),
		Regimes:      make([]regimeDTO, 0, len(regimes)),
	}
	for _, index := range points {
		response.ChangePoints = append(response.ChangePoints, changePointDTO{
			Index: index,
			DayMs: utils.EpochMillis(series[index].Day),
		})
	}
	for _, regime := range regimes {
		response.Regimes = append(response.Regimes, regimeDTO{
			StartMs:      utils.EpochMillis(regime.Start),
			EndMs:        utils.EpochMillis(regime.End),
			MeanSeverity: regime.MeanSeverity,
		})
	}
	writeJSON(w, http.StatusOK, response)
}

type batchSummaryResponse struct {
	UsersProcessed        int      `json:"usersProcessed"`
	PairsComputed         int      `json:"pairsComputed"`
	CacheEntriesCreated   int      `json:"cacheEntriesCreated"`
	ExpiredEntriesCleaned int      `json:"expiredEntriesCleaned"`
	Errors                []string `json:"errors"`
	DurationMs            int64    `json:"durationMs"`
}

// CronRecalculate runs the full batch recalculation. It requires the
// configured bearer token; unauthorized callers get a 401 and no work runs.
func (h *Handlers) CronRecalculate(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if h.batch == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	summary, err := h.batch.RunBatch(r.Context())
	if err != nil {
		h.logger.Error("cron recalculation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "recalculation failed")
		return
	}

	writeJSON(w, http.StatusOK, batchSummaryResponse{
		UsersProcessed:        summary.UsersProcessed,
		PairsComputed:         summary.PairsComputed,
		CacheEntriesCreated:   summary.CacheEntriesCreated,
		ExpiredEntriesCleaned: summary.ExpiredEntriesCleaned,
		Errors:                summary.Errors,
		DurationMs:            summary.Duration.Milliseconds(),
	})
}

// Health reports liveness and the current p95 computation latency.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"latencyP95Ms": h.service.LatencyP95().Milliseconds(),
	})
}

// NotFound renders unknown routes as structured JSON.
func (h *Handlers) NotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func (h *Handlers) authorized(r *http.Request) bool {
	if h.cronToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronToken)) == 1
}

// timeRange builds the request range, defaulting to the trailing 30 days.
func (h *Handlers) timeRange(startMs, endMs int64) (models.TimeRange, error) {
	if startMs == 0 && endMs == 0 {
		return models.TrailingRange(h.now().UTC(), DefaultTrailingWindow), nil
	}
	tr := models.TimeRange{
		Start: time.UnixMilli(startMs).UTC(),
		End:   time.UnixMilli(endMs).UTC(),
	}
	if endMs == 0 {
		tr.End = h.now().UTC()
	}
	if startMs == 0 {
		tr.Start = tr.End.Add(-DefaultTrailingWindow)
	}
	if err := tr.Validate(); err != nil {
		return models.TimeRange{}, err
	}
	return tr, nil
}

func toResultDTO(result models.CorrelationResult) correlationResultDTO {
	dto := correlationResultDTO{
		CauseID:      result.CauseID,
		EffectID:     result.EffectID,
		WindowScores: make([]windowScoreDTO, 0, len(result.WindowScores)),
		BestWindow:   toWindowScoreDTO(result.BestWindow),
		SampleSize:   result.SampleSize,
		ComputedAtMs: utils.EpochMillis(result.ComputedAt),
	}
	for _, score := range result.WindowScores {
		dto.WindowScores = append(dto.WindowScores, toWindowScoreDTO(score))
	}
	return dto
}

func toWindowScoreDTO(score models.WindowScore) windowScoreDTO {
	return windowScoreDTO{
		Window:     score.Window,
		Score:      score.Score,
		SampleSize: score.SampleSize,
		PValue:     score.PValue,
	}
}

func toEnhancedResponse(result models.EnhancedResult) enhancedResponse {
	response := enhancedResponse{
		UserID:       result.UserID,
		EffectID:     result.EffectID,
		Individual:   make([]correlationResultDTO, 0, len(result.Individual)),
		Combinations: make([]combinationDTO, 0, len(result.Combinations)),
		ComputedAtMs: utils.EpochMillis(result.ComputedAt),
	}
	for _, individual := range result.Individual {
		response.Individual = append(response.Individual, toResultDTO(individual))
	}
	for _, combination := range result.Combinations {
		response.Combinations = append(response.Combinations, combinationDTO{
			CauseIDs:         combination.CauseIDs,
			EffectID:         combination.EffectID,
			Window:           combination.Window,
			JointScore:       combination.JointScore,
			SynergyScore:     combination.SynergyScore,
			IndividualScores: combination.IndividualScores,
			SampleSize:       combination.SampleSize,
		})
	}
	return response
}

// parseInt64 treats absent or malformed values as zero; range validation
// happens downstream.
func parseInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
