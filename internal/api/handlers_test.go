package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/cache"
	"github.com/symptomtrace/correlation-engine/internal/engine"
	"github.com/symptomtrace/correlation-engine/internal/models"
	"github.com/symptomtrace/correlation-engine/internal/services"
)

type fakeStore struct {
	foods    []models.FoodEvent
	symptoms []models.SymptomEvent
}

func (f *fakeStore) FetchFoodEvents(_ context.Context, _ string, _, _ time.Time) ([]models.FoodEvent, error) {
	return f.foods, nil
}

func (f *fakeStore) FetchSymptomEvents(_ context.Context, _ string, _, _ time.Time) ([]models.SymptomEvent, error) {
	return f.symptoms, nil
}

func (f *fakeStore) FetchTriggerEvents(_ context.Context, _ string, _, _ time.Time) ([]models.TriggerEvent, error) {
	return nil, nil
}

func (f *fakeStore) FetchMedicationEvents(_ context.Context, _ string, _, _ time.Time) ([]models.MedicationEvent, error) {
	return nil, nil
}

func (f *fakeStore) ListUserIDs(_ context.Context) ([]string, error) {
	return []string{"u1"}, nil
}

type fakeBatch struct {
	runs    int
	summary models.BatchSummary
	err     error
}

func (f *fakeBatch) RunBatch(_ context.Context) (models.BatchSummary, error) {
	f.runs++
	return f.summary, f.err
}

func seededStore() *fakeStore {
	store := &fakeStore{}
	base := time.Now().UTC().Add(-10 * 24 * time.Hour)
	for day := 0; day < 8; day++ {
		meal := base.Add(time.Duration(day) * 24 * time.Hour)
		store.foods = append(store.foods, models.FoodEvent{
			ID: "f", UserID: "u1", Timestamp: meal, FoodIDs: []string{"dairy"},
		})
		store.symptoms = append(store.symptoms, models.SymptomEvent{
			ID: "s", UserID: "u1", Timestamp: meal.Add(3 * time.Hour), Name: "bloating", Severity: 3 + day%4,
		})
	}
	return store
}

func newTestHandlers(store *fakeStore, batch *fakeBatch, token string) *Handlers {
	computer := engine.NewComputer(nil, store)
	detector := engine.NewDetector(nil, computer)
	resultCache := cache.NewCorrelationCache(cache.NewMemoryProvider(), time.Hour)
	service := services.NewCorrelationService(nil, computer, detector, resultCache)
	return NewHandlers(nil, service, store, batch, token)
}

func TestEnhancedCorrelationRequiresUser(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/correlation/enhanced?symptomId=bloating", nil)
	rec := httptest.NewRecorder()
	h.EnhancedCorrelation(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body must be JSON: %v", err)
	}
	if body.Error == "" {
		t.Fatalf("expected an error message")
	}
}

func TestEnhancedCorrelationRequiresSymptom(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/correlation/enhanced?userId=u1", nil)
	rec := httptest.NewRecorder()
	h.EnhancedCorrelation(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestEnhancedCorrelationDefaultsRange(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/correlation/enhanced?userId=u1&symptomId=bloating", nil)
	rec := httptest.NewRecorder()
	h.EnhancedCorrelation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body enhancedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.UserID != "u1" || body.EffectID != "bloating" {
		t.Fatalf("unexpected identity fields: %+v", body)
	}
	if body.ComputedAtMs <= 0 {
		t.Fatalf("expected epoch-ms computedAt, got %d", body.ComputedAtMs)
	}
	if len(body.Individual) == 0 {
		t.Fatalf("expected individual correlations for the seeded journal")
	}
	if body.Individual[0].BestWindow.Window != "2-4h" {
		t.Fatalf("expected the 2-4h window to win, got %s", body.Individual[0].BestWindow.Window)
	}
}

func TestEnhancedCorrelationPostBody(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	payload, _ := json.Marshal(map[string]any{"userId": "u1", "symptomId": "bloating"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/correlation/enhanced", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.EnhancedCorrelation(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTimeRangeDefaults(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")
	fixed := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return fixed }

	tr, err := h.timeRange(0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.End.Equal(fixed) || !tr.Start.Equal(fixed.Add(-DefaultTrailingWindow)) {
		t.Fatalf("omitted range must trail now by the default window, got %+v", tr)
	}

	end := fixed.Add(-24 * time.Hour)
	tr, err = h.timeRange(0, end.UnixMilli())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.End.Equal(end) {
		t.Fatalf("supplied end must be kept, got %v", tr.End)
	}
	if !tr.Start.Equal(end.Add(-DefaultTrailingWindow)) {
		t.Fatalf("omitted start must trail the supplied end, got %v", tr.Start)
	}

	start := fixed.Add(-48 * time.Hour)
	tr, err = h.timeRange(start.UnixMilli(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !tr.Start.Equal(start) || !tr.End.Equal(fixed) {
		t.Fatalf("omitted end must default to now, got %+v", tr)
	}
}

func TestEnhancedCorrelationRejectsInvertedRange(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/correlation/enhanced?userId=u1&symptomId=bloating&startMs=2000&endMs=1000", nil)
	rec := httptest.NewRecorder()
	h.EnhancedCorrelation(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", rec.Code)
	}
}

func TestCorrelationPairsBatch(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	payload, _ := json.Marshal(map[string]any{
		"userId": "u1",
		"pairs": []map[string]string{
			{"causeId": "dairy", "effectId": "bloating"},
			{"causeId": "gluten", "effectId": "bloating"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/correlation/pairs", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.CorrelationPairs(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body pairsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(body.Results))
	}
}

func TestCorrelationPairsRequiresPairs(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	payload, _ := json.Marshal(map[string]any{"userId": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/correlation/pairs", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	h.CorrelationPairs(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty pair list, got %d", rec.Code)
	}
}

func TestSeverityChangePoints(t *testing.T) {
	store := &fakeStore{}
	base := time.Now().UTC().Add(-40 * 24 * time.Hour)
	for day := 0; day < 40; day++ {
		severity := 2
		if day >= 20 {
			severity = 8
		}
		store.symptoms = append(store.symptoms, models.SymptomEvent{
			ID: "s", UserID: "u1", Timestamp: base.Add(time.Duration(day) * 24 * time.Hour),
			Name: "headache", Severity: severity,
		})
	}
	h := newTestHandlers(store, &fakeBatch{}, "secret")

	startMs := strconv.FormatInt(base.Add(-time.Hour).UnixMilli(), 10)
	endMs := strconv.FormatInt(time.Now().UTC().UnixMilli(), 10)
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/trends/changepoints?userId=u1&symptom=headache&startMs="+startMs+"&endMs="+endMs, nil)
	rec := httptest.NewRecorder()
	h.SeverityChangePoints(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body changePointsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.SeriesLength != 40 {
		t.Fatalf("expected 40 daily buckets, got %d", body.SeriesLength)
	}
	if len(body.ChangePoints) != 1 {
		t.Fatalf("expected one change point, got %v", body.ChangePoints)
	}
	if len(body.Regimes) != 2 {
		t.Fatalf("expected two regimes, got %d", len(body.Regimes))
	}
	if body.Regimes[0].MeanSeverity >= body.Regimes[1].MeanSeverity {
		t.Fatalf("expected severity to rise across the change point: %+v", body.Regimes)
	}
}

func TestSeverityChangePointsRequiresParams(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trends/changepoints?symptom=headache", nil)
	rec := httptest.NewRecorder()
	h.SeverityChangePoints(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without userId, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/trends/changepoints?userId=u1", nil)
	rec = httptest.NewRecorder()
	h.SeverityChangePoints(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without symptom, got %d", rec.Code)
	}
}

func TestCronRecalculateRequiresToken(t *testing.T) {
	batch := &fakeBatch{}
	h := newTestHandlers(seededStore(), batch, "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/recalculate", nil)
	rec := httptest.NewRecorder()
	h.CronRecalculate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if batch.runs != 0 {
		t.Fatalf("unauthorized request must not trigger processing")
	}
}

func TestCronRecalculateRejectsWrongToken(t *testing.T) {
	batch := &fakeBatch{}
	h := newTestHandlers(seededStore(), batch, "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/recalculate", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.CronRecalculate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong token, got %d", rec.Code)
	}
	if batch.runs != 0 {
		t.Fatalf("unauthorized request must not trigger processing")
	}
}

func TestCronRecalculateRunsBatch(t *testing.T) {
	batch := &fakeBatch{summary: models.BatchSummary{
		UsersProcessed: 3,
		PairsComputed:  12,
		Errors:         []string{},
		Duration:       1500 * time.Millisecond,
	}}
	h := newTestHandlers(seededStore(), batch, "secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/recalculate", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.CronRecalculate(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if batch.runs != 1 {
		t.Fatalf("expected one batch run, got %d", batch.runs)
	}
	var body batchSummaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body.UsersProcessed != 3 || body.PairsComputed != 12 || body.DurationMs != 1500 {
		t.Fatalf("unexpected summary %+v", body)
	}
}

func TestCronRecalculateWithoutConfiguredToken(t *testing.T) {
	batch := &fakeBatch{}
	h := newTestHandlers(seededStore(), batch, "")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cron/recalculate", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.CronRecalculate(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing configured token must reject every caller, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandlers(seededStore(), &fakeBatch{}, "secret")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
