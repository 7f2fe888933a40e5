package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreFoodRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := models.FoodEvent{
		ID:        "f1",
		UserID:    "u1",
		Timestamp: ts,
		FoodIDs:   []string{"dairy", "bread"},
		MealType:  "lunch",
	}
	if err := store.InsertFoodEvent(ctx, event); err != nil {
		t.Fatalf("insert: %v", err)
	}

	events, err := store.FetchFoodEvents(ctx, "u1", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if !got.Timestamp.Equal(ts) || len(got.FoodIDs) != 2 || got.FoodIDs[0] != "dairy" || got.MealType != "lunch" {
		t.Fatalf("round trip mutated the event: %+v", got)
	}
}

func TestSQLiteStoreRangeIsHalfOpen(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.InsertSymptomEvent(ctx, models.SymptomEvent{
		ID: "s1", UserID: "u1", Timestamp: ts, Name: "bloating", Severity: 3,
	}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	included, err := store.FetchSymptomEvents(ctx, "u1", ts, ts.Add(time.Minute))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(included) != 1 {
		t.Fatalf("start bound is inclusive, got %d events", len(included))
	}

	excluded, err := store.FetchSymptomEvents(ctx, "u1", ts.Add(-time.Minute), ts)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(excluded) != 0 {
		t.Fatalf("end bound is exclusive, got %d events", len(excluded))
	}
}

func TestSQLiteStoreInsertOrReplace(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	event := models.TriggerEvent{ID: "t1", UserID: "u1", Timestamp: ts, TriggerID: "caffeine"}
	if err := store.InsertTriggerEvent(ctx, event); err != nil {
		t.Fatalf("insert: %v", err)
	}
	event.TriggerID = "alcohol"
	if err := store.InsertTriggerEvent(ctx, event); err != nil {
		t.Fatalf("replace: %v", err)
	}

	events, err := store.FetchTriggerEvents(ctx, "u1", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].TriggerID != "alcohol" {
		t.Fatalf("expected replaced event, got %+v", events)
	}
}

func TestSQLiteStoreListUserIDs(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.InsertFoodEvent(ctx, models.FoodEvent{ID: "f1", UserID: "u2", Timestamp: ts, FoodIDs: []string{"dairy"}})
	_ = store.InsertSymptomEvent(ctx, models.SymptomEvent{ID: "s1", UserID: "u1", Timestamp: ts, Name: "bloating", Severity: 2})
	_ = store.InsertMedicationEvent(ctx, models.MedicationEvent{ID: "m1", UserID: "u1", Timestamp: ts, MedicationID: "antacid"})

	users, err := store.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestSQLiteStoreIsolatesUsers(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = store.InsertMedicationEvent(ctx, models.MedicationEvent{ID: "m1", UserID: "u1", Timestamp: ts, MedicationID: "antacid", Dose: "10mg"})
	_ = store.InsertMedicationEvent(ctx, models.MedicationEvent{ID: "m2", UserID: "u2", Timestamp: ts, MedicationID: "antacid"})

	events, err := store.FetchMedicationEvents(ctx, "u1", ts.Add(-time.Hour), ts.Add(time.Hour))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(events) != 1 || events[0].Dose != "10mg" {
		t.Fatalf("expected only u1's event, got %+v", events)
	}
}
