package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func journalTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/journal/food", func(w http.ResponseWriter, r *http.Request) {
		var q struct {
			UserID  string `json:"user_id"`
			StartMs int64  `json:"start_ms"`
			EndMs   int64  `json:"end_ms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			t.Errorf("bad request body: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if q.UserID != "u1" || q.StartMs >= q.EndMs {
			t.Errorf("unexpected query %+v", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{"id": "f1", "user_id": "u1", "timestamp_ms": q.StartMs + 1000, "food_ids": []string{"dairy", "bread"}, "meal_type": "lunch"},
				{"id": "f2", "timestamp_ms": q.StartMs + 2000, "food_ids": []string{"dairy"}},
			},
		})
	})
	mux.HandleFunc("/api/v1/journal/symptoms", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"events": []map[string]any{
				{"id": "s1", "user_id": "u1", "timestamp_ms": 1700000000000, "name": "bloating", "severity": 4},
			},
		})
	})
	mux.HandleFunc("/api/v1/journal/users", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"user_ids": []string{"u1", "u2"}})
	})
	return httptest.NewServer(mux)
}

func testClient(baseURL string) *JournalClient {
	return NewJournalClient(baseURL,
		"/api/v1/journal/food",
		"/api/v1/journal/symptoms",
		"/api/v1/journal/triggers",
		"/api/v1/journal/medications",
		"/api/v1/journal/users",
		2*time.Second)
}

func TestJournalClientFetchFoodEvents(t *testing.T) {
	server := journalTestServer(t)
	defer server.Close()
	client := testClient(server.URL)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := client.FetchFoodEvents(context.Background(), "u1", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Timestamp.UnixMilli() != start.UnixMilli()+1000 {
		t.Fatalf("timestamp not decoded from epoch millis: %v", events[0].Timestamp)
	}
	if len(events[0].FoodIDs) != 2 || events[0].FoodIDs[0] != "dairy" {
		t.Fatalf("food ids lost: %v", events[0].FoodIDs)
	}
	// Events without a user_id inherit the requested user.
	if events[1].UserID != "u1" {
		t.Fatalf("expected user id fallback, got %q", events[1].UserID)
	}
}

func TestJournalClientFetchSymptomEvents(t *testing.T) {
	server := journalTestServer(t)
	defer server.Close()
	client := testClient(server.URL)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	events, err := client.FetchSymptomEvents(context.Background(), "u1", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Name != "bloating" || events[0].Severity != 4 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestJournalClientListUserIDs(t *testing.T) {
	server := journalTestServer(t)
	defer server.Close()
	client := testClient(server.URL)

	users, err := client.ListUserIDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" {
		t.Fatalf("unexpected users %v", users)
	}
}

func TestJournalClientServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	client := testClient(server.URL)

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	if _, err := client.FetchFoodEvents(context.Background(), "u1", start, start.Add(time.Hour)); err == nil {
		t.Fatalf("expected error on 500 response")
	}
}

func TestJournalClientRequiresBaseURL(t *testing.T) {
	client := testClient("")
	if _, err := client.ListUserIDs(context.Background()); err == nil {
		t.Fatalf("expected error without base URL")
	}
}
