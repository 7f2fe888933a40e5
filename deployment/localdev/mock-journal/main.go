package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"
)

type rangeQuery struct {
	UserID  string `json:"user_id"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

type foodEvent struct {
	ID          string   `json:"id"`
	UserID      string   `json:"user_id"`
	TimestampMs int64    `json:"timestamp_ms"`
	FoodIDs     []string `json:"food_ids"`
	MealType    string   `json:"meal_type"`
}

type symptomEvent struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	Name        string `json:"name"`
	Severity    int    `json:"severity"`
}

type triggerEvent struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	TimestampMs int64  `json:"timestamp_ms"`
	TriggerID   string `json:"trigger_id"`
}

type medicationEvent struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	TimestampMs  int64  `json:"timestamp_ms"`
	MedicationID string `json:"medication_id"`
	Dose         string `json:"dose"`
}

// seedEvents builds two weeks of journal entries where dairy meals are
// reliably followed by bloating within the two-to-four hour band, so the
// engine has a strong signal to find against a caffeine decoy.
func seedEvents(userID string) ([]foodEvent, []symptomEvent, []triggerEvent, []medicationEvent) {
	var foods []foodEvent
	var symptoms []symptomEvent
	var triggers []triggerEvent
	var medications []medicationEvent

	base := time.Now().UTC().Add(-14 * 24 * time.Hour).Truncate(time.Hour)
	for day := 0; day < 14; day++ {
		lunch := base.Add(time.Duration(day)*24*time.Hour + 12*time.Hour)
		foods = append(foods, foodEvent{
			ID:          lunch.Format("food-2006-01-02"),
			UserID:      userID,
			TimestampMs: lunch.UnixMilli(),
			FoodIDs:     []string{"dairy", "bread"},
			MealType:    "lunch",
		})
		if day%2 == 0 {
			bloat := lunch.Add(3 * time.Hour)
			symptoms = append(symptoms, symptomEvent{
				ID:          bloat.Format("sym-2006-01-02"),
				UserID:      userID,
				TimestampMs: bloat.UnixMilli(),
				Name:        "bloating",
				Severity:    3 + day%3,
			})
		}
		if day%3 == 0 {
			coffee := lunch.Add(-4 * time.Hour)
			triggers = append(triggers, triggerEvent{
				ID:          coffee.Format("trig-2006-01-02"),
				UserID:      userID,
				TimestampMs: coffee.UnixMilli(),
				TriggerID:   "caffeine",
			})
		}
		if day%4 == 0 {
			dose := lunch.Add(8 * time.Hour)
			medications = append(medications, medicationEvent{
				ID:           dose.Format("med-2006-01-02"),
				UserID:       userID,
				TimestampMs:  dose.UnixMilli(),
				MedicationID: "antacid",
				Dose:         "10mg",
			})
		}
	}
	return foods, symptoms, triggers, medications
}

func inRange(ts int64, q rangeQuery) bool {
	return ts >= q.StartMs && ts < q.EndMs
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/journal/food", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		foods, _, _, _ := seedEvents(q.UserID)
		matched := make([]foodEvent, 0, len(foods))
		for _, e := range foods {
			if inRange(e.TimestampMs, q) {
				matched = append(matched, e)
			}
		}
		writeJSON(w, map[string]any{"events": matched})
	})

	mux.HandleFunc("/api/v1/journal/symptoms", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		_, symptoms, _, _ := seedEvents(q.UserID)
		matched := make([]symptomEvent, 0, len(symptoms))
		for _, e := range symptoms {
			if inRange(e.TimestampMs, q) {
				matched = append(matched, e)
			}
		}
		writeJSON(w, map[string]any{"events": matched})
	})

	mux.HandleFunc("/api/v1/journal/triggers", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		_, _, triggers, _ := seedEvents(q.UserID)
		matched := make([]triggerEvent, 0, len(triggers))
		for _, e := range triggers {
			if inRange(e.TimestampMs, q) {
				matched = append(matched, e)
			}
		}
		writeJSON(w, map[string]any{"events": matched})
	})

	mux.HandleFunc("/api/v1/journal/medications", func(w http.ResponseWriter, r *http.Request) {
		q, ok := decodeQuery(w, r)
		if !ok {
			return
		}
		_, _, _, medications := seedEvents(q.UserID)
		matched := make([]medicationEvent, 0, len(medications))
		for _, e := range medications {
			if inRange(e.TimestampMs, q) {
				matched = append(matched, e)
			}
		}
		writeJSON(w, map[string]any{"events": matched})
	})

	mux.HandleFunc("/api/v1/journal/users", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, map[string]any{"user_ids": []string{"demo-user"}})
	})

	logger := log.New(log.Writer(), "journal-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (rangeQuery, bool) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return rangeQuery{}, false
	}
	var q rangeQuery
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return rangeQuery{}, false
	}
	return q, true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
