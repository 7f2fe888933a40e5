package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

// Schema for the local event journal used by offline-first, single-box
// installs where no journal service is reachable.
const schema = `
CREATE TABLE IF NOT EXISTS food_events (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    timestamp_ms  INTEGER NOT NULL,
    food_ids      TEXT NOT NULL,
    meal_type     TEXT
);

CREATE TABLE IF NOT EXISTS symptom_events (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    timestamp_ms  INTEGER NOT NULL,
    name          TEXT NOT NULL,
    severity      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trigger_events (
    id            TEXT PRIMARY KEY,
    user_id       TEXT NOT NULL,
    timestamp_ms  INTEGER NOT NULL,
    trigger_id    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS medication_events (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL,
    timestamp_ms   INTEGER NOT NULL,
    medication_id  TEXT NOT NULL,
    dose           TEXT
);

CREATE INDEX IF NOT EXISTS idx_food_user_time ON food_events(user_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_symptom_user_time ON symptom_events(user_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_trigger_user_time ON trigger_events(user_id, timestamp_ms);
CREATE INDEX IF NOT EXISTS idx_medication_user_time ON medication_events(user_id, timestamp_ms);
`

// SQLiteStore is a local SQLite event journal.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// InsertFoodEvent stores a meal record.
func (s *SQLiteStore) InsertFoodEvent(ctx context.Context, event models.FoodEvent) error {
	foodIDs, err := json.Marshal(event.FoodIDs)
	if err != nil {
		return fmt.Errorf("encode food ids: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO food_events (id, user_id, timestamp_ms, food_ids, meal_type) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Timestamp.UnixMilli(), string(foodIDs), event.MealType)
	return err
}

// InsertSymptomEvent stores a symptom instance.
func (s *SQLiteStore) InsertSymptomEvent(ctx context.Context, event models.SymptomEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO symptom_events (id, user_id, timestamp_ms, name, severity) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Timestamp.UnixMilli(), event.Name, event.Severity)
	return err
}

// InsertTriggerEvent stores a trigger log.
func (s *SQLiteStore) InsertTriggerEvent(ctx context.Context, event models.TriggerEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO trigger_events (id, user_id, timestamp_ms, trigger_id) VALUES (?, ?, ?, ?)`,
		event.ID, event.UserID, event.Timestamp.UnixMilli(), event.TriggerID)
	return err
}

// InsertMedicationEvent stores a medication intake.
func (s *SQLiteStore) InsertMedicationEvent(ctx context.Context, event models.MedicationEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO medication_events (id, user_id, timestamp_ms, medication_id, dose) VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.Timestamp.UnixMilli(), event.MedicationID, event.Dose)
	return err
}

// FetchFoodEvents returns the user's meals in [start, end).
func (s *SQLiteStore) FetchFoodEvents(ctx context.Context, userID string, start, end time.Time) ([]models.FoodEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, timestamp_ms, food_ids, meal_type FROM food_events
		 WHERE user_id = ? AND timestamp_ms >= ? AND timestamp_ms < ? ORDER BY timestamp_ms`,
		userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query food events: %w", err)
	}
	defer rows.Close()

	events := make([]models.FoodEvent, 0)
	for rows.Next() {
		var (
			event    models.FoodEvent
			ts       int64
			foodIDs  string
			mealType sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.UserID, &ts, &foodIDs, &mealType); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(foodIDs), &event.FoodIDs); err != nil {
			return nil, fmt.Errorf("decode food ids for event %s: %w", event.ID, err)
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		event.MealType = mealType.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// FetchSymptomEvents returns the user's symptom instances in [start, end).
func (s *SQLiteStore) FetchSymptomEvents(ctx context.Context, userID string, start, end time.Time) ([]models.SymptomEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, timestamp_ms, name, severity FROM symptom_events
		 WHERE user_id = ? AND timestamp_ms >= ? AND timestamp_ms < ? ORDER BY timestamp_ms`,
		userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query symptom events: %w", err)
	}
	defer rows.Close()

	events := make([]models.SymptomEvent, 0)
	for rows.Next() {
		var (
			event models.SymptomEvent
			ts    int64
		)
		if err := rows.Scan(&event.ID, &event.UserID, &ts, &event.Name, &event.Severity); err != nil {
			return nil, err
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

// FetchTriggerEvents returns the user's trigger logs in [start, end).
func (s *SQLiteStore) FetchTriggerEvents(ctx context.Context, userID string, start, end time.Time) ([]models.TriggerEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, timestamp_ms, trigger_id FROM trigger_events
		 WHERE user_id = ? AND timestamp_ms >= ? AND timestamp_ms < ? ORDER BY timestamp_ms`,
		userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query trigger events: %w", err)
	}
	defer rows.Close()

	events := make([]models.TriggerEvent, 0)
	for rows.Next() {
		var (
			event models.TriggerEvent
			ts    int64
		)
		if err := rows.Scan(&event.ID, &event.UserID, &ts, &event.TriggerID); err != nil {
			return nil, err
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		events = append(events, event)
	}
	return events, rows.Err()
}

// FetchMedicationEvents returns the user's medication intakes in [start, end).
func (s *SQLiteStore) FetchMedicationEvents(ctx context.Context, userID string, start, end time.Time) ([]models.MedicationEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, timestamp_ms, medication_id, dose FROM medication_events
		 WHERE user_id = ? AND timestamp_ms >= ? AND timestamp_ms < ? ORDER BY timestamp_ms`,
		userID, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query medication events: %w", err)
	}
	defer rows.Close()

	events := make([]models.MedicationEvent, 0)
	for rows.Next() {
		var (
			event models.MedicationEvent
			ts    int64
			dose  sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.UserID, &ts, &event.MedicationID, &dose); err != nil {
			return nil, err
		}
		event.Timestamp = time.UnixMilli(ts).UTC()
		event.Dose = dose.String
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListUserIDs returns every user with at least one event of any kind.
func (s *SQLiteStore) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM food_events
		 UNION SELECT user_id FROM symptom_events
		 UNION SELECT user_id FROM trigger_events
		 UNION SELECT user_id FROM medication_events
		 ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}
