package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/symptomtrace/correlation-engine/internal/models"
)

// JournalClient reads event slices from the sync journal service that the
// tracking app writes into. Payload decoding happens here, once, at the
// boundary; the rest of the core only sees typed events.
type JournalClient struct {
	baseURL        string
	foodPath       string
	symptomPath    string
	triggerPath    string
	medicationPath string
	usersPath      string
	httpClient     *http.Client
}

// NewJournalClient constructs a client targeting the configured journal instance.
func NewJournalClient(baseURL, foodPath, symptomPath, triggerPath, medicationPath, usersPath string, timeout time.Duration) *JournalClient {
	return &JournalClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		foodPath:       foodPath,
		symptomPath:    symptomPath,
		triggerPath:    triggerPath,
		medicationPath: medicationPath,
		usersPath:      usersPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type rangeQuery struct {
	UserID  string `json:"user_id"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
}

// FetchFoodEvents queries the journal for meals logged in [start, end).
func (c *JournalClient) FetchFoodEvents(ctx context.Context, userID string, start, end time.Time) ([]models.FoodEvent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		Events []struct {
			ID          string   `json:"id"`
			UserID      string   `json:"user_id"`
			TimestampMs int64    `json:"timestamp_ms"`
			FoodIDs     []string `json:"food_ids"`
			MealType    string   `json:"meal_type"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.foodPath), rangeQuery{UserID: userID, StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}, &response); err != nil {
		return nil, fmt.Errorf("journal food request failed: %w", err)
	}

	events := make([]models.FoodEvent, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, models.FoodEvent{
			ID:        e.ID,
			UserID:    firstNonEmpty(e.UserID, userID),
			Timestamp: time.UnixMilli(e.TimestampMs).UTC(),
			FoodIDs:   append([]string(nil), e.FoodIDs...),
			MealType:  e.MealType,
		})
	}
	return events, nil
}

// FetchSymptomEvents queries the journal for symptom instances in [start, end).
func (c *JournalClient) FetchSymptomEvents(ctx context.Context, userID string, start, end time.Time) ([]models.SymptomEvent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		Events []struct {
			ID          string `json:"id"`
			UserID      string `json:"user_id"`
			TimestampMs int64  `json:"timestamp_ms"`
			Name        string `json:"name"`
			Severity    int    `json:"severity"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.symptomPath), rangeQuery{UserID: userID, StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}, &response); err != nil {
		return nil, fmt.Errorf("journal symptom request failed: %w", err)
	}

	events := make([]models.SymptomEvent, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, models.SymptomEvent{
			ID:        e.ID,
			UserID:    firstNonEmpty(e.UserID, userID),
			Timestamp: time.UnixMilli(e.TimestampMs).UTC(),
			Name:      e.Name,
			Severity:  e.Severity,
		})
	}
	return events, nil
}

// FetchTriggerEvents queries the journal for trigger logs in [start, end).
func (c *JournalClient) FetchTriggerEvents(ctx context.Context, userID string, start, end time.Time) ([]models.TriggerEvent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		Events []struct {
			ID          string `json:"id"`
			UserID      string `json:"user_id"`
			TimestampMs int64  `json:"timestamp_ms"`
			TriggerID   string `json:"trigger_id"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.triggerPath), rangeQuery{UserID: userID, StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}, &response); err != nil {
		return nil, fmt.Errorf("journal trigger request failed: %w", err)
	}

	events := make([]models.TriggerEvent, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, models.TriggerEvent{
			ID:        e.ID,
			UserID:    firstNonEmpty(e.UserID, userID),
			Timestamp: time.UnixMilli(e.TimestampMs).UTC(),
			TriggerID: e.TriggerID,
		})
	}
	return events, nil
}

// FetchMedicationEvents queries the journal for medication intakes in [start, end).
func (c *JournalClient) FetchMedicationEvents(ctx context.Context, userID string, start, end time.Time) ([]models.MedicationEvent, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		Events []struct {
			ID           string `json:"id"`
			UserID       string `json:"user_id"`
			TimestampMs  int64  `json:"timestamp_ms"`
			MedicationID string `json:"medication_id"`
			Dose         string `json:"dose"`
		} `json:"events"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.medicationPath), rangeQuery{UserID: userID, StartMs: start.UnixMilli(), EndMs: end.UnixMilli()}, &response); err != nil {
		return nil, fmt.Errorf("journal medication request failed: %w", err)
	}

	events := make([]models.MedicationEvent, 0, len(response.Events))
	for _, e := range response.Events {
		events = append(events, models.MedicationEvent{
			ID:           e.ID,
			UserID:       firstNonEmpty(e.UserID, userID),
			Timestamp:    time.UnixMilli(e.TimestampMs).UTC(),
			MedicationID: e.MedicationID,
			Dose:         e.Dose,
		})
	}
	return events, nil
}

// ListUserIDs returns every user known to the journal, for the batch path.
func (c *JournalClient) ListUserIDs(ctx context.Context) ([]string, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}

	var response struct {
		UserIDs []string `json:"user_ids"`
	}
	if err := c.postJSON(ctx, c.resolvePath(c.usersPath), struct{}{}, &response); err != nil {
		return nil, fmt.Errorf("journal users request failed: %w", err)
	}
	return response.UserIDs, nil
}

func (c *JournalClient) ready() error {
	if c == nil {
		return fmt.Errorf("journal client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("journal base URL not configured")
	}
	return nil
}

func (c *JournalClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *JournalClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("journal returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
