package models

import "time"

// FoodEvent records a logged meal. A single event may contain several foods.
type FoodEvent struct {
	ID        string
	UserID    string
	Timestamp time.Time
	FoodIDs   []string
	MealType  string
}

// SymptomEvent records a symptom occurrence with its severity (1-10).
type SymptomEvent struct {
	ID        string
	UserID    string
	Timestamp time.Time
	Name      string
	Severity  int
}

// TriggerEvent records an environmental or lifestyle trigger (stress, weather, exercise).
type TriggerEvent struct {
	ID        string
	UserID    string
	Timestamp time.Time
	TriggerID string
}

// MedicationEvent records a medication intake.
type MedicationEvent struct {
	ID           string
	UserID       string
	Timestamp    time.Time
	MedicationID string
	Dose         string
}
