// Package models defines the domain types for DayLens.
package models

import "time"

// Category names one of the repeatable entry sections of a day log.
type Category string

// Entry categories.
const (
	CategoryCreate  Category = "create"
	CategoryConnect Category = "connect"
	CategoryLearn   Category = "learn"
)

// Categories lists the repeatable sections in display order.
var Categories = []Category{CategoryCreate, CategoryConnect, CategoryLearn}

// CreateEntry is something made during the day.
type CreateEntry struct {
	Description string `json:"description"`
}

// IsEmpty reports whether every text field is empty.
func (e CreateEntry) IsEmpty() bool { return e.Description == "" }

// ConnectEntry records time spent with people.
type ConnectEntry struct {
	People string `json:"people"`
	Notes  string `json:"notes"`
}

// IsEmpty reports whether every text field is empty.
func (e ConnectEntry) IsEmpty() bool { return e.People == "" && e.Notes == "" }

// LearnEntry records something studied and how.
type LearnEntry struct {
	Topic  string `json:"topic"`
	Method string `json:"method"`
}

// IsEmpty reports whether every text field is empty.
func (e LearnEntry) IsEmpty() bool { return e.Topic == "" && e.Method == "" }

// Meditate is the single meditation record of a day. Duration is in minutes.
type Meditate struct {
	Duration float64 `json:"duration"`
	Type     string  `json:"type"`
}

// DayLog is one journal record. ID is empty until the record is first persisted.
type DayLog struct {
	ID        string         `json:"id,omitempty"`
	UserID    string         `json:"userId"`
	Date      time.Time      `json:"date"`
	Create    []CreateEntry  `json:"create"`
	Connect   []ConnectEntry `json:"connect"`
	Learn     []LearnEntry   `json:"learn"`
	Meditate  Meditate       `json:"meditate"`
	Notes     string         `json:"notes"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// FindLog returns the log with the given id from logs.
func FindLog(logs []DayLog, id string) (DayLog, bool) {
	for _, l := range logs {
		if l.ID == id {
			return l, true
		}
	}
	return DayLog{}, false
}
