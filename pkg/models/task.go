package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a try-on task as seen by polling clients.
type TaskStatus string

const (
	TaskStatusProcessing TaskStatus = "Processing"
	TaskStatusCompleted  TaskStatus = "Completed"
	TaskStatusError      TaskStatus = "Error"
)

// TaskRecord is the value persisted in the status store for one task.
// Exactly one of the shapes {Processing}, {Completed, URL}, {Error, Error} is valid.
type TaskRecord struct {
	Status TaskStatus `json:"status"`
	URL    string     `json:"url,omitempty"`
	Error  string     `json:"error,omitempty"`
}

func ProcessingRecord() TaskRecord {
	return TaskRecord{Status: TaskStatusProcessing}
}

func CompletedRecord(url string) TaskRecord {
	return TaskRecord{Status: TaskStatusCompleted, URL: url}
}

func ErrorRecord(reason string) TaskRecord {
	return TaskRecord{Status: TaskStatusError, Error: reason}
}

// Valid reports whether the record has one of the three allowed shapes.
func (r TaskRecord) Valid() bool {
	switch r.Status {
	case TaskStatusProcessing:
		return r.URL == "" && r.Error == ""
	case TaskStatusCompleted:
		return r.URL != "" && r.Error == ""
	case TaskStatusError:
		return r.Error != "" && r.URL == ""
	default:
		return false
	}
}

// Terminal reports whether no further transitions are expected.
func (r TaskRecord) Terminal() bool {
	return r.Status == TaskStatusCompleted || r.Status == TaskStatusError
}

// Task is the durable history row for a try-on task.
type Task struct {
	ID              uuid.UUID  `db:"id"               json:"id"`
	Status          TaskStatus `db:"status"           json:"status"`
	PersonFilename  string     `db:"person_filename"  json:"person_filename"`
	GarmentFilename string     `db:"garment_filename" json:"garment_filename"`
	ResultURL       *string    `db:"result_url"       json:"result_url,omitempty"`
	ErrorMessage    *string    `db:"error_message"    json:"error_message,omitempty"`
	StartedAt       *time.Time `db:"started_at"       json:"started_at,omitempty"`
	CompletedAt     *time.Time `db:"completed_at"     json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"       json:"updated_at"`
}

// Record projects the history row onto the status store shape.
func (t *Task) Record() TaskRecord {
	switch t.Status {
	case TaskStatusCompleted:
		if t.ResultURL != nil {
			return CompletedRecord(*t.ResultURL)
		}
	case TaskStatusError:
		if t.ErrorMessage != nil {
			return ErrorRecord(*t.ErrorMessage)
		}
		return ErrorRecord("UnknownError")
	}
	return TaskRecord{Status: t.Status}
}
