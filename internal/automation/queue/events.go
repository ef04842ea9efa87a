package queue

import "time"

// EventType identifies a queue lifecycle event
type EventType string

const (
	// EventCompleted is a successful terminal outcome
	EventCompleted EventType = "completed"
	// EventFailed is a terminal failure after exhausting all attempts
	EventFailed EventType = "failed"
	// EventStalled is a redelivered item whose previous worker died mid-processing
	EventStalled EventType = "stalled"
	// EventProgress is a processor-reported percentage, advisory only
	EventProgress EventType = "progress"
)

// Event is surfaced to subscribed listeners for every queue lifecycle event.
// Listeners must not block; they run on worker goroutines.
type Event struct {
	Type             EventType
	Queue            string
	JobName          string
	JobID            int64
	ExecutionID      string
	Attempt          int
	DurationMs       int64
	RecordsProcessed int
	Progress         int
	ErrorMessage     string
	Timestamp        time.Time
}

// Listener handles queue events
type Listener func(Event)

// RetainedItem is a terminal queue item kept for inspection, capped per
// queue by the retention policy.
type RetainedItem struct {
	JobName          string    `json:"job_name"`
	JobID            int64     `json:"job_id"`
	ExecutionID      string    `json:"execution_id"`
	Attempt          int       `json:"attempt"`
	DurationMs       int64     `json:"duration_ms"`
	RecordsProcessed int       `json:"records_processed"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	FinishedAt       time.Time `json:"finished_at"`
}

// Status is a point-in-time snapshot of one queue's counters. Waiting and
// Active are gauges; Completed and Failed are totals since process start.
type Status struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
