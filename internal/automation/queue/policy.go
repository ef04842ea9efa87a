package queue

import "time"

// BackoffType selects the delay shape between retry attempts
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the delay applied before re-attempting a failed item
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

// DelayFor returns the delay to wait after the given attempt number failed.
// Attempts are 1-based; exponential backoff doubles per failed attempt.
func (b Backoff) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	switch b.Type {
	case BackoffExponential:
		return b.Delay * time.Duration(uint(1)<<uint(attempt-1))
	default:
		return b.Delay
	}
}

// Policy is one queue's retry and retention configuration
type Policy struct {
	// Attempts is the total number of tries an item gets, including the first
	Attempts int
	// Backoff governs the delay between attempts
	Backoff Backoff
	// KeepCompleted and KeepFailed cap how many terminal items are retained
	// for inspection
	KeepCompleted int
	KeepFailed    int
	// Concurrency is the worker-goroutine count for the queue
	Concurrency int
	// PrefetchCount bounds unacknowledged deliveries per consumer
	PrefetchCount int
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.Backoff.Delay <= 0 {
		p.Backoff.Delay = time.Second
	}
	if p.Backoff.Type == "" {
		p.Backoff.Type = BackoffFixed
	}
	if p.Concurrency < 1 {
		p.Concurrency = 1
	}
	if p.PrefetchCount < 1 {
		p.PrefetchCount = 1
	}
	return p
}
