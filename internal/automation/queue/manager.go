package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is one unit of work handed to a processor
type Item struct {
	Queue       string
	JobName     string
	JobID       int64
	ExecutionID string
	Payload     map[string]any
	Attempt     int
	progress    func(int)
}

// ReportProgress surfaces an advisory completion percentage to event listeners
func (it *Item) ReportProgress(pct int) {
	if it.progress != nil {
		it.progress(pct)
	}
}

// Processor performs the actual unit of work for one (queue, job name) pair.
// It returns how many records it processed; a non-nil error triggers the
// queue's retry policy. Processors may run concurrently with each other and
// must not assume exclusive access to shared state.
type Processor func(ctx context.Context, item *Item) (recordsProcessed int, err error)

// envelope is the wire format of a queue item
type envelope struct {
	JobID       int64          `json:"job_id"`
	JobName     string         `json:"job_name"`
	ExecutionID string         `json:"execution_id"`
	Payload     map[string]any `json:"payload"`
	Attempt     int            `json:"attempt"`
	EnqueuedAt  time.Time      `json:"enqueued_at"`
}

// Manager owns the fixed set of named work queues
type Manager struct {
	logger *slog.Logger
	broker Broker

	mu     sync.RWMutex
	queues map[string]*Queue

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewManager creates a queue manager over the given broker
func NewManager(broker Broker, logger *slog.Logger) *Manager {
	return &Manager{
		logger: logger,
		broker: broker,
		queues: make(map[string]*Queue),
	}
}

// Register instantiates a named queue with its retry and retention policy.
// Registering twice with the same name replaces the policy of an unstarted
// queue; it must happen before Start.
func (m *Manager) Register(name string, policy Policy) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := newQueue(name, policy, m)
	m.queues[name] = q
	return q
}

// RegisterProcessor binds a processor function to a job name within a queue
func (m *Manager) RegisterProcessor(queueName, jobName string, p Processor) error {
	m.mu.RLock()
	q, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue '%s' not registered", queueName)
	}
	return q.registerProcessor(jobName, p)
}

// Enqueue publishes a new item onto the named queue
func (m *Manager) Enqueue(ctx context.Context, queueName, jobName string, jobID int64, executionID string, payload map[string]any) error {
	m.mu.RLock()
	q, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue '%s' not registered", queueName)
	}

	env := envelope{
		JobID:       jobID,
		JobName:     jobName,
		ExecutionID: executionID,
		Payload:     payload,
		Attempt:     1,
		EnqueuedAt:  time.Now(),
	}
	return q.publish(ctx, env)
}

// Subscribe adds an event listener. Must be called before Start.
func (m *Manager) Subscribe(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) emit(ev Event) {
	m.listenerMu.RLock()
	listeners := m.listeners
	m.listenerMu.RUnlock()

	for _, l := range listeners {
		l(ev)
	}
}

// Start begins consuming on every registered queue. It returns once all
// consumers are up; workers run until ctx is canceled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, q := range m.queues {
		tag := fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
		if err := q.start(ctx, tag); err != nil {
			return fmt.Errorf("failed to start queue %s: %w", name, err)
		}
	}

	m.logger.Info("Work queues started",
		slog.Int("queue_count", len(m.queues)),
	)
	return nil
}

// Stop stops every queue's workers and cancels pending retry timers,
// waiting for in-flight items to finish.
func (m *Manager) Stop() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, q := range m.queues {
		q.stop()
	}

	m.logger.Info("Work queues stopped")
}

// Status returns a snapshot of every queue's counters keyed by queue name
func (m *Manager) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.queues))
	for name, q := range m.queues {
		out[name] = q.status()
	}
	return out
}

// RetainedItems returns the retained terminal items of the named queue,
// most recent last.
func (m *Manager) RetainedItems(queueName string) (completed, failed []RetainedItem, err error) {
	m.mu.RLock()
	q, ok := m.queues[queueName]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("queue '%s' not registered", queueName)
	}
	completed, failed = q.retained()
	return completed, failed, nil
}

func marshalEnvelope(env envelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queue item: %w", err)
	}
	return body, nil
}
