package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clms-dev/automation-be/internal/automation/domain"
)

// Queue is one named, durable FIFO work queue with its own retry policy,
// retention policy, and worker pool.
type Queue struct {
	name    string
	policy  Policy
	manager *Manager
	logger  *slog.Logger

	procMu     sync.RWMutex
	processors map[string]Processor

	waiting        atomic.Int64
	active         atomic.Int64
	completedCount atomic.Int64
	failedCount    atomic.Int64

	retainMu       sync.Mutex
	completedItems []RetainedItem
	failedItems    []RetainedItem

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopChan chan struct{}

	timerMu     sync.Mutex
	retryTimers map[*time.Timer]struct{}
	stopped     bool
}

func newQueue(name string, policy Policy, m *Manager) *Queue {
	return &Queue{
		name:        name,
		policy:      policy.normalized(),
		manager:     m,
		logger:      m.logger.With(slog.String("queue", name)),
		processors:  make(map[string]Processor),
		stopChan:    make(chan struct{}),
		retryTimers: make(map[*time.Timer]struct{}),
	}
}

func (q *Queue) registerProcessor(jobName string, p Processor) error {
	q.procMu.Lock()
	defer q.procMu.Unlock()

	if _, exists := q.processors[jobName]; exists {
		return fmt.Errorf("processor '%s' already registered on queue '%s'", jobName, q.name)
	}
	q.processors[jobName] = p
	return nil
}

func (q *Queue) processor(jobName string) (Processor, bool) {
	q.procMu.RLock()
	defer q.procMu.RUnlock()
	p, ok := q.processors[jobName]
	return p, ok
}

func (q *Queue) publish(ctx context.Context, env envelope) error {
	body, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	if err := q.manager.broker.Publish(ctx, q.name, body); err != nil {
		return fmt.Errorf("failed to enqueue onto %s: %w", q.name, err)
	}

	q.waiting.Add(1)
	q.logger.Debug("Item enqueued",
		slog.String("job_name", env.JobName),
		slog.String("execution_id", env.ExecutionID),
		slog.Int("attempt", env.Attempt),
	)
	return nil
}

// start subscribes to the broker and spawns the worker pool
func (q *Queue) start(ctx context.Context, consumerTag string) error {
	deliveries, err := q.manager.broker.Consume(ctx, q.name, consumerTag, q.policy.PrefetchCount)
	if err != nil {
		return err
	}

	q.logger.Info("Spawning queue workers",
		slog.Int("concurrency", q.policy.Concurrency),
		slog.Int("attempts", q.policy.Attempts),
		slog.String("backoff", string(q.policy.Backoff.Type)),
	)

	for i := 0; i < q.policy.Concurrency; i++ {
		q.wg.Add(1)
		go q.workerLoop(ctx, deliveries, i)
	}

	return nil
}

// workerLoop is the main processing loop for each worker goroutine
func (q *Queue) workerLoop(ctx context.Context, deliveries <-chan Delivery, workerNum int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopChan:
			return
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			q.handleDelivery(ctx, d, workerNum)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, d Delivery, workerNum int) {
	q.waiting.Add(-1)
	q.active.Add(1)
	defer q.active.Add(-1)

	var env envelope
	if err := json.Unmarshal(d.Body, &env); err != nil {
		q.logger.Error("Dropping malformed queue item",
			slog.Int("worker_num", workerNum),
			slog.String("error", err.Error()),
		)
		q.ackQuietly(d, env)
		return
	}

	if d.Redelivered {
		// The previous worker for this item died without acknowledging it.
		q.logger.Warn("Stalled item redelivered",
			slog.String("job_name", env.JobName),
			slog.String("execution_id", env.ExecutionID),
		)
		q.manager.emit(Event{
			Type:        EventStalled,
			Queue:       q.name,
			JobName:     env.JobName,
			JobID:       env.JobID,
			ExecutionID: env.ExecutionID,
			Attempt:     env.Attempt,
			Timestamp:   time.Now(),
		})
	}

	proc, ok := q.processor(env.JobName)
	if !ok {
		q.logger.Error("No processor registered for item",
			slog.String("job_name", env.JobName),
		)
		q.ackQuietly(d, env)
		notFound := fmt.Errorf("%w: '%s' on queue '%s'", domain.ErrProcessorNotFound, env.JobName, q.name)
		q.finalizeFailed(env, 0, notFound.Error())
		return
	}

	item := &Item{
		Queue:       q.name,
		JobName:     env.JobName,
		JobID:       env.JobID,
		ExecutionID: env.ExecutionID,
		Payload:     env.Payload,
		Attempt:     env.Attempt,
		progress: func(pct int) {
			q.manager.emit(Event{
				Type:        EventProgress,
				Queue:       q.name,
				JobName:     env.JobName,
				JobID:       env.JobID,
				ExecutionID: env.ExecutionID,
				Attempt:     env.Attempt,
				Progress:    pct,
				Timestamp:   time.Now(),
			})
		},
	}

	started := time.Now()
	records, err := q.runProcessor(ctx, proc, item)
	durationMs := time.Since(started).Milliseconds()

	q.ackQuietly(d, env)

	if err == nil {
		q.finalizeCompleted(env, durationMs, records)
		return
	}

	if env.Attempt >= q.policy.Attempts {
		q.logger.Error("Item failed terminally",
			slog.String("job_name", env.JobName),
			slog.String("execution_id", env.ExecutionID),
			slog.Int("attempt", env.Attempt),
			slog.String("error", err.Error()),
		)
		q.finalizeFailed(env, durationMs, err.Error())
		return
	}

	delay := q.policy.Backoff.DelayFor(env.Attempt)
	q.logger.Warn("Item failed, scheduling retry",
		slog.String("job_name", env.JobName),
		slog.String("execution_id", env.ExecutionID),
		slog.Int("attempt", env.Attempt),
		slog.Int("max_attempts", q.policy.Attempts),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()),
	)
	q.scheduleRetry(env, delay)
}

// runProcessor invokes the processor, converting a panic into an error so a
// crashing processor is retried like any other failure.
func (q *Queue) runProcessor(ctx context.Context, proc Processor, item *Item) (records int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc(ctx, item)
}

func (q *Queue) ackQuietly(d Delivery, env envelope) {
	if err := d.Ack(); err != nil {
		q.logger.Error("Failed to ACK delivery",
			slog.String("execution_id", env.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}

// scheduleRetry republishes the item with an incremented attempt counter
// after the backoff delay. Retries of the same item are serialized: the
// republish happens only after this attempt's outcome is settled.
func (q *Queue) scheduleRetry(env envelope, delay time.Duration) {
	next := env
	next.Attempt++

	q.timerMu.Lock()
	if q.stopped {
		q.timerMu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.timerMu.Lock()
		delete(q.retryTimers, timer)
		stopped := q.stopped
		q.timerMu.Unlock()
		if stopped {
			return
		}

		if err := q.publish(context.Background(), next); err != nil {
			q.logger.Error("Failed to republish item for retry",
				slog.String("job_name", next.JobName),
				slog.String("execution_id", next.ExecutionID),
				slog.String("error", err.Error()),
			)
			q.finalizeFailed(next, 0, fmt.Sprintf("retry republish failed: %s", err))
		}
	})
	q.retryTimers[timer] = struct{}{}
	q.timerMu.Unlock()
}

func (q *Queue) finalizeCompleted(env envelope, durationMs int64, records int) {
	q.completedCount.Add(1)
	q.retain(&q.completedItems, q.policy.KeepCompleted, RetainedItem{
		JobName:          env.JobName,
		JobID:            env.JobID,
		ExecutionID:      env.ExecutionID,
		Attempt:          env.Attempt,
		DurationMs:       durationMs,
		RecordsProcessed: records,
		FinishedAt:       time.Now(),
	})
	q.manager.emit(Event{
		Type:             EventCompleted,
		Queue:            q.name,
		JobName:          env.JobName,
		JobID:            env.JobID,
		ExecutionID:      env.ExecutionID,
		Attempt:          env.Attempt,
		DurationMs:       durationMs,
		RecordsProcessed: records,
		Timestamp:        time.Now(),
	})
}

func (q *Queue) finalizeFailed(env envelope, durationMs int64, errMsg string) {
	q.failedCount.Add(1)
	q.retain(&q.failedItems, q.policy.KeepFailed, RetainedItem{
		JobName:      env.JobName,
		JobID:        env.JobID,
		ExecutionID:  env.ExecutionID,
		Attempt:      env.Attempt,
		DurationMs:   durationMs,
		ErrorMessage: errMsg,
		FinishedAt:   time.Now(),
	})
	q.manager.emit(Event{
		Type:         EventFailed,
		Queue:        q.name,
		JobName:      env.JobName,
		JobID:        env.JobID,
		ExecutionID:  env.ExecutionID,
		Attempt:      env.Attempt,
		DurationMs:   durationMs,
		ErrorMessage: errMsg,
		Timestamp:    time.Now(),
	})
}

// retain appends a terminal item, discarding the oldest entries beyond keep
func (q *Queue) retain(items *[]RetainedItem, keep int, item RetainedItem) {
	if keep <= 0 {
		return
	}

	q.retainMu.Lock()
	defer q.retainMu.Unlock()

	*items = append(*items, item)
	if excess := len(*items) - keep; excess > 0 {
		*items = (*items)[excess:]
	}
}

func (q *Queue) retained() (completed, failed []RetainedItem) {
	q.retainMu.Lock()
	defer q.retainMu.Unlock()

	completed = make([]RetainedItem, len(q.completedItems))
	copy(completed, q.completedItems)
	failed = make([]RetainedItem, len(q.failedItems))
	copy(failed, q.failedItems)
	return completed, failed
}

func (q *Queue) status() Status {
	waiting := q.waiting.Load()
	if waiting < 0 {
		waiting = 0
	}
	return Status{
		Waiting:   waiting,
		Active:    q.active.Load(),
		Completed: q.completedCount.Load(),
		Failed:    q.failedCount.Load(),
	}
}

func (q *Queue) stop() {
	q.stopOnce.Do(func() {
		q.timerMu.Lock()
		q.stopped = true
		for timer := range q.retryTimers {
			timer.Stop()
		}
		q.retryTimers = make(map[*time.Timer]struct{})
		q.timerMu.Unlock()

		close(q.stopChan)
	})
	q.wg.Wait()
}
