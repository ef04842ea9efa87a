package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrJobDisabled is returned when triggering a job with is_enabled=false
	ErrJobDisabled = errors.New("job is disabled")

	// ErrJobAlreadyRunning is returned when an execution would overlap an
	// in-flight execution of the same job
	ErrJobAlreadyRunning = errors.New("job is already running")

	// ErrUnknownJobType is returned when no handler is registered for a job type
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrProcessorNotFound is recorded when a queue item names a job with no
	// registered processor
	ErrProcessorNotFound = errors.New("processor not found")
)
