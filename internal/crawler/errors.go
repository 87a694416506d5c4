package crawler

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrContextAcquireTimeout means a worker waited too long for a free context.
	ErrContextAcquireTimeout = errors.New("execution context acquire timed out")
	// ErrPoolClosed is returned by Acquire after Shutdown.
	ErrPoolClosed = errors.New("execution context pool closed")
	// ErrPoolExhausted means rotation failures consumed every context.
	ErrPoolExhausted = errors.New("execution context pool has no usable contexts")
	// ErrConcurrencyExceedsCapacity rejects runners asking for more contexts than exist.
	ErrConcurrencyExceedsCapacity = errors.New("concurrency exceeds pool capacity")
	// ErrTaskTimeout marks a round trip that hit its deadline.
	ErrTaskTimeout = errors.New("task timed out")
	// ErrTaskNetwork marks transport failures and non-2xx responses.
	ErrTaskNetwork = errors.New("task network error")
	// ErrTaskMalformed marks responses that could not be decoded.
	ErrTaskMalformed = errors.New("task response malformed")
	// ErrCanceled marks tasks that were never dispatched because the session stopped.
	ErrCanceled = errors.New("task canceled before dispatch")
	// ErrAggregationInconsistency signals outcomes that do not match the submitted tasks.
	ErrAggregationInconsistency = errors.New("aggregation inconsistency")
)

// PoolInitError wraps a driver failure during pool initialization. It is fatal
// for the session.
type PoolInitError struct {
	Stage string
	Err   error
}

func (e *PoolInitError) Error() string {
	return fmt.Sprintf("pool init (%s): %v", e.Stage, e.Err)
}

func (e *PoolInitError) Unwrap() error {
	return e.Err
}

// HTTPStatusError carries the remote status for non-2xx responses.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("remote status %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrTaskNetwork) match status failures.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrTaskNetwork
}

// FailureKind is a coarse label for task failures.
type FailureKind string

// Failure kinds reported in metrics and progress events.
const (
	FailureNone           FailureKind = ""
	FailureTimeout        FailureKind = "timeout"
	FailureNetwork        FailureKind = "network"
	FailureMalformed      FailureKind = "malformed"
	FailureAcquireTimeout FailureKind = "acquire_timeout"
	FailureCanceled       FailureKind = "canceled"
	FailureInternal       FailureKind = "internal"
)

// Classify maps an outcome error onto a FailureKind.
func Classify(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrContextAcquireTimeout):
		return FailureAcquireTimeout
	case errors.Is(err, ErrTaskTimeout), errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.Is(err, ErrTaskMalformed):
		return FailureMalformed
	case errors.Is(err, ErrTaskNetwork):
		return FailureNetwork
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return FailureCanceled
	default:
		return FailureInternal
	}
}
