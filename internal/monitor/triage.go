package monitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/dyluth/warren/pkg/board"
)

// FailureClass buckets a recovery failure by how the monitor responds to it.
type FailureClass int

const (
	// FailureTransient failures (storage hiccups, timeouts) are retried a
	// bounded number of times with a longer per-attempt timeout.
	FailureTransient FailureClass = iota

	// FailureConflict failures mean two parties raced on the same record.
	// The conflict is resolved on the next sweep, which re-reads the board.
	FailureConflict

	// FailureCrash failures come from the process layer and feed the
	// health path rather than being retried in place.
	FailureCrash

	// FailurePermanent failures are escalated; retrying cannot fix a
	// record that no longer exists.
	FailurePermanent
)

func (c FailureClass) String() string {
	switch c {
	case FailureTransient:
		return "transient"
	case FailureConflict:
		return "conflict"
	case FailurePermanent:
		return "permanent"
	default:
		return "crash"
	}
}

// Triage classifies a recovery failure.
func Triage(err error) FailureClass {
	switch {
	case board.IsStorage(err),
		errors.Is(err, context.DeadlineExceeded):
		return FailureTransient
	case board.IsValidation(err):
		return FailureConflict
	case board.IsNotFound(err):
		return FailurePermanent
	default:
		return FailureCrash
	}
}

// retryTimeout bounds each retried attempt. Longer than a normal call gets,
// since transient failures are usually slow storage.
const retryTimeout = 10 * time.Second

// withRetry runs fn, retrying up to transientRetries extra times while the
// failure triages as transient. Any other failure class returns immediately.
func withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, retryTimeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		if Triage(err) != FailureTransient {
			return err
		}
		if attempt < transientRetries {
			log.Printf("[Monitor] Transient failure (attempt %d/%d), retrying: %v", attempt+1, transientRetries+1, err)
		}
	}
	return err
}
