package recorder

import (
	"errors"
	"fmt"

	"stimlog/internal/credentials"
)

// Sentinel errors for typed error checking.
var (
	ErrInvalidArity             = errors.New("invalid number of arguments")
	ErrInvalidStartTime         = errors.New("invalid start time")
	ErrMissingStimulus          = errors.New("stimulus name is required")
	ErrUnsupportedParameterType = errors.New("unsupported parameter type")
	ErrStimulusLookup           = errors.New("stimulus lookup failed")
	ErrRowInsertFailed          = errors.New("experiment row insert failed")
	ErrMonitorReconcile         = errors.New("monitor reconciliation failed")

	// ErrUserAborted is returned when the login was declined. The pending
	// records were discarded.
	ErrUserAborted = credentials.ErrUserAborted
)

// FlushError wraps errors with the record being written when the flush
// stopped.
type FlushError struct {
	Op       string // acquire, lookup, format, insert, reconcile
	Stimulus string
	Index    int // position of the record in the flushed batch
	Lost     int // records in the batch that were not written
	Err      error
}

func (e *FlushError) Error() string {
	if e.Stimulus != "" {
		return fmt.Sprintf("flush: record %d (%s): %s: %s", e.Index, e.Stimulus, e.Op, e.Err)
	}
	return fmt.Sprintf("flush: %s: %s", e.Op, e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// IsAborted reports whether err is a declined login rather than a failure.
func IsAborted(err error) bool {
	return errors.Is(err, ErrUserAborted)
}
