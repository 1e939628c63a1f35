package pool

import "errors"

// ErrTimedOut is returned by Get/Run when a caller waits longer than the
// pool's connection timeout without receiving a connection.
var ErrTimedOut = errors.New("pool: timed out waiting for connection")

// errLeakedConnection is reported to a pool's ErrorSink when a
// PooledConnection is garbage collected without ever being released.
var errLeakedConnection = errors.New("pool: connection garbage collected without being released")

// RunError wraps an error surfaced by a checkout or a Run closure. It is
// either the error a Run closure returned or ErrTimedOut; errors.Is/
// errors.As see through it via Unwrap, so callers can recover the
// closure's concrete error type without the pool needing to know it.
type RunError struct {
	// Err is the error returned by the Run closure. Nil when the error is a
	// timeout.
	Err error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e.Err == nil {
		return ErrTimedOut.Error()
	}
	return e.Err.Error()
}

// Unwrap allows errors.Is/errors.As to see through to the manager's error,
// or to ErrTimedOut when this is a timeout.
func (e *RunError) Unwrap() error {
	if e.Err == nil {
		return ErrTimedOut
	}
	return e.Err
}

// IsTimedOut reports whether err is (or wraps) a pool checkout timeout.
func IsTimedOut(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

func userError(err error) *RunError {
	return &RunError{Err: err}
}

func timedOutError() *RunError {
	return &RunError{}
}
