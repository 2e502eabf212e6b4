package modelsync

import "errors"

// Sentinel errors for the modelsync error taxonomy. Call sites wrap these
// with fmt.Errorf("%w: ...") to attach context; callers should match with
// errors.Is against the sentinels below rather than string-compare.
var (
	// InvalidState: an operation was called in a state that forbids it,
	// e.g. addHistoricalMessages after the resumer has already flushed, or
	// replay() on a Stream that is already attached.
	ErrInvalidState = errors.New("modelsync: invalid state for operation")

	// InvalidArgument: an empty name, an unknown model, or a malformed event.
	ErrInvalidArgument = errors.New("modelsync: invalid argument")

	// InsufficientHistory: the sequenceId supplied by a snapshot could not
	// be located within the channel's retained history.
	ErrInsufficientHistory = errors.New("modelsync: sequenceId not found in retained history")

	// SyncFailed: the user's sync callback returned an error after the
	// retry budget was exhausted. Stream also wraps channel acquire,
	// attach, subscribe and history errors, and a failed channel, with it.
	ErrSyncFailed = errors.New("modelsync: sync failed after retry budget exhausted")

	// MergeFailed: the user's merge callback returned an error; the owning
	// Model transitions to errored.
	ErrMergeFailed = errors.New("modelsync: merge failed")

	// ConfirmationTimeout: a PendingConfirmation's deadline elapsed before
	// every contained event was confirmed or rejected.
	ErrConfirmationTimeout = errors.New("modelsync: confirmation timed out")

	// Rejected: the server returned rejected=true for a confirmed event
	// that corresponds to a pending optimistic event.
	ErrRejected = errors.New("modelsync: optimistic event rejected by server")

	// Cancelled: cancel() was invoked by the caller that submitted an
	// optimistic event.
	ErrCancelled = errors.New("modelsync: optimistic event cancelled")

	// Disposed: an operation was attempted on a disposed Model or Stream.
	ErrDisposed = errors.New("modelsync: disposed")

	// Discontinuity: the transport reported a gap in the message feed;
	// the owning Model automatically re-syncs.
	ErrDiscontinuity = errors.New("modelsync: channel discontinuity")

	// SyncInterrupted: pending confirmations are rejected with this error
	// whenever a new sync cycle begins (see Model.sync step 1).
	ErrSyncInterrupted = errors.New("modelsync: sync interrupted")
)
