package modelsync

import (
	"context"
	"time"
)

// Event is the atomic change carried by both optimistic and confirmed
// messages. MutationID correlates an OptimisticEvent with the
// ConfirmedEvent that eventually settles it.
type Event struct {
	MutationID string
	Name       string
	Data       any
}

// OptimisticEvent is a locally-applied event pending server confirmation.
// TimeoutMS is only meaningful while the event is in flight; it is the
// deadline (in milliseconds) after which the owning PendingConfirmation
// rejects with ErrConfirmationTimeout if this event is never matched.
type OptimisticEvent struct {
	Event
	TimeoutMS int64

	// Comparator, when non-nil, overrides the owning
	// PendingConfirmationRegistry's default Comparator for matching this
	// specific event against an incoming ConfirmedEvent. Set from a
	// per-call "comparator" override (see mergeOptimisticEventOptions);
	// not serialisable.
	Comparator Comparator
}

// ConfirmedEvent is an authoritative event delivered by the Stream.
// SequenceID is the channel-scoped monotonic identifier used for replay
// seeking. Rejected marks that the server declined an already-acknowledged
// optimistic event sharing this MutationID.
type ConfirmedEvent struct {
	Event
	SequenceID string
	Rejected   bool
}

// Snapshot is the {data, sequenceId} pair returned by the caller's Sync
// function, used to bootstrap a Model.
type Snapshot[T any] struct {
	Data       T
	SequenceID string
}

// ModelData holds the two parallel projections a Model maintains: Confirmed
// is derived purely from the snapshot plus confirmed events applied in
// sequence order; Optimistic is Confirmed with every still-pending
// optimistic event folded on top, in insertion order. When no optimistic
// events are pending, Optimistic is structurally equal to Confirmed.
type ModelData[T any] struct {
	Confirmed  T
	Optimistic T
}

// SyncFunc fetches a fresh snapshot from the backend. It may return an
// error, in which case the Model retries it per its RetryStrategy.
type SyncFunc[T any] func(ctx context.Context, args ...any) (Snapshot[T], error)

// MergeFunc derives a new state from a prior state and an event. It must be
// pure with respect to its arguments (must not mutate state) since Model
// relies on recomputing Optimistic by folding Merge over confirmed plus the
// pending optimistic list from scratch.
type MergeFunc[T any] func(ctx context.Context, state T, event Event, confirmed bool) (T, error)

// defaultMessageRetentionPeriod is the default value of
// SyncOptions.MessageRetentionPeriod.
const defaultMessageRetentionPeriod = 2 * time.Minute
