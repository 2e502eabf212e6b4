package modelsync

import (
	"sync"
	"time"
)

// PendingConfirmation is one optimistic event still awaiting confirmation,
// rejection, cancellation or timeout.
type PendingConfirmation struct {
	Event     OptimisticEvent
	CreatedAt time.Time
}

type pendingEntry struct {
	confirmation PendingConfirmation
	timer        *time.Timer
	resolved     bool
}

// PendingConfirmationRegistry tracks the set of optimistic events a Model
// has applied locally but not yet reconciled against the confirmed stream.
// It owns the per-event timeout timer and the Comparator used to match an
// incoming ConfirmedEvent back to the optimistic event it confirms.
type PendingConfirmationRegistry struct {
	comparator Comparator
	timeout    time.Duration
	afterFunc  func(d time.Duration, f func()) *time.Timer
	onTimeout  func(OptimisticEvent)

	mu      sync.Mutex
	order   []string // mutationIds, oldest first
	entries map[string]*pendingEntry
}

// NewPendingConfirmationRegistry constructs a registry using opts for the
// matching Comparator and default timeout. onTimeout is invoked (on its own
// goroutine) if an event is still unresolved when its timeout elapses.
func NewPendingConfirmationRegistry(opts OptimisticEventOptions, onTimeout func(OptimisticEvent)) *PendingConfirmationRegistry {
	comparator := opts.Comparator
	if comparator == nil {
		comparator = DefaultComparator()
	}
	return &PendingConfirmationRegistry{
		comparator: comparator,
		timeout:    opts.Timeout,
		afterFunc:  time.AfterFunc,
		onTimeout:  onTimeout,
		entries:    make(map[string]*pendingEntry),
	}
}

// Add registers event as pending and starts its timeout timer, using
// timeoutOverride if positive, else event.TimeoutMS if positive, else the
// registry's default timeout. A
// timeout of zero or less disables the timer (the event is pending until
// explicitly resolved or cancelled).
func (r *PendingConfirmationRegistry) Add(event OptimisticEvent, timeoutOverride time.Duration) {
	timeout := r.timeout
	if timeoutOverride > 0 {
		timeout = timeoutOverride
	} else if event.TimeoutMS > 0 {
		timeout = time.Duration(event.TimeoutMS) * time.Millisecond
	}

	entry := &pendingEntry{
		confirmation: PendingConfirmation{Event: event, CreatedAt: time.Now()},
	}

	r.mu.Lock()
	r.entries[event.MutationID] = entry
	r.order = append(r.order, event.MutationID)
	r.mu.Unlock()

	if timeout > 0 {
		entry.timer = r.afterFunc(timeout, func() { r.fireTimeout(event.MutationID) })
	}
}

func (r *PendingConfirmationRegistry) fireTimeout(mutationID string) {
	r.mu.Lock()
	entry, ok := r.entries[mutationID]
	if !ok || entry.resolved {
		r.mu.Unlock()
		return
	}
	entry.resolved = true
	delete(r.entries, mutationID)
	r.removeFromOrderLocked(mutationID)
	r.mu.Unlock()

	if r.onTimeout != nil {
		r.onTimeout(entry.confirmation.Event)
	}
}

// Resolve matches confirmed against every still-pending optimistic event,
// oldest first, using the event's own Comparator if it set one, else the
// registry's. It returns the matched event and true on
// a match, stopping its timer and removing it from the pending set.
func (r *PendingConfirmationRegistry) Resolve(confirmed ConfirmedEvent) (OptimisticEvent, bool) {
	r.mu.Lock()
	var matchedID string
	var matched OptimisticEvent
	found := false
	for _, id := range r.order {
		entry, ok := r.entries[id]
		if !ok || entry.resolved {
			continue
		}
		if r.comparatorFor(entry.confirmation.Event).Matches(entry.confirmation.Event, confirmed) {
			matchedID = id
			matched = entry.confirmation.Event
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return OptimisticEvent{}, false
	}
	entry := r.entries[matchedID]
	entry.resolved = true
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(r.entries, matchedID)
	r.removeFromOrderLocked(matchedID)
	r.mu.Unlock()
	return matched, true
}

// Cancel removes a pending event locally (e.g. caller-initiated undo)
// without waiting for server confirmation, rejection or timeout. It
// reports whether a pending event with that mutation id was found.
func (r *PendingConfirmationRegistry) Cancel(mutationID string) (OptimisticEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[mutationID]
	if !ok || entry.resolved {
		return OptimisticEvent{}, false
	}
	entry.resolved = true
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(r.entries, mutationID)
	r.removeFromOrderLocked(mutationID)
	return entry.confirmation.Event, true
}

// Pending returns every still-outstanding optimistic event, oldest first —
// the order a Model rebases them on top of a fresh confirmed snapshot.
func (r *PendingConfirmationRegistry) Pending() []OptimisticEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]OptimisticEvent, 0, len(r.order))
	for _, id := range r.order {
		if entry, ok := r.entries[id]; ok && !entry.resolved {
			out = append(out, entry.confirmation.Event)
		}
	}
	return out
}

// FinalizeAll immediately settles every outstanding pending confirmation
// (used on Model dispose or sync-interrupt), stopping their timers and
// clearing the registry. It returns the events that were outstanding so
// the caller can settle their confirmation futures.
func (r *PendingConfirmationRegistry) FinalizeAll() []OptimisticEvent {
	r.mu.Lock()
	ids := r.order
	r.order = nil
	out := make([]OptimisticEvent, 0, len(ids))
	for _, id := range ids {
		entry, ok := r.entries[id]
		if !ok || entry.resolved {
			continue
		}
		entry.resolved = true
		if entry.timer != nil {
			entry.timer.Stop()
		}
		out = append(out, entry.confirmation.Event)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	return out
}

// Len reports the number of currently-pending optimistic events.
func (r *PendingConfirmationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// comparatorFor returns event's per-event Comparator override if it set
// one, else the registry's default.
func (r *PendingConfirmationRegistry) comparatorFor(event OptimisticEvent) Comparator {
	if event.Comparator != nil {
		return event.Comparator
	}
	return r.comparator
}

// removeFromOrderLocked deletes mutationID from r.order. Caller must hold
// r.mu.
func (r *PendingConfirmationRegistry) removeFromOrderLocked(mutationID string) {
	for i, id := range r.order {
		if id == mutationID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}
