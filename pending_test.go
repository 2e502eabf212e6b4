package modelsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(timeout time.Duration, onTimeout func(OptimisticEvent)) *PendingConfirmationRegistry {
	return NewPendingConfirmationRegistry(OptimisticEventOptions{Timeout: timeout, Comparator: DefaultComparator()}, onTimeout)
}

func TestPendingConfirmationRegistryResolveMatchesByMutationID(t *testing.T) {
	r := newTestRegistry(time.Minute, nil)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m2"}}, 0)
	require.Equal(t, 2, r.Len())

	matched, ok := r.Resolve(ConfirmedEvent{Event: Event{MutationID: "m1"}, SequenceID: "1"})
	require.True(t, ok)
	assert.Equal(t, "m1", matched.MutationID)
	assert.Equal(t, 1, r.Len())

	_, ok = r.Resolve(ConfirmedEvent{Event: Event{MutationID: "m1"}, SequenceID: "2"})
	assert.False(t, ok, "already-resolved mutation id should not match twice")

	_, ok = r.Resolve(ConfirmedEvent{Event: Event{MutationID: "unknown"}, SequenceID: "3"})
	assert.False(t, ok)
}

func TestPendingConfirmationRegistryCancel(t *testing.T) {
	r := newTestRegistry(time.Minute, nil)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)

	cancelled, ok := r.Cancel("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", cancelled.MutationID)
	assert.Equal(t, 0, r.Len())

	_, ok = r.Cancel("m1")
	assert.False(t, ok, "cancelling twice is a no-op")
}

func TestPendingConfirmationRegistryPendingIsOldestFirst(t *testing.T) {
	r := newTestRegistry(time.Minute, nil)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m2"}}, 0)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m3"}}, 0)

	pending := r.Pending()
	require.Len(t, pending, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{pending[0].MutationID, pending[1].MutationID, pending[2].MutationID})

	r.Cancel("m2")
	pending = r.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"m1", "m3"}, []string{pending[0].MutationID, pending[1].MutationID})
}

func TestPendingConfirmationRegistryFinalizeAll(t *testing.T) {
	r := newTestRegistry(time.Minute, nil)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m2"}}, 0)

	finalized := r.FinalizeAll()
	require.Len(t, finalized, 2)
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Pending())

	// a second FinalizeAll is a harmless no-op
	assert.Empty(t, r.FinalizeAll())
}

func TestPendingConfirmationRegistryFiresTimeout(t *testing.T) {
	timedOut := make(chan OptimisticEvent, 1)
	r := newTestRegistry(10*time.Millisecond, func(e OptimisticEvent) { timedOut <- e })
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)

	select {
	case e := <-timedOut:
		assert.Equal(t, "m1", e.MutationID)
	case <-time.After(time.Second):
		t.Fatal("onTimeout never fired")
	}
	assert.Equal(t, 0, r.Len())
}

func TestPendingConfirmationRegistryPerEventTimeoutOverridesDefault(t *testing.T) {
	timedOut := make(chan OptimisticEvent, 1)
	r := newTestRegistry(time.Hour, func(e OptimisticEvent) { timedOut <- e })
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}, TimeoutMS: 10}, 0)

	select {
	case e := <-timedOut:
		assert.Equal(t, "m1", e.MutationID)
	case <-time.After(time.Second):
		t.Fatal("per-event timeout override was not honoured")
	}
}

func TestPendingConfirmationRegistryPerEventComparatorOverridesDefault(t *testing.T) {
	r := newTestRegistry(time.Minute, nil)
	byName := ComparatorFunc(func(optimistic OptimisticEvent, confirmed ConfirmedEvent) bool {
		return optimistic.Name == confirmed.Name
	})
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1", Name: "rename"}, Comparator: byName}, 0)
	r.Add(OptimisticEvent{Event: Event{MutationID: "m2", Name: "other"}}, 0)

	// The confirmed event's mutation id matches neither pending entry, but
	// m1's per-event comparator matches on Name alone.
	matched, ok := r.Resolve(ConfirmedEvent{Event: Event{MutationID: "server-generated", Name: "rename"}, SequenceID: "1"})
	require.True(t, ok)
	assert.Equal(t, "m1", matched.MutationID)

	// m2 still falls back to the registry's default mutationId comparator.
	_, ok = r.Resolve(ConfirmedEvent{Event: Event{MutationID: "server-generated-2", Name: "other"}, SequenceID: "2"})
	assert.False(t, ok)
	_, ok = r.Resolve(ConfirmedEvent{Event: Event{MutationID: "m2"}, SequenceID: "3"})
	assert.True(t, ok)
}

func TestPendingConfirmationRegistryResolveStopsTimer(t *testing.T) {
	timedOut := make(chan OptimisticEvent, 1)
	r := newTestRegistry(20*time.Millisecond, func(e OptimisticEvent) { timedOut <- e })
	r.Add(OptimisticEvent{Event: Event{MutationID: "m1"}}, 0)

	_, ok := r.Resolve(ConfirmedEvent{Event: Event{MutationID: "m1"}, SequenceID: "1"})
	require.True(t, ok)

	select {
	case <-timedOut:
		t.Fatal("timeout fired after the event was already resolved")
	case <-time.After(50 * time.Millisecond):
	}
}
