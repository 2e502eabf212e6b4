package modelsync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelsync/modelsync/internal/memtransport"
)

func confirmedEvent(seq string) ConfirmedEvent {
	return ConfirmedEvent{
		Event:      Event{MutationID: "m-" + seq, Name: "updated"},
		SequenceID: seq,
	}
}

func TestStreamReplaysBoundaryThenReady(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		tr.Publish(ctx, "room", confirmedEvent(fmt.Sprintf("%d", i)))
	}

	s := NewStream(tr, StreamConfig{ChannelName: "room", PageSize: 100})

	var got []ConfirmedEvent
	s.Subscribe(func(e ConfirmedEvent, err error) { got = append(got, e) })

	require.NoError(t, s.Start(ctx, "3"))
	assert.Equal(t, StreamReady, s.State())
	require.Len(t, got, 2)
	assert.Equal(t, "4", got[0].SequenceID)
	assert.Equal(t, "5", got[1].SequenceID)
}

func TestStreamGenesisReplaysEverything(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		tr.Publish(ctx, "room", confirmedEvent(fmt.Sprintf("%d", i)))
	}

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	var got []ConfirmedEvent
	s.Subscribe(func(e ConfirmedEvent, err error) { got = append(got, e) })

	require.NoError(t, s.Start(ctx, "0"))
	require.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{got[0].SequenceID, got[1].SequenceID, got[2].SequenceID})
}

func TestStreamInsufficientHistoryWhenBoundaryFallsOutOfRetention(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()
	for i := 2; i <= 7; i++ {
		tr.Publish(ctx, "room", confirmedEvent(fmt.Sprintf("%d", i)))
	}

	s := NewStream(tr, StreamConfig{ChannelName: "room", PageSize: 2})
	err := s.Start(ctx, "1")
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	assert.Equal(t, StreamErrored, s.State())
}

func TestStreamLiveMessagesArriveAfterHistoricalTail(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()
	tr.Publish(ctx, "room", confirmedEvent("1"))

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	var got []string
	s.Subscribe(func(e ConfirmedEvent, err error) { got = append(got, e.SequenceID) })

	require.NoError(t, s.Start(ctx, "0"))
	tr.Publish(ctx, "room", confirmedEvent("2"))

	require.Eventually(t, func() bool { return len(got) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"1", "2"}, got)
}

func TestStreamPauseSuppressesDeliveryUntilResume(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	var got []string
	s.Subscribe(func(e ConfirmedEvent, err error) { got = append(got, e.SequenceID) })
	require.NoError(t, s.Start(ctx, "0"))

	require.NoError(t, s.Pause())
	tr.Publish(ctx, "room", confirmedEvent("1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)

	require.NoError(t, s.Resume(ctx))
	tr.Publish(ctx, "room", confirmedEvent("2"))
	require.Eventually(t, func() bool { return len(got) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "2", got[0])
}

func TestStreamStartWhileAttachedReturnsInvalidState(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	s.Subscribe(func(e ConfirmedEvent, err error) {})
	require.NoError(t, s.Start(ctx, "0"))

	err := s.Start(ctx, "0")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StreamReady, s.State())
}

func TestStreamSuspendedChannelSurfacesDiscontinuityError(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	var mu sync.Mutex
	var errs []error
	s.Subscribe(func(e ConfirmedEvent, err error) {
		if err != nil {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}
	})
	require.NoError(t, s.Start(ctx, "0"))

	tr.SetState("suspended")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(errs) > 0
	}, time.Second, time.Millisecond)

	mu.Lock()
	assert.ErrorIs(t, errs[0], ErrDiscontinuity)
	mu.Unlock()
	assert.Equal(t, StreamReady, s.State())

	tr.SetState("connected")
}

func TestStreamDisposeStopsDelivery(t *testing.T) {
	tr := memtransport.New("connected")
	ctx := context.Background()

	s := NewStream(tr, StreamConfig{ChannelName: "room"})
	var got []string
	s.Subscribe(func(e ConfirmedEvent, err error) { got = append(got, e.SequenceID) })
	require.NoError(t, s.Start(ctx, "0"))

	s.Dispose()
	assert.Equal(t, StreamDisposed, s.State())
	tr.Publish(ctx, "room", confirmedEvent("1"))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got)

	assert.ErrorIs(t, s.Start(ctx, "0"), ErrDisposed)
}
