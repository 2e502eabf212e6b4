package modelsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelsync/modelsync/internal/historyresumer"
	"github.com/modelsync/modelsync/internal/slidingwindow"
)

func toDuration(ms int64) time.Duration { return time.Duration(ms) * time.Millisecond }

// StreamState is the lifecycle state of a Stream.
type StreamState string

const (
	StreamInitialized StreamState = "initialized"
	StreamSeeking     StreamState = "seeking"
	StreamReady       StreamState = "ready"
	StreamReset       StreamState = "reset"
	StreamErrored     StreamState = "errored"
	StreamDisposed    StreamState = "disposed"
)

// streamSubscription is returned by Stream.Subscribe.
type streamSubscription struct {
	id     string
	stream *Stream
}

func (s *streamSubscription) Cancel() {
	s.stream.mu.Lock()
	delete(s.stream.consumers, s.id)
	s.stream.mu.Unlock()
}

// Stream replays a Channel's retained history from a resume boundary and
// then hands off to a live, reordered subscription, delivering every
// ConfirmedEvent to its own subscribers exactly once and in order. It is
// the component a Model drives to keep its confirmed state current; the
// Model never talks to a Transport directly.
type Stream struct {
	transport   Transport
	channelName string
	pageSize    int
	bufferMs    int64
	compare     historyresumer.Compare
	less        slidingwindow.Less
	logger      Logger
	metrics     Metrics

	mu           sync.Mutex
	state        StreamState
	channel      Channel
	liveSub      Subscription
	failedSub    Subscription
	suspendedSub Subscription
	resumer      *historyresumer.Resumer
	window       *slidingwindow.SlidingWindow
	consumers    map[string]func(ConfirmedEvent, error)
	paused       bool
	attached     bool
	cancelSeek   context.CancelFunc
}

// StreamConfig configures a new Stream.
type StreamConfig struct {
	ChannelName string
	PageSize    int
	BufferMs    int64
	Compare     historyresumer.Compare
	Less        slidingwindow.Less
	Logger      Logger
	Metrics     Metrics
}

// NewStream constructs a Stream bound to transport, in StreamInitialized
// state. Call Start to begin seeking a resume boundary.
func NewStream(transport Transport, cfg StreamConfig) *Stream {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	compare := cfg.Compare
	if compare == nil {
		compare = defaultSequenceCompare
	}
	less := cfg.Less
	if less == nil {
		less = func(a, b string) bool { return compare(a, b) < 0 }
	}
	return &Stream{
		transport:   transport,
		channelName: cfg.ChannelName,
		pageSize:    pageSize,
		bufferMs:    cfg.BufferMs,
		compare:     compare,
		less:        less,
		logger:      orNoopLogger(cfg.Logger),
		metrics:     cfg.Metrics,
		state:       StreamInitialized,
		consumers:   make(map[string]func(ConfirmedEvent, error)),
	}
}

func defaultSequenceCompare(a, b string) int {
	an, aerr := parseID(a)
	bn, berr := parseID(b)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Subscribe registers handler to receive every ConfirmedEvent the Stream
// emits, in order, from this point on. err is non-nil (and event the zero
// value) when the underlying Channel reports a discontinuity
// (errors.Is(err, ErrDiscontinuity), recoverable — the owning Model
// resyncs) or a non-recoverable failure (any other error, the Stream has
// already transitioned to StreamErrored).
func (s *Stream) Subscribe(handler func(event ConfirmedEvent, err error)) Subscription {
	sub := &streamSubscription{id: uuid.New().String(), stream: s}
	s.mu.Lock()
	s.consumers[sub.id] = handler
	s.mu.Unlock()
	return sub
}

// State returns the Stream's current lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start waits for the transport connection to be "connected", attaches and
// subscribes to the channel's live feed, then pages through history to
// locate sequenceID. It returns once the Stream reaches StreamReady, or
// a non-nil error (ErrInsufficientHistory if the boundary fell out of
// retention, ErrInvalidState if the channel is already attached — call
// Reset instead of a second Start, ErrDisposed if disposed mid-seek, or
// ctx's error).
func (s *Stream) Start(ctx context.Context, sequenceID string) error {
	s.mu.Lock()
	if s.attached {
		s.mu.Unlock()
		return fmt.Errorf("%w: channel already attached, call Reset to re-seek", ErrInvalidState)
	}
	s.mu.Unlock()
	return s.seek(ctx, sequenceID, StreamSeeking)
}

// Reset tears down the current subscription, window and channel-state
// listeners, then re-seeks from sequenceID, transitioning through
// StreamReset before StreamReady. Model does not call it: its resync
// disposes the Stream and starts a new one.
func (s *Stream) Reset(ctx context.Context, sequenceID string) error {
	s.mu.Lock()
	if s.liveSub != nil {
		s.liveSub.Cancel()
		s.liveSub = nil
	}
	if s.cancelSeek != nil {
		s.cancelSeek()
	}
	failedSub, suspendedSub := s.failedSub, s.suspendedSub
	s.failedSub, s.suspendedSub = nil, nil
	s.attached = false
	s.mu.Unlock()
	if failedSub != nil {
		failedSub.Cancel()
	}
	if suspendedSub != nil {
		suspendedSub.Cancel()
	}
	return s.seek(ctx, sequenceID, StreamReset)
}

func (s *Stream) seek(ctx context.Context, sequenceID string, transitional StreamState) error {
	s.mu.Lock()
	if s.state == StreamDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.state = transitional
	seekCtx, cancel := context.WithCancel(ctx)
	s.cancelSeek = cancel
	s.mu.Unlock()

	channel, err := s.transport.Channel(seekCtx, s.channelName)
	if err != nil {
		s.setErrored()
		return fmt.Errorf("%w: acquiring channel: %v", ErrSyncFailed, err)
	}

	select {
	case <-s.transport.Connection().WhenState(seekCtx, "connected"):
	case <-seekCtx.Done():
		s.setErrored()
		return seekCtx.Err()
	}

	if err := channel.Attach(seekCtx); err != nil {
		s.setErrored()
		return fmt.Errorf("%w: attaching channel: %v", ErrSyncFailed, err)
	}
	// Attach race where the channel is already attached when replay is
	// called is guarded by Start; from here on a second concurrent Start
	// sees s.attached and fails fast instead of double-seeking.
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()

	failedSub, err := channel.On(ChannelStateFailed, s.handleChannelFailed)
	if err != nil {
		s.setErrored()
		return fmt.Errorf("%w: registering failed handler: %v", ErrSyncFailed, err)
	}
	suspendedSub, err := channel.On(ChannelStateSuspended, s.handleChannelSuspended)
	if err != nil {
		failedSub.Cancel()
		s.setErrored()
		return fmt.Errorf("%w: registering suspended handler: %v", ErrSyncFailed, err)
	}

	window := slidingwindow.New(toDuration(s.bufferMs), s.less, s.dispatch)
	resumer := historyresumer.New(sequenceID, s.compare, window, s.dispatch)

	s.mu.Lock()
	s.channel = channel
	s.window = window
	s.resumer = resumer
	s.failedSub = failedSub
	s.suspendedSub = suspendedSub
	s.mu.Unlock()

	liveSub, err := channel.Subscribe(seekCtx, s.onLiveMessage)
	if err != nil {
		s.setErrored()
		return fmt.Errorf("%w: subscribing: %v", ErrSyncFailed, err)
	}

	s.mu.Lock()
	s.liveSub = liveSub
	s.mu.Unlock()

	if err := s.pageHistory(seekCtx, resumer); err != nil {
		s.setErrored()
		return err
	}

	s.mu.Lock()
	if s.state != StreamDisposed {
		s.state = StreamReady
	}
	s.mu.Unlock()
	return nil
}

// onLiveMessage is the Channel.Subscribe handler shared by the initial seek
// and by Resume's re-subscription: it feeds live messages into the
// resumer/window pipeline unless the Stream is paused.
func (s *Stream) onLiveMessage(event ConfirmedEvent) {
	s.mu.Lock()
	paused := s.paused
	r := s.resumer
	s.mu.Unlock()
	if paused || r == nil {
		return
	}
	r.AddLiveMessage(historyresumer.Message{ID: event.SequenceID, Payload: event})
}

// handleChannelFailed is registered via Channel.On(ChannelStateFailed, ...):
// a non-recoverable channel condition disposes the Stream's current
// subscription and surfaces the failure to every subscriber.
func (s *Stream) handleChannelFailed(reason error) {
	s.mu.Lock()
	if s.state == StreamDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StreamErrored
	s.attached = false
	if s.liveSub != nil {
		s.liveSub.Cancel()
		s.liveSub = nil
	}
	s.mu.Unlock()
	s.notifyErr(fmt.Errorf("%w: channel failed: %v", ErrSyncFailed, reason))
}

// handleChannelSuspended is registered via
// Channel.On(ChannelStateSuspended, ...): a discontinuity is recoverable,
// so the Stream stays attached and simply surfaces ErrDiscontinuity to its
// subscribers, leaving resync policy to the consumer (Model resyncs on it).
func (s *Stream) handleChannelSuspended(reason error) {
	s.mu.Lock()
	disposed := s.state == StreamDisposed
	s.mu.Unlock()
	if disposed {
		return
	}
	s.notifyErr(fmt.Errorf("%w: %v", ErrDiscontinuity, reason))
}

// notifyErr delivers err (with the zero ConfirmedEvent) to every subscriber,
// the Stream's side of a channel-level failure or discontinuity.
func (s *Stream) notifyErr(err error) {
	s.mu.Lock()
	handlers := make([]func(ConfirmedEvent, error), 0, len(s.consumers))
	for _, h := range s.consumers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(ConfirmedEvent{}, err)
	}
}

func (s *Stream) pageHistory(ctx context.Context, resumer *historyresumer.Resumer) error {
	before := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		page, err := s.channel.History(ctx, HistoryPageRequest{Before: before, PageSize: s.pageSize})
		if err != nil {
			return fmt.Errorf("%w: paging history: %v", ErrSyncFailed, err)
		}

		msgs := make([]historyresumer.Message, len(page.Messages))
		for i, e := range page.Messages {
			msgs[i] = historyresumer.Message{ID: e.SequenceID, Payload: e}
		}

		done, err := resumer.AddHistoricalMessages(msgs)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
		if done {
			return nil
		}
		if !page.HasNext {
			if _, err := resumer.Finish(); err != nil {
				return fmt.Errorf("%w: %v", ErrInsufficientHistory, err)
			}
			return nil
		}
		if len(page.Messages) > 0 {
			before = page.Messages[len(page.Messages)-1].SequenceID
		}
	}
}

// dispatch is the sink handed to both the resumer (historical tail) and the
// SlidingWindow (live reordering); both converge on one ordered delivery
// path to subscribers.
func (s *Stream) dispatch(batch []historyresumer.Message) {
	s.mu.Lock()
	if s.paused {
		s.mu.Unlock()
		return
	}
	handlers := make([]func(ConfirmedEvent, error), 0, len(s.consumers))
	for _, h := range s.consumers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	for _, m := range batch {
		event, ok := m.Payload.(ConfirmedEvent)
		if !ok {
			continue
		}
		for _, h := range handlers {
			h(event, nil)
		}
	}
}

// Pause actually detaches from the channel (not just a local "stop
// delivering" flag): the live subscription is cancelled and the channel
// detached, so messages published while paused are never observed rather
// than queued. A paused consumer is expected to Resume (re-attaching) or,
// if it needs the gap reconciled, Reset from its last confirmed sequence
// id.
func (s *Stream) Pause() error {
	s.mu.Lock()
	if s.state == StreamDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.paused = true
	s.attached = false
	channel := s.channel
	liveSub := s.liveSub
	s.liveSub = nil
	s.mu.Unlock()

	if liveSub != nil {
		liveSub.Cancel()
	}
	if channel == nil {
		return nil
	}
	if err := channel.Detach(context.Background()); err != nil {
		return fmt.Errorf("%w: detaching on pause: %v", ErrSyncFailed, err)
	}
	return nil
}

// Resume reverses a prior Pause: re-attaches the channel and re-subscribes
// to its live feed.
func (s *Stream) Resume(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StreamDisposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	channel := s.channel
	s.paused = false
	s.mu.Unlock()

	if channel == nil {
		return nil
	}
	if err := channel.Attach(ctx); err != nil {
		return fmt.Errorf("%w: re-attaching on resume: %v", ErrSyncFailed, err)
	}
	liveSub, err := channel.Subscribe(ctx, s.onLiveMessage)
	if err != nil {
		return fmt.Errorf("%w: re-subscribing on resume: %v", ErrSyncFailed, err)
	}

	s.mu.Lock()
	s.liveSub = liveSub
	s.attached = true
	s.mu.Unlock()
	return nil
}

// Dispose cancels the live subscription and any in-flight seek, detaches
// the channel, and transitions the Stream to StreamDisposed permanently.
func (s *Stream) Dispose() {
	s.mu.Lock()
	if s.state == StreamDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StreamDisposed
	s.attached = false
	if s.liveSub != nil {
		s.liveSub.Cancel()
		s.liveSub = nil
	}
	if s.cancelSeek != nil {
		s.cancelSeek()
	}
	channel := s.channel
	failedSub, suspendedSub := s.failedSub, s.suspendedSub
	s.failedSub, s.suspendedSub = nil, nil
	s.mu.Unlock()

	if failedSub != nil {
		failedSub.Cancel()
	}
	if suspendedSub != nil {
		suspendedSub.Cancel()
	}
	if channel != nil {
		_ = channel.Detach(context.Background())
	}
}

func (s *Stream) setErrored() {
	s.mu.Lock()
	if s.state != StreamDisposed {
		s.state = StreamErrored
		s.attached = false
	}
	s.mu.Unlock()
}
