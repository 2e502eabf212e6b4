package modelsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modelsync/modelsync/internal/eventbus"
)

// ModelState is the lifecycle state of a Model.
type ModelState string

const (
	ModelInitialized ModelState = "initialized"
	ModelSyncing     ModelState = "syncing"
	ModelReady       ModelState = "ready"
	ModelPaused      ModelState = "paused"
	ModelErrored     ModelState = "errored"
	ModelDisposed    ModelState = "disposed"
)

const (
	confirmedTopic  = "confirmed"
	optimisticTopic = "optimistic"
)

// ModelSpec names a Model and supplies its caller-owned collaborators: the
// channel it replays, the function that fetches a fresh snapshot, and the
// function that folds one event onto a prior state.
type ModelSpec[T any] struct {
	Name        string
	ChannelName string
	Sync        SyncFunc[T]
	Merge       MergeFunc[T]
}

// Model owns one entity's confirmed and optimistic projections, its
// Stream, its pending-confirmation bookkeeping, and the lifecycle FSM
// whose states are the ModelState constants. All state transitions are
// serialised on turnMu — a single logical "turn" — so a new event is never
// processed while a previous one's merge is still outstanding.
type Model[T any] struct {
	spec      ModelSpec[T]
	transport Transport
	options   Options
	logger    Logger
	metrics   Metrics

	turnMu sync.Mutex

	mu             sync.RWMutex
	state          ModelState
	data           ModelData[T]
	pendingEvents  []OptimisticEvent
	syncGeneration int
	lastSyncArgs   []any

	stream    *Stream
	pending   *PendingConfirmationRegistry
	mutations *MutationsRegistry
	bus       *eventbus.Bus
	subject   *eventSubject

	confirmMu         sync.Mutex
	confirmationChans map[string]chan error
}

// NewModel constructs a Model in ModelInitialized state. Call Sync to
// bootstrap it.
func NewModel[T any](spec ModelSpec[T], transport Transport, options Options, logger Logger, metrics Metrics) *Model[T] {
	if metrics == nil {
		metrics = NoopMetrics()
	}
	m := &Model[T]{
		spec:              spec,
		transport:         transport,
		options:           options.normalize(),
		logger:            orNoopLogger(logger),
		metrics:           metrics,
		state:             ModelInitialized,
		bus:               eventbus.New(),
		subject:           newEventSubject(logger),
		confirmationChans: make(map[string]chan error),
	}
	m.mutations = NewMutationsRegistry(m, m.options.OptimisticEventOptions)
	return m
}

// Observe registers observer to receive CloudEvents notifications of this
// Model's lifecycle transitions, optionally filtered to eventTypes (see the
// EventTypeModel* constants); an empty eventTypes receives every
// transition.
func (m *Model[T]) Observe(observer Observer, eventTypes ...string) error {
	return m.subject.RegisterObserver(observer, eventTypes...)
}

// Unobserve reverses a prior Observe. Idempotent.
func (m *Model[T]) Unobserve(observer Observer) error {
	return m.subject.UnregisterObserver(observer)
}

// State returns the Model's current lifecycle state.
func (m *Model[T]) State() ModelState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Data returns the Model's current confirmed and optimistic projections.
func (m *Model[T]) Data() ModelData[T] {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data
}

// SyncCount reports how many times Sync has run (bootstrap plus every
// automatic resync), for observability and testing.
func (m *Model[T]) SyncCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.syncGeneration
}

// Subscribe registers handler on the confirmed stream (optimistic=false) or
// the optimistic stream (optimistic=true). Delivery always happens on a
// dedicated goroutine, never on the caller's stack frame, so a handler may
// safely call back into the Model.
func (m *Model[T]) Subscribe(optimistic bool, handler func(err error, data T)) Subscription {
	topic := confirmedTopic
	if optimistic {
		topic = optimisticTopic
	}
	return m.bus.Subscribe(topic, func(_ context.Context, e eventbus.Event) {
		if e.Err != nil {
			var zero T
			handler(e.Err, zero)
			return
		}
		data, _ := e.Payload.(T)
		handler(nil, data)
	})
}

// Sync (re)bootstraps the Model: resets the Stream and pending
// confirmations, fetches a fresh snapshot via the caller's Sync function
// (retried per the configured backoff strategy), replays the channel from
// the snapshot's sequence id, and transitions to ModelReady. The new
// Stream's channel-level suspension is wired straight to an automatic
// resync with the same args (see handleStreamError); a stale Stream's late
// notifications are dropped by the sync-generation check there.
func (m *Model[T]) Sync(ctx context.Context, args ...any) error {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	if m.state == ModelDisposed {
		return ErrDisposed
	}

	m.mu.Lock()
	oldStream := m.stream
	m.stream = nil
	m.mu.Unlock()
	if oldStream != nil {
		oldStream.Dispose()
	}
	if m.pending != nil {
		for _, e := range m.pending.FinalizeAll() {
			m.settleConfirmation(e.MutationID, ErrSyncInterrupted)
		}
	}

	m.setState(ModelSyncing)
	m.mu.Lock()
	m.syncGeneration++
	gen := m.syncGeneration
	m.lastSyncArgs = args
	m.mu.Unlock()

	snapshot, err := m.fetchSnapshot(ctx, args...)
	if err != nil {
		m.setState(ModelErrored)
		return err
	}

	var (
		bufMu        sync.Mutex
		buffered     []ConfirmedEvent
		bootstrapped bool
	)
	stream := NewStream(m.transport, StreamConfig{
		ChannelName: m.spec.ChannelName,
		PageSize:    m.options.SyncOptions.HistoryPageSize,
		BufferMs:    m.options.EventBufferOptions.BufferMs,
		Less:        m.options.EventBufferOptions.EventOrderer,
		Logger:      m.logger,
		Metrics:     m.metrics,
	})
	stream.Subscribe(func(e ConfirmedEvent, err error) {
		if err != nil {
			m.handleStreamError(gen, args, err)
			return
		}
		bufMu.Lock()
		if !bootstrapped {
			buffered = append(buffered, e)
			bufMu.Unlock()
			return
		}
		bufMu.Unlock()
		m.handleConfirmed(gen, e)
	})

	if err := stream.Start(ctx, snapshot.SequenceID); err != nil {
		m.setState(ModelErrored)
		return err
	}

	// bufMu is held across the merge so no event can be appended to
	// buffered after it has been folded in and before the switch-over.
	bufMu.Lock()
	confirmed := snapshot.Data
	for _, e := range buffered {
		confirmed, err = m.spec.Merge(ctx, confirmed, e.Event, true)
		if err != nil {
			bufMu.Unlock()
			m.setState(ModelErrored)
			return fmt.Errorf("%w: %v", ErrMergeFailed, err)
		}
	}
	bootstrapped = true
	bufMu.Unlock()

	m.mu.Lock()
	m.stream = stream
	m.mu.Unlock()
	m.pending = NewPendingConfirmationRegistry(m.options.OptimisticEventOptions, m.handleTimeout)

	m.mu.Lock()
	m.data = ModelData[T]{Confirmed: confirmed, Optimistic: confirmed}
	m.pendingEvents = nil
	m.mu.Unlock()

	m.setState(ModelReady)
	m.publish(false, nil)
	m.publish(true, nil)

	return nil
}

func (m *Model[T]) fetchSnapshot(ctx context.Context, args ...any) (Snapshot[T], error) {
	retry := m.options.SyncOptions.RetryStrategy
	if retry == nil {
		retry = DefaultRetryStrategy
	}
	for attempt := 1; ; attempt++ {
		snapshot, err := m.spec.Sync(ctx, args...)
		if err == nil {
			return snapshot, nil
		}
		delay := retry(attempt)
		if delay < 0 {
			return Snapshot[T]{}, fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Snapshot[T]{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// handleStreamError is the Stream's error-path delivery callback for sync
// generation gen (§4.6.1: ready → syncing on channel discontinuity). A
// discontinuity (errors.Is(err, ErrDiscontinuity)) triggers an automatic
// resync with the same args that bootstrapped this generation; any other
// error is a non-recoverable channel failure, so the Model just errors.
// Stale generations (superseded by a later Sync) are dropped silently, the
// same way handleConfirmed drops stale confirmed events.
func (m *Model[T]) handleStreamError(gen int, args []any, err error) {
	m.mu.RLock()
	staleOrDisposed := gen != m.syncGeneration || m.state == ModelDisposed
	m.mu.RUnlock()
	if staleOrDisposed {
		return
	}

	if errors.Is(err, ErrDiscontinuity) {
		m.metrics.IncCounter("model_discontinuity_resync")
		m.subject.NotifyObservers(context.Background(), newLifecycleEvent(m.spec.Name, EventTypeModelDiscontinuity, uuid.New().String()))
		m.publishErr(false, err)
		_ = m.Sync(context.Background(), args...)
		return
	}

	m.setState(ModelErrored)
	m.publishErr(false, err)
}

// handleConfirmed is the Stream's delivery callback for one ConfirmedEvent
// of sync generation gen. Stale generations (superseded by a later Sync or
// resync) are dropped silently.
func (m *Model[T]) handleConfirmed(gen int, event ConfirmedEvent) {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	m.mu.RLock()
	staleOrDisposed := gen != m.syncGeneration || m.state == ModelDisposed
	m.mu.RUnlock()
	if staleOrDisposed {
		return
	}

	if event.Rejected {
		if pc, ok := m.pending.Resolve(event); ok {
			m.rebaseAndSettleLocked(pc.MutationID, ErrRejected)
		}
		return
	}

	m.mu.RLock()
	confirmed := m.data.Confirmed
	m.mu.RUnlock()

	newConfirmed, err := m.spec.Merge(context.Background(), confirmed, event.Event, true)
	if err != nil {
		m.setState(ModelErrored)
		m.publishErr(false, fmt.Errorf("%w: %v", ErrMergeFailed, err))
		return
	}

	m.mu.Lock()
	m.data.Confirmed = newConfirmed
	m.mu.Unlock()
	m.publish(false, nil)

	matchedID, matched := "", false
	if pc, ok := m.pending.Resolve(event); ok {
		matchedID, matched = pc.MutationID, true
	}

	pendingEvents := m.pending.Pending()
	newOptimistic, err := m.fold(context.Background(), newConfirmed, pendingEvents)
	if err != nil {
		m.setState(ModelErrored)
		m.publishErr(true, fmt.Errorf("%w: %v", ErrMergeFailed, err))
		return
	}

	m.mu.Lock()
	m.data.Optimistic = newOptimistic
	m.pendingEvents = pendingEvents
	m.mu.Unlock()
	m.publish(true, nil)

	if matched {
		m.settleConfirmation(matchedID, nil)
	}
}

// applyOptimistic implements optimisticApplier: merges event onto the
// optimistic state, registers it as pending, and notifies optimistic
// subscribers.
func (m *Model[T]) applyOptimistic(ctx context.Context, event OptimisticEvent) error {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()

	if m.State() != ModelReady {
		return fmt.Errorf("%w: optimistic requires a ready Model", ErrInvalidState)
	}

	m.mu.RLock()
	optimistic := m.data.Optimistic
	m.mu.RUnlock()

	newOptimistic, err := m.spec.Merge(ctx, optimistic, event.Event, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}

	m.pending.Add(event, 0)

	m.mu.Lock()
	m.data.Optimistic = newOptimistic
	m.pendingEvents = m.pending.Pending()
	m.mu.Unlock()
	m.publish(true, nil)
	m.subject.NotifyObservers(ctx, newLifecycleEvent(m.spec.Name, EventTypeOptimisticApplied, event.MutationID))
	return nil
}

// rollback implements optimisticApplier: removes mutationID from the
// pending registry (a no-op if it already settled via another path) and,
// if it was still outstanding, rebases optimistic state and settles its
// confirmation with cause.
func (m *Model[T]) rollback(cause error, mutationID string) {
	if _, ok := m.pending.Cancel(mutationID); !ok {
		return
	}
	m.turnMu.Lock()
	m.rebaseAndSettleLocked(mutationID, cause)
	m.turnMu.Unlock()
}

// handleTimeout is the PendingConfirmationRegistry's onTimeout callback:
// the entry is already removed by the time this runs, so it only rebases
// and settles.
func (m *Model[T]) handleTimeout(event OptimisticEvent) {
	m.turnMu.Lock()
	m.rebaseAndSettleLocked(event.MutationID, ErrConfirmationTimeout)
	m.turnMu.Unlock()
}

// rebaseAndSettleLocked recomputes optimistic state from the current
// confirmed state plus whatever remains pending, commits it, and settles
// mutationID's confirmation channel with settleErr. Caller must hold
// turnMu; the pending registry entry for mutationID must already be
// removed.
func (m *Model[T]) rebaseAndSettleLocked(mutationID string, settleErr error) {
	m.mu.RLock()
	confirmed := m.data.Confirmed
	m.mu.RUnlock()

	pendingEvents := m.pending.Pending()
	newOptimistic, err := m.fold(context.Background(), confirmed, pendingEvents)
	if err != nil {
		m.setState(ModelErrored)
		m.publishErr(true, fmt.Errorf("%w: %v", ErrMergeFailed, err))
		m.settleConfirmation(mutationID, settleErr)
		return
	}

	m.mu.Lock()
	m.data.Optimistic = newOptimistic
	m.pendingEvents = pendingEvents
	m.mu.Unlock()
	m.publish(true, nil)
	m.subject.NotifyObservers(context.Background(), newLifecycleEvent(m.spec.Name, EventTypeOptimisticRolledBack, mutationID))
	m.settleConfirmation(mutationID, settleErr)
}

// fold applies Merge left-to-right over events starting from base,
// implementing the "optimistic = fold(confirmed, pending)" invariant.
func (m *Model[T]) fold(ctx context.Context, base T, events []OptimisticEvent) (T, error) {
	state := base
	for _, e := range events {
		var err error
		state, err = m.spec.Merge(ctx, state, e.Event, false)
		if err != nil {
			return state, err
		}
	}
	return state, nil
}

// awaitConfirmation implements optimisticApplier: returns the channel that
// will receive exactly one value (nil on confirmation, an error otherwise)
// when mutationID settles.
func (m *Model[T]) awaitConfirmation(mutationID string) <-chan error {
	ch := make(chan error, 1)
	m.confirmMu.Lock()
	m.confirmationChans[mutationID] = ch
	m.confirmMu.Unlock()
	return ch
}

func (m *Model[T]) settleConfirmation(mutationID string, err error) {
	m.confirmMu.Lock()
	ch, ok := m.confirmationChans[mutationID]
	if ok {
		delete(m.confirmationChans, mutationID)
	}
	m.confirmMu.Unlock()
	if ok {
		ch <- err
		close(ch)
	}
}

// Optimistic applies event optimistically and returns its Confirmation and
// a Cancel handle. overrides carries call-site option overrides (e.g.
// "timeoutMs").
func (m *Model[T]) Optimistic(ctx context.Context, event Event, overrides map[string]any) (*Confirmation, Cancel, error) {
	return m.mutations.HandleOptimistic(ctx, event, overrides)
}

// Pause detaches the Stream while preserving subscriber state, requiring a
// subsequent Resume before further sync traffic is processed.
func (m *Model[T]) Pause() error {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	if m.State() != ModelReady {
		return fmt.Errorf("%w: pause requires a ready Model", ErrInvalidState)
	}
	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if stream != nil {
		if err := stream.Pause(); err != nil {
			return err
		}
	}
	m.setState(ModelPaused)
	return nil
}

// Resume reverses a prior Pause.
func (m *Model[T]) Resume() error {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	if m.State() != ModelPaused {
		return fmt.Errorf("%w: resume requires a paused Model", ErrInvalidState)
	}
	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if stream != nil {
		if err := stream.Resume(context.Background()); err != nil {
			return err
		}
	}
	m.setState(ModelReady)
	return nil
}

// Dispose tears down the Stream, settles every outstanding pending
// confirmation with ErrDisposed, and transitions the Model to
// ModelDisposed permanently. Subscriptions are not explicitly cleared; the
// underlying event bus is stopped, which halts delivery.
func (m *Model[T]) Dispose() {
	m.turnMu.Lock()
	defer m.turnMu.Unlock()
	if m.State() == ModelDisposed {
		return
	}
	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if stream != nil {
		stream.Dispose()
	}
	if m.pending != nil {
		for _, e := range m.pending.FinalizeAll() {
			m.settleConfirmation(e.MutationID, ErrDisposed)
		}
	}
	m.setState(ModelDisposed)
	m.bus.Stop()
}

// PendingCount reports how many optimistic events are currently awaiting
// confirmation, for diagnostics (see janitor.go).
func (m *Model[T]) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pendingEvents)
}

// StreamState reports the owning Stream's lifecycle state, or "" if Sync
// has never run.
func (m *Model[T]) StreamState() string {
	m.mu.RLock()
	stream := m.stream
	m.mu.RUnlock()
	if stream == nil {
		return ""
	}
	return string(stream.State())
}

func (m *Model[T]) setState(s ModelState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	if eventType, ok := modelStateEventType(s); ok {
		m.subject.NotifyObservers(context.Background(), newLifecycleEvent(m.spec.Name, eventType, uuid.New().String()))
	}
}

// modelStateEventType maps a ModelState to the CloudEvents type a Model's
// Subject emits for it. ModelInitialized, which no transition enters, has
// no notification and maps to ("", false).
func modelStateEventType(s ModelState) (string, bool) {
	switch s {
	case ModelSyncing:
		return EventTypeModelSyncing, true
	case ModelReady:
		return EventTypeModelReady, true
	case ModelErrored:
		return EventTypeModelErrored, true
	case ModelPaused:
		return EventTypeModelPaused, true
	case ModelDisposed:
		return EventTypeModelDisposed, true
	default:
		return "", false
	}
}

func (m *Model[T]) publish(optimistic bool, err error) {
	topic := confirmedTopic
	var payload any
	m.mu.RLock()
	if optimistic {
		topic = optimisticTopic
		payload = m.data.Optimistic
	} else {
		payload = m.data.Confirmed
	}
	m.mu.RUnlock()
	m.bus.Publish(eventbus.Event{Topic: topic, Payload: payload, Err: err})
}

func (m *Model[T]) publishErr(optimistic bool, err error) {
	topic := confirmedTopic
	if optimistic {
		topic = optimisticTopic
	}
	m.bus.Publish(eventbus.Event{Topic: topic, Err: err})
}
