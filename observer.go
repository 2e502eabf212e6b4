package modelsync

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// Observer receives CloudEvents notifications from a Subject. Adapted from
// the teacher's Observer pattern: a Model's lifecycle transitions are
// emitted as CloudEvents (rather than bespoke Go callbacks) to anything
// registered as an Observer, so a host application can forward them
// verbatim to its own observability pipeline without a translation layer.
type Observer interface {
	// OnEvent is called when a subscribed event occurs. Observers should
	// return promptly; NotifyObservers delivers to each observer on its
	// own goroutine so one slow observer cannot block another.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration and
	// de-duplication.
	ObserverID() string
}

// Subject is implemented by anything that can be observed.
type Subject interface {
	RegisterObserver(observer Observer, eventTypes ...string) error
	UnregisterObserver(observer Observer) error
	NotifyObservers(ctx context.Context, event cloudevents.Event) error
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer for debugging/monitoring.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// EventType constants emitted by a Model's Subject, in CloudEvents reverse-
// domain notation.
const (
	EventTypeModelSyncing         = "io.modelsync.model.syncing"
	EventTypeModelReady           = "io.modelsync.model.ready"
	EventTypeModelErrored         = "io.modelsync.model.errored"
	EventTypeModelPaused          = "io.modelsync.model.paused"
	EventTypeModelDisposed        = "io.modelsync.model.disposed"
	EventTypeModelDiscontinuity   = "io.modelsync.model.discontinuity"
	EventTypeOptimisticApplied    = "io.modelsync.optimistic.applied"
	EventTypeOptimisticRolledBack = "io.modelsync.optimistic.rolledback"
)

// FunctionalObserver adapts a plain function to the Observer interface, for
// quick registration without defining a named type.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver constructs an Observer from a function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }

// eventSubject is the Subject implementation backing every Model. It is
// deliberately simpler than a full pub/sub router: registration is
// filtered by event type, delivery is asynchronous and best-effort, and an
// observer's error is logged rather than propagated, since NotifyObservers
// has already returned to its caller by the time an observer runs.
type eventSubject struct {
	logger Logger

	mu        sync.Mutex
	observers map[string]*registeredObserver
}

type registeredObserver struct {
	observer   Observer
	eventTypes map[string]struct{} // empty means "all"
	registered time.Time
}

func newEventSubject(logger Logger) *eventSubject {
	return &eventSubject{logger: orNoopLogger(logger), observers: make(map[string]*registeredObserver)}
}

// RegisterObserver implements Subject.
func (s *eventSubject) RegisterObserver(observer Observer, eventTypes ...string) error {
	filter := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		filter[t] = struct{}{}
	}
	s.mu.Lock()
	s.observers[observer.ObserverID()] = &registeredObserver{observer: observer, eventTypes: filter, registered: time.Now()}
	s.mu.Unlock()
	return nil
}

// UnregisterObserver implements Subject. Idempotent.
func (s *eventSubject) UnregisterObserver(observer Observer) error {
	s.mu.Lock()
	delete(s.observers, observer.ObserverID())
	s.mu.Unlock()
	return nil
}

// NotifyObservers implements Subject.
func (s *eventSubject) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	s.mu.Lock()
	targets := make([]*registeredObserver, 0, len(s.observers))
	for _, r := range s.observers {
		if len(r.eventTypes) == 0 {
			targets = append(targets, r)
			continue
		}
		if _, ok := r.eventTypes[event.Type()]; ok {
			targets = append(targets, r)
		}
	}
	s.mu.Unlock()

	for _, r := range targets {
		go func(r *registeredObserver) {
			if err := r.observer.OnEvent(ctx, event); err != nil {
				s.logger.Warn("observer notification failed", "observerId", r.observer.ObserverID(), "eventType", event.Type(), "error", err)
			}
		}(r)
	}
	return nil
}

// GetObservers implements Subject.
func (s *eventSubject) GetObservers() []ObserverInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]ObserverInfo, 0, len(s.observers))
	for id, r := range s.observers {
		types := make([]string, 0, len(r.eventTypes))
		for t := range r.eventTypes {
			types = append(types, t)
		}
		infos = append(infos, ObserverInfo{ID: id, EventTypes: types, RegisteredAt: r.registered})
	}
	return infos
}

var _ Subject = (*eventSubject)(nil)

// newLifecycleEvent builds the CloudEvents envelope a Model emits for one
// of its own lifecycle transitions.
func newLifecycleEvent(source, eventType, id string) cloudevents.Event {
	ce := cloudevents.NewEvent()
	ce.SetID(id)
	ce.SetSource(source)
	ce.SetType(eventType)
	ce.SetTime(time.Now())
	return ce
}
