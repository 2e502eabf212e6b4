// Package eventbus is a minimal in-process publish/subscribe fan-out used
// by Model to deliver confirmed/optimistic notifications to subscribers
// asynchronously — never on the goroutine that produced the mutation.
//
// Adapted from the teacher's modules/eventbus in-memory engine: topic
// wildcard matching, event history/TTL retention and the pluggable
// multi-engine router are dropped since a Model only ever has two static
// topics (confirmed, optimistic) and no retention requirement; the
// worker-pool/per-subscription-goroutine delivery shape is kept.
package eventbus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Event is a single notification published to a topic.
type Event struct {
	Topic   string
	Payload any
	Err     error
}

// Handler processes one Event. Handler errors are swallowed by the bus
// (there is no publisher waiting on the result); a caller that cares about
// handler failures should report them itself.
type Handler func(ctx context.Context, event Event)

// Subscription is returned by Subscribe; Cancel stops delivery. Cancel is
// idempotent and, once it returns, guarantees no further Handler calls for
// this subscription will begin (a handler already running may still be
// in flight).
type Subscription interface {
	ID() string
	Cancel()
}

type subscription struct {
	id      string
	topic   string
	handler Handler
	eventCh chan Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) ID() string { return s.id }

func (s *subscription) Cancel() {
	s.once.Do(func() { close(s.done) })
}

// Bus is a topic-keyed in-process event bus. The zero value is not usable;
// construct with New.
type Bus struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	subs map[string]map[string]*subscription
}

// New constructs a running Bus. Call Stop to release its background
// goroutines.
func New() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[string]*subscription),
	}
}

// Stop cancels every subscription's delivery goroutine and waits for them
// to exit.
func (b *Bus) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Subscribe registers handler for topic. Delivery happens on a dedicated
// goroutine per subscription, so handler never runs on the publisher's
// goroutine.
func (b *Bus) Subscribe(topic string, handler Handler) Subscription {
	sub := &subscription{
		id:      uuid.New().String(),
		topic:   topic,
		handler: handler,
		eventCh: make(chan Event, 16),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]*subscription)
	}
	b.subs[topic][sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)

	return sub
}

// Unsubscribe removes a subscription obtained from Subscribe. Equivalent
// to calling sub.Cancel() followed by bookkeeping cleanup; safe to call
// more than once.
func (b *Bus) Unsubscribe(sub Subscription) {
	s, ok := sub.(*subscription)
	if !ok {
		return
	}
	s.Cancel()

	b.mu.Lock()
	if topicSubs, ok := b.subs[s.topic]; ok {
		delete(topicSubs, s.id)
		if len(topicSubs) == 0 {
			delete(b.subs, s.topic)
		}
	}
	b.mu.Unlock()
}

// Publish delivers event to every current subscriber of event.Topic.
// Publish never blocks on a slow or cancelled subscriber: delivery is
// best-effort (buffered channel, dropped if full or already cancelled).
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := make([]*subscription, 0, len(b.subs[event.Topic]))
	for _, s := range b.subs[event.Topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.eventCh <- event:
		default:
		}
	}
}

func (b *Bus) deliver(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case <-sub.done:
			return
		case event := <-sub.eventCh:
			select {
			case <-sub.done:
				return
			default:
			}
			sub.handler(b.ctx, event)
		}
	}
}
