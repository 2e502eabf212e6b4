// Package memtransport is an in-memory reference implementation of
// modelsync.Transport, used by the demo command and by tests that need a
// real (if volatile) channel rather than a hand-rolled mock. It keeps a
// bounded ring of published messages per channel so History pagination and
// resumable replay can be exercised end to end.
package memtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/modelsync/modelsync"
)

// Transport is a process-local modelsync.Transport. The zero value is not
// usable; construct with New.
type Transport struct {
	mu       sync.Mutex
	channels map[string]*Channel
	conn     *connection
	agentID  string
}

// New constructs a Transport whose Connection starts in the given state
// ("connected" is the conventional default for a transport with nothing to
// dial).
func New(initialState string) *Transport {
	return &Transport{
		channels: make(map[string]*Channel),
		conn:     newConnection(initialState),
	}
}

// Channel returns the named channel, creating it on first use.
func (t *Transport) Channel(_ context.Context, name string) (modelsync.Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.channels[name]
	if !ok {
		ch = newChannel(name, defaultRetention, t.conn)
		t.channels[name] = ch
	}
	return ch, nil
}

// Connection returns the transport's shared connection.
func (t *Transport) Connection() modelsync.Connection { return t.conn }

// SetState transitions the connection to state, waking any WhenState
// waiters for that state.
func (t *Transport) SetState(state string) { t.conn.setState(state) }

// SetAgentID implements modelsync.AgentIdentifiable.
func (t *Transport) SetAgentID(id string) {
	t.mu.Lock()
	t.agentID = id
	t.mu.Unlock()
}

// AgentID returns the last id stamped via SetAgentID, for test assertions.
func (t *Transport) AgentID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.agentID
}

// Publish appends event to the named channel's retained history and
// delivers it to every live subscriber, creating the channel if needed.
// It is the test/demo-side equivalent of a server publishing to the topic
// the library is replaying.
func (t *Transport) Publish(_ context.Context, name string, event modelsync.ConfirmedEvent) {
	t.mu.Lock()
	ch, ok := t.channels[name]
	if !ok {
		ch = newChannel(name, defaultRetention, t.conn)
		t.channels[name] = ch
	}
	t.mu.Unlock()
	ch.publish(event)
}

const defaultRetention = 500

// Channel is an in-memory modelsync.Channel backed by a bounded,
// oldest-first slice acting as the retention ring.
type Channel struct {
	name      string
	retention int
	conn      *connection

	mu       sync.Mutex
	history  []modelsync.ConfirmedEvent // oldest-first, bounded to retention
	subs     map[*subscription]struct{}
	attached bool
}

func newChannel(name string, retention int, conn *connection) *Channel {
	return &Channel{
		name:      name,
		retention: retention,
		conn:      conn,
		subs:      make(map[*subscription]struct{}),
	}
}

// onSubscription backs a Channel.On registration; Cancel stops the
// goroutine (if any) watching for the registered state.
type onSubscription struct {
	cancel context.CancelFunc
}

func (s *onSubscription) Cancel() { s.cancel() }

// Attach opens the channel. This reference transport has no actual wire to
// dial, so Attach only sets the attached flag; live subscribers receive
// published messages only while it is set.
func (c *Channel) Attach(_ context.Context) error {
	c.mu.Lock()
	c.attached = true
	c.mu.Unlock()
	return nil
}

// Detach closes the channel: published messages are still retained in
// history but are not delivered to subscribers until it is re-attached.
func (c *Channel) Detach(_ context.Context) error {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()
	return nil
}

// On registers cb against the shared connection's suspended/connected
// state changes for modelsync.ChannelStateSuspended, since this in-memory
// transport has no per-channel failure mode independent of the shared
// connection. ChannelStateFailed and ChannelStateUpdate are accepted but
// never fire — this reference transport never fails a channel on its own
// and never emits an "update".
func (c *Channel) On(stateName string, cb func(reason error)) (modelsync.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	switch stateName {
	case modelsync.ChannelStateSuspended:
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-c.conn.WhenState(ctx, "suspended"):
				}
				select {
				case <-ctx.Done():
					return
				default:
				}
				cb(fmt.Errorf("channel %q: connection suspended", c.name))
				select {
				case <-ctx.Done():
					return
				case <-c.conn.WhenState(ctx, "connected"):
				}
			}
		}()
	case modelsync.ChannelStateFailed, modelsync.ChannelStateUpdate, modelsync.ChannelStateAttached, modelsync.ChannelStateDetached:
		// Accepted for interface compliance; this reference transport never
		// emits these on its own.
	default:
		cancel()
		return nil, fmt.Errorf("%w: unknown channel state %q", modelsync.ErrInvalidArgument, stateName)
	}
	return &onSubscription{cancel: cancel}, nil
}

type subscription struct {
	ch      *Channel
	handler func(modelsync.ConfirmedEvent)
	mu      sync.Mutex
	cancel  bool
}

func (s *subscription) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel {
		return
	}
	s.cancel = true
	s.ch.mu.Lock()
	delete(s.ch.subs, s)
	s.ch.mu.Unlock()
}

// Subscribe registers handler for every message published from now on.
func (c *Channel) Subscribe(_ context.Context, handler func(modelsync.ConfirmedEvent)) (modelsync.Subscription, error) {
	sub := &subscription{ch: c, handler: handler}
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	return sub, nil
}

// History returns one page of retained messages older than req.Before,
// newest-first, honouring req.PageSize (defaulting to the whole retained
// set when PageSize is zero or negative).
func (c *Channel) History(_ context.Context, req modelsync.HistoryPageRequest) (modelsync.HistoryPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// history is oldest-first; walk from the newest end.
	end := len(c.history)
	if req.Before != "" {
		for i := len(c.history) - 1; i >= 0; i-- {
			if c.history[i].SequenceID == req.Before {
				end = i
				break
			}
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = end
	}
	start := end - pageSize
	if start < 0 {
		start = 0
	}

	newestFirst := make([]modelsync.ConfirmedEvent, 0, end-start)
	for i := end - 1; i >= start; i-- {
		newestFirst = append(newestFirst, c.history[i])
	}

	return modelsync.HistoryPage{
		Messages: newestFirst,
		HasNext:  start > 0,
	}, nil
}

func (c *Channel) publish(event modelsync.ConfirmedEvent) {
	c.mu.Lock()
	c.history = append(c.history, event)
	if len(c.history) > c.retention {
		c.history = c.history[len(c.history)-c.retention:]
	}
	subs := make([]*subscription, 0, len(c.subs))
	if c.attached {
		for s := range c.subs {
			subs = append(subs, s)
		}
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// connection is a minimal modelsync.Connection with a broadcast-on-change
// state.
type connection struct {
	mu      sync.Mutex
	state   string
	waiters map[string][]chan struct{}
}

func newConnection(initialState string) *connection {
	return &connection{state: initialState, waiters: make(map[string][]chan struct{})}
}

func (c *connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *connection) WhenState(ctx context.Context, state string) <-chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	c.waiters[state] = append(c.waiters[state], ch)
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-ch:
		}
	}()
	return ch
}

func (c *connection) setState(state string) {
	c.mu.Lock()
	c.state = state
	waiters := c.waiters[state]
	delete(c.waiters, state)
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
