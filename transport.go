package modelsync

import "context"

// Transport is the caller-supplied adapter onto the realtime channel and
// connection the library replays and resyncs against. A Model or Stream
// never talks to a network directly; it only ever talks to a Transport.
type Transport interface {
	// Channel returns the named channel, creating any client-side
	// bookkeeping needed to subscribe to and page through it.
	Channel(ctx context.Context, name string) (Channel, error)

	// Connection reports and signals the transport's connection state.
	Connection() Connection
}

// Channel is a single realtime topic: a live subscription plus paginated
// history, keyed by the same opaque sequence ids the Model and Stream
// already carry in Event/ConfirmedEvent. Channel has its own attach
// lifecycle, independent of Transport.Connection, so a Stream can react to
// a failure or suspension scoped to the one channel it is replaying rather
// than the transport-wide connection.
type Channel interface {
	// Attach opens the channel. Calling Attach on an already-attached
	// channel is a no-op.
	Attach(ctx context.Context) error

	// Detach closes the channel; any Subscription obtained from this
	// channel stops delivering. A detached channel may be re-attached.
	Detach(ctx context.Context) error

	// On registers cb to run whenever the channel transitions to
	// stateName. Every Channel implementation must support at least
	// ChannelStateFailed (a non-recoverable condition — the owning Stream
	// moves to StreamErrored), ChannelStateSuspended (a discontinuity — the owning
	// Stream surfaces an error to its subscribers so the owning Model can
	// resync), and ChannelStateUpdate (a resumable attach-state change
	// that implies no data loss). The returned Subscription's Cancel
	// unregisters cb.
	On(stateName string, cb func(reason error)) (Subscription, error)

	// Subscribe delivers every message published to the channel from this
	// point on, in receipt order, until ctx is cancelled or the returned
	// Subscription is cancelled.
	Subscribe(ctx context.Context, handler func(ConfirmedEvent)) (Subscription, error)

	// History returns one page of retained messages older than req.Before
	// (exclusive; an empty Before requests the most recent page),
	// newest-first. HasNext is false once the channel's retention window is
	// exhausted.
	History(ctx context.Context, req HistoryPageRequest) (HistoryPage, error)
}

// Channel state names passed to Channel.On.
const (
	ChannelStateAttached  = "attached"
	ChannelStateDetached  = "detached"
	ChannelStateSuspended = "suspended"
	ChannelStateFailed    = "failed"
	ChannelStateUpdate    = "update"
)

// Subscription is returned by Channel.Subscribe; Cancel stops delivery.
type Subscription interface {
	Cancel()
}

// HistoryPageRequest pages backward from Before (exclusive), newest-first.
// An empty Before requests the most recent page.
type HistoryPageRequest struct {
	Before   string
	PageSize int
}

// HistoryPage is one page of a History call.
type HistoryPage struct {
	Messages []ConfirmedEvent
	HasNext  bool
}

// AgentIdentifiable is an optional Transport capability: a ModelsClient
// stamps its generated agent identifier onto any Transport that implements
// it, so the server side can attribute traffic to a specific client
// instance.
type AgentIdentifiable interface {
	SetAgentID(id string)
}

// Connection reports a Transport's connection lifecycle. States are
// transport-defined strings; "connected" and "disconnected" are the two
// every Transport is expected to emit, so the Stream and Model can gate
// resync on them.
type Connection interface {
	// State returns the current connection state.
	State() string

	// WhenState returns a channel that is closed the next time the
	// connection reaches state, or when ctx is done, whichever comes
	// first. If the connection is already in state when WhenState is
	// called, implementations should close the channel immediately.
	WhenState(ctx context.Context, state string) <-chan struct{}
}
