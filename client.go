package modelsync

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ModelsClient is a keyed registry of Models sharing one Transport handle.
// get (GetModel) de-duplicates by name: once a name is registered, later
// calls return the existing instance without re-validating the rest of the
// spec, so the caller is responsible for passing a consistent
// channelName/sync/merge for a given name.
type ModelsClient struct {
	transport Transport
	options   Options
	logger    Logger
	metrics   Metrics
	agentID   string

	mu     sync.Mutex
	models map[string]disposable
}

// disposable is the type-erased view of a *Model[T] the client needs for
// bookkeeping (every Model[T] satisfies it regardless of T).
type disposable interface {
	Dispose()
	State() ModelState
	PendingCount() int
	StreamState() string
}

// ModelDiagnostics is a point-in-time snapshot of one registered Model, used
// by the janitor sweep and by anything else that wants a cheap health
// overview without touching Model[T] generics.
type ModelDiagnostics struct {
	Name         string
	State        ModelState
	PendingCount int
	StreamState  string
}

// NewModelsClient constructs a ModelsClient over transport. It generates an
// agent identifier and stamps it on transport if transport implements
// AgentIdentifiable, so the server can attribute traffic to this client
// instance.
func NewModelsClient(transport Transport, options Options, logger Logger, metrics Metrics) *ModelsClient {
	agentID := uuid.New().String()
	if stampable, ok := transport.(AgentIdentifiable); ok {
		stampable.SetAgentID(agentID)
	}
	return &ModelsClient{
		transport: transport,
		options:   options.normalize(),
		logger:    orNoopLogger(logger),
		metrics:   metrics,
		agentID:   agentID,
		models:    make(map[string]disposable),
	}
}

// AgentID returns the identifier stamped on the transport handle.
func (c *ModelsClient) AgentID() string { return c.agentID }

// GetModel returns the Model registered under spec.Name, constructing it on
// first use. GetModel is a free function rather than a ModelsClient method
// because Go methods cannot introduce their own type parameter; call it as
// modelsync.GetModel(client, spec).
func GetModel[T any](c *ModelsClient, spec ModelSpec[T]) (*Model[T], error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: model name must not be empty", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.models[spec.Name]; ok {
		model, ok := existing.(*Model[T])
		if !ok {
			return nil, fmt.Errorf("%w: model %q already registered with a different data type", ErrInvalidArgument, spec.Name)
		}
		return model, nil
	}

	if spec.ChannelName == "" {
		return nil, fmt.Errorf("%w: model %q requires a channel name", ErrInvalidArgument, spec.Name)
	}
	if spec.Sync == nil || spec.Merge == nil {
		return nil, fmt.Errorf("%w: model %q requires Sync and Merge", ErrInvalidArgument, spec.Name)
	}

	model := NewModel(spec, c.transport, c.options, c.logger, c.metrics)
	c.models[spec.Name] = model
	return model, nil
}

// Models returns the names currently registered.
func (c *ModelsClient) Models() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.models))
	for name := range c.models {
		names = append(names, name)
	}
	return names
}

// Diagnostics returns a point-in-time snapshot of every registered Model,
// sorted by nothing in particular (registration order is not tracked).
func (c *ModelsClient) Diagnostics() []ModelDiagnostics {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshots := make([]ModelDiagnostics, 0, len(c.models))
	for name, m := range c.models {
		snapshots = append(snapshots, ModelDiagnostics{
			Name:         name,
			State:        m.State(),
			PendingCount: m.PendingCount(),
			StreamState:  m.StreamState(),
		})
	}
	return snapshots
}

// Dispose disposes every registered Model and clears the registry.
func (c *ModelsClient) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.models {
		m.Dispose()
	}
	c.models = make(map[string]disposable)
}
