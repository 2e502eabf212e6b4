package modelsync

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golobby/cast"
	"gopkg.in/yaml.v3"
)

// SyncOptions configures how a Model bootstraps and resumes from history.
type SyncOptions struct {
	// HistoryPageSize is the page size used while seeking history.
	HistoryPageSize int `yaml:"historyPageSize" toml:"history_page_size"`

	// MessageRetentionPeriod is how long the channel retains history. It is
	// loaded and defaulted with the other options; Model and Stream do not
	// read it, so it does not affect whether a sync is attempted.
	MessageRetentionPeriod time.Duration `yaml:"messageRetentionPeriod" toml:"message_retention_period"`

	// RetryStrategy computes the backoff delay before each retry of the
	// caller's Sync function. A failed stream replay is not retried: the
	// Model goes straight to errored. Not serialisable; always
	// DefaultRetryStrategy unless set programmatically.
	RetryStrategy RetryStrategy `yaml:"-" toml:"-"`
}

// OptimisticEventOptions configures a single optimistic batch.
type OptimisticEventOptions struct {
	// Timeout is the confirmation deadline. Zero means "use the
	// library/registry default".
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`

	// Comparator decides which ConfirmedEvent settles an OptimisticEvent.
	// Not serialisable.
	Comparator Comparator `yaml:"-" toml:"-"`
}

// EventBufferOptions configures the SlidingWindow every Stream uses to
// locally reorder live messages.
type EventBufferOptions struct {
	// BufferMs is the reordering window in milliseconds; 0 disables
	// buffering (messages are emitted immediately, in arrival order).
	BufferMs int64 `yaml:"bufferMs" toml:"buffer_ms"`

	// EventOrderer is the comparator used to sort buffered messages by id.
	// Not serialisable; defaults to numeric-else-lexicographic.
	EventOrderer func(a, b string) bool `yaml:"-" toml:"-"`
}

// Options bundles every configurable knob a ModelsClient exposes, with the
// literal defaults from the library's options table.
type Options struct {
	LogLevel              string                  `yaml:"logLevel" toml:"log_level"`
	SyncOptions           SyncOptions             `yaml:"syncOptions" toml:"sync_options"`
	OptimisticEventOptions OptimisticEventOptions `yaml:"optimisticEventOptions" toml:"optimistic_event_options"`
	EventBufferOptions    EventBufferOptions      `yaml:"eventBufferOptions" toml:"event_buffer_options"`
}

// DefaultOptions returns the library's documented defaults:
// historyPageSize=100, messageRetentionPeriod=2m, retryStrategy=2s/4s/8s,
// optimisticEventOptions.timeout=120s, eventBufferOptions.bufferMs=0,
// eventOrderer=numeric-else-lexicographic.
func DefaultOptions() Options {
	return Options{
		LogLevel: "info",
		SyncOptions: SyncOptions{
			HistoryPageSize:        100,
			MessageRetentionPeriod: defaultMessageRetentionPeriod,
			RetryStrategy:          DefaultRetryStrategy,
		},
		OptimisticEventOptions: OptimisticEventOptions{
			Timeout:    120 * time.Second,
			Comparator: DefaultComparator(),
		},
		EventBufferOptions: EventBufferOptions{
			BufferMs:     0,
			EventOrderer: DefaultEventOrderer,
		},
	}
}

// normalize fills in zero-valued fields with library defaults, mirroring
// the teacher's ReloadOrchestratorConfig/EventBusConfig constructors
// ("if field <= 0 { field = default }") rather than reflection-based
// defaulting.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.LogLevel == "" {
		o.LogLevel = d.LogLevel
	}
	if o.SyncOptions.HistoryPageSize <= 0 {
		o.SyncOptions.HistoryPageSize = d.SyncOptions.HistoryPageSize
	}
	if o.SyncOptions.MessageRetentionPeriod <= 0 {
		o.SyncOptions.MessageRetentionPeriod = d.SyncOptions.MessageRetentionPeriod
	}
	if o.SyncOptions.RetryStrategy == nil {
		o.SyncOptions.RetryStrategy = d.SyncOptions.RetryStrategy
	}
	if o.OptimisticEventOptions.Timeout <= 0 {
		o.OptimisticEventOptions.Timeout = d.OptimisticEventOptions.Timeout
	}
	if o.OptimisticEventOptions.Comparator == nil {
		o.OptimisticEventOptions.Comparator = d.OptimisticEventOptions.Comparator
	}
	if o.EventBufferOptions.EventOrderer == nil {
		o.EventBufferOptions.EventOrderer = d.EventBufferOptions.EventOrderer
	}
	return o
}

// LoadOptions reads Options from a YAML (.yml/.yaml) or TOML (.toml) file,
// falling back to DefaultOptions for anything the file omits. The format is
// chosen from the file extension, matching the teacher's config package
// supporting both formats for different config sources.
func LoadOptions(path string) (Options, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path is operator-supplied configuration
	if err != nil {
		return Options{}, fmt.Errorf("modelsync: read options file: %w", err)
	}

	opts := Options{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			return Options{}, fmt.Errorf("modelsync: parse yaml options: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &opts); err != nil {
			return Options{}, fmt.Errorf("modelsync: parse toml options: %w", err)
		}
	default:
		return Options{}, fmt.Errorf("%w: unsupported options file extension %q", ErrInvalidArgument, ext)
	}

	return opts.normalize(), nil
}

// mergeOptimisticEventOptions implements the call-site > registry-default >
// library-default precedence from the optimistic-event application
// algorithm. callSite arrives as a loosely-typed map (the boundary where an
// RPC/JS-interop caller hands in overrides) and is cast field-by-field onto
// the registry default.
func mergeOptimisticEventOptions(registryDefault OptimisticEventOptions, callSite map[string]any) (OptimisticEventOptions, error) {
	effective := registryDefault

	if raw, ok := callSite["timeoutMs"]; ok {
		ms, err := cast.ToInt64(raw)
		if err != nil {
			return effective, fmt.Errorf("%w: optimisticEventOptions.timeoutMs: %v", ErrInvalidArgument, err)
		}
		effective.Timeout = time.Duration(ms) * time.Millisecond
	}

	if raw, ok := callSite["comparator"]; ok {
		cmp, ok := raw.(Comparator)
		if !ok {
			return effective, fmt.Errorf("%w: optimisticEventOptions.comparator must implement Comparator", ErrInvalidArgument)
		}
		effective.Comparator = cmp
	}

	return effective, nil
}

// DefaultEventOrderer orders by numeric value when both ids parse as
// integers, falling back to lexicographic order otherwise, per the
// SlidingWindow default comparator.
func DefaultEventOrderer(a, b string) bool {
	an, aerr := parseID(a)
	bn, berr := parseID(b)
	if aerr == nil && berr == nil {
		return an < bn
	}
	return a < b
}

func parseID(s string) (int64, error) {
	var n int64
	var neg bool
	i := 0
	if len(s) == 0 {
		return 0, fmt.Errorf("empty id")
	}
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i == len(s) {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid id %q", s)
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}
