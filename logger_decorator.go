package modelsync

// LoggerDecorator wraps a Logger to add behaviour without modifying the
// core implementation. A ModelsClient that owns many Models commonly wants
// each Model's log lines prefixed with its name, or fanned out to a second
// sink (e.g. an audit log) alongside the primary one.
type LoggerDecorator interface {
	Logger
	Inner() Logger
}

// baseLoggerDecorator forwards every call to the wrapped Logger; embed it
// to build narrower decorators that only override what they need.
type baseLoggerDecorator struct {
	inner Logger
}

func (d *baseLoggerDecorator) Inner() Logger { return d.inner }

func (d *baseLoggerDecorator) Info(msg string, args ...any)  { d.inner.Info(msg, args...) }
func (d *baseLoggerDecorator) Warn(msg string, args ...any)  { d.inner.Warn(msg, args...) }
func (d *baseLoggerDecorator) Error(msg string, args ...any) { d.inner.Error(msg, args...) }
func (d *baseLoggerDecorator) Debug(msg string, args ...any) { d.inner.Debug(msg, args...) }

// PrefixedLogger prepends a static key-value pair (typically the Model
// name) to every call, so logs from many Models sharing a ModelsClient can
// be told apart in an unstructured sink.
type PrefixedLogger struct {
	*baseLoggerDecorator
	key   string
	value string
}

// NewPrefixedLogger returns a Logger that tags every line with key=value.
func NewPrefixedLogger(inner Logger, key, value string) *PrefixedLogger {
	return &PrefixedLogger{baseLoggerDecorator: &baseLoggerDecorator{inner: inner}, key: key, value: value}
}

func (d *PrefixedLogger) tag(args []any) []any {
	return append([]any{d.key, d.value}, args...)
}

func (d *PrefixedLogger) Info(msg string, args ...any)  { d.inner.Info(msg, d.tag(args)...) }
func (d *PrefixedLogger) Warn(msg string, args ...any)  { d.inner.Warn(msg, d.tag(args)...) }
func (d *PrefixedLogger) Error(msg string, args ...any) { d.inner.Error(msg, d.tag(args)...) }
func (d *PrefixedLogger) Debug(msg string, args ...any) { d.inner.Debug(msg, d.tag(args)...) }

// DualWriterLogger logs to two destinations simultaneously, e.g. the
// application's primary logger and a separate audit/metrics sink.
type DualWriterLogger struct {
	*baseLoggerDecorator
	secondary Logger
}

// NewDualWriterLogger returns a Logger that forwards to both primary and
// secondary.
func NewDualWriterLogger(primary, secondary Logger) *DualWriterLogger {
	return &DualWriterLogger{baseLoggerDecorator: &baseLoggerDecorator{inner: primary}, secondary: secondary}
}

func (d *DualWriterLogger) Info(msg string, args ...any) {
	d.inner.Info(msg, args...)
	d.secondary.Info(msg, args...)
}

func (d *DualWriterLogger) Warn(msg string, args ...any) {
	d.inner.Warn(msg, args...)
	d.secondary.Warn(msg, args...)
}

func (d *DualWriterLogger) Error(msg string, args ...any) {
	d.inner.Error(msg, args...)
	d.secondary.Error(msg, args...)
}

func (d *DualWriterLogger) Debug(msg string, args ...any) {
	d.inner.Debug(msg, args...)
	d.secondary.Debug(msg, args...)
}
