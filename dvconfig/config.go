package dvconfig

// Config carries the dispatch policy, the freeze-on-resolve flag, strict
// double-settle reporting, the logging sink, and debug stack capture as
// one explicit, threadable value instead of process-wide globals. A
// zero-value Config resolves to sensible defaults: microtask dispatch,
// values not frozen, non-strict double-settle handling, logging
// discarded, stack capture off.
type Config struct {
	Dispatcher   Dispatcher
	FreezeValues bool
	Strict       bool
	Logger       Logger
	Debug        bool
}

// Default returns the documented-default Config: microtask dispatch,
// values not frozen, non-strict double-settle handling, logging
// discarded.
func Default() Config {
	return Config{}
}

// log is a nil-safe helper so call sites never need to check cfg.Logger.
func (c Config) log(entry LogEntry) {
	if c.Logger == nil {
		return
	}
	c.Logger.Log(entry)
}

// LogSwallowed records an exception from a hook or subscriber callback
// that must be logged and swallowed rather than propagated to the
// DeferredValue it was registered on.
func (c Config) LogSwallowed(category, message string, err error) {
	c.log(LogEntry{Level: LevelWarn, Category: category, Message: message, Err: err})
}

// Option configures a Config via the functional-options pattern.
type Option func(*Config)

// WithDispatcher overrides the dispatch policy.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Config) { c.Dispatcher = d }
}

// WithFreezeValues enables deep-freezing of compound fulfillment values
// at settlement, so the caller's own maps and slices are not aliased by
// the value observed by Then/Catch handlers (see dv.Frozen for what is
// copied).
func WithFreezeValues(enabled bool) Option {
	return func(c *Config) { c.FreezeValues = enabled }
}

// WithStrict enables strict-mode reporting: double-settle attempts raise
// instead of being logged as a warning and dropped.
func WithStrict(enabled bool) Option {
	return func(c *Config) { c.Strict = enabled }
}

// WithLogger sets the structured logging sink used for "log and swallow"
// paths.
func WithLogger(l Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithDebug enables creation/rejection stack-trace capture. Off by
// default since it costs a runtime.Callers walk per DeferredValue.
func WithDebug(enabled bool) Option {
	return func(c *Config) { c.Debug = enabled }
}

// New builds a Config from the given options, starting from Default().
func New(opts ...Option) Config {
	cfg := Default()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}
