package dbi

import (
	"sync"

	"go.uber.org/zap"
)

// Conn issues queries against one engine driver.
//
// A Conn is meant to be used by one goroutine at a time. Its error record and
// counters are guarded, but two goroutines interleaving queries would still
// observe each other's errors and insert ids.
type Conn struct {
	engine      Engine
	drv         Driver
	log         *zap.Logger
	metrics     *Metrics
	onFatal     func(*Error)
	diagnostics bool

	mu       sync.Mutex
	fatal    bool
	lastErr  *ErrorRecord
	counters counters
}

// counters are captured from the most recently executed statement.
type counters struct {
	insertID    int64
	insertIDErr error
	affected    int64
	affectedErr error
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the logger used for statement and failure logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// WithMetrics records every query in m.
func WithMetrics(m *Metrics) Option {
	return func(c *Conn) { c.metrics = m }
}

// WithFatalHandler replaces the function called with prepare and execution
// failures while fatal errors are enabled. The default panics with the
// *Error. When the handler returns, the failing call returns the error.
func WithFatalHandler(fn func(*Error)) Option {
	return func(c *Conn) {
		if fn != nil {
			c.onFatal = fn
		}
	}
}

// WithDiagnostics controls whether recorded failures carry a stack trace.
// It is on by default.
func WithDiagnostics(on bool) Option {
	return func(c *Conn) { c.diagnostics = on }
}

// New wraps an already connected driver.
func New(engine Engine, d Driver, opts ...Option) *Conn {
	c := &Conn{
		engine:      engine,
		drv:         d,
		log:         zap.NewNop(),
		onFatal:     func(e *Error) { panic(e) },
		diagnostics: true,
		fatal:       true,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(zap.Stringer("engine", engine))
	return c
}

// Engine reports which engine backend the Conn talks to.
func (c *Conn) Engine() Engine { return c.engine }

// Driver returns the engine driver.
func (c *Conn) Driver() Driver { return c.drv }

// Close closes the underlying driver.
func (c *Conn) Close() error {
	c.log.Debug("Closing connection")
	return c.drv.Close()
}

// EnableFatalErrors makes prepare and execution failures fatal. This is the
// default.
func (c *Conn) EnableFatalErrors() {
	c.mu.Lock()
	c.fatal = true
	c.mu.Unlock()
}

// DisableFatalErrors makes failures non-fatal: they are recorded and
// returned, and the caller must check them.
func (c *Conn) DisableFatalErrors() {
	c.mu.Lock()
	c.fatal = false
	c.mu.Unlock()
}

// FatalErrors reports whether failures are currently fatal.
func (c *Conn) FatalErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fatal
}

// Err returns a copy of the last recorded failure, or nil.
func (c *Conn) Err() *ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	rec := *c.lastErr
	return &rec
}

// ClearError forgets the recorded failure.
func (c *Conn) ClearError() {
	c.mu.Lock()
	c.lastErr = nil
	c.mu.Unlock()
}

// RecordError replaces the error record with the driver's current native
// error, prefixed by context. With withDiagnostic the record also carries the
// caller's stack trace.
func (c *Conn) RecordError(context string, withDiagnostic bool) {
	c.record(context, withDiagnostic, nil)
}

func (c *Conn) record(context string, withDiagnostic bool, cause error) *ErrorRecord {
	rec := &ErrorRecord{
		Code:    c.drv.ErrorCode(),
		Message: c.drv.ErrorMessage(),
		Context: context,
	}
	if rec.Message == "" && cause != nil {
		rec.Message = cause.Error()
	}
	if withDiagnostic {
		rec.Diagnostic = zap.StackSkip("", 2).String
	}
	c.mu.Lock()
	c.lastErr = rec
	c.mu.Unlock()
	out := *rec
	return &out
}

// fail records a driver failure and applies the fatal policy to it.
func (c *Conn) fail(kind ErrorKind, query string, cause error) *Error {
	rec := c.record(kind.String()+" failed:\n"+query, c.diagnostics, cause)
	e := &Error{
		Kind:    kind,
		Code:    rec.Code,
		Message: rec.Message,
		Query:   query,
		Err:     cause,
	}
	fields := []zap.Field{
		zap.String("kind", kind.String()),
		zap.String("code", e.Code),
		zap.String("query", query),
		zap.Error(cause),
	}
	if kind == KindNoResult || !c.FatalErrors() {
		c.log.Warn("Query failed", fields...)
		return e
	}
	c.log.Error("Query failed", fields...)
	c.onFatal(e)
	return e
}

func (c *Conn) setCounters(ct counters) {
	c.mu.Lock()
	c.counters = ct
	c.mu.Unlock()
}

// InsertID returns the auto-generated id captured from the last executed
// statement. Engines without insert ids report an error.
func (c *Conn) InsertID() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.insertID, c.counters.insertIDErr
}

// AffectedRows returns the number of rows changed by the last executed statement.
func (c *Conn) AffectedRows() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters.affected, c.counters.affectedErr
}

// Escape escapes s for use inside a quoted string literal of this engine.
func (c *Conn) Escape(s string) string { return c.drv.Escape(s) }

// EscapeAll escapes every element of ss.
func (c *Conn) EscapeAll(ss []string) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = c.drv.Escape(s)
	}
	return out
}

// Interpolate substitutes the flattened args for the ? placeholders of query
// as escaped literals of this engine. See [Interpolate].
func (c *Conn) Interpolate(query string, args ...any) (string, error) {
	return Interpolate(query, Flatten(args...), c.drv)
}
