package dbi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Driver is implemented by every engine backend. It owns the connection to
// the database server and reports the native error of its most recent failed
// operation.
type Driver interface {
	Prepare(ctx context.Context, query string) (Stmt, error)
	// Escape returns s with every character that is special inside a quoted
	// SQL string literal escaped. The surrounding quotes are not added.
	Escape(s string) string
	ErrorCode() string
	ErrorMessage() string
	Close() error
}

// Stmt is one prepared statement produced by [Driver.Prepare].
//
// FetchRow and FetchAssoc return io.EOF once the result set is exhausted.
// NumRows may drain the remaining rows to count them; rows drained that way
// are still returned by later fetches.
type Stmt interface {
	Execute(ctx context.Context, args []any) error
	Columns() ([]string, error)
	FetchRow() ([]any, error)
	FetchAssoc() (map[string]any, error)
	NumRows() (int64, error)
	InsertID() (int64, error)
	AffectedRows() (int64, error)
	Finish() error
}

// Engine selects an engine backend.
type Engine int

const (
	EngineUnknown Engine = iota
	EngineMySQL
	EnginePostgres
	EngineSQLite
	EngineDuckDB
)

var engineNames = map[Engine]string{
	EngineMySQL:    "mysql",
	EnginePostgres: "postgres",
	EngineSQLite:   "sqlite",
	EngineDuckDB:   "duckdb",
}

func (e Engine) String() string {
	if n, ok := engineNames[e]; ok {
		return n
	}
	return "unknown"
}

// ParseEngine maps an engine name, including the historical aliases, to an
// Engine. Names are case-insensitive.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mysql", "mysqli", "mysql_detect", "mysqli_compat", "mariadb":
		return EngineMySQL, nil
	case "pgsql", "pg", "postgres", "postgresql":
		return EnginePostgres, nil
	case "sqlite", "sqlite3":
		return EngineSQLite, nil
	case "duckdb":
		return EngineDuckDB, nil
	}
	return EngineUnknown, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
}

// Opener connects to a database described by cfg.
type Opener func(ctx context.Context, cfg Config) (Driver, error)

var (
	openersMu sync.RWMutex
	openers   = make(map[Engine]Opener)
)

// Register makes an engine backend available to [Connect]. It is meant to be
// called from the init function of an engine package and panics when the
// engine is registered twice or the opener is nil.
func Register(e Engine, o Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	if o == nil {
		panic("dbi: Register opener is nil")
	}
	if _, dup := openers[e]; dup {
		panic("dbi: Register called twice for engine " + e.String())
	}
	openers[e] = o
}

// Engines returns the registered engines in declaration order.
func Engines() []Engine {
	openersMu.RLock()
	defer openersMu.RUnlock()
	out := make([]Engine, 0, len(openers))
	for e := range openers {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func lookupOpener(e Engine) (Opener, bool) {
	openersMu.RLock()
	defer openersMu.RUnlock()
	o, ok := openers[e]
	return o, ok
}

// Connect validates cfg, opens the engine it names and returns a Conn
// wrapping the engine's driver.
func Connect(ctx context.Context, cfg Config, opts ...Option) (*Conn, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := ParseEngine(cfg.Engine)
	if err != nil {
		return nil, err
	}
	open, ok := lookupOpener(engine)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not registered (missing import of its engine package?)", ErrUnknownEngine, engine)
	}
	d, err := open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dbi: connect %s: %w", engine, err)
	}
	return New(engine, d, opts...), nil
}
