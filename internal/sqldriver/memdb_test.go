package sqldriver

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
)

// reply is what the in-memory database answers to one statement.
type reply struct {
	cols     []string
	rows     [][]driver.Value
	lastID   int64
	affected int64
}

type handler func(query string, args []driver.NamedValue) (reply, error)

// memDB records what reached the database/sql driver layer.
type memDB struct {
	h          handler
	prepareErr error

	mu       sync.Mutex
	prepared []string
	direct   []string // statements run without preparing
}

func (m *memDB) Connect(context.Context) (driver.Conn, error) { return &memConn{db: m}, nil }
func (m *memDB) Driver() driver.Driver                        { return memDriver{} }

func (m *memDB) Prepared() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prepared...)
}

func (m *memDB) Direct() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.direct...)
}

type memDriver struct{}

func (memDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("memDriver.Open should not be called; use sql.OpenDB with connector")
}

type memConn struct{ db *memDB }

func (c *memConn) Prepare(query string) (driver.Stmt, error) {
	if c.db.prepareErr != nil {
		return nil, c.db.prepareErr
	}
	c.db.mu.Lock()
	c.db.prepared = append(c.db.prepared, query)
	c.db.mu.Unlock()
	return &memStmt{db: c.db, query: query}, nil
}
func (c *memConn) Close() error              { return nil }
func (c *memConn) Begin() (driver.Tx, error) { return nil, driver.ErrSkip }

func (c *memConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.mu.Lock()
	c.db.direct = append(c.db.direct, query)
	c.db.mu.Unlock()
	return c.db.query(query, args)
}

func (c *memConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.db.mu.Lock()
	c.db.direct = append(c.db.direct, query)
	c.db.mu.Unlock()
	return c.db.exec(query, args)
}

func (m *memDB) query(query string, args []driver.NamedValue) (driver.Rows, error) {
	r, err := m.h(query, args)
	if err != nil {
		return nil, err
	}
	return &memRows{cols: r.cols, data: r.rows}, nil
}

func (m *memDB) exec(query string, args []driver.NamedValue) (driver.Result, error) {
	r, err := m.h(query, args)
	if err != nil {
		return nil, err
	}
	return memResult{lastID: r.lastID, affected: r.affected}, nil
}

type memStmt struct {
	db    *memDB
	query string
}

func (s *memStmt) Close() error  { return nil }
func (s *memStmt) NumInput() int { return -1 }

func (s *memStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.db.exec(s.query, named(args))
}

func (s *memStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.db.query(s.query, named(args))
}

func (s *memStmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.db.exec(s.query, args)
}

func (s *memStmt) QueryContext(_ context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.db.query(s.query, args)
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type memRows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (r *memRows) Columns() []string { return append([]string(nil), r.cols...) }
func (r *memRows) Close() error      { return nil }
func (r *memRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	row := r.data[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

type memResult struct {
	lastID   int64
	affected int64
}

func (r memResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r memResult) RowsAffected() (int64, error) { return r.affected, nil }

// newMemDriver returns a Driver over an in-memory database answering with h.
func newMemDriver(t *testing.T, m *memDB, cfg Config) *Driver {
	t.Helper()
	d := New(sqlx.NewDb(sql.OpenDB(m), "mem"), cfg)
	t.Cleanup(func() { _ = d.Close() })
	return d
}
