// Package sqldriver implements dbi.Driver on top of a database/sql pool
// through sqlx. The engine packages configure it with their placeholder
// style, escaping rules and native error decoding.
package sqldriver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"

	"github.com/go-mizu/dbi"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"
)

// Config describes the engine-specific behavior of a Driver.
type Config struct {
	// Placeholder is the parameter style the engine expects; ? placeholders
	// are rewritten to it before preparing.
	Placeholder dbi.Placeholder
	// Interpolate substitutes arguments into the statement text client side
	// instead of preparing it on the server.
	Interpolate bool
	// Escape escapes a string literal. Defaults to doubling single quotes.
	Escape func(string) string
	// DecodeError extracts the native error code and message from a driver
	// error. Defaults to an empty code and err.Error().
	DecodeError func(error) (code, message string)
}

// Driver is a dbi.Driver backed by a sqlx pool.
type Driver struct {
	db  *sqlx.DB
	cfg Config

	mu   sync.Mutex
	code string
	msg  string
}

var _ dbi.Driver = (*Driver)(nil)

// New wraps an open pool. The Driver owns db and closes it on Close.
func New(db *sqlx.DB, cfg Config) *Driver {
	if cfg.Escape == nil {
		cfg.Escape = EscapeQuotes
	}
	if cfg.DecodeError == nil {
		cfg.DecodeError = func(err error) (string, string) { return "", err.Error() }
	}
	return &Driver{db: db, cfg: cfg}
}

// Open connects to dsn with the database/sql driver registered as
// driverName and verifies the connection.
func Open(ctx context.Context, driverName, dsn string, cfg Config) (*Driver, error) {
	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, err
	}
	return New(db, cfg), nil
}

// InterpolateOption removes the "interpolate" key from opts, which are
// otherwise passed to the engine, and reports its value.
func InterpolateOption(opts map[string]string) (map[string]string, bool, error) {
	rest := make(map[string]string, len(opts))
	on := false
	for k, v := range opts {
		if k != "interpolate" {
			rest[k] = v
			continue
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, false, fmt.Errorf("sqldriver: option interpolate: %w", err)
		}
		on = b
	}
	return rest, on, nil
}

// DB returns the underlying pool.
func (d *Driver) DB() *sqlx.DB { return d.db }

func (d *Driver) Prepare(ctx context.Context, query string) (dbi.Stmt, error) {
	s := &stmt{d: d, query: query, rows: returnsRows(query)}
	// Both modes reject \? the same way; interpolation then works on the
	// original text.
	q, _, err := dbi.Rebind(query, d.cfg.Placeholder)
	if err != nil {
		d.setErr(err)
		return nil, err
	}
	if d.cfg.Interpolate {
		d.clearErr()
		return s, nil
	}
	ps, err := d.db.PreparexContext(ctx, q)
	if err != nil {
		d.setErr(err)
		return nil, err
	}
	d.clearErr()
	s.ps = ps
	return s, nil
}

func (d *Driver) Escape(s string) string { return d.cfg.Escape(s) }

func (d *Driver) ErrorCode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.code
}

func (d *Driver) ErrorMessage() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.msg
}

func (d *Driver) Close() error { return d.db.Close() }

func (d *Driver) setErr(err error) {
	code, msg := d.cfg.DecodeError(err)
	d.mu.Lock()
	d.code, d.msg = code, msg
	d.mu.Unlock()
}

func (d *Driver) clearErr() {
	d.mu.Lock()
	d.code, d.msg = "", ""
	d.mu.Unlock()
}

// EscapeQuotes doubles single quotes, the standard SQL escape.
func EscapeQuotes(s string) string { return strings.ReplaceAll(s, "'", "''") }

var rowsRe = regexp.MustCompile(`(?is)^(?:\s+|--[^\n]*\n|/\*.*?\*/|\()*(?:SELECT|WITH|SHOW|DESCRIBE|DESC|EXPLAIN|PRAGMA|VALUES|TABLE|CALL|FROM|SUMMARIZE)\b`)

var returningRe = regexp.MustCompile(`(?i)\bRETURNING\b`)

// returnsRows reports whether query produces a result set rather than just
// counters.
func returnsRows(query string) bool {
	return rowsRe.MatchString(query) || returningRe.MatchString(query)
}

var (
	errNoInsertID    = errors.New("sqldriver: statement returned rows; no insert id")
	errNotExecuted   = errors.New("sqldriver: statement not executed")
	errNoAffected    = errors.New("sqldriver: statement returned rows; no affected count")
	errAlreadyClosed = errors.New("sqldriver: statement finished")
)

type stmt struct {
	d     *Driver
	query string
	ps    *sqlx.Stmt // nil when interpolating
	rows  bool

	rs      *sqlx.Rows
	cols    []string
	buf     [][]any // rows read ahead by NumRows
	fetched int64
	drained bool
	res     sql.Result
	done    bool
}

func (s *stmt) Execute(ctx context.Context, args []any) error {
	if s.done {
		return errAlreadyClosed
	}
	if s.rs != nil {
		_ = s.rs.Close()
		s.rs, s.cols, s.buf, s.fetched, s.drained = nil, nil, nil, 0, false
	}
	s.res = nil

	var err error
	switch {
	case s.ps == nil:
		var q string
		q, err = dbi.Interpolate(s.query, args, s.d)
		if err != nil {
			break
		}
		if s.rows {
			s.rs, err = s.d.db.QueryxContext(ctx, q)
		} else {
			s.res, err = s.d.db.ExecContext(ctx, q)
		}
	case s.rows:
		s.rs, err = s.ps.QueryxContext(ctx, args...)
	default:
		s.res, err = s.ps.ExecContext(ctx, args...)
	}
	if err != nil {
		s.d.setErr(err)
		return err
	}
	s.d.clearErr()
	if s.rs != nil {
		if s.cols, err = s.rs.Columns(); err != nil {
			s.d.setErr(err)
			return err
		}
	}
	return nil
}

func (s *stmt) Columns() ([]string, error) {
	if s.rs == nil && !s.drained {
		if s.res != nil {
			return []string{}, nil
		}
		return nil, errNotExecuted
	}
	return append([]string(nil), s.cols...), nil
}

func (s *stmt) FetchRow() ([]any, error) {
	if len(s.buf) > 0 {
		row := s.buf[0]
		s.buf = s.buf[1:]
		s.fetched++
		return row, nil
	}
	if s.rs == nil {
		if s.res != nil || s.drained {
			return nil, io.EOF
		}
		return nil, errNotExecuted
	}
	if !s.rs.Next() {
		return nil, s.endOfRows()
	}
	row, err := s.rs.SliceScan()
	if err != nil {
		s.d.setErr(err)
		return nil, err
	}
	s.fetched++
	return normalizeRow(row), nil
}

func (s *stmt) FetchAssoc() (map[string]any, error) {
	if len(s.buf) > 0 {
		row, _ := s.FetchRow()
		return s.assoc(row), nil
	}
	if s.rs == nil {
		if s.res != nil || s.drained {
			return nil, io.EOF
		}
		return nil, errNotExecuted
	}
	if !s.rs.Next() {
		return nil, s.endOfRows()
	}
	m := make(map[string]any, len(s.cols))
	if err := s.rs.MapScan(m); err != nil {
		s.d.setErr(err)
		return nil, err
	}
	s.fetched++
	for k, v := range m {
		m[k] = normalize(v)
	}
	return m, nil
}

func (s *stmt) assoc(row []any) map[string]any {
	m := make(map[string]any, len(s.cols))
	for i, c := range s.cols {
		if i < len(row) {
			m[c] = row[i]
		}
	}
	return m
}

// endOfRows closes the exhausted result set and reports io.EOF, or the
// error that ended iteration.
func (s *stmt) endOfRows() error {
	err := s.rs.Err()
	_ = s.rs.Close()
	s.rs = nil
	s.drained = true
	if err != nil {
		s.d.setErr(err)
		return err
	}
	return io.EOF
}

func (s *stmt) NumRows() (int64, error) {
	if s.res != nil {
		return s.res.RowsAffected()
	}
	if s.rs == nil && !s.drained {
		return 0, errNotExecuted
	}
	for s.rs != nil && s.rs.Next() {
		row, err := s.rs.SliceScan()
		if err != nil {
			s.d.setErr(err)
			return 0, err
		}
		s.buf = append(s.buf, normalizeRow(row))
	}
	if s.rs != nil {
		if err := s.endOfRows(); err != io.EOF {
			return 0, err
		}
	}
	return s.fetched + int64(len(s.buf)), nil
}

func (s *stmt) InsertID() (int64, error) {
	if s.res == nil {
		if s.rows {
			return 0, errNoInsertID
		}
		return 0, errNotExecuted
	}
	return s.res.LastInsertId()
}

func (s *stmt) AffectedRows() (int64, error) {
	if s.res == nil {
		if s.rows {
			return 0, errNoAffected
		}
		return 0, errNotExecuted
	}
	return s.res.RowsAffected()
}

func (s *stmt) Finish() error {
	if s.done {
		return nil
	}
	s.done = true
	var errs []error
	if s.rs != nil {
		errs = append(errs, s.rs.Close())
		s.rs = nil
	}
	if s.ps != nil {
		errs = append(errs, s.ps.Close())
	}
	s.buf = nil
	return errors.Join(errs...)
}

func normalizeRow(row []any) []any {
	for i, v := range row {
		row[i] = normalize(v)
	}
	return row
}

// normalize turns driver-owned byte slices into strings so that fetched
// values stay valid after the next fetch.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
