package dbi

import (
	"context"
	"errors"
	"io"
	"time"
)

// shape runs query and reads its result with fetch. The statement is
// finished before shape returns, whether fetch succeeded, failed or panicked.
// A Finish error is an execution failure when nothing failed earlier, and the
// fetched result is dropped with it.
func shape[T any](ctx context.Context, c *Conn, variant, query string, args []any, fetch func(*Statement) (T, error)) (out T, err error) {
	start := time.Now()
	defer func() { c.metrics.observe(c.engine, variant, start, err) }()

	st, err := c.execute(ctx, query, args)
	if err != nil {
		return out, err
	}
	returned := false
	defer func() {
		ferr := st.Finish()
		if ferr == nil || err != nil || !returned {
			return
		}
		var zero T
		out, err = zero, c.fail(KindExecution, st.query, ferr)
	}()

	v, err := fetch(st)
	returned = true
	if err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}

func isNoResult(err error) bool { return errors.Is(err, ErrNoResult) }

// QueryRow returns the first row of the result as a list of column values.
// LIMIT 1 is added unless the query limits itself. It returns ErrNoResult
// when no row matched.
//
// Example:
//
//	row, err := conn.QueryRow(ctx, `SELECT chanid, callsign FROM channel WHERE chanid = ?`, 1001)
//	if errors.Is(err, dbi.ErrNoResult) {
//	    // no such channel
//	}
func (c *Conn) QueryRow(ctx context.Context, query string, args ...any) ([]any, error) {
	return shape(ctx, c, "row", InjectLimit(query), args, fetchOneRow)
}

// QueryAssoc returns the first row of the result keyed by column name.
// LIMIT 1 is added unless the query limits itself. It returns ErrNoResult
// when no row matched.
func (c *Conn) QueryAssoc(ctx context.Context, query string, args ...any) (map[string]any, error) {
	return shape(ctx, c, "assoc", InjectLimit(query), args, fetchOneAssoc)
}

// QueryCol returns the first column of the first row. A NULL column is
// returned as nil with a nil error; ErrNoResult means no row matched.
func (c *Conn) QueryCol(ctx context.Context, query string, args ...any) (any, error) {
	return shape(ctx, c, "col", InjectLimit(query), args, fetchOneColumn)
}

func fetchOneRow(st *Statement) ([]any, error) {
	row, err := st.FetchRow()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoResult
	}
	return row, err
}

func fetchOneAssoc(st *Statement) (map[string]any, error) {
	row, err := st.FetchAssoc()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoResult
	}
	return row, err
}

func fetchOneColumn(st *Statement) (any, error) {
	row, err := fetchOneRow(st)
	if err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, ErrNoResult
	}
	return row[0], nil
}

// Get runs the query like QueryAssoc and maps the row into a value of type T.
//
// T may be a struct (fields bind by `db:"name"` tag, otherwise by
// case-insensitive field name, with `db:",inline"` flattening nested
// structs), a pointer to one, a primitive, or a type implementing
// sql.Scanner. Non-struct types need a single-column result.
//
// Example:
//
//	type Channel struct {
//	    ID       int64  `db:"chanid"`
//	    Callsign string `db:"callsign"`
//	}
//	ch, err := dbi.Get[Channel](ctx, conn, `SELECT chanid, callsign FROM channel WHERE chanid = ?`, 1001)
func Get[T any](ctx context.Context, c *Conn, query string, args ...any) (out T, err error) {
	row, err := shape(ctx, c, "get", InjectLimit(query), args, fetchOneAssoc)
	if err != nil {
		return out, err
	}
	return bindRow[T](getMapper(), row)
}
