package dbi

import (
	"context"
)

// Result holds the counters of an executed statement.
type Result struct {
	InsertID     int64
	AffectedRows int64
}

// Exec executes a statement that does not return rows (INSERT, UPDATE,
// DELETE, DDL) and returns its counters. Counters the engine cannot report
// are zero.
//
// Example:
//
//	res, err := conn.Exec(ctx, `UPDATE record SET inactive = ? WHERE recordid IN (?, ?)`, 1, []int{7, 9})
//	if err != nil {
//	    return err
//	}
//	fmt.Println("rows:", res.AffectedRows)
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (Result, error) {
	return shape(ctx, c, "exec", query, args, func(st *Statement) (Result, error) {
		var r Result
		r.InsertID, _ = st.InsertID()
		r.AffectedRows, _ = st.AffectedRows()
		return r, nil
	})
}

// QueryNumRows returns the number of rows the query returned or affected.
func (c *Conn) QueryNumRows(ctx context.Context, query string, args ...any) (int64, error) {
	return shape(ctx, c, "num_rows", query, args, func(st *Statement) (int64, error) {
		return st.NumRows()
	})
}

// QueryInsertID executes the query and returns the id it generated. The id
// is the one captured when the statement ran; it is read after the statement
// has been finished.
func (c *Conn) QueryInsertID(ctx context.Context, query string, args ...any) (int64, error) {
	_, err := shape(ctx, c, "insert_id", query, args, func(*Statement) (struct{}, error) {
		return struct{}{}, nil
	})
	if err != nil {
		return 0, err
	}
	return c.InsertID()
}
