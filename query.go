package dbi

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cast"
)

// QueryList returns the first column of every row.
//
// An empty result is an empty, non-nil slice.
func (c *Conn) QueryList(ctx context.Context, query string, args ...any) ([]any, error) {
	return shape(ctx, c, "list", query, args, func(st *Statement) ([]any, error) {
		out := make([]any, 0)
		err := eachRow(st, func(row []any) error {
			if len(row) > 0 {
				out = append(out, row[0])
			}
			return nil
		})
		return out, err
	})
}

// QueryListRows returns every row as a list of column values.
func (c *Conn) QueryListRows(ctx context.Context, query string, args ...any) ([][]any, error) {
	return shape(ctx, c, "list_rows", query, args, func(st *Statement) ([][]any, error) {
		out := make([][]any, 0)
		err := eachRow(st, func(row []any) error {
			out = append(out, row)
			return nil
		})
		return out, err
	})
}

// QueryListAssoc returns every row keyed by column name.
//
// Example:
//
//	recs, err := conn.QueryListAssoc(ctx, `SELECT * FROM recorded WHERE chanid = ? AND starttime > ?`, chanID, since)
func (c *Conn) QueryListAssoc(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	return shape(ctx, c, "list_assoc", query, args, fetchAllAssoc)
}

// QueryKeyedListRows returns every row as a list of column values, indexed by
// the value of column key. Key values are compared as strings; when two rows
// share a key the later row wins.
func (c *Conn) QueryKeyedListRows(ctx context.Context, key, query string, args ...any) (map[string][]any, error) {
	return shape(ctx, c, "keyed_rows", query, args, func(st *Statement) (map[string][]any, error) {
		cols, err := st.Columns()
		if err != nil {
			return nil, err
		}
		idx := -1
		for i, col := range cols {
			if col == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, key)
		}
		out := make(map[string][]any)
		err = eachRow(st, func(row []any) error {
			if idx >= len(row) {
				return fmt.Errorf("%w: %q", ErrUnknownColumn, key)
			}
			out[keyString(row[idx])] = row
			return nil
		})
		return out, err
	})
}

// QueryKeyedListAssoc returns every row keyed by column name, indexed by the
// value of column key. Key values are compared as strings; when two rows
// share a key the later row wins.
func (c *Conn) QueryKeyedListAssoc(ctx context.Context, key, query string, args ...any) (map[string]map[string]any, error) {
	return shape(ctx, c, "keyed_assoc", query, args, func(st *Statement) (map[string]map[string]any, error) {
		out := make(map[string]map[string]any)
		for {
			row, err := st.FetchAssoc()
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if err != nil {
				return nil, err
			}
			v, ok := row[key]
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, key)
			}
			out[keyString(v)] = row
		}
	})
}

// Select runs the query like QueryListAssoc and maps every row into T.
// See [Get] for the mapping rules.
func Select[T any](ctx context.Context, c *Conn, query string, args ...any) ([]T, error) {
	rows, err := shape(ctx, c, "select", query, args, fetchAllAssoc)
	if err != nil {
		return nil, err
	}
	m := getMapper()
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := bindRow[T](m, row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func eachRow(st *Statement, fn func([]any) error) error {
	for {
		row, err := st.FetchRow()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func fetchAllAssoc(st *Statement) ([]map[string]any, error) {
	out := make([]map[string]any, 0)
	for {
		row, err := st.FetchAssoc()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
}

func keyString(v any) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
