package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-mizu/dbi"
)

type (
	queryFlags struct {
		key string
	}

	variantFunc func(ctx context.Context, conn *dbi.Conn, key, query string, args []any) (any, error)
)

var variants = map[string]variantFunc{
	"row": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryRow(ctx, q, args...)
	},
	"assoc": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryAssoc(ctx, q, args...)
	},
	"col": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryCol(ctx, q, args...)
	},
	"list": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryList(ctx, q, args...)
	},
	"list-rows": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryListRows(ctx, q, args...)
	},
	"list-assoc": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryListAssoc(ctx, q, args...)
	},
	"keyed-rows": func(ctx context.Context, conn *dbi.Conn, key, q string, args []any) (any, error) {
		return conn.QueryKeyedListRows(ctx, key, q, args...)
	},
	"keyed-assoc": func(ctx context.Context, conn *dbi.Conn, key, q string, args []any) (any, error) {
		return conn.QueryKeyedListAssoc(ctx, key, q, args...)
	},
	"num-rows": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryNumRows(ctx, q, args...)
	},
	"insert-id": func(ctx context.Context, conn *dbi.Conn, _, q string, args []any) (any, error) {
		return conn.QueryInsertID(ctx, q, args...)
	},
}

func variantNames() []string {
	names := make([]string, 0, len(variants))
	for k := range variants {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (c *Cmd) getQueryCmd() *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query <variant> <sql> [args ...]",
		Short: "Runs a query and prints its shaped result",
		Long: `Runs a query and prints the result in the shape named by the variant:
` + strings.Join(variantNames(), ", ") + `.

Each argument fills one ? placeholder.`,
		Args:      cobra.MinimumNArgs(2),
		ValidArgs: variantNames(),
		RunE:      c.execQuery,
	}
	queryCmd.Flags().StringVarP(&c.queryFlags.key, "key", "k", "", "column to key keyed-rows and keyed-assoc results by")
	return queryCmd
}

func (c *Cmd) execQuery(cmd *cobra.Command, args []string) error {
	fn, ok := variants[args[0]]
	if !ok {
		return fmt.Errorf("unknown variant %q (want one of %s)", args[0], strings.Join(variantNames(), ", "))
	}
	if strings.HasPrefix(args[0], "keyed-") && c.queryFlags.key == "" {
		return fmt.Errorf("variant %s requires --key", args[0])
	}
	return c.withConn(cmd, func(ctx context.Context, conn *dbi.Conn) (any, error) {
		return fn(ctx, conn, c.queryFlags.key, args[1], queryArgs(args[2:]))
	})
}

func (c *Cmd) getExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql> [args ...]",
		Short: "Executes a statement and prints its counters",
		Long:  `Executes a statement that returns no rows and prints the affected row count and generated id.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConn(cmd, func(ctx context.Context, conn *dbi.Conn) (any, error) {
				res, err := conn.Exec(ctx, args[0], queryArgs(args[1:])...)
				if err != nil {
					return nil, err
				}
				return map[string]int64{
					"affected_rows": res.AffectedRows,
					"insert_id":     res.InsertID,
				}, nil
			})
		},
	}
}

func (c *Cmd) getEnginesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engines",
		Short: "Lists the available engines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engines := dbi.Engines()
			names := make([]string, 0, len(engines))
			for _, e := range engines {
				names = append(names, e.String())
			}
			return c.render(names)
		},
	}
}

func (c *Cmd) getEscapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "escape <string> ...",
		Short: "Escapes strings for the configured engine",
		Long:  `Escapes each string for use inside a quoted SQL literal, the way the configured engine requires.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConn(cmd, func(_ context.Context, conn *dbi.Conn) (any, error) {
				return conn.EscapeAll(args), nil
			})
		},
	}
}

func (c *Cmd) getInterpolateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "interpolate <sql> [args ...]",
		Short: "Prints a query with its arguments inlined as literals",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withConn(cmd, func(_ context.Context, conn *dbi.Conn) (any, error) {
				return conn.Interpolate(args[0], queryArgs(args[1:])...)
			})
		},
	}
}
