// Package duckdb registers the DuckDB engine, backed by duckdb-go. Database
// is the path of the database file, or ":memory:". Import it for its side
// effect:
//
//	import _ "github.com/go-mizu/dbi/engine/duckdb"
package duckdb

import (
	"context"
	"net/url"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/go-mizu/dbi"
	"github.com/go-mizu/dbi/internal/sqldriver"
)

func init() {
	dbi.Register(dbi.EngineDuckDB, open)
}

func open(ctx context.Context, cfg dbi.Config) (dbi.Driver, error) {
	opts, interpolate, err := sqldriver.InterpolateOption(cfg.Options)
	if err != nil {
		return nil, err
	}
	cfg.Options = opts
	d, err := sqldriver.Open(ctx, "duckdb", DSN(cfg), sqldriver.Config{
		Placeholder: dbi.PlaceholderQuestion,
		Interpolate: interpolate,
		Escape:      sqldriver.EscapeQuotes,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database == ":memory:" {
		// One shared in-memory database; an unfinished dbi.Statement blocks
		// every other query.
		d.DB().SetMaxOpenConns(1)
	}
	return d, nil
}

// DSN returns the database path, empty for an in-memory database, with the
// options appended as configuration parameters, e.g. "tv.duckdb?threads=4".
func DSN(cfg dbi.Config) string {
	path := cfg.Database
	if path == ":memory:" {
		path = ""
	}
	if len(cfg.Options) == 0 {
		return path
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	return path + "?" + q.Encode()
}
