// Package sqlite registers the SQLite engine, backed by mattn/go-sqlite3.
// Database is the path of the database file, or ":memory:". Import it for
// its side effect:
//
//	import _ "github.com/go-mizu/dbi/engine/sqlite"
package sqlite

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/go-mizu/dbi"
	"github.com/go-mizu/dbi/internal/sqldriver"
)

func init() {
	dbi.Register(dbi.EngineSQLite, open)
}

func open(ctx context.Context, cfg dbi.Config) (dbi.Driver, error) {
	opts, interpolate, err := sqldriver.InterpolateOption(cfg.Options)
	if err != nil {
		return nil, err
	}
	cfg.Options = opts
	d, err := sqldriver.Open(ctx, "sqlite3", DSN(cfg), sqldriver.Config{
		Placeholder: dbi.PlaceholderQuestion,
		Interpolate: interpolate,
		Escape:      sqldriver.EscapeQuotes,
		DecodeError: DecodeError,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Database == ":memory:" {
		// Every pooled connection would otherwise open its own empty database.
		// An unfinished dbi.Statement therefore blocks every other query.
		d.DB().SetMaxOpenConns(1)
	}
	return d, nil
}

// DSN returns the database path with the options appended as URI query
// parameters, e.g. "mythweb.db?_foreign_keys=on".
func DSN(cfg dbi.Config) string {
	if len(cfg.Options) == 0 {
		return cfg.Database
	}
	q := url.Values{}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(cfg.Database, "?") {
		sep = "&"
	}
	return cfg.Database + sep + q.Encode()
}

// DecodeError returns the extended result code and message of a SQLite error.
func DecodeError(err error) (string, string) {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return strconv.Itoa(int(se.ExtendedCode)), se.Error()
	}
	return "", err.Error()
}
