// Package postgres registers the PostgreSQL engine, backed by lib/pq.
// Import it for its side effect:
//
//	import _ "github.com/go-mizu/dbi/engine/postgres"
package postgres

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/go-mizu/dbi"
	"github.com/go-mizu/dbi/internal/sqldriver"
)

func init() {
	dbi.Register(dbi.EnginePostgres, open)
}

func open(ctx context.Context, cfg dbi.Config) (dbi.Driver, error) {
	opts, interpolate, err := sqldriver.InterpolateOption(cfg.Options)
	if err != nil {
		return nil, err
	}
	cfg.Options = opts
	return sqldriver.Open(ctx, "postgres", DSN(cfg), sqldriver.Config{
		Placeholder: dbi.PlaceholderDollar,
		Interpolate: interpolate,
		Escape:      sqldriver.EscapeQuotes,
		DecodeError: DecodeError,
	})
}

// DSN builds a lib/pq key=value connection string. sslmode defaults to
// disable. A Port starting with "/" is a unix socket path; its directory
// becomes the host and a trailing .s.PGSQL.<port> name sets the port.
func DSN(cfg dbi.Config) string {
	kv := map[string]string{
		"dbname":  cfg.Database,
		"sslmode": "disable",
	}
	if cfg.User != "" {
		kv["user"] = cfg.User
	}
	if cfg.Password != "" {
		kv["password"] = cfg.Password
	}
	switch {
	case strings.HasPrefix(cfg.Port, "/"):
		dir, file := filepath.Split(cfg.Port)
		if port, ok := strings.CutPrefix(file, ".s.PGSQL."); ok {
			kv["host"] = filepath.Clean(dir)
			kv["port"] = port
		} else {
			kv["host"] = filepath.Clean(cfg.Port)
		}
	default:
		if cfg.Host != "" {
			kv["host"] = cfg.Host
		}
		if cfg.Port != "" {
			kv["port"] = cfg.Port
		}
	}
	for k, v := range cfg.Options {
		kv[k] = v
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteValue(kv[k])
	}
	return strings.Join(parts, " ")
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

// DecodeError returns the SQLSTATE code and message of a PostgreSQL error.
func DecodeError(err error) (string, string) {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code), pe.Message
	}
	return "", err.Error()
}
