// Package mysql registers the MySQL engine. Import it for its side effect:
//
//	import _ "github.com/go-mizu/dbi/engine/mysql"
package mysql

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/go-mizu/dbi"
	"github.com/go-mizu/dbi/internal/sqldriver"
)

const defaultPort = "3306"

func init() {
	dbi.Register(dbi.EngineMySQL, open)
}

func open(ctx context.Context, cfg dbi.Config) (dbi.Driver, error) {
	opts, interpolate, err := sqldriver.InterpolateOption(cfg.Options)
	if err != nil {
		return nil, err
	}
	cfg.Options = opts
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return sqldriver.Open(ctx, "mysql", dsn, sqldriver.Config{
		Placeholder: dbi.PlaceholderQuestion,
		Interpolate: interpolate,
		Escape:      Escape,
		DecodeError: DecodeError,
	})
}

// DSN builds a go-sql-driver/mysql data source name. A Port starting with
// "/" is the path of a unix socket.
func DSN(cfg dbi.Config) (string, error) {
	mc := gomysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.DBName = cfg.Database
	if strings.HasPrefix(cfg.Port, "/") {
		mc.Net = "unix"
		mc.Addr = cfg.Port
	} else {
		host, port := cfg.Host, cfg.Port
		if host == "" {
			host = "localhost"
		}
		if port == "" {
			port = defaultPort
		}
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return "", errors.New("mysql: invalid port " + strconv.Quote(port))
		}
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(host, port)
	}
	if len(cfg.Options) > 0 {
		mc.Params = make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN(), nil
}

// Escape escapes s the way mysql_real_escape_string does for a connection
// without NO_BACKSLASH_ESCAPES.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case 0:
			b.WriteString(`\0`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\032':
			b.WriteString(`\Z`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DecodeError returns the server error number and message of a MySQL error.
func DecodeError(err error) (string, string) {
	var me *gomysql.MySQLError
	if errors.As(err, &me) {
		return strconv.Itoa(int(me.Number)), me.Message
	}
	return "", err.Error()
}
