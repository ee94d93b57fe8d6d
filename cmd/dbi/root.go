package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/go-mizu/dbi"
	_ "github.com/go-mizu/dbi/engine/duckdb"
	_ "github.com/go-mizu/dbi/engine/mysql"
	_ "github.com/go-mizu/dbi/engine/postgres"
	_ "github.com/go-mizu/dbi/engine/sqlite"
)

type (
	Cmd struct {
		rootCmd    *cobra.Command
		version    string
		rootFlags  rootFlags
		queryFlags queryFlags
		config     *viper.Viper
		log        *zap.Logger
		out        io.Writer
		errOut     io.Writer
	}

	rootFlags struct {
		cfgFile   string
		debugMode bool
		noFatal   bool
	}
)

func New() *Cmd {
	return &Cmd{
		out:    os.Stdout,
		errOut: os.Stderr,
	}
}

func (c *Cmd) Execute() {
	c.version = "(devel)"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		c.version = info.Main.Version
	}
	if overrideVersion := os.Getenv("DBI_OVERRIDE_VERSION"); overrideVersion != "" {
		c.version = overrideVersion
	}
	if err := c.run(os.Args[1:]); err != nil {
		log.Fatalln(err)
	}
}

func (c *Cmd) run(args []string) error {
	rootCmd := c.newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(c.out)
	rootCmd.SetErr(c.errOut)
	defer func() {
		if c.log != nil {
			_ = c.log.Sync()
		}
	}()
	return rootCmd.Execute()
}

func (c *Cmd) newRootCmd() *cobra.Command {
	c.config = viper.New()
	rootCmd := &cobra.Command{
		Use:   "dbi",
		Short: "A database query utility",
		Long: `A database query utility that runs SQL through the dbi dispatch layer
against MySQL, PostgreSQL, SQLite or DuckDB and prints the shaped result.`,
		Version:           c.version,
		PersistentPreRunE: c.initConfig,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&c.rootFlags.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/.dbi.yaml)")
	pf.BoolVar(&c.rootFlags.debugMode, "debug", false, "turn on debug output")
	pf.BoolVar(&c.rootFlags.noFatal, "no-fatal", false, "report query failures in the output instead of failing")
	pf.String("engine", "", "database engine (mysql, pgsql, sqlite3, duckdb)")
	pf.String("database", "", "database name or file")
	pf.String("host", "", "database host")
	pf.String("port", "", "database port or unix socket path")
	pf.String("user", "", "database user")
	pf.String("password", "", "database password")
	for _, name := range []string{"engine", "database", "host", "port", "user", "password"} {
		_ = c.config.BindPFlag("database."+name, pf.Lookup(name))
	}
	c.rootCmd = rootCmd

	rootCmd.AddCommand(c.getQueryCmd())
	rootCmd.AddCommand(c.getExecCmd())
	rootCmd.AddCommand(c.getEnginesCmd())
	rootCmd.AddCommand(c.getEscapeCmd())
	rootCmd.AddCommand(c.getInterpolateCmd())
	return rootCmd
}

// initConfig reads in config file and ENV variables if set.
func (c *Cmd) initConfig(cmd *cobra.Command, args []string) error {
	v := c.config
	if c.rootFlags.cfgFile != "" {
		// Use config file from the flag.
		v.SetConfigFile(c.rootFlags.cfgFile)
	} else {
		v.SetConfigName(".dbi")
		v.AddConfigPath(".")

		// Search config in XDG_CONFIG_HOME directory with name ".dbi" (without extension).
		if cfgdir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(cfgdir)
		}
	}

	v.SetEnvPrefix("DBI")
	v.AutomaticEnv() // read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))

	// If a config file is found, read it in.
	configErr := v.ReadInConfig()
	if configErr != nil && c.rootFlags.cfgFile != "" {
		return fmt.Errorf("read config %s: %w", c.rootFlags.cfgFile, configErr)
	}

	logCfg := dbi.LogConfig{
		File:       v.GetString("log.file"),
		MaxSizeMB:  v.GetInt("log.max_size_mb"),
		MaxBackups: v.GetInt("log.max_backups"),
		MaxAgeDays: v.GetInt("log.max_age_days"),
		Compress:   v.GetBool("log.compress"),
		Console:    v.GetBool("log.console"),
		Level:      v.GetString("log.level"),
	}
	if c.rootFlags.debugMode {
		logCfg.Console = true
		logCfg.Level = "debug"
	}
	l, err := dbi.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	c.log = l

	if c.rootFlags.debugMode {
		if configErr == nil {
			c.log.Debug("Using config file", zap.String("file", v.ConfigFileUsed()))
		} else {
			c.log.Debug("Failed reading config file", zap.Error(configErr))
		}
	}
	return nil
}

func (c *Cmd) dbConfig() dbi.Config {
	v := c.config
	return dbi.Config{
		Engine:   v.GetString("database.engine"),
		Database: v.GetString("database.database"),
		Host:     v.GetString("database.host"),
		Port:     v.GetString("database.port"),
		User:     v.GetString("database.user"),
		Password: v.GetString("database.password"),
		Options:  v.GetStringMapString("database.options"),
	}
}

// connect opens the configured database. Unless --no-fatal is set, query
// failures print the connection's error record to stderr before the command
// fails.
func (c *Cmd) connect(ctx context.Context) (*dbi.Conn, error) {
	var conn *dbi.Conn
	opts := []dbi.Option{
		dbi.WithLogger(c.log),
		dbi.WithDiagnostics(c.rootFlags.debugMode),
		dbi.WithFatalHandler(func(*dbi.Error) {
			if rec := conn.Err(); rec != nil {
				fmt.Fprintln(c.errOut, rec.Error())
			}
		}),
	}
	conn, err := dbi.Connect(ctx, c.dbConfig(), opts...)
	if err != nil {
		return nil, err
	}
	if c.rootFlags.noFatal {
		conn.DisableFatalErrors()
	}
	return conn, nil
}

// withConn connects, runs fn and prints what it returns.
func (c *Cmd) withConn(cmd *cobra.Command, fn func(ctx context.Context, conn *dbi.Conn) (any, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			c.log.Warn("Failed to close connection", zap.Error(err))
		}
	}()

	res, err := fn(ctx, conn)
	if err != nil {
		if !c.rootFlags.noFatal {
			return err
		}
		return c.render(failureOutput(err))
	}
	return c.render(res)
}

type failure struct {
	Kind    string `yaml:"kind,omitempty"`
	Code    string `yaml:"code,omitempty"`
	Message string `yaml:"message"`
}

func failureOutput(err error) map[string]failure {
	f := failure{Message: err.Error()}
	var e *dbi.Error
	if errors.As(err, &e) {
		f.Kind = e.Kind.String()
		f.Code = e.Code
		if e.Message != "" {
			f.Message = e.Message
		}
	} else if errors.Is(err, dbi.ErrNoResult) {
		f.Kind = dbi.KindNoResult.String()
	}
	return map[string]failure{"error": f}
}

func (c *Cmd) render(v any) error {
	enc := yaml.NewEncoder(c.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return enc.Close()
}

// queryArgs passes positional arguments through as strings; the engine
// coerces them to the column types.
func queryArgs(args []string) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
