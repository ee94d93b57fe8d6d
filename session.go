package dbi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Statement is an executed statement whose rows have not been read yet. The
// code that obtained it owns it and must call Finish.
type Statement struct {
	id       uuid.UUID
	query    string
	stmt     Stmt
	conn     *Conn
	log      *zap.Logger
	counters counters
	finished bool
}

// ID identifies the statement in log output.
func (s *Statement) ID() uuid.UUID { return s.id }

// Query returns the text that was sent to the engine.
func (s *Statement) Query() string { return s.query }

// Columns returns the column names of the result set.
func (s *Statement) Columns() ([]string, error) {
	if s.finished {
		return nil, ErrStatementFinished
	}
	cols, err := s.stmt.Columns()
	if err != nil {
		return nil, s.conn.fail(KindExecution, s.query, err)
	}
	return cols, nil
}

// FetchRow returns the next row as a list of column values, or io.EOF when
// there are no more rows.
func (s *Statement) FetchRow() ([]any, error) {
	if s.finished {
		return nil, ErrStatementFinished
	}
	row, err := s.stmt.FetchRow()
	if err != nil {
		return nil, s.fetchErr(err)
	}
	return row, nil
}

// FetchAssoc returns the next row keyed by column name, or io.EOF when there
// are no more rows.
func (s *Statement) FetchAssoc() (map[string]any, error) {
	if s.finished {
		return nil, ErrStatementFinished
	}
	row, err := s.stmt.FetchAssoc()
	if err != nil {
		return nil, s.fetchErr(err)
	}
	return row, nil
}

func (s *Statement) fetchErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return s.conn.fail(KindExecution, s.query, err)
}

// NumRows returns the number of rows returned or affected by the statement.
func (s *Statement) NumRows() (int64, error) {
	if s.finished {
		return 0, ErrStatementFinished
	}
	n, err := s.stmt.NumRows()
	if err != nil {
		return 0, s.conn.fail(KindExecution, s.query, err)
	}
	return n, nil
}

// InsertID returns the id generated by the statement, as captured when it
// was executed.
func (s *Statement) InsertID() (int64, error) {
	return s.counters.insertID, s.counters.insertIDErr
}

// AffectedRows returns the number of rows the statement changed, as captured
// when it was executed.
func (s *Statement) AffectedRows() (int64, error) {
	return s.counters.affected, s.counters.affectedErr
}

// Finish releases the statement. Only the first call reaches the driver.
func (s *Statement) Finish() error {
	if s.finished {
		return nil
	}
	s.finished = true
	if err := s.stmt.Finish(); err != nil {
		s.log.Warn("Failed to finish statement", zap.Error(err))
		return fmt.Errorf("dbi: finish statement: %w", err)
	}
	s.log.Debug("Finished statement")
	return nil
}

// Query prepares and executes query and hands the executed statement to the
// caller, who must Finish it. Arguments are flattened; a single [Named]
// argument binds :name parameters instead.
//
// A statement with unread rows holds its database connection until it is
// finished. In-memory SQLite and DuckDB databases have exactly one
// connection, so any further query on the same Conn blocks until then.
func (c *Conn) Query(ctx context.Context, query string, args ...any) (st *Statement, err error) {
	start := time.Now()
	defer func() { c.metrics.observe(c.engine, "query", start, err) }()
	return c.execute(ctx, query, args)
}

func (c *Conn) execute(ctx context.Context, query string, args []any) (*Statement, error) {
	query, args, err := bindArgs(query, args)
	if err != nil {
		return nil, err
	}
	flat := Flatten(args...)

	id := uuid.New()
	log := c.log.With(zap.Stringer("stmt", id))
	log.Debug("Executing statement", zap.String("query", query), zap.Int("args", len(flat)))

	stmt, err := c.drv.Prepare(ctx, query)
	if err != nil {
		return nil, c.fail(KindPrepare, query, err)
	}
	if stmt == nil {
		return nil, c.fail(KindNoResult, query, ErrNoResult)
	}
	if err := stmt.Execute(ctx, flat); err != nil {
		if ferr := stmt.Finish(); ferr != nil {
			log.Warn("Failed to finish statement after execute error", zap.Error(ferr))
		}
		kind := KindExecution
		if errors.Is(err, ErrNoResult) {
			kind = KindNoResult
		}
		return nil, c.fail(kind, query, err)
	}

	var ct counters
	ct.insertID, ct.insertIDErr = stmt.InsertID()
	ct.affected, ct.affectedErr = stmt.AffectedRows()
	c.setCounters(ct)

	return &Statement{
		id:       id,
		query:    query,
		stmt:     stmt,
		conn:     c,
		log:      log,
		counters: ct,
	}, nil
}

func bindArgs(query string, args []any) (string, []any, error) {
	if len(args) == 1 {
		if n, ok := args[0].(NamedArgs); ok {
			return bindNamedParams(query, n.params)
		}
	}
	return query, args, nil
}
