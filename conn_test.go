package dbi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var errNoTable = &nativeError{code: "1146", msg: "Table 'mythconverg.nope' doesn't exist"}

func TestFatalByDefault_Panics(t *testing.T) {
	d := &fakeDriver{h: rowsOf(nil), prepareErr: errNoTable}
	c := New(EngineMySQL, d)
	require.True(t, c.FatalErrors())

	var got any
	func() {
		defer func() { got = recover() }()
		_, _ = c.QueryList(context.Background(), "SELECT * FROM nope")
	}()

	e, ok := got.(*Error)
	require.True(t, ok, "panic value %#v", got)
	assert.Equal(t, KindPrepare, e.Kind)
	assert.Equal(t, "1146", e.Code)
	assert.ErrorIs(t, e, ErrPrepare)
	assert.ErrorIs(t, e, errNoTable)
}

func TestFatalHandler_CalledThenErrorReturned(t *testing.T) {
	var handled []*Error
	d := &fakeDriver{h: func(string, []any) (reply, error) { return reply{}, errNoTable }}
	c := New(EngineMySQL, d, WithFatalHandler(func(e *Error) { handled = append(handled, e) }))

	_, err := c.QueryRow(context.Background(), "SELECT * FROM nope")
	require.ErrorIs(t, err, ErrExecution)
	require.Len(t, handled, 1)
	assert.Same(t, handled[0], err)
}

func TestDisableFatalErrors_RecordsAndReturns(t *testing.T) {
	calls := 0
	d := &fakeDriver{h: rowsOf(nil), prepareErr: errNoTable}
	c := New(EngineMySQL, d, WithFatalHandler(func(*Error) { calls++ }))
	c.DisableFatalErrors()

	list, err := c.QueryList(context.Background(), "SELECT * FROM nope")
	assert.Nil(t, list)
	assert.ErrorIs(t, err, ErrPrepare)
	assert.Zero(t, calls)

	rec := c.Err()
	require.NotNil(t, rec)
	assert.Equal(t, "1146", rec.Code)
	assert.Equal(t, "Table 'mythconverg.nope' doesn't exist", rec.Message)
	assert.Equal(t, "prepare failed:\nSELECT * FROM nope", rec.Context)
	assert.NotEmpty(t, rec.Diagnostic)

	c.EnableFatalErrors()
	_, _ = c.QueryList(context.Background(), "SELECT * FROM nope")
	assert.Equal(t, 1, calls, "re-enabling restores escalation for the next failure")
}

func TestErrorRecord_PersistsUntilCleared(t *testing.T) {
	fail := true
	d := &fakeDriver{h: func(string, []any) (reply, error) {
		if fail {
			return reply{}, errNoTable
		}
		return reply{cols: []string{"a"}, rows: [][]any{{1}}}, nil
	}}
	c := New(EngineMySQL, d)
	c.DisableFatalErrors()
	ctx := context.Background()

	_, err := c.QueryCol(ctx, "SELECT a FROM nope")
	require.Error(t, err)
	require.NotNil(t, c.Err())

	fail = false
	_, err = c.QueryCol(ctx, "SELECT a FROM t")
	require.NoError(t, err)
	assert.NotNil(t, c.Err(), "success does not clear the record")

	c.ClearError()
	assert.Nil(t, c.Err())
}

func TestErrReturnsCopy(t *testing.T) {
	d := &fakeDriver{h: rowsOf(nil), prepareErr: errNoTable}
	c := New(EngineMySQL, d)
	c.DisableFatalErrors()
	_, _ = c.QueryList(context.Background(), "SELECT 1")

	rec := c.Err()
	rec.Code = "changed"
	assert.Equal(t, "1146", c.Err().Code)
}

func TestWithDiagnosticsOff(t *testing.T) {
	d := &fakeDriver{h: rowsOf(nil), prepareErr: errNoTable}
	c := New(EngineMySQL, d, WithDiagnostics(false))
	c.DisableFatalErrors()
	_, _ = c.QueryList(context.Background(), "SELECT 1")

	require.NotNil(t, c.Err())
	assert.Empty(t, c.Err().Diagnostic)
}

func TestRecordError(t *testing.T) {
	d := &fakeDriver{code: "2006", msg: "MySQL server has gone away"}
	c := New(EngineMySQL, d)

	c.RecordError("while refreshing listings", true)
	rec := c.Err()
	require.NotNil(t, rec)
	assert.Equal(t, "2006", rec.Code)
	assert.Equal(t, "while refreshing listings", rec.Context)
	assert.Contains(t, rec.Diagnostic, "TestRecordError")

	c.RecordError("", false)
	assert.Empty(t, c.Err().Diagnostic)
}

func TestNilStatementIsNoResult(t *testing.T) {
	calls := 0
	d := &fakeDriver{h: rowsOf(nil), nilStmt: true}
	c := New(EngineMySQL, d, WithFatalHandler(func(*Error) { calls++ }))

	_, err := c.QueryRow(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, ErrNoResult)
	assert.Zero(t, calls, "no result never escalates")
	assert.NotNil(t, c.Err())
}

func TestFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	d := &fakeDriver{h: rowsOf(nil), prepareErr: errNoTable}
	c := New(EnginePostgres, d, WithLogger(zap.New(core)))
	c.DisableFatalErrors()

	_, _ = c.QueryList(context.Background(), "SELECT * FROM nope")

	failed := logs.FilterMessage("Query failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, zapcore.WarnLevel, failed[0].Level)
	fields := failed[0].ContextMap()
	assert.Equal(t, "postgres", fields["engine"])
	assert.Equal(t, "prepare", fields["kind"])
	assert.Equal(t, "1146", fields["code"])
}

func TestStatementsAreLoggedAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c, _ := newTestConn(t, rowsOf([]string{"a"}, []any{1}), WithLogger(zap.New(core)))

	_, err := c.QueryList(context.Background(), "SELECT a FROM t")
	require.NoError(t, err)

	exec := logs.FilterMessage("Executing statement").All()
	require.Len(t, exec, 1)
	assert.Equal(t, "SELECT a FROM t", exec[0].ContextMap()["query"])
	assert.NotEmpty(t, exec[0].ContextMap()["stmt"])
	assert.Equal(t, 1, logs.FilterMessage("Finished statement").Len())
}

func TestEscapeAndEscapeAll(t *testing.T) {
	c, _ := newTestConn(t, rowsOf(nil))

	assert.Equal(t, "O''Brien", c.Escape("O'Brien"))
	assert.Equal(t, []string{"a''b", "c"}, c.EscapeAll([]string{"a'b", "c"}))
	assert.Equal(t, []string{}, c.EscapeAll(nil))
}

func TestConnInterpolate(t *testing.T) {
	c, _ := newTestConn(t, rowsOf(nil))

	q, err := c.Interpolate("SELECT * FROM people WHERE name = ? AND id IN (?, ?)", "O'Brien", []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM people WHERE name = 'O''Brien' AND id IN (1, 2)", q)

	_, err = c.Interpolate("SELECT ?", 1, 2)
	assert.True(t, errors.Is(err, ErrArgCount))
}

func TestCountersFromLastStatement(t *testing.T) {
	c, _ := newTestConn(t, func(q string, _ []any) (reply, error) {
		if q == "first" {
			return reply{insertID: 5, affected: 1}, nil
		}
		return reply{insertID: 6, affected: 4}, nil
	})
	ctx := context.Background()

	_, err := c.Exec(ctx, "first")
	require.NoError(t, err)
	_, err = c.Exec(ctx, "second")
	require.NoError(t, err)

	id, err := c.InsertID()
	require.NoError(t, err)
	assert.Equal(t, int64(6), id)
	n, err := c.AffectedRows()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
