package dbi

import (
	"errors"
	"strings"
)

var (
	// ErrPrepare matches failures of the engine to prepare a query.
	ErrPrepare = errors.New("dbi: prepare failed")
	// ErrExecution matches failures while executing a statement or reading its rows.
	ErrExecution = errors.New("dbi: execution failed")
	// ErrNoResult is returned when a statement ran but produced nothing usable,
	// e.g. a single-row query that matched no row.
	ErrNoResult = errors.New("dbi: no result")

	// ErrUnknownEngine is returned for engine names that are not known or not registered.
	ErrUnknownEngine = errors.New("dbi: unknown engine")
	// ErrUnknownColumn is returned when a keyed list names a column the result does not have.
	ErrUnknownColumn = errors.New("dbi: unknown column")
	// ErrStatementFinished is returned when a finished statement is used again.
	ErrStatementFinished = errors.New("dbi: statement already finished")
	// ErrArgCount is returned when interpolation finds more or fewer
	// placeholders than arguments.
	ErrArgCount = errors.New("dbi: placeholder and argument count differ")
)

// ErrorKind classifies an [Error].
type ErrorKind uint8

const (
	KindPrepare ErrorKind = iota + 1
	KindExecution
	KindNoResult
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrepare:
		return "prepare"
	case KindExecution:
		return "execution"
	case KindNoResult:
		return "no result"
	}
	return "unknown"
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPrepare:
		return ErrPrepare
	case KindExecution:
		return ErrExecution
	case KindNoResult:
		return ErrNoResult
	}
	return nil
}

// Error is returned by the query methods when the engine reports a failure.
// errors.Is matches it against the sentinel of its kind and against the
// underlying driver error.
type Error struct {
	Kind    ErrorKind
	Code    string // engine-native error code, "" when the engine gave none
	Message string // engine-native error message
	Query   string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("dbi: ")
	b.WriteString(e.Kind.String())
	b.WriteString(" failed")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Code != "" {
		b.WriteString(" [#")
		b.WriteString(e.Code)
		b.WriteByte(']')
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ErrorRecord is the last failure recorded on a [Conn].
type ErrorRecord struct {
	Code       string
	Message    string
	Context    string // message supplied by the code that recorded the error
	Diagnostic string // stack trace, when requested
}

// Error renders the record the way it is logged: the context, the engine
// message with its code, and the stack trace if one was captured.
func (r *ErrorRecord) Error() string {
	var b strings.Builder
	if r.Context != "" {
		b.WriteString(r.Context)
		b.WriteString("\n\n")
	}
	b.WriteString(r.Message)
	b.WriteString(" [#")
	b.WriteString(r.Code)
	b.WriteByte(']')
	if r.Diagnostic != "" {
		b.WriteString("\n\nBacktrace\n")
		b.WriteString(r.Diagnostic)
	}
	return b.String()
}
