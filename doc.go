/*
Package dbi is a small, engine-agnostic query layer. You write parameterized
SQL once; dbi flattens the arguments, prepares and executes the statement on
the engine backend chosen at connect time, shapes the result into plain Go
values and releases the statement before returning.

# Overview

A [Conn] wraps one engine [Driver]. Engines register themselves by importing
their package for side effects:

	import _ "github.com/go-mizu/dbi/engine/mysql"

	conn, err := dbi.Connect(ctx, dbi.Config{
	    Engine:   "mysql",
	    Database: "mythconverg",
	    User:     "mythtv",
	    Password: "mythtv",
	})

Every query method accepts any mix of scalars and slices as arguments; they are
flattened depth-first into one positional list before binding, so

	conn.QueryListAssoc(ctx, `SELECT * FROM t WHERE a=? AND id IN (?,?,?)`, a, ids)

binds a followed by the three elements of ids.

# Query variants

  - QueryRow, QueryAssoc, QueryCol fetch a single row (positional, by column
    name, or its first column). They append LIMIT 1 when the statement has no
    limiting clause of its own.
  - QueryList, QueryListRows, QueryListAssoc fetch every row.
  - QueryKeyedListRows, QueryKeyedListAssoc fetch every row indexed by the
    value of one column; later rows replace earlier rows with the same key.
  - QueryNumRows and QueryInsertID return counters of the executed statement.
  - Exec, Get and Select are conveniences over the same primitive.

# Results and sentinels

Single-row variants return [ErrNoResult] when the statement produced no row;
a NULL column is a nil value with a nil error, so the two are never confused.
List variants return an empty, non-nil collection when no row matched.

# Error handling

Every failure is recorded on the Conn (see [Conn.Err]) with the engine's
native error code and message. While fatal errors are enabled (the default) a
prepare or execute failure is also handed to the fatal handler, which panics
unless replaced with [WithFatalHandler]. After [Conn.DisableFatalErrors] the
failure is only recorded and returned, and the caller decides what to do.

# Concurrency

A Conn runs one statement at a time on the calling goroutine. Use one Conn per
goroutine, or guard each call externally.
*/
package dbi
