package dbi

import (
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type quoteDoubler struct{}

func (quoteDoubler) Escape(s string) string { return strings.ReplaceAll(s, "'", "''") }

type callsign string

func TestInterpolate_Literals(t *testing.T) {
	when := time.Date(2024, 5, 1, 20, 30, 0, 0, time.UTC)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	n := 7
	var nilPtr *int

	tests := []struct {
		name string
		arg  any
		want string
	}{
		{"nil", nil, "NULL"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"int", 42, "42"},
		{"negative", int64(-3), "-3"},
		{"uint", uint8(255), "255"},
		{"float", 2.5, "2.5"},
		{"float32", float32(0.25), "0.25"},
		{"string", "O'Brien", "'O''Brien'"},
		{"named string", callsign("BBC1"), "'BBC1'"},
		{"bytes", []byte("it's"), "'it''s'"},
		{"nil bytes", []byte(nil), "NULL"},
		{"time", when, "'2024-05-01 20:30:00'"},
		{"time with micros", when.Add(1500 * time.Microsecond), "'2024-05-01 20:30:00.0015'"},
		{"pointer", &n, "7"},
		{"nil pointer", nilPtr, "NULL"},
		{"valuer", id, "'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
		{"null valuer", sql.NullString{}, "NULL"},
		{"valid valuer", sql.NullInt64{Int64: 9, Valid: true}, "9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Interpolate("SELECT ?", []any{tt.arg}, quoteDoubler{})
			require.NoError(t, err)
			assert.Equal(t, "SELECT "+tt.want, got)
		})
	}
}

func TestInterpolate_SkipsQuotedAndComments(t *testing.T) {
	q := "SELECT '?', \"?\", `?` -- ?\n, /* ? */ ? AS x, \\? AS literal"
	got, err := Interpolate(q, []any{1}, quoteDoubler{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT '?', \"?\", `?` -- ?\n, /* ? */ 1 AS x, ? AS literal", got)
}

func TestInterpolate_ArgCount(t *testing.T) {
	_, err := Interpolate("SELECT ?, ?", []any{1}, quoteDoubler{})
	assert.ErrorIs(t, err, ErrArgCount)

	_, err = Interpolate("SELECT ?", []any{1, 2}, quoteDoubler{})
	assert.ErrorIs(t, err, ErrArgCount)

	got, err := Interpolate("SELECT 1", nil, quoteDoubler{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got)
}

func TestInterpolate_UnsupportedAndUnterminated(t *testing.T) {
	_, err := Interpolate("SELECT ?", []any{struct{}{}}, quoteDoubler{})
	assert.True(t, errors.Is(err, ErrUnsupportedArg), "got %v", err)

	_, err = Interpolate("SELECT '?", []any{1}, quoteDoubler{})
	assert.Error(t, err)

	for _, f := range []any{math.NaN(), math.Inf(1), math.Inf(-1), float32(math.Inf(1))} {
		_, err = Interpolate("SELECT ?", []any{f}, quoteDoubler{})
		assert.ErrorIs(t, err, ErrUnsupportedArg, "%v", f)
	}
}

func TestInterpolate_NegativeAfterMinus(t *testing.T) {
	got, err := Interpolate("SELECT 10-? AS x", []any{-3}, quoteDoubler{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 10- -3 AS x", got)

	got, err = Interpolate("SELECT * FROM t WHERE a = 1-? AND owner = ?", []any{-2.5, "me"}, quoteDoubler{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = 1- -2.5 AND owner = 'me'", got)

	got, err = Interpolate("SELECT ? - ?, 1-?", []any{-1, -2, 4}, quoteDoubler{})
	require.NoError(t, err)
	assert.Equal(t, "SELECT -1 - -2, 1-4", got)
}
