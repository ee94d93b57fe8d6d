package dbi

import (
	"database/sql/driver"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Escaper escapes text for use inside a quoted string literal. Every Driver
// is an Escaper.
type Escaper interface {
	Escape(s string) string
}

const literalTimeFormat = "2006-01-02 15:04:05.999999"

// Interpolate replaces the ? placeholders of query with args written as SQL
// literals, escaping strings with esc. Placeholders inside string literals,
// quoted identifiers and comments are left alone, and \? stands for a literal
// question mark.
//
// It returns ErrArgCount when the number of placeholders and args differ.
//
//	q, _ := dbi.Interpolate(`SELECT * FROM people WHERE name = ? AND age > ?`, []any{"O'Brien", 30}, esc)
//	// SELECT * FROM people WHERE name = 'O\'Brien' AND age > 30   (MySQL escaping)
func Interpolate(query string, args []any, esc Escaper) (string, error) {
	var (
		b       strings.Builder
		used    int
		litErr  error
		overrun bool
	)
	b.Grow(len(query) + 8*len(args))
	err := scanSQL(query, false, func(seg sqlSegment) {
		switch seg.kind {
		case segEscapedMark:
			b.WriteByte('?')
		case segPlaceholder:
			if used >= len(args) {
				overrun = true
				used++
				return
			}
			lit, err := literal(args[used], esc)
			if err != nil && litErr == nil {
				litErr = fmt.Errorf("dbi: argument %d: %w", used+1, err)
			}
			// "-" followed by a negative number would start a -- comment.
			if strings.HasPrefix(lit, "-") && strings.HasSuffix(b.String(), "-") {
				b.WriteByte(' ')
			}
			b.WriteString(lit)
			used++
		default:
			b.WriteString(seg.text)
		}
	})
	if err != nil {
		return "", err
	}
	if overrun || used != len(args) {
		return "", fmt.Errorf("%w: %d placeholders, %d arguments", ErrArgCount, used, len(args))
	}
	if litErr != nil {
		return "", litErr
	}
	return b.String(), nil
}

func literal(v any, esc Escaper) (string, error) {
	if vr, ok := v.(driver.Valuer); ok {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return "NULL", nil
		}
		dv, err := vr.Value()
		if err != nil {
			return "", err
		}
		if _, again := dv.(driver.Valuer); again {
			return "", ErrUnsupportedArg
		}
		return literal(dv, esc)
	}

	switch x := v.(type) {
	case nil:
		return "NULL", nil
	case bool:
		if x {
			return "TRUE", nil
		}
		return "FALSE", nil
	case string:
		return quoteLiteral(x, esc), nil
	case []byte:
		if x == nil {
			return "NULL", nil
		}
		return quoteLiteral(string(x), esc), nil
	case time.Time:
		return "'" + x.Format(literalTimeFormat) + "'", nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return "NULL", nil
		}
		return literal(rv.Elem().Interface(), esc)
	case reflect.Bool:
		return literal(rv.Bool(), esc)
	case reflect.String:
		return quoteLiteral(rv.String(), esc), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("%w: %v has no SQL literal", ErrUnsupportedArg, f)
		}
		return strconv.FormatFloat(f, 'g', -1, rv.Type().Bits()), nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupportedArg, v)
}

func quoteLiteral(s string, esc Escaper) string {
	return "'" + esc.Escape(s) + "'"
}
