package dbi

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Placeholder selects the positional parameter style for a target database.
//
// Common choices:
//   - PlaceholderQuestion   → "?"           (MySQL, SQLite, DuckDB)
//   - PlaceholderDollar     → "$1, $2, …"  (PostgreSQL)
//   - PlaceholderAtP        → "@p1, @p2…"  (SQL Server)
//   - PlaceholderColonNum   → ":1, :2, …"  (Oracle)
type Placeholder int

const (
	PlaceholderQuestion Placeholder = iota
	PlaceholderDollar
	PlaceholderAtP
	PlaceholderColonNum
)

// ErrNilParams is returned when named binding is requested with a nil pointer
// or nil params value.
var ErrNilParams = errors.New("dbi: named bind: nil params")

// ErrUnsupportedArg is returned when the named-binding argument is not a
// struct or map[string]any, or when a value cannot be written as a literal.
var ErrUnsupportedArg = errors.New("dbi: named bind: params must be struct or map[string]any")

// ErrEscapedMark is returned when a query holding \? is sent to an engine
// that uses ? placeholders, where a literal question mark cannot be told
// apart from a placeholder.
var ErrEscapedMark = errors.New(`dbi: \? needs an engine whose placeholders are not ?`)

// ErrDuplicateKeyTag is returned when two struct fields (including embedded)
// resolve to the same logical parameter name (case-insensitive), e.g. via db:"name".
var ErrDuplicateKeyTag = errors.New("dbi: named bind: duplicate key from struct tags/fields")

// NamedArgs carries a struct or map[string]any whose fields bind the :name
// parameters of a query. Create it with [Named].
type NamedArgs struct {
	params any
}

// Named marks params for :name binding when passed as the only argument of a
// query method:
//
//	conn.QueryListAssoc(ctx, `SELECT * FROM program WHERE chanid = :chan AND category IN (:cats)`,
//	    dbi.Named(map[string]any{"chan": 1001, "cats": []string{"news", "sports"}}))
//	// SELECT * FROM program WHERE chanid = ? AND category IN (?,?)
//
// Slices expand to one placeholder per element; an empty slice becomes NULL.
func Named(params any) NamedArgs { return NamedArgs{params: params} }

// Rebind resolves :named parameters (if applicable) and rewrites placeholders.
// Outside literals and comments \? stands for a question mark that is not a
// placeholder, e.g. the PostgreSQL jsonb operator; it fails with
// ErrEscapedMark for PlaceholderQuestion.
//
// With exactly one struct, map[string]any or [NamedArgs] argument the query's
// :name parameters are bound from it. Any other arguments are positional; they
// are flattened and only the placeholder style is rewritten.
//
//	sql, args, _ := dbi.Rebind(`a=? AND b IN (?, ?)`, dbi.PlaceholderDollar, "A", []int{1, 2})
//	// sql  => a=$1 AND b IN ($2, $3)
//	// args => ["A", 1, 2]
func Rebind(query string, ph Placeholder, params ...any) (string, []any, error) {
	if len(params) == 1 {
		p := params[0]
		if n, ok := p.(NamedArgs); ok {
			p = n.params
		}
		if looksBindable(p) {
			qPos, args, err := bindNamedParams(query, p)
			if err != nil {
				return "", nil, err
			}
			q, err := rewritePlaceholders(qPos, ph)
			if err != nil {
				return "", nil, err
			}
			return q, args, nil
		}
	}
	q, err := rewritePlaceholders(query, ph)
	if err != nil {
		return "", nil, err
	}
	return q, Flatten(params...), nil
}

// PlaceholderFor picks a Placeholder based on a driver name string.
//
//	ph := dbi.PlaceholderFor("postgres")  // => PlaceholderDollar
//	ph := dbi.PlaceholderFor("sqlserver") // => PlaceholderAtP
//	ph := dbi.PlaceholderFor("mysql")     // => PlaceholderQuestion
func PlaceholderFor(driverName string) Placeholder {
	switch strings.ToLower(driverName) {
	case "pgx", "postgres", "postgresql", "lib/pq", "pg", "pgsql":
		return PlaceholderDollar
	case "sqlserver", "mssql":
		return PlaceholderAtP
	case "godror", "oracle", "goracle":
		return PlaceholderColonNum
	default:
		return PlaceholderQuestion
	}
}

// ---------------- SQL segment scanning ----------------

type segKind uint8

const (
	segText        segKind = iota
	segQuoted              // '...', "...", `...`, $tag$...$tag$
	segComment             // -- ... and /* ... */
	segPlaceholder         // ?
	segEscapedMark         // \? (a literal question mark)
	segNamed               // :name
)

type sqlSegment struct {
	kind segKind
	text string
}

// scanSQL splits query into segments so that placeholders inside string
// literals, quoted identifiers and comments are never touched. :name segments
// are only reported when named is set. On an unterminated literal or comment
// the rest of the query is reported as one segment and an error is returned.
func scanSQL(query string, named bool, fn func(sqlSegment)) error {
	text := 0
	emit := func(kind segKind, i, j int) {
		if i > text {
			fn(sqlSegment{kind: segText, text: query[text:i]})
		}
		fn(sqlSegment{kind: kind, text: query[i:j]})
		text = j
	}

	i := 0
	for i < len(query) {
		switch c := query[i]; {
		case c == '\'' || c == '"' || c == '`':
			j, ok := skipQuoted(query, i+1, c)
			if !ok {
				emit(segQuoted, i, len(query))
				return fmt.Errorf("dbi: unterminated %s", quoteName(c))
			}
			emit(segQuoted, i, j)
			i = j
			continue
		case c == '-' && hasPrefix(query[i:], "--"):
			j := skipLineComment(query, i+2)
			emit(segComment, i, j)
			i = j
			continue
		case c == '/' && hasPrefix(query[i:], "/*"):
			j, ok := skipBlockComment(query, i+2)
			if !ok {
				emit(segComment, i, len(query))
				return errors.New("dbi: unterminated block comment")
			}
			emit(segComment, i, j)
			i = j
			continue
		case c == '$':
			if j, ok := dollarTagEnd(query, i); ok {
				k := strings.Index(query[j:], query[i:j])
				if k < 0 {
					emit(segQuoted, i, len(query))
					return errors.New("dbi: unterminated dollar-quoted string")
				}
				end := j + k + (j - i)
				emit(segQuoted, i, end)
				i = end
				continue
			}
		case c == '\\' && i+1 < len(query) && query[i+1] == '?':
			emit(segEscapedMark, i, i+2)
			i += 2
			continue
		case c == '?':
			emit(segPlaceholder, i, i+1)
			i++
			continue
		case c == ':' && named:
			if hasPrefix(query[i:], "::") {
				i += 2 // PG cast
				continue
			}
			if name, end := parseIdent(query, i+1); name != "" {
				emit(segNamed, i, end)
				i = end
				continue
			}
		}
		i++
	}
	if text < len(query) {
		fn(sqlSegment{kind: segText, text: query[text:]})
	}
	return nil
}

func quoteName(c byte) string {
	switch c {
	case '\'':
		return "single-quoted string"
	case '"':
		return "double-quoted identifier"
	default:
		return "backtick-quoted identifier"
	}
}

// skipQuoted returns the index just past the closing quote q, treating a
// doubled quote as an escaped one.
func skipQuoted(s string, i int, q byte) (int, bool) {
	for i < len(s) {
		if s[i] == q {
			if i+1 < len(s) && s[i+1] == q {
				i += 2
				continue
			}
			return i + 1, true
		}
		i++
	}
	return 0, false
}

func skipLineComment(s string, i int) int {
	if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
		return i + j + 1
	}
	return len(s)
}

func skipBlockComment(s string, i int) (int, bool) {
	if j := strings.Index(s[i:], "*/"); j >= 0 {
		return i + j + 2, true
	}
	return 0, false
}

// dollarTagEnd reports whether a PostgreSQL $tag$ or $$ opener starts at i and
// returns the index just past it. $1 style parameters are not openers.
func dollarTagEnd(s string, i int) (int, bool) {
	j := i + 1
	for j < len(s) && s[j] != '$' {
		r, w := utf8.DecodeRuneInString(s[j:])
		if !isTagChar(r) {
			return 0, false
		}
		j += w
	}
	if j >= len(s) {
		return 0, false
	}
	if j > i+1 && unicode.IsDigit(rune(s[i+1])) {
		return 0, false
	}
	return j + 1, true
}

func isTagChar(r rune) bool      { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }
func hasPrefix(s, p string) bool { return strings.HasPrefix(s, p) }

func parseIdent(s string, i int) (string, int) {
	start := i
	for i < len(s) {
		r, w := utf8.DecodeRuneInString(s[i:])
		if !isTagChar(r) {
			break
		}
		i += w
	}
	if i == start {
		return "", i
	}
	return s[start:i], i
}

// ---------------- Placeholder rewriting ----------------

// rewritePlaceholders renumbers ? placeholders in the style ph and turns each
// \? into a bare question mark. With PlaceholderQuestion a bare question mark
// would read as a placeholder, so \? is rejected with ErrEscapedMark.
func rewritePlaceholders(query string, ph Placeholder) (string, error) {
	if ph == PlaceholderQuestion && !strings.Contains(query, `\?`) {
		return query, nil
	}
	var (
		b       strings.Builder
		arg     int
		escaped bool
	)
	b.Grow(len(query) + 16)
	_ = scanSQL(query, false, func(seg sqlSegment) {
		switch seg.kind {
		case segEscapedMark:
			escaped = true
			b.WriteByte('?')
			return
		case segPlaceholder:
		default:
			b.WriteString(seg.text)
			return
		}
		arg++
		switch ph {
		case PlaceholderQuestion:
			b.WriteByte('?')
			return
		case PlaceholderDollar:
			b.WriteByte('$')
		case PlaceholderAtP:
			b.WriteString("@p")
		case PlaceholderColonNum:
			b.WriteByte(':')
		}
		b.WriteString(strconv.Itoa(arg))
	})
	if escaped && ph == PlaceholderQuestion {
		return "", ErrEscapedMark
	}
	return b.String(), nil
}

// ---------------- Named binding ----------------

func looksBindable(v any) bool {
	if _, ok := v.(driver.Valuer); ok {
		return false
	}
	if _, ok := v.(time.Time); ok {
		return false
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Map {
		return rv.Type().Key().Kind() == reflect.String
	}
	return rv.Kind() == reflect.Struct
}

// bindNamedParams replaces every :name of query with ? placeholders and
// returns the matching positional arguments.
func bindNamedParams(query string, params any) (string, []any, error) {
	if params == nil {
		return "", nil, ErrNilParams
	}

	var (
		b       strings.Builder
		args    []any
		lut     *paramLookup
		bindErr error
	)
	b.Grow(len(query))
	err := scanSQL(query, true, func(seg sqlSegment) {
		if bindErr != nil {
			return
		}
		if seg.kind != segNamed {
			b.WriteString(seg.text)
			return
		}
		if lut == nil {
			if lut, bindErr = buildParamLookup(params); bindErr != nil {
				return
			}
		}
		name := seg.text[1:]
		val, ok := lut.lookup(name)
		if !ok {
			bindErr = fmt.Errorf("dbi: named bind: missing value for :%s", name)
			return
		}
		rv := reflect.ValueOf(val)
		if !isSliceOrArray(rv) {
			b.WriteByte('?')
			args = append(args, val)
			return
		}
		n := rv.Len()
		if n == 0 {
			b.WriteString("NULL")
			return
		}
		for i := 0; i < n; i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('?')
			args = append(args, rv.Index(i).Interface())
		}
	})
	if err != nil {
		return "", nil, err
	}
	if bindErr != nil {
		return "", nil, bindErr
	}
	return b.String(), args, nil
}

type paramLookup struct {
	m map[string]any // lowercase name -> value
}

func (l *paramLookup) lookup(name string) (any, bool) {
	v, ok := l.m[strings.ToLower(name)]
	return v, ok
}

func buildParamLookup(params any) (*paramLookup, error) {
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, ErrUnsupportedArg
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[strings.ToLower(iter.Key().String())] = iter.Value().Interface()
		}
		return &paramLookup{m: m}, nil
	case reflect.Struct:
		m := make(map[string]any)
		if err := addStructFields(m, rv); err != nil {
			return nil, err
		}
		return &paramLookup{m: m}, nil
	default:
		return nil, ErrUnsupportedArg
	}
}

func addStructFields(dst map[string]any, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" && !f.Anonymous {
			continue
		}

		// Embedded structs contribute their fields; nil embedded pointers are skipped.
		if f.Anonymous {
			ft, fv := f.Type, v.Field(i)
			isNil := false
			for ft.Kind() == reflect.Pointer {
				if fv.IsNil() {
					isNil = true
					break
				}
				ft, fv = ft.Elem(), fv.Elem()
			}
			if isNil {
				continue
			}
			if ft.Kind() == reflect.Struct {
				if err := addStructFields(dst, fv); err != nil {
					return err
				}
				continue
			}
		}

		name, _, omit := parseTag(f.Tag.Get("db"))
		if omit {
			continue
		}
		if name == "" {
			name = f.Name
		}
		key := strings.ToLower(name)
		if _, exists := dst[key]; exists {
			return fmt.Errorf("%w: %q", ErrDuplicateKeyTag, key)
		}
		dst[key] = v.Field(i).Interface()
	}
	return nil
}

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// isSliceOrArray reports whether v is a collection to expand. Byte slices,
// byte arrays and driver.Valuer types (uuid.UUID, for one) are single values.
func isSliceOrArray(v reflect.Value) bool {
	if !v.IsValid() {
		return false
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Implements(valuerType) {
			return false
		}
		return v.Type().Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}
