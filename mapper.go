package dbi

import (
	"database/sql"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/spf13/cast"
)

// Mapper binds fetched rows into Go values. It caches the field index of
// every struct type it has seen. Use the package-level lazy getter
// (getMapper) or create your own in tests.
type Mapper struct {
	structIndexCache sync.Map // key: reflect.Type -> *fieldIndex
}

func NewMapper() *Mapper { return &Mapper{} }

var (
	mapper     *Mapper
	mapperOnce sync.Once
)

func getMapper() *Mapper {
	mapperOnce.Do(func() { mapper = NewMapper() })
	return mapper
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
)

// bindRow maps an associative row into T. Struct fields are matched by
// normalized column name; columns without a field are ignored. Any other T
// needs exactly one column.
func bindRow[T any](m *Mapper, row map[string]any) (T, error) {
	var zero T
	if len(row) == 0 {
		return zero, fmt.Errorf("dbi: query returned zero columns")
	}

	rt := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.New(rt).Elem()

	if !mapsAsStruct(rt) {
		if len(row) != 1 {
			return zero, fmt.Errorf("dbi: cannot map %d columns into %s; use a struct", len(row), rt)
		}
		for col, v := range row {
			if err := assignValue(rv, v); err != nil {
				return zero, fmt.Errorf("dbi: column %q: %w", col, err)
			}
		}
		return rv.Interface().(T), nil
	}

	if rt.Kind() == reflect.Pointer {
		rv.Set(reflect.New(rt.Elem()))
	}
	idx := m.structIndex(rt)
	for col, v := range row {
		path, ok := idx.byName[normalizeColAscii(col)]
		if !ok {
			continue
		}
		if err := assignValue(fieldByPathAlloc(rv, path), v); err != nil {
			return zero, fmt.Errorf("dbi: column %q: %w", col, err)
		}
	}
	return rv.Interface().(T), nil
}

// mapsAsStruct reports whether rows bind field by field into t.
func mapsAsStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Pointer {
		return false
	}
	base := derefPtr(t)
	return base.Kind() == reflect.Struct && base != timeType && !implementsScanner(base)
}

type fieldIndex struct {
	byName map[string][]int // lower-case column name -> index path
}

func (m *Mapper) structIndex(rt reflect.Type) *fieldIndex {
	if v, ok := m.structIndexCache.Load(rt); ok {
		return v.(*fieldIndex)
	}
	fi := buildStructIndex(rt)
	v, _ := m.structIndexCache.LoadOrStore(rt, &fi)
	return v.(*fieldIndex)
}

// ---------------- Struct indexing & tags ----------------

func buildStructIndex(rt reflect.Type) fieldIndex {
	idx := fieldIndex{byName: make(map[string][]int)}

	var walk func(t reflect.Type, base []int, forceInline bool)
	walk = func(t reflect.Type, base []int, forceInline bool) {
		t = derefPtr(t)
		if t.Kind() != reflect.Struct {
			return
		}
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag := sf.Tag.Get("db")
			name, inline, omit := parseTag(tag)
			if omit {
				continue
			}
			ft := sf.Type
			path := append(append([]int(nil), base...), i)

			if inline || (sf.Anonymous && (forceInline || tag == "")) {
				if d := derefPtr(ft); d.Kind() == reflect.Struct && d != timeType {
					walk(ft, path, inline)
					continue
				}
			}
			if sf.PkgPath != "" {
				continue
			}
			if name == "" {
				name = sf.Name
			}
			// Shallower fields win over ones promoted from embedded structs.
			lc := toLowerAscii(name)
			if prev, ok := idx.byName[lc]; !ok || len(path) < len(prev) {
				idx.byName[lc] = path
			}
		}
	}
	walk(rt, nil, false)
	return idx
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return "", false, false
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// ---------------- Value assignment ----------------

// assignValue stores a fetched column value into dst. NULL zeroes dst;
// sql.Scanner destinations scan the value themselves; everything else is
// converted with cast.
func assignValue(dst reflect.Value, src any) error {
	if src == nil {
		dst.SetZero()
		return nil
	}
	if dst.CanAddr() && dst.Addr().Type().Implements(scannerType) {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assignValue(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		if b, ok := src.([]byte); ok {
			src = append([]byte(nil), b...)
			sv = reflect.ValueOf(src)
		}
		dst.Set(sv)
		return nil
	}
	if b, ok := src.([]byte); ok && !isByteSlice(dst.Type()) {
		src = string(b)
	}

	fail := func(err error) error {
		return fmt.Errorf("cannot assign %T to %s: %w", src, dst.Type(), err)
	}
	switch dst.Kind() {
	case reflect.String:
		s, err := cast.ToStringE(src)
		if err != nil {
			return fail(err)
		}
		dst.SetString(s)
	case reflect.Bool:
		b, err := toBool(src)
		if err != nil {
			return fail(err)
		}
		dst.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := cast.ToInt64E(src)
		if err != nil {
			return fail(err)
		}
		if dst.OverflowInt(n) {
			return fail(fmt.Errorf("value %d overflows", n))
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := cast.ToUint64E(src)
		if err != nil {
			return fail(err)
		}
		if dst.OverflowUint(n) {
			return fail(fmt.Errorf("value %d overflows", n))
		}
		dst.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := cast.ToFloat64E(src)
		if err != nil {
			return fail(err)
		}
		if dst.OverflowFloat(f) {
			return fail(fmt.Errorf("value %g overflows", f))
		}
		dst.SetFloat(f)
	case reflect.Slice:
		if !isByteSlice(dst.Type()) {
			return fail(ErrUnsupportedArg)
		}
		switch v := src.(type) {
		case string:
			dst.SetBytes([]byte(v))
		case []byte:
			dst.SetBytes(append([]byte(nil), v...))
		default:
			s, err := cast.ToStringE(src)
			if err != nil {
				return fail(err)
			}
			dst.SetBytes([]byte(s))
		}
	case reflect.Interface:
		if !sv.Type().Implements(dst.Type()) {
			return fail(ErrUnsupportedArg)
		}
		dst.Set(sv)
	case reflect.Struct:
		if dst.Type() != timeType {
			if sv.Type().ConvertibleTo(dst.Type()) {
				dst.Set(sv.Convert(dst.Type()))
				return nil
			}
			return fail(ErrUnsupportedArg)
		}
		t, err := cast.ToTimeE(src)
		if err != nil {
			return fail(err)
		}
		dst.Set(reflect.ValueOf(t))
	default:
		if sv.Type().ConvertibleTo(dst.Type()) {
			dst.Set(sv.Convert(dst.Type()))
			return nil
		}
		return fail(ErrUnsupportedArg)
	}
	return nil
}

// toBool accepts integer column values, which is how MySQL reports BOOL.
func toBool(src any) (bool, error) {
	rv := reflect.ValueOf(src)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int() != 0, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint() != 0, nil
	}
	return cast.ToBoolE(src)
}

func isByteSlice(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// ---------------- Type helpers ----------------

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

// fieldByPathAlloc walks fpath, allocating nil pointers so the final field is addressable.
func fieldByPathAlloc(root reflect.Value, fpath []int) reflect.Value {
	v := root
	for _, i := range fpath {
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}

// ---------------- Column normalization (ASCII fast-path) ----------------

func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
