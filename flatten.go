package dbi

import (
	"reflect"
)

// Flatten expands nested slices and arrays into one list of bind values,
// depth-first and in order:
//
//	Flatten(1, []any{2, []int{3, 4}}, [][]string{{"a"}}) // [1 2 3 4 a]
//
// Byte slices are values, not collections, and so are maps, structs and
// pointers. Empty collections contribute nothing. Flatten never returns nil
// and Flatten(Flatten(x)...) equals Flatten(x...).
func Flatten(args ...any) []any {
	out := make([]any, 0, len(args))
	for _, a := range args {
		out = appendFlat(out, a)
	}
	return out
}

func appendFlat(dst []any, v any) []any {
	switch x := v.(type) {
	case nil:
		return append(dst, nil)
	case []any:
		for _, e := range x {
			dst = appendFlat(dst, e)
		}
		return dst
	case []byte, string, int, int64, float64, bool:
		return append(dst, v)
	}
	rv := reflect.ValueOf(v)
	if !isSliceOrArray(rv) {
		return append(dst, v)
	}
	for i := 0; i < rv.Len(); i++ {
		dst = appendFlat(dst, rv.Index(i).Interface())
	}
	return dst
}
