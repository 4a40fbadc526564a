package utils

import "strings"

// LookupPath walks a dot-separated path through nested maps by ordinary
// attribute access. Every hop is treated as nullable: a missing key, a nil
// value or a non-map intermediate yields (nil, false) instead of panicking.
//
// Maps keyed by string (map[string]any) are the canonical shape; map[string]string
// is accepted for flat attribute bags.
func LookupPath(root map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = root
	for path != "" {
		var key string
		if idx := strings.IndexByte(path, '.'); idx >= 0 {
			key, path = path[:idx], path[idx+1:]
		} else {
			key, path = path, ""
		}
		m, ok := asStringMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func asStringMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// EqualValues compares two leaf values for condition matching. The value
// grammar is restricted to strings, numbers, booleans and nil; numeric values
// compare across int/int64/float64 so a JSON-decoded float64(7) matches an
// in-memory int(7).
func EqualValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
