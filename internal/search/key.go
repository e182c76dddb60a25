// Package search implements the Mongo-style inverted-index query
// engine over state points and documents (spec §4.5, component C5).
package search

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// indexKeyKind tags the shape of a leaf value inside the per-key
// index. Keeping int and float as distinct kinds (rather than
// perturbing a shared hash the way the source does) is this port's
// resolution of the §9 open question on numeric-key hashing: Go map
// keys are compared structurally, so two kinds with different tags
// are already guaranteed distinct without any hash trick, and the
// "both queries return both" requirement is met by duplicating
// integer-valued numbers under both kinds at index-build time.
type indexKeyKind byte

const (
	kindNull indexKeyKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
	kindTuple // hashable encoding of a leaf list value
	kindDict  // DICT_PLACEHOLDER: leaf was itself a mapping
)

type indexKey struct {
	kind indexKeyKind
	s    string
	i    int64
	f    float64
	b    bool
}

func nullKey() indexKey       { return indexKey{kind: kindNull} }
func boolKey(b bool) indexKey { return indexKey{kind: kindBool, b: b} }
func intKey(i int64) indexKey { return indexKey{kind: kindInt, i: i} }
func floatKey(f float64) indexKey {
	return indexKey{kind: kindFloat, f: f}
}
func stringKey(s string) indexKey { return indexKey{kind: kindString, s: s} }
func dictKey() indexKey           { return indexKey{kind: kindDict} }
func tupleKey(encoded string) indexKey {
	return indexKey{kind: kindTuple, s: encoded}
}

// keysForLeaf returns every indexKey a leaf value should be filed
// under. Integer-valued numbers are filed under both kindInt and
// kindFloat so find({k: 4}) and find({k: 4.0}) return the same jobs
// whether the stored value was written as an int or a float.
func keysForLeaf(v any) []indexKey {
	switch t := v.(type) {
	case nil:
		return []indexKey{nullKey()}
	case bool:
		return []indexKey{boolKey(t)}
	case int64:
		return []indexKey{intKey(t), floatKey(float64(t))}
	case int:
		return []indexKey{intKey(int64(t)), floatKey(float64(t))}
	case float64:
		if t == float64(int64(t)) {
			return []indexKey{intKey(int64(t)), floatKey(t)}
		}
		return []indexKey{floatKey(t)}
	case string:
		return []indexKey{stringKey(t)}
	case map[string]any:
		return []indexKey{dictKey()}
	case []any:
		return []indexKey{tupleKey(encodeTuple(t))}
	default:
		return []indexKey{stringKey(fmt.Sprintf("%v", t))}
	}
}

// queryKeys mirrors keysForLeaf for a literal on the query side: a
// query for 4 (int) or 4.0 (float) probes both kinds so either query
// finds values filed under the kind the store happened to use.
func queryKeys(v any) []indexKey {
	return keysForLeaf(v)
}

func encodeTuple(a []any) string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = encodeTupleElem(v)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

func encodeTupleElem(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return strconv.Quote(t)
	case []any:
		return encodeTuple(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			b.WriteString(encodeTupleElem(t[k]))
		}
		b.WriteByte('}')
		return b.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}

// TypeName returns the $type name for a leaf value ("int", "float",
// "bool", "str", "list", "dict", or "null"). Exported so
// internal/project can reuse it when building a schema.
func TypeName(v any) string { return typeName(v) }

// typeName returns the $type name for a leaf value, matching the
// stored Go kind rather than the numeric value: a float64 that
// happens to hold a whole number (e.g. decoded from `4.0`) still
// reports "float", the same way isinstance(4.0, int) is false in the
// source implementation. The int/float equality duplication needed so
// find({k: 4}) matches a stored 4.0 lives in keysForLeaf, not here.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64, int:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return "unknown"
	}
}
