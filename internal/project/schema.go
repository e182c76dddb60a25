package project

import (
	"reflect"

	"github.com/signac-project/signac/internal/search"
)

// Schema maps each dotted state-point key found among ids to a
// mapping from $type name to the distinct values seen under that
// type (spec §4.8). When excludeConstant is true, a key whose values
// collapse to a single (type, value) pair across every job supplied
// is omitted — it carries no discriminating information.
func (p *Project) Schema(ids []string, excludeConstant bool) (map[string]map[string][]any, error) {
	if err := p.warmCache(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	store := make(map[string]map[string]any, len(ids))
	for _, id := range ids {
		if sp, ok := p.cache[id]; ok {
			store[id] = sp
		}
	}
	p.mu.Unlock()

	schema := map[string]map[string][]any{}
	for _, sp := range store {
		flat := map[string]any{}
		flattenKeys("", sp, flat)
		for key, v := range flat {
			byType := schema[key]
			if byType == nil {
				byType = map[string][]any{}
				schema[key] = byType
			}
			t := search.TypeName(v)
			byType[t] = appendUnique(byType[t], v)
		}
	}

	if excludeConstant {
		for key, byType := range schema {
			if isConstant(byType) {
				delete(schema, key)
			}
		}
	}
	return schema, nil
}

// flattenKeys walks sp recursively, recording each leaf under its
// dotted path. Leaf here means "not a JSON object" — lists remain
// whole values, matching SearchIndex's own leaf definition.
func flattenKeys(prefix string, v any, out map[string]any) {
	m, ok := v.(map[string]any)
	if !ok {
		out[prefix] = v
		return
	}
	for k, vv := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flattenKeys(key, vv, out)
	}
}

func isConstant(byType map[string][]any) bool {
	if len(byType) != 1 {
		return false
	}
	for _, vals := range byType {
		return len(vals) == 1
	}
	return false
}

func appendUnique(vals []any, v any) []any {
	for _, existing := range vals {
		if reflect.DeepEqual(existing, v) {
			return vals
		}
	}
	return append(vals, v)
}
