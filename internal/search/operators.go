package search

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// WhereFunc is an explicit, pre-registered predicate a caller may use
// with $where. Per spec §9 this port never evaluates strings as code;
// $where only accepts a name registered in advance via RegisterWhere.
type WhereFunc func(leaf any) bool

var whereRegistry = map[string]WhereFunc{}

// RegisterWhere opts a named predicate into $where. Must be called
// before any Find using {"$where": name} runs.
func RegisterWhere(name string, fn WhereFunc) {
	whereRegistry[name] = fn
}

func evaluate(pk *perKey, allIDs []string, constraint any) (map[string]bool, error) {
	m, isMap := constraint.(map[string]any)
	if !isMap || len(m) == 0 {
		return evalEquality(pk, constraint), nil
	}

	hasDollar, allDollar := false, true
	for key := range m {
		if strings.Contains(key, "$") && !strings.HasPrefix(key, "$") {
			return nil, fmt.Errorf("misplaced operator %q: operators must start with '$'", key)
		}
		if strings.HasPrefix(key, "$") {
			hasDollar = true
		} else {
			allDollar = false
		}
	}
	if hasDollar && !allDollar {
		return nil, fmt.Errorf("cannot mix operator keys and plain keys in one sub-filter")
	}
	if !hasDollar {
		return evalEquality(pk, constraint), nil
	}

	result := toSet(allIDs)
	for opKey, opVal := range m {
		if strings.HasPrefix(opKey, "$$") {
			return nil, fmt.Errorf("malformed operator key %q", opKey)
		}
		set, err := evalOperator(pk, allIDs, opKey, opVal)
		if err != nil {
			return nil, err
		}
		result = intersect(result, set)
	}
	return result, nil
}

func evalEquality(pk *perKey, value any) map[string]bool {
	out := map[string]bool{}
	for _, k := range queryKeys(value) {
		for id := range pk.byKey[k] {
			out[id] = true
		}
	}
	return out
}

func evalOperator(pk *perKey, allIDs []string, op string, operand any) (map[string]bool, error) {
	switch op {
	case "$eq":
		return evalEquality(pk, operand), nil
	case "$ne":
		return setDifference(toSet(allIDs), evalEquality(pk, operand)), nil
	case "$exists":
		want, _ := operand.(bool)
		out := map[string]bool{}
		for _, id := range allIDs {
			_, present := pk.values[id]
			if present == want {
				out[id] = true
			}
		}
		return out, nil
	case "$lt", "$gt", "$lte", "$gte":
		return evalOrder(pk, op, operand), nil
	case "$in":
		vals, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("$in requires an array operand")
		}
		out := map[string]bool{}
		for _, v := range vals {
			for id := range evalEquality(pk, v) {
				out[id] = true
			}
		}
		return out, nil
	case "$nin":
		vals, ok := operand.([]any)
		if !ok {
			return nil, fmt.Errorf("$nin requires an array operand")
		}
		matched := map[string]bool{}
		for _, v := range vals {
			for id := range evalEquality(pk, v) {
				matched[id] = true
			}
		}
		return setDifference(toSet(allIDs), matched), nil
	case "$regex":
		pattern, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("$regex requires a string operand")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("$regex: %w", err)
		}
		out := map[string]bool{}
		for id, v := range pk.values {
			if s, ok := v.(string); ok && re.MatchString(s) {
				out[id] = true
			}
		}
		return out, nil
	case "$type":
		want, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("$type requires a string operand")
		}
		out := map[string]bool{}
		for id, v := range pk.values {
			if typeName(v) == want {
				out[id] = true
			}
		}
		return out, nil
	case "$where":
		name, ok := operand.(string)
		if !ok {
			return nil, fmt.Errorf("$where requires the name of a pre-registered predicate")
		}
		fn, ok := whereRegistry[name]
		if !ok {
			return nil, fmt.Errorf("$where: no predicate registered under %q; call search.RegisterWhere first", name)
		}
		out := map[string]bool{}
		for id, v := range pk.values {
			if fn(v) {
				out[id] = true
			}
		}
		return out, nil
	case "$near":
		return evalNear(pk, operand)
	default:
		return nil, fmt.Errorf("unsupported operator %q", op)
	}
}

func evalOrder(pk *perKey, op string, operand any) map[string]bool {
	out := map[string]bool{}
	for id, v := range pk.values {
		cmp, ok := compare(v, operand)
		if !ok {
			continue
		}
		switch op {
		case "$lt":
			if cmp < 0 {
				out[id] = true
			}
		case "$gt":
			if cmp > 0 {
				out[id] = true
			}
		case "$lte":
			if cmp <= 0 {
				out[id] = true
			}
		case "$gte":
			if cmp >= 0 {
				out[id] = true
			}
		}
	}
	return out
}

// compare returns -1/0/1 the way strings.Compare does, ok=false when
// a and b are not mutually orderable (different non-numeric types).
func compare(a, b any) (int, bool) {
	af, aIsNum := asFloat(a)
	bf, bIsNum := asFloat(b)
	if aIsNum && bIsNum {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// evalNear implements the $near tolerance rule: operand is a scalar
// (default tolerances) or a 1-3 element array [value], [value, rel],
// [value, rel, abs].
func evalNear(pk *perKey, operand any) (map[string]bool, error) {
	var target, relTol, absTol float64
	relTol, absTol = 1e-9, 0.0

	switch t := operand.(type) {
	case []any:
		if len(t) == 0 || len(t) > 3 {
			return nil, fmt.Errorf("$near array operand must have 1 to 3 elements")
		}
		v, ok := asFloat(t[0])
		if !ok {
			return nil, fmt.Errorf("$near value must be numeric")
		}
		target = v
		if len(t) >= 2 {
			r, ok := asFloat(t[1])
			if !ok {
				return nil, fmt.Errorf("$near rel_tol must be numeric")
			}
			relTol = r
		}
		if len(t) == 3 {
			a, ok := asFloat(t[2])
			if !ok {
				return nil, fmt.Errorf("$near abs_tol must be numeric")
			}
			absTol = a
		}
	default:
		v, ok := asFloat(operand)
		if !ok {
			return nil, fmt.Errorf("$near requires a numeric value or [value, rel_tol, abs_tol]")
		}
		target = v
	}

	out := map[string]bool{}
	for id, v := range pk.values {
		x, ok := asFloat(v)
		if !ok {
			continue
		}
		tolerance := math.Max(relTol*math.Max(math.Abs(x), math.Abs(target)), absTol)
		if math.Abs(x-target) <= tolerance {
			out[id] = true
		}
	}
	return out, nil
}
