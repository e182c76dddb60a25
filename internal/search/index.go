package search

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the id -> document mapping SearchIndex evaluates filters
// against (spec §4.5 "a mapping id -> dict"). Document values use the
// plain Go decode shape: map[string]any, []any, string, bool, nil, and
// numbers as either int64 (written without a decimal point) or
// float64 (written with one) — see internal/project's cache loader,
// which decodes with json.Number specifically to preserve that
// distinction for the index.
type Store map[string]map[string]any

// perKey caches, for one dotted key, every id's leaf value plus the
// reverse index from indexKey to id set — built lazily, one linear
// pass over the store per distinct queried key (spec complexity
// note).
type perKey struct {
	values map[string]any               // id -> leaf value, absent if key missing
	byKey  map[indexKey]map[string]bool // indexKey -> id set
}

// Index evaluates Mongo-style filters against a Store, building
// per-key indexes on demand and caching them for the Index's
// lifetime.
type Index struct {
	mu    sync.Mutex
	store Store
	cache map[string]*perKey
}

// New builds an Index over store. The store is not copied; callers
// must not mutate it while the Index is in use.
func New(store Store) *Index {
	return &Index{store: store, cache: make(map[string]*perKey)}
}

// AllIDs returns every id in the store, the result of Find({}).
func (idx *Index) AllIDs() []string {
	ids := make([]string, 0, len(idx.store))
	for id := range idx.store {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (idx *Index) keyIndex(key string) *perKey {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if pk, ok := idx.cache[key]; ok {
		return pk
	}
	pk := &perKey{values: map[string]any{}, byKey: map[indexKey]map[string]bool{}}
	parts := strings.Split(key, ".")
	for id, doc := range idx.store {
		v, ok := walk(doc, parts)
		if !ok {
			continue
		}
		pk.values[id] = v
		for _, k := range keysForLeaf(v) {
			if pk.byKey[k] == nil {
				pk.byKey[k] = map[string]bool{}
			}
			pk.byKey[k][id] = true
		}
	}
	idx.cache[key] = pk
	return pk
}

func walk(doc map[string]any, parts []string) (any, bool) {
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// Find evaluates filter and returns the matching ids in sorted order.
// An empty filter matches every id in the store (spec invariant
// find({}, S) = keys(S)).
func (idx *Index) Find(filter map[string]any) ([]string, error) {
	set, err := idx.findSet(filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (idx *Index) findSet(filter map[string]any) (map[string]bool, error) {
	if len(filter) == 0 {
		return toSet(idx.AllIDs()), nil
	}

	running := toSet(idx.AllIDs())
	if idConstraint, ok := filter["_id"]; ok {
		ids, err := idx.matchIDs(idConstraint)
		if err != nil {
			return nil, err
		}
		running = toSet(ids)
	}

	// Deterministic clause order: plain keys before logical operators,
	// each group sorted, so repeated Find calls fail fast on the same
	// key first.
	keys := make([]string, 0, len(filter))
	var logical []string
	for k := range filter {
		if k == "_id" {
			continue
		}
		if strings.HasPrefix(k, "$") {
			logical = append(logical, k)
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sort.Strings(logical)
	keys = append(keys, logical...)

	for _, key := range keys {
		sub := filter[key]
		var clauseErr error
		var clause map[string]bool

		switch key {
		case "$not":
			subFilter, ok := sub.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("$not requires a sub-filter object")
			}
			notSet, err := idx.findSet(subFilter)
			if err != nil {
				return nil, err
			}
			running = setDifference(running, notSet)
			continue
		case "$and":
			clause, clauseErr = idx.intersectSubFilters(sub)
		case "$or":
			clause, clauseErr = idx.unionSubFilters(sub)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, fmt.Errorf("unsupported top-level operator %q", key)
			}
			clause, clauseErr = idx.matchKeySet(key, sub)
		}
		if clauseErr != nil {
			return nil, clauseErr
		}
		running = intersect(running, clause)
		if len(running) == 0 {
			return running, nil
		}
	}
	return running, nil
}

func (idx *Index) intersectSubFilters(v any) (map[string]bool, error) {
	subs, ok := v.([]any)
	if !ok || len(subs) == 0 {
		return nil, fmt.Errorf("$and requires a non-empty array of sub-filters")
	}
	result := toSet(idx.AllIDs())
	for _, s := range subs {
		sf, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$and elements must be filter objects")
		}
		set, err := idx.findSet(sf)
		if err != nil {
			return nil, err
		}
		result = intersect(result, set)
	}
	return result, nil
}

func (idx *Index) unionSubFilters(v any) (map[string]bool, error) {
	subs, ok := v.([]any)
	if !ok || len(subs) == 0 {
		return nil, fmt.Errorf("$or requires a non-empty array of sub-filters")
	}
	result := map[string]bool{}
	for _, s := range subs {
		sf, ok := s.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("$or elements must be filter objects")
		}
		set, err := idx.findSet(sf)
		if err != nil {
			return nil, err
		}
		for id := range set {
			result[id] = true
		}
	}
	return result, nil
}

func (idx *Index) matchIDs(constraint any) ([]string, error) {
	all := idx.AllIDs()
	pk := &perKey{values: map[string]any{}, byKey: map[indexKey]map[string]bool{}}
	for _, id := range all {
		pk.values[id] = id
		k := stringKey(id)
		if pk.byKey[k] == nil {
			pk.byKey[k] = map[string]bool{}
		}
		pk.byKey[k][id] = true
	}
	set, err := evaluate(pk, all, constraint)
	if err != nil {
		return nil, err
	}
	return setToSlice(set), nil
}

func (idx *Index) matchKeySet(key string, constraint any) (map[string]bool, error) {
	if err := validateOperatorKey(key); err != nil {
		return nil, err
	}
	pk := idx.keyIndex(key)
	return evaluate(pk, idx.AllIDs(), constraint)
}

func validateOperatorKey(key string) error {
	if strings.HasPrefix(key, "$") && !strings.HasPrefix(key, "$$") {
		// top-level non-logical "$foo" keys are never valid filter keys
		return fmt.Errorf("operator %q cannot appear as a top-level filter key", key)
	}
	if strings.HasPrefix(key, "$$") {
		return fmt.Errorf("malformed operator key %q", key)
	}
	return nil
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func intersect(a, b map[string]bool) map[string]bool {
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	out := map[string]bool{}
	for id := range small {
		if big[id] {
			out[id] = true
		}
	}
	return out
}

func setDifference(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for id := range a {
		if !b[id] {
			out[id] = true
		}
	}
	return out
}
