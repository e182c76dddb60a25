package project

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signac-project/signac/internal/job"
	"github.com/signac-project/signac/internal/search"
)

// JobsCursor is the lazy, cached result of FindJobs: the filter is
// evaluated the first time the cursor is consumed, and the resulting
// id list/set are reused for every subsequent call (spec §4.8).
type JobsCursor struct {
	project   *Project
	filter    map[string]any
	evaluated bool
	ids       []string
	idSet     map[string]bool
}

// FindJobs returns a JobsCursor over every job matching filter. An
// empty or nil filter matches every job in the workspace.
func (p *Project) FindJobs(filter map[string]any) *JobsCursor {
	if filter == nil {
		filter = map[string]any{}
	}
	return &JobsCursor{project: p, filter: filter}
}

func (c *JobsCursor) ensureEvaluated() error {
	if c.evaluated {
		return nil
	}
	if err := c.project.warmCache(); err != nil {
		return err
	}
	idx := search.New(c.project.searchStore())
	ids, err := idx.Find(namespaceFilter(c.filter))
	if err != nil {
		return err
	}
	c.ids = ids
	c.idSet = make(map[string]bool, len(ids))
	for _, id := range ids {
		c.idSet[id] = true
	}
	c.evaluated = true
	return nil
}

// Len returns the number of matching jobs.
func (c *JobsCursor) Len() (int, error) {
	if err := c.ensureEvaluated(); err != nil {
		return 0, err
	}
	return len(c.ids), nil
}

// Contains reports whether id is among the matches.
func (c *JobsCursor) Contains(id string) (bool, error) {
	if err := c.ensureEvaluated(); err != nil {
		return false, err
	}
	return c.idSet[id], nil
}

// IDs returns a copy of the matching ids in sorted order.
func (c *JobsCursor) IDs() ([]string, error) {
	if err := c.ensureEvaluated(); err != nil {
		return nil, err
	}
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out, nil
}

// Jobs materializes a Job handle for every matching id.
func (c *JobsCursor) Jobs() ([]*job.Job, error) {
	ids, err := c.IDs()
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, len(ids))
	for i, id := range ids {
		j, err := c.project.OpenJobByID(id)
		if err != nil {
			return nil, err
		}
		jobs[i] = j
	}
	return jobs, nil
}

// GroupKeyFunc computes a grouping key for one job, given the job's
// {"sp": <state point>, "doc": <document>} view (the same shape
// searchStore builds). A false ok return excludes the job from every
// group, the "no default, filter out jobs missing the key" behavior
// in spec §4.8.
type GroupKeyFunc func(doc map[string]any) (key any, ok bool)

// GroupBy partitions matching jobs by fn, returning group label to
// sorted id list. Group labels are the %v-formatted key value, stable
// enough for callers that want deterministic iteration (spec's "fall
// back to repr ordering" for non-orderable keys).
func (c *JobsCursor) GroupBy(fn GroupKeyFunc) (map[string][]string, error) {
	if err := c.ensureEvaluated(); err != nil {
		return nil, err
	}
	store := c.project.searchStore()
	groups := map[string][]string{}
	for _, id := range c.ids {
		key, ok := fn(store[id])
		if !ok {
			continue
		}
		label := fmt.Sprintf("%v", key)
		groups[label] = append(groups[label], id)
	}
	for _, ids := range groups {
		sort.Strings(ids)
	}
	return groups, nil
}

// GroupByKeys groups by one or more state-point or document keys
// (spec §4.8). A bare key defaults to the state-point namespace; a
// "sp."- or "doc."-rooted key addresses that namespace explicitly,
// the same defaulting FindJobs applies to filter keys. When
// hasDefault is false, jobs missing any of keys are excluded; when
// true, missingDefault substitutes for the absent value.
func (c *JobsCursor) GroupByKeys(keys []string, hasDefault bool, missingDefault any) (map[string][]string, error) {
	nsKeys := make([]string, len(keys))
	for i, k := range keys {
		nsKeys[i] = namespacedKey(k)
	}
	return c.GroupBy(func(doc map[string]any) (any, bool) {
		if len(nsKeys) == 1 {
			v, ok := lookupDotted(doc, nsKeys[0])
			if !ok {
				if !hasDefault {
					return nil, false
				}
				return missingDefault, true
			}
			return v, true
		}
		vals := make([]any, len(nsKeys))
		for i, k := range nsKeys {
			v, ok := lookupDotted(doc, k)
			if !ok {
				if !hasDefault {
					return nil, false
				}
				v = missingDefault
			}
			vals[i] = v
		}
		return vals, true
	})
}

// GroupLabels returns the sorted labels of a GroupBy result, giving
// callers a deterministic iteration order over groups.
func GroupLabels(groups map[string][]string) []string {
	labels := make([]string, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// namespacedKey roots a filter/group key at the state-point namespace
// unless it is already rooted at "sp." or "doc." (or is exactly one of
// those two words), matching spec §3/§4.5's "top-level keys with no
// prefix default to the SP namespace; doc. targets the document
// namespace".
func namespacedKey(key string) string {
	if key == "sp" || key == "doc" || strings.HasPrefix(key, "sp.") || strings.HasPrefix(key, "doc.") {
		return key
	}
	return "sp." + key
}

// namespaceFilter rewrites every top-level filter key with
// namespacedKey, recursing into $and/$or/$not sub-filters without
// touching the operator key itself or any operator argument. _id
// addresses the job id directly and is left untouched.
func namespaceFilter(filter map[string]any) map[string]any {
	out := make(map[string]any, len(filter))
	for k, v := range filter {
		switch k {
		case "_id":
			out[k] = v
		case "$and", "$or":
			if list, ok := v.([]any); ok {
				nl := make([]any, len(list))
				for i, sub := range list {
					if sf, ok := sub.(map[string]any); ok {
						nl[i] = namespaceFilter(sf)
					} else {
						nl[i] = sub
					}
				}
				out[k] = nl
			} else {
				out[k] = v
			}
		case "$not":
			if sf, ok := v.(map[string]any); ok {
				out[k] = namespaceFilter(sf)
			} else {
				out[k] = v
			}
		default:
			out[namespacedKey(k)] = v
		}
	}
	return out
}

func lookupDotted(doc map[string]any, key string) (any, bool) {
	parts := strings.Split(key, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
