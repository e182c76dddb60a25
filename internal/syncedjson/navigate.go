package syncedjson

import "fmt"

// step is either a string map key or an int sequence index.
type step any

func getPath(root any, path []step) (any, error) {
	cur := root
	for _, s := range path {
		switch key := s.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("path element %q: not a mapping", key)
			}
			v, ok := m[key]
			if !ok {
				return nil, fmt.Errorf("key %q not found", key)
			}
			cur = v
		case int:
			a, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("path element %d: not a sequence", key)
			}
			if key < 0 || key >= len(a) {
				return nil, fmt.Errorf("index %d out of range", key)
			}
			cur = a[key]
		default:
			return nil, fmt.Errorf("unsupported path step %T", s)
		}
	}
	return cur, nil
}

// setPath writes value at root+path+finalKey, reifying intermediate
// mappings that don't exist yet (children are lazily materialized,
// spec §9 "lazy sub-collections").
func setPath(root any, path []step, finalKey step, value any) (any, error) {
	if len(path) == 0 {
		return setAtContainer(root, finalKey, value)
	}
	head, rest := path[0], path[1:]
	switch key := head.(type) {
	case string:
		m, ok := root.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path element %q: not a mapping", key)
		}
		child, ok := m[key]
		if !ok {
			child = map[string]any{}
		}
		newChild, err := setPath(child, rest, finalKey, value)
		if err != nil {
			return nil, err
		}
		m[key] = newChild
		return m, nil
	case int:
		a, ok := root.([]any)
		if !ok {
			return nil, fmt.Errorf("path element %d: not a sequence", key)
		}
		if key < 0 || key >= len(a) {
			return nil, fmt.Errorf("index %d out of range", key)
		}
		newChild, err := setPath(a[key], rest, finalKey, value)
		if err != nil {
			return nil, err
		}
		a[key] = newChild
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported path step %T", head)
	}
}

func setAtContainer(container any, key step, value any) (any, error) {
	switch k := key.(type) {
	case string:
		m, ok := container.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("target is not a mapping")
		}
		m[k] = value
		return m, nil
	case int:
		a, ok := container.([]any)
		if !ok {
			return nil, fmt.Errorf("target is not a sequence")
		}
		if k < 0 || k >= len(a) {
			return nil, fmt.Errorf("index %d out of range", k)
		}
		a[k] = value
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

func deletePath(root any, path []step, finalKey step) (any, error) {
	if len(path) == 0 {
		return deleteAtContainer(root, finalKey)
	}
	head, rest := path[0], path[1:]
	switch key := head.(type) {
	case string:
		m, ok := root.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path element %q: not a mapping", key)
		}
		child, ok := m[key]
		if !ok {
			return nil, fmt.Errorf("key %q not found", key)
		}
		newChild, err := deletePath(child, rest, finalKey)
		if err != nil {
			return nil, err
		}
		m[key] = newChild
		return m, nil
	case int:
		a, ok := root.([]any)
		if !ok {
			return nil, fmt.Errorf("path element %d: not a sequence", key)
		}
		if key < 0 || key >= len(a) {
			return nil, fmt.Errorf("index %d out of range", key)
		}
		newChild, err := deletePath(a[key], rest, finalKey)
		if err != nil {
			return nil, err
		}
		a[key] = newChild
		return a, nil
	default:
		return nil, fmt.Errorf("unsupported path step %T", head)
	}
}

func deleteAtContainer(container any, key step) (any, error) {
	switch k := key.(type) {
	case string:
		m, ok := container.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("target is not a mapping")
		}
		delete(m, k)
		return m, nil
	case int:
		a, ok := container.([]any)
		if !ok {
			return nil, fmt.Errorf("target is not a sequence")
		}
		if k < 0 || k >= len(a) {
			return nil, fmt.Errorf("index %d out of range", k)
		}
		return append(append([]any{}, a[:k]...), a[k+1:]...), nil
	default:
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
}

// deepCopy produces a detached snapshot, used by Document.Call.
func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
