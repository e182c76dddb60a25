package syncedjson

import "fmt"

// Cursor addresses a nested location inside a Document. The zero
// value (returned by Document.Root) addresses the whole document;
// Child/Index descend into mappings/sequences. A Cursor never holds
// its own copy of data — every operation re-reads d.data through the
// owning Document under its lock, so concurrent cursors into the same
// document always observe a consistent view.
type Cursor struct {
	doc  *Document
	path []step
}

// Child returns a Cursor addressing path+[key] (mapping access).
func (c *Cursor) Child(key string) *Cursor {
	return &Cursor{doc: c.doc, path: append(append([]step{}, c.path...), key)}
}

// Index returns a Cursor addressing path+[i] (sequence access).
func (c *Cursor) Index(i int) *Cursor {
	return &Cursor{doc: c.doc, path: append(append([]step{}, c.path...), i)}
}

// Value returns the cursor's current value, loading the document
// first if needed.
func (c *Cursor) Value() (any, error) {
	if err := c.doc.EnsureLoaded(); err != nil {
		return nil, err
	}
	lock := lockFor(c.doc.path)
	lock.Lock()
	defer lock.Unlock()
	if len(c.path) == 0 {
		return c.doc.data, nil
	}
	return getPath(c.doc.data, c.path)
}

// Get returns the value at path+[key] (mapping get).
func (c *Cursor) Get(key string) (any, error) {
	return c.Child(key).Value()
}

// At returns the value at path+[i] (sequence get).
func (c *Cursor) At(i int) (any, error) {
	return c.Index(i).Value()
}

// Len returns len(value) for a mapping or sequence at this cursor.
func (c *Cursor) Len() (int, error) {
	v, err := c.Value()
	if err != nil {
		return 0, err
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t), nil
	case []any:
		return len(t), nil
	default:
		return 0, fmt.Errorf("value at cursor is not a mapping or sequence")
	}
}

// Set writes value at path+[key] (mapping set).
func (c *Cursor) Set(key string, value any) error {
	normalized, err := c.doc.validate(value)
	if err != nil {
		return err
	}
	full := append(append([]step{}, c.path...), key)
	return c.doc.loadAndSave(func() error {
		newData, err := setPath(c.doc.data, full[:len(full)-1], full[len(full)-1], normalized)
		if err != nil {
			return err
		}
		c.doc.data = newData
		return nil
	})
}

// Del removes key from the mapping at this cursor.
func (c *Cursor) Del(key string) error {
	full := append(append([]step{}, c.path...), key)
	return c.doc.loadAndSave(func() error {
		newData, err := deletePath(c.doc.data, full[:len(full)-1], full[len(full)-1])
		if err != nil {
			return err
		}
		c.doc.data = newData
		return nil
	})
}

// SetAt writes value at path+[i] (sequence set).
func (c *Cursor) SetAt(i int, value any) error {
	normalized, err := c.doc.validate(value)
	if err != nil {
		return err
	}
	full := append(append([]step{}, c.path...), i)
	return c.doc.loadAndSave(func() error {
		newData, err := setPath(c.doc.data, full[:len(full)-1], full[len(full)-1], normalized)
		if err != nil {
			return err
		}
		c.doc.data = newData
		return nil
	})
}

// Append adds value to the end of the sequence at this cursor.
func (c *Cursor) Append(value any) error {
	normalized, err := c.doc.validate(value)
	if err != nil {
		return err
	}
	return c.doc.loadAndSave(func() error {
		container, err := getPath(c.doc.data, c.path)
		if err != nil {
			return err
		}
		a, ok := container.([]any)
		if !ok {
			return fmt.Errorf("cursor does not address a sequence")
		}
		a = append(a, normalized)
		return c.replace(a)
	})
}

// Extend appends every element of values to the sequence.
func (c *Cursor) Extend(values []any) error {
	normalized := make([]any, len(values))
	for i, v := range values {
		nv, err := c.doc.validate(v)
		if err != nil {
			return err
		}
		normalized[i] = nv
	}
	return c.doc.loadAndSave(func() error {
		container, err := getPath(c.doc.data, c.path)
		if err != nil {
			return err
		}
		a, ok := container.([]any)
		if !ok {
			return fmt.Errorf("cursor does not address a sequence")
		}
		a = append(a, normalized...)
		return c.replace(a)
	})
}

// Insert inserts value at index i of the sequence.
func (c *Cursor) Insert(i int, value any) error {
	normalized, err := c.doc.validate(value)
	if err != nil {
		return err
	}
	return c.doc.loadAndSave(func() error {
		container, err := getPath(c.doc.data, c.path)
		if err != nil {
			return err
		}
		a, ok := container.([]any)
		if !ok {
			return fmt.Errorf("cursor does not address a sequence")
		}
		if i < 0 || i > len(a) {
			return fmt.Errorf("insert index %d out of range", i)
		}
		out := make([]any, 0, len(a)+1)
		out = append(out, a[:i]...)
		out = append(out, normalized)
		out = append(out, a[i:]...)
		return c.replace(out)
	})
}

// Reverse reverses the sequence at this cursor in place.
func (c *Cursor) Reverse() error {
	return c.doc.loadAndSave(func() error {
		container, err := getPath(c.doc.data, c.path)
		if err != nil {
			return err
		}
		a, ok := container.([]any)
		if !ok {
			return fmt.Errorf("cursor does not address a sequence")
		}
		out := make([]any, len(a))
		for i, v := range a {
			out[len(a)-1-i] = v
		}
		return c.replace(out)
	})
}

// Reset replaces the cursor's entire value with x after validation
// (spec "total replacement in place after validation").
func (c *Cursor) Reset(x any) error {
	normalized, err := c.doc.validate(x)
	if err != nil {
		return err
	}
	return c.doc.loadAndSave(func() error {
		return c.replace(normalized)
	})
}

// Call returns a detached deep-copy snapshot of the cursor's value
// (spec "return a detached plain mapping/sequence snapshot").
func (c *Cursor) Call() (any, error) {
	v, err := c.Value()
	if err != nil {
		return nil, err
	}
	return deepCopy(v), nil
}

// replace swaps the cursor's addressed value for newValue inside
// c.doc.data, assuming the caller already holds the document lock.
func (c *Cursor) replace(newValue any) error {
	if len(c.path) == 0 {
		c.doc.data = newValue
		return nil
	}
	newData, err := setPath(c.doc.data, c.path[:len(c.path)-1], c.path[len(c.path)-1], newValue)
	if err != nil {
		return err
	}
	c.doc.data = newData
	return nil
}
