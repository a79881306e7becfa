package btree

import (
	"bytes"
	"sort"
)

// WriteCursor iterates a write view in key order, including uncommitted
// changes. It shares the in-memory node cache of its WriteTree, so the tree
// must not be modified while a cursor is in use.
type WriteCursor struct {
	w     *WriteTree
	stack []elemRef
}

// Cursor returns a cursor over the uncommitted state of the write view
func (t *WriteTree) Cursor() *WriteCursor {
	return &WriteCursor{w: t}
}

// First positions the cursor at the smallest key
func (c *WriteCursor) First() ([]byte, []byte, error) {
	c.stack = c.stack[:0]
	if c.w.root == nil {
		return nil, nil, nil
	}
	if err := c.descendFirst(c.w.root); err != nil {
		return nil, nil, err
	}
	return c.skipEmptyForward()
}

// Seek positions the cursor at the first key >= key
func (c *WriteCursor) Seek(key []byte) ([]byte, []byte, error) {
	c.stack = c.stack[:0]
	if c.w.root == nil {
		return nil, nil, nil
	}

	n := c.w.root
	for !n.leaf {
		idx := branchIndex(n, key)
		c.stack = append(c.stack, elemRef{n: n, index: idx})
		child, err := c.w.loadChild(n, idx)
		if err != nil {
			return nil, nil, err
		}
		n = child
	}

	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i].key, key) >= 0
	})
	c.stack = append(c.stack, elemRef{n: n, index: idx})
	return c.skipEmptyForward()
}

// Next advances the cursor to the following key
func (c *WriteCursor) Next() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return nil, nil, nil
	}
	c.stack[len(c.stack)-1].index++
	return c.skipEmptyForward()
}

func (c *WriteCursor) descendFirst(n *node) error {
	for {
		c.stack = append(c.stack, elemRef{n: n})
		if n.leaf {
			return nil
		}
		child, err := c.w.loadChild(n, 0)
		if err != nil {
			return err
		}
		n = child
	}
}

func (c *WriteCursor) skipEmptyForward() ([]byte, []byte, error) {
	for {
		if len(c.stack) == 0 {
			return nil, nil, nil
		}
		ref := &c.stack[len(c.stack)-1]

		if ref.index >= len(ref.n.items) {
			c.stack = c.stack[:len(c.stack)-1]
			if len(c.stack) > 0 {
				c.stack[len(c.stack)-1].index++
			}
			continue
		}

		if ref.n.leaf {
			it := &ref.n.items[ref.index]
			if it.overflow != 0 {
				val, err := readOverflow(c.w.pg, it.overflow, it.vlen)
				if err != nil {
					return nil, nil, err
				}
				return it.key, val, nil
			}
			return it.key, it.val, nil
		}

		parent := ref.n
		idx := ref.index
		child, err := c.w.loadChild(parent, idx)
		if err != nil {
			return nil, nil, err
		}
		if err := c.descendFirst(child); err != nil {
			return nil, nil, err
		}
	}
}
