package btree

import (
	"bytes"
	"sort"

	"github.com/aspendb/aspen/lib/pager"
)

// elemRef points at one item of one node on the cursor's descent path
type elemRef struct {
	n     *node
	index int
}

// Cursor iterates a read view in key order. A cursor is exhausted when a
// positioning method returns a nil key.
//
// Thread-safety: a Cursor is NOT safe for concurrent use; open one cursor
// per goroutine.
type Cursor struct {
	t     *Tree
	stack []elemRef
}

// First positions the cursor at the smallest key
func (c *Cursor) First() ([]byte, []byte, error) {
	c.stack = c.stack[:0]
	if c.t.root == 0 {
		return nil, nil, nil
	}

	n, err := c.t.readNode(c.t.root)
	if err != nil {
		return nil, nil, err
	}
	if err := c.descendFirst(n); err != nil {
		return nil, nil, err
	}
	return c.skipEmptyForward()
}

// Seek positions the cursor at the first key >= key
func (c *Cursor) Seek(key []byte) ([]byte, []byte, error) {
	c.stack = c.stack[:0]
	if c.t.root == 0 {
		return nil, nil, nil
	}

	n, err := c.t.readNode(c.t.root)
	if err != nil {
		return nil, nil, err
	}
	for !n.leaf {
		idx := branchIndex(n, key)
		c.stack = append(c.stack, elemRef{n: n, index: idx})
		n, err = c.t.readNode(n.items[idx].child)
		if err != nil {
			return nil, nil, err
		}
	}

	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i].key, key) >= 0
	})
	c.stack = append(c.stack, elemRef{n: n, index: idx})
	return c.skipEmptyForward()
}

// Next advances the cursor to the following key
func (c *Cursor) Next() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return nil, nil, nil
	}
	c.stack[len(c.stack)-1].index++
	return c.skipEmptyForward()
}

// descendFirst pushes the leftmost path under n onto the stack
func (c *Cursor) descendFirst(n *node) error {
	for {
		c.stack = append(c.stack, elemRef{n: n})
		if n.leaf {
			return nil
		}
		child, err := c.t.readNode(n.items[0].child)
		if err != nil {
			return err
		}
		n = child
	}
}

// skipEmptyForward resolves the current stack position to the next existing
// leaf item, popping exhausted nodes and descending into following subtrees
func (c *Cursor) skipEmptyForward() ([]byte, []byte, error) {
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
			return c.current()
		}

		child, err := c.t.readNode(ref.n.items[ref.index].child)
		if err != nil {
			return nil, nil, err
		}
		if err := c.descendFirst(child); err != nil {
			return nil, nil, err
		}
	}
}

func (c *Cursor) current() ([]byte, []byte, error) {
	ref := &c.stack[len(c.stack)-1]
	it := &ref.n.items[ref.index]

	val, err := c.t.itemValue(it)
	if err != nil {
		return nil, nil, err
	}
	return it.key, val, nil
}

// leafRef returns the page id of the leaf the cursor sits in and whether it
// sits on the leaf's first item. Diff uses this to skip leaves shared
// between two versions.
func (c *Cursor) leafRef() (pager.PageID, bool) {
	if len(c.stack) == 0 {
		return 0, false
	}
	ref := &c.stack[len(c.stack)-1]
	return ref.n.pgid, ref.index == 0
}

// skipLeaf advances past every remaining item of the current leaf
func (c *Cursor) skipLeaf() ([]byte, []byte, error) {
	if len(c.stack) == 0 {
		return nil, nil, nil
	}
	ref := &c.stack[len(c.stack)-1]
	ref.index = len(ref.n.items)
	return c.skipEmptyForward()
}
