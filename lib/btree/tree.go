package btree

import (
	"bytes"
	"sort"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/pager"
)

// --------------------------------------------------------------------------
// Read view
// --------------------------------------------------------------------------

// Tree is a read-only view of one committed tree version. It never modifies
// pages, so any number of Trees can read concurrently while a writer builds
// the next version.
//
// Thread-safety: a Tree itself holds no mutable state; all methods are safe
// for concurrent use.
type Tree struct {
	pg   *pager.Pager
	root pager.PageID
}

// View opens a read view of the tree rooted at root (0 = empty tree)
func View(pg *pager.Pager, root pager.PageID) *Tree {
	return &Tree{pg: pg, root: root}
}

// Root returns the root page id of the view
func (t *Tree) Root() pager.PageID {
	return t.root
}

// Get returns the value stored under key, or (nil, nil) if the key is absent
func (t *Tree) Get(key []byte) ([]byte, error) {
	if t.root == 0 {
		return nil, nil
	}

	n, err := t.readNode(t.root)
	if err != nil {
		return nil, err
	}

	for !n.leaf {
		idx := branchIndex(n, key)
		n, err = t.readNode(n.items[idx].child)
		if err != nil {
			return nil, err
		}
	}

	idx, exact := leafIndex(n, key)
	if !exact {
		return nil, nil
	}
	return t.itemValue(&n.items[idx])
}

// Cursor returns a cursor positioned before the first key
func (t *Tree) Cursor() *Cursor {
	return &Cursor{t: t}
}

func (t *Tree) readNode(pgid pager.PageID) (*node, error) {
	payload, err := t.pg.ReadPage(pgid)
	if err != nil {
		return nil, err
	}
	return decodeNode(pgid, payload)
}

// itemValue materializes a leaf item's value, following the overflow run if
// the value is not inline
func (t *Tree) itemValue(it *item) ([]byte, error) {
	if it.overflow == 0 {
		return it.val, nil
	}
	return readOverflow(t.pg, it.overflow, it.vlen)
}

// --------------------------------------------------------------------------
// Write view
// --------------------------------------------------------------------------

// WriteTree builds the next tree version on top of a committed root using
// copy-on-write: every modified node is rewritten to a fresh page on Commit
// and the replaced pages are reported back for deferred freeing.
//
// Thread-safety: a WriteTree belongs to a single writer and is NOT safe for
// concurrent use.
type WriteTree struct {
	pg        *pager.Pager
	root      *node
	freed     []pager.PageID
	allocated []pager.PageID
}

// Write opens a write view on top of the committed root (0 = empty tree)
func Write(pg *pager.Pager, root pager.PageID) (*WriteTree, error) {
	t := &WriteTree{pg: pg}
	if root != 0 {
		n, err := readNode(pg, root)
		if err != nil {
			return nil, err
		}
		t.root = n
	}
	return t, nil
}

// Get reads through the uncommitted state of the write view
func (t *WriteTree) Get(key []byte) ([]byte, error) {
	if t.root == nil {
		return nil, nil
	}

	n := t.root
	for !n.leaf {
		idx := branchIndex(n, key)
		child, err := t.loadChild(n, idx)
		if err != nil {
			return nil, err
		}
		n = child
	}

	idx, exact := leafIndex(n, key)
	if !exact {
		return nil, nil
	}
	it := &n.items[idx]
	if it.overflow == 0 {
		return it.val, nil
	}
	return readOverflow(t.pg, it.overflow, it.vlen)
}

// Put inserts or replaces key with value
func (t *WriteTree) Put(key, value []byte) error {
	if len(key) == 0 {
		return errors.New("empty key")
	}

	it := item{key: append([]byte(nil), key...)}
	if len(value) > maxInlineValue {
		head, err := t.writeOverflow(value)
		if err != nil {
			return err
		}
		it.overflow = head
		it.vlen = uint64(len(value))
	} else {
		// non-nil even for empty values, nil means absent to callers
		it.val = append([]byte{}, value...)
	}

	if t.root == nil {
		t.root = &node{leaf: true, dirty: true, items: []item{it}}
		return nil
	}

	sib, err := t.put(t.root, it)
	if err != nil {
		return err
	}
	if sib != nil {
		// root split: lift both halves under a new branch root
		old := t.root
		t.root = &node{
			dirty: true,
			items: []item{
				{key: old.firstKey(), node: old, child: old.pgid},
				{key: sib.firstKey(), node: sib},
			},
		}
	}
	return nil
}

// put inserts it into the subtree rooted at n and returns a new right
// sibling when n had to split
func (t *WriteTree) put(n *node, it item) (*node, error) {
	n.dirty = true

	if n.leaf {
		idx, exact := leafIndex(n, it.key)
		if exact {
			if old := &n.items[idx]; old.overflow != 0 {
				t.freeOverflow(old.overflow, old.vlen)
			}
			n.items[idx] = it
		} else {
			n.items = append(n.items, item{})
			copy(n.items[idx+1:], n.items[idx:])
			n.items[idx] = it
		}
		return t.maybeSplit(n), nil
	}

	idx := branchIndex(n, it.key)
	child, err := t.loadChild(n, idx)
	if err != nil {
		return nil, err
	}

	sib, err := t.put(child, it)
	if err != nil {
		return nil, err
	}
	n.items[idx].key = child.firstKey()

	if sib != nil {
		sep := item{key: sib.firstKey(), node: sib}
		n.items = append(n.items, item{})
		copy(n.items[idx+2:], n.items[idx+1:])
		n.items[idx+1] = sep
	}
	return t.maybeSplit(n), nil
}

// maybeSplit splits n in half when its serialized form no longer fits a
// page, returning the new right sibling
func (t *WriteTree) maybeSplit(n *node) *node {
	if n.size() <= pager.PayloadSize || len(n.items) < 2 {
		return nil
	}

	mid := len(n.items) / 2
	sib := &node{leaf: n.leaf, dirty: true}
	sib.items = append(sib.items, n.items[mid:]...)
	n.items = n.items[:mid]

	return sib
}

// Delete removes key. Removing an absent key is not an error; the bool
// reports whether anything was removed.
func (t *WriteTree) Delete(key []byte) (bool, error) {
	if t.root == nil {
		return false, nil
	}

	removed, err := t.del(t.root, key)
	if err != nil || !removed {
		return removed, err
	}

	// collapse trivial roots
	for {
		if t.root.leaf {
			if len(t.root.items) == 0 {
				t.freeNode(t.root)
				t.root = nil
			}
			break
		}
		if len(t.root.items) > 1 {
			break
		}
		child, err := t.loadChild(t.root, 0)
		if err != nil {
			return false, err
		}
		t.freeNode(t.root)
		child.dirty = true
		t.root = child
	}
	return true, nil
}

func (t *WriteTree) del(n *node, key []byte) (bool, error) {
	if n.leaf {
		idx, exact := leafIndex(n, key)
		if !exact {
			return false, nil
		}
		n.dirty = true
		if it := &n.items[idx]; it.overflow != 0 {
			t.freeOverflow(it.overflow, it.vlen)
		}
		n.items = append(n.items[:idx], n.items[idx+1:]...)
		return true, nil
	}

	idx := branchIndex(n, key)
	child, err := t.loadChild(n, idx)
	if err != nil {
		return false, err
	}

	removed, err := t.del(child, key)
	if err != nil || !removed {
		return removed, err
	}
	n.dirty = true

	if len(child.items) == 0 {
		t.freeNode(child)
		n.items = append(n.items[:idx], n.items[idx+1:]...)
		return true, nil
	}
	n.items[idx].key = child.firstKey()

	if child.size() < mergeThreshold {
		if err := t.maybeMerge(n, idx); err != nil {
			return false, err
		}
	}
	return true, nil
}

// maybeMerge folds the child at idx into its left or right sibling when the
// combined node still fits a page
func (t *WriteTree) maybeMerge(n *node, idx int) error {
	child := n.items[idx].node

	// prefer absorbing the right sibling
	if idx+1 < len(n.items) {
		right, err := t.loadChild(n, idx+1)
		if err != nil {
			return err
		}
		if child.size()+right.size()-nodeHeaderSize <= pager.PayloadSize {
			child.items = append(child.items, right.items...)
			child.dirty = true
			t.freeNode(right)
			n.items = append(n.items[:idx+1], n.items[idx+2:]...)
			return nil
		}
	}

	if idx > 0 {
		left, err := t.loadChild(n, idx-1)
		if err != nil {
			return err
		}
		if left.size()+child.size()-nodeHeaderSize <= pager.PayloadSize {
			left.items = append(left.items, child.items...)
			left.dirty = true
			t.freeNode(child)
			n.items = append(n.items[:idx], n.items[idx+1:]...)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Commit / rollback
// --------------------------------------------------------------------------

// Commit writes all modified nodes to freshly allocated pages and returns
// the new root page id together with the page ids this version replaced.
// The caller is responsible for committing the pager meta and for scheduling
// the freed pages.
func (t *WriteTree) Commit() (pager.PageID, []pager.PageID, error) {
	if t.root == nil {
		return 0, t.freed, nil
	}
	root, err := t.spill(t.root)
	if err != nil {
		return 0, nil, err
	}
	return root, t.freed, nil
}

// spill writes n (and its dirty descendants, bottom-up) and returns its
// final page id
func (t *WriteTree) spill(n *node) (pager.PageID, error) {
	if !n.leaf {
		for i := range n.items {
			if n.items[i].node == nil {
				continue
			}
			pgid, err := t.spill(n.items[i].node)
			if err != nil {
				return 0, err
			}
			n.items[i].child = pgid
		}
	}

	if !n.dirty {
		return n.pgid, nil
	}

	if n.pgid != 0 {
		t.freed = append(t.freed, n.pgid)
	}
	pgid, err := t.pg.Allocate(1)
	if err != nil {
		return 0, err
	}
	t.allocated = append(t.allocated, pgid)

	payload, err := n.encode()
	if err != nil {
		return 0, err
	}
	if err := t.pg.WritePage(pgid, payload); err != nil {
		return 0, err
	}

	n.pgid = pgid
	n.dirty = false
	return pgid, nil
}

// Allocated returns every page id this write view allocated (overflow runs
// and spilled nodes). A rolled-back transaction hands them back to the pager
// for immediate reuse.
func (t *WriteTree) Allocated() []pager.PageID {
	return t.allocated
}

func (t *WriteTree) loadChild(n *node, idx int) (*node, error) {
	it := &n.items[idx]
	if it.node != nil {
		return it.node, nil
	}
	child, err := readNode(t.pg, it.child)
	if err != nil {
		return nil, err
	}
	it.node = child
	return child, nil
}

func (t *WriteTree) freeNode(n *node) {
	if n.pgid != 0 {
		t.freed = append(t.freed, n.pgid)
	}
}

func (t *WriteTree) freeOverflow(head pager.PageID, vlen uint64) {
	for i := 0; i < overflowPagesFor(vlen); i++ {
		t.freed = append(t.freed, head+pager.PageID(i))
	}
}

// writeOverflow stores value in a contiguous page run and returns its head
func (t *WriteTree) writeOverflow(value []byte) (pager.PageID, error) {
	count := overflowPagesFor(uint64(len(value)))
	head, err := t.pg.Allocate(count)
	if err != nil {
		return 0, err
	}
	for i := 0; i < count; i++ {
		t.allocated = append(t.allocated, head+pager.PageID(i))

		lo := i * pager.PayloadSize
		hi := lo + pager.PayloadSize
		if hi > len(value) {
			hi = len(value)
		}
		if err := t.pg.WritePage(head+pager.PageID(i), value[lo:hi]); err != nil {
			return 0, err
		}
	}
	return head, nil
}

// --------------------------------------------------------------------------
// Shared helpers
// --------------------------------------------------------------------------

func readNode(pg *pager.Pager, pgid pager.PageID) (*node, error) {
	payload, err := pg.ReadPage(pgid)
	if err != nil {
		return nil, err
	}
	return decodeNode(pgid, payload)
}

// readOverflow reassembles a value of vlen bytes from the run at head
func readOverflow(pg *pager.Pager, head pager.PageID, vlen uint64) ([]byte, error) {
	out := make([]byte, 0, vlen)
	for i := 0; i < overflowPagesFor(vlen); i++ {
		payload, err := pg.ReadPage(head + pager.PageID(i))
		if err != nil {
			return nil, err
		}
		need := int(vlen) - len(out)
		if need > pager.PayloadSize {
			need = pager.PayloadSize
		}
		out = append(out, payload[:need]...)
	}
	return out, nil
}

func overflowPagesFor(vlen uint64) int {
	return int((vlen + pager.PayloadSize - 1) / pager.PayloadSize)
}

// branchIndex returns the child slot whose subtree may contain key: the
// greatest i with items[i].key <= key, clamped to 0
func branchIndex(n *node, key []byte) int {
	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i].key, key) > 0
	}) - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// leafIndex returns the insert position for key and whether it is already
// present
func leafIndex(n *node, key []byte) (int, bool) {
	idx := sort.Search(len(n.items), func(i int) bool {
		return bytes.Compare(n.items[i].key, key) >= 0
	})
	exact := idx < len(n.items) && bytes.Equal(n.items[idx].key, key)
	return idx, exact
}
