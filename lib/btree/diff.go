package btree

import (
	"bytes"

	"github.com/aspendb/aspen/lib/pager"
)

// Change describes one key that differs between two tree versions. Before
// is nil for an insert, After is nil for a delete.
type Change struct {
	Key    []byte
	Before []byte
	After  []byte
}

// Diff walks two committed versions of a tree in key order and calls fn for
// every differing key. Copy-on-write keeps unchanged subtrees on identical
// page ids, so leaves shared between both versions are skipped without
// reading their items.
//
// Both roots must still be readable: run the diff before the pages freed by
// the newer commit are released for reuse. Returning an error from fn stops
// the walk.
func Diff(pg *pager.Pager, prevRoot, currRoot pager.PageID, fn func(Change) error) error {
	if prevRoot == currRoot {
		return nil
	}

	prev := View(pg, prevRoot).Cursor()
	curr := View(pg, currRoot).Cursor()

	pk, pv, err := prev.First()
	if err != nil {
		return err
	}
	ck, cv, err := curr.First()
	if err != nil {
		return err
	}

	for pk != nil || ck != nil {
		// both cursors at the start of the same physical leaf: identical
		// content, skip it wholesale
		if pk != nil && ck != nil {
			pid, pFirst := prev.leafRef()
			cid, cFirst := curr.leafRef()
			if pFirst && cFirst && pid == cid {
				if pk, pv, err = prev.skipLeaf(); err != nil {
					return err
				}
				if ck, cv, err = curr.skipLeaf(); err != nil {
					return err
				}
				continue
			}
		}

		switch {
		case ck == nil || (pk != nil && bytes.Compare(pk, ck) < 0):
			if err := fn(Change{Key: pk, Before: pv}); err != nil {
				return err
			}
			if pk, pv, err = prev.Next(); err != nil {
				return err
			}

		case pk == nil || bytes.Compare(pk, ck) > 0:
			if err := fn(Change{Key: ck, After: cv}); err != nil {
				return err
			}
			if ck, cv, err = curr.Next(); err != nil {
				return err
			}

		default:
			if !bytes.Equal(pv, cv) {
				if err := fn(Change{Key: pk, Before: pv, After: cv}); err != nil {
					return err
				}
			}
			if pk, pv, err = prev.Next(); err != nil {
				return err
			}
			if ck, cv, err = curr.Next(); err != nil {
				return err
			}
		}
	}

	return nil
}
