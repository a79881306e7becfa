package btree

import (
	"github.com/aspendb/aspen/lib/pager"
)

// Pages collects every page id reachable from root: branch and leaf nodes
// plus overflow runs. Dropping a whole tree frees exactly this set.
func Pages(pg *pager.Pager, root pager.PageID) ([]pager.PageID, error) {
	if root == 0 {
		return nil, nil
	}

	var ids []pager.PageID
	var walk func(pgid pager.PageID) error
	walk = func(pgid pager.PageID) error {
		ids = append(ids, pgid)

		n, err := readNode(pg, pgid)
		if err != nil {
			return err
		}
		for i := range n.items {
			it := &n.items[i]
			if n.leaf {
				if it.overflow != 0 {
					for j := 0; j < overflowPagesFor(it.vlen); j++ {
						ids = append(ids, it.overflow+pager.PageID(j))
					}
				}
			} else if err := walk(it.child); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return ids, nil
}
