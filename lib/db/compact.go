package db

import (
	"github.com/pkg/errors"
)

// CompactTo copies the live contents of the database into dst, leaving all
// stale page versions and freelist slack behind. dst must be a freshly
// opened, empty engine; the copy runs as one write transaction, so a failed
// compaction leaves dst without a single committed change.
func (e *Engine) CompactTo(dst *Engine) error {
	return e.View(func(src *Tx) error {
		names, err := src.Buckets()
		if err != nil {
			return err
		}

		return dst.Update(func(out *Tx) error {
			for _, name := range names {
				from, err := src.Bucket(name)
				if err != nil {
					return err
				}
				to, err := out.CreateBucketIfNotExists(name)
				if err != nil {
					return err
				}

				it := from.Cursor()
				for k, v, err := it.First(); k != nil; k, v, err = it.Next() {
					if err != nil {
						return errors.Wrapf(err, "compact bucket %s", name)
					}
					if err := to.Put(k, v); err != nil {
						return errors.Wrapf(err, "compact bucket %s", name)
					}
				}
			}
			return nil
		})
	})
}
