// Package db implements the aspen storage engine: a single-file embedded
// database with multi-version concurrency control.
//
// One write transaction at a time builds the next version copy-on-write on
// top of the last committed one; any number of read transactions operate
// concurrently on committed snapshots without taking locks. A commit
// becomes visible atomically by publishing a new meta, and the pages it
// replaced are only reused once no reader pins an older version.
//
// Data is organized into named buckets (one copy-on-write tree each) that
// resolve through a catalog tree referenced by the meta. Committed changes
// are diffed against the previous version and handed to the watch
// dispatcher, so subscribers receive per-bucket change sets in commit
// order.
//
// Usage:
//
//	engine, err := db.Open("app.aspen", nil)
//	if err != nil { ... }
//	defer engine.Close()
//
//	err = engine.Update(func(tx *db.Tx) error {
//	    b, err := tx.CreateBucketIfNotExists("users")
//	    if err != nil {
//	        return err
//	    }
//	    return b.Put([]byte("u1"), []byte(`{"name":"ada"}`))
//	})
package db
