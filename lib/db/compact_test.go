package db_test

import (
	"fmt"
	"testing"

	"github.com/spf13/afero"

	"github.com/aspendb/aspen/lib/db"
)

func TestCompactTo(t *testing.T) {
	src := newTestEngine(t, afero.NewMemMapFs())
	defer src.Close()

	// Churn the file: write, overwrite and delete so stale page versions
	// pile up in the source
	err := src.Update(func(tx *db.Tx) error {
		b, err := tx.CreateBucketIfNotExists("data")
		if err != nil {
			return err
		}
		for i := 0; i < 500; i++ {
			if err := b.Put([]byte(fmt.Sprintf("k%04d", i)), []byte(fmt.Sprintf("v%d", i))); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 500; i += 2 {
		key := []byte(fmt.Sprintf("k%04d", i))
		err := src.Update(func(tx *db.Tx) error {
			b, err := tx.Bucket("data")
			if err != nil {
				return err
			}
			return b.Delete(key)
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	dst, err := db.Open("compacted.aspen", &db.Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	if err := src.CompactTo(dst); err != nil {
		t.Fatal(err)
	}

	// The copy must hold exactly the live records
	err = dst.View(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		count := 0
		it := b.Cursor()
		for k, v, err := it.First(); k != nil; k, v, err = it.Next() {
			if err != nil {
				return err
			}
			count++
			var i int
			if _, err := fmt.Sscanf(string(k), "k%d", &i); err != nil {
				t.Fatalf("unexpected key %s", k)
			}
			if i%2 == 0 {
				t.Errorf("deleted key %s survived compaction", k)
			}
			if want := fmt.Sprintf("v%d", i); string(v) != want {
				t.Errorf("key %s: got %s, want %s", k, v, want)
			}
		}
		if count != 250 {
			t.Errorf("expected 250 live records, got %d", count)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	srcInfo, err := src.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	dstInfo, err := dst.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	if dstInfo.PageCount >= srcInfo.PageCount {
		t.Errorf("compaction did not shrink the file: src=%d pages, dst=%d pages",
			srcInfo.PageCount, dstInfo.PageCount)
	}
}

func TestCompactToEmptySource(t *testing.T) {
	src := newTestEngine(t, afero.NewMemMapFs())
	defer src.Close()

	dst, err := db.Open("compacted.aspen", &db.Options{Fs: afero.NewMemMapFs()})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	if err := src.CompactTo(dst); err != nil {
		t.Fatal(err)
	}

	info, err := dst.GetInfo()
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Buckets) != 0 {
		t.Errorf("expected no buckets, got %v", info.Buckets)
	}
}
