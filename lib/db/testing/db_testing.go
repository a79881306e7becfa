package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/aspendb/aspen/lib/db"
)

// EngineFactory is a function that creates a fresh engine instance
type EngineFactory func() *db.Engine

// RunEngineTests runs a comprehensive test suite against an engine
// implementation.
func RunEngineTests(t *testing.T, name string, factory EngineFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Has", func(t *testing.T) {
			testHas(t, factory())
		})

		t.Run("Buckets", func(t *testing.T) {
			testBuckets(t, factory())
		})

		t.Run("Cursor", func(t *testing.T) {
			testCursor(t, factory())
		})

		t.Run("Rollback", func(t *testing.T) {
			testRollback(t, factory())
		})

		t.Run("SnapshotIsolation", func(t *testing.T) {
			testSnapshotIsolation(t, factory())
		})

		t.Run("ConcurrentReaders", func(t *testing.T) {
			testConcurrentReaders(t, factory())
		})

		t.Run("ReadYourWrites", func(t *testing.T) {
			testReadYourWrites(t, factory())
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test when the engine does not support feature
func requireFeature(t testing.TB, e *db.Engine, feature db.Feature) {
	if !e.SupportsFeature(feature) {
		t.Skip()
	}
}

func mustPut(t testing.TB, e *db.Engine, bucket, key, value string) {
	t.Helper()
	err := e.Update(func(tx *db.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), []byte(value))
	})
	if err != nil {
		t.Fatalf("put %s/%s: %v", bucket, key, err)
	}
}

func get(e *db.Engine, bucket, key string) ([]byte, error) {
	var out []byte
	err := e.View(func(tx *db.Tx) error {
		b, err := tx.Bucket(bucket)
		if err != nil {
			return err
		}
		v, err := b.Get([]byte(key))
		if err != nil {
			return err
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, e *db.Engine) {
	defer e.Close()

	requireFeature(t, e, db.FeaturePut)
	requireFeature(t, e, db.FeatureGet)

	mustPut(t, e, "data", "test-key", "test-value1")

	v, err := get(e, "data", "test-key")
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if !bytes.Equal(v, []byte("test-value1")) {
		t.Errorf("expected test-value1, got %s", v)
	}

	mustPut(t, e, "data", "test-key", "test-value2")
	v, _ = get(e, "data", "test-key")
	if !bytes.Equal(v, []byte("test-value2")) {
		t.Errorf("expected overwrite to test-value2, got %s", v)
	}

	if _, err := get(e, "data", "nonexistent-key"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing key, got %v", err)
	}
}

func testDelete(t *testing.T, e *db.Engine) {
	defer e.Close()

	requireFeature(t, e, db.FeatureDelete)

	mustPut(t, e, "data", "doomed", "value")

	err := e.Update(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		return b.Delete([]byte("doomed"))
	})
	if err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := get(e, "data", "doomed"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	// deleting an absent key is not an error
	err = e.Update(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		return b.Delete([]byte("never-existed"))
	})
	if err != nil {
		t.Errorf("delete of absent key: %v", err)
	}
}

func testHas(t *testing.T, e *db.Engine) {
	defer e.Close()

	mustPut(t, e, "data", "present", "x")

	err := e.View(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		if ok, err := b.Has([]byte("present")); err != nil || !ok {
			t.Errorf("Has(present) = %v, %v", ok, err)
		}
		if ok, err := b.Has([]byte("absent")); err != nil || ok {
			t.Errorf("Has(absent) = %v, %v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testBuckets(t *testing.T, e *db.Engine) {
	defer e.Close()

	mustPut(t, e, "alpha", "k", "v")
	mustPut(t, e, "beta", "k", "v")
	mustPut(t, e, "gamma", "k", "v")

	err := e.View(func(tx *db.Tx) error {
		names, err := tx.Buckets()
		if err != nil {
			return err
		}
		want := []string{"alpha", "beta", "gamma"}
		if len(names) != len(want) {
			t.Fatalf("buckets: got %v, want %v", names, want)
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("bucket %d: got %s, want %s", i, names[i], want[i])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.Update(func(tx *db.Tx) error {
		return tx.DeleteBucket("beta")
	})
	if err != nil {
		t.Fatalf("delete bucket: %v", err)
	}

	err = e.View(func(tx *db.Tx) error {
		if _, err := tx.Bucket("beta"); !errors.Is(err, db.ErrBucketNotFound) {
			t.Errorf("expected ErrBucketNotFound after drop, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testCursor(t *testing.T, e *db.Engine) {
	defer e.Close()

	requireFeature(t, e, db.FeatureCursor)

	err := e.Update(func(tx *db.Tx) error {
		b, err := tx.CreateBucketIfNotExists("data")
		if err != nil {
			return err
		}
		for i := 0; i < 100; i++ {
			if err := b.Put([]byte(fmt.Sprintf("k%03d", i)), []byte("v")); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	err = e.View(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}

		it := b.Cursor()
		i := 0
		for k, _, err := it.First(); k != nil; k, _, err = it.Next() {
			if err != nil {
				return err
			}
			if want := fmt.Sprintf("k%03d", i); string(k) != want {
				t.Fatalf("position %d: got %s, want %s", i, k, want)
			}
			i++
		}
		if i != 100 {
			t.Errorf("iterated %d keys, want 100", i)
		}

		k, _, err := it.Seek([]byte("k050"))
		if err != nil {
			return err
		}
		if string(k) != "k050" {
			t.Errorf("seek: got %s, want k050", k)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testRollback(t *testing.T, e *db.Engine) {
	defer e.Close()

	mustPut(t, e, "data", "stable", "before")

	wantErr := errors.New("abort")
	err := e.Update(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		if err := b.Put([]byte("stable"), []byte("dirty")); err != nil {
			return err
		}
		if err := b.Put([]byte("extra"), []byte("dirty")); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected abort error back, got %v", err)
	}

	v, err := get(e, "data", "stable")
	if err != nil || !bytes.Equal(v, []byte("before")) {
		t.Errorf("rolled-back write leaked: %s, %v", v, err)
	}
	if _, err := get(e, "data", "extra"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("rolled-back insert leaked: %v", err)
	}
}

func testSnapshotIsolation(t *testing.T, e *db.Engine) {
	defer e.Close()

	mustPut(t, e, "data", "k", "v1")

	tx, err := e.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()

	mustPut(t, e, "data", "k", "v2")

	// the pinned reader still sees the old version
	b, err := tx.Bucket("data")
	if err != nil {
		t.Fatal(err)
	}
	v, err := b.Get([]byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(v, []byte("v1")) {
		t.Errorf("pinned snapshot changed under the reader: got %s", v)
	}

	v, err = get(e, "data", "k")
	if err != nil || !bytes.Equal(v, []byte("v2")) {
		t.Errorf("new snapshot: got %s, %v", v, err)
	}
}

func testConcurrentReaders(t *testing.T, e *db.Engine) {
	defer e.Close()

	for i := 0; i < 50; i++ {
		mustPut(t, e, "data", fmt.Sprintf("k%d", i), fmt.Sprintf("v%d", i))
	}

	stop := make(chan struct{})
	writerDone := make(chan struct{})

	// the writer keeps committing while readers verify their snapshots
	go func() {
		defer close(writerDone)
		i := 0
		for {
			select {
			case <-stop:
				return
			default:
			}
			mustPut(t, e, "data", fmt.Sprintf("k%d", i%50), fmt.Sprintf("w%d", i))
			i++
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 200; i++ {
				err := e.View(func(tx *db.Tx) error {
					b, err := tx.Bucket("data")
					if err != nil {
						return err
					}
					for j := 0; j < 50; j++ {
						if _, err := b.Get([]byte(fmt.Sprintf("k%d", j))); err != nil {
							return err
						}
					}
					return nil
				})
				if err != nil {
					t.Errorf("reader: %v", err)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}

func testReadYourWrites(t *testing.T, e *db.Engine) {
	defer e.Close()

	err := e.Update(func(tx *db.Tx) error {
		b, err := tx.CreateBucketIfNotExists("data")
		if err != nil {
			return err
		}
		if err := b.Put([]byte("k"), []byte("uncommitted")); err != nil {
			return err
		}

		v, err := b.Get([]byte("k"))
		if err != nil {
			return err
		}
		if !bytes.Equal(v, []byte("uncommitted")) {
			t.Errorf("write tx does not see its own write: %s", v)
		}

		if err := b.Delete([]byte("k")); err != nil {
			return err
		}
		if _, err := b.Get([]byte("k")); !errors.Is(err, db.ErrNotFound) {
			t.Errorf("write tx does not see its own delete: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func testEdgeCases(t *testing.T, e *db.Engine) {
	defer e.Close()

	// empty value
	mustPut(t, e, "data", "empty", "")
	v, err := get(e, "data", "empty")
	if err != nil {
		t.Errorf("empty value: %v", err)
	}
	if len(v) != 0 {
		t.Errorf("empty value came back as %q", v)
	}

	// binary keys and values survive intact
	binKey := []byte{0x00, 0xFF, 0x10, 0x80}
	binVal := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00}
	err = e.Update(func(tx *db.Tx) error {
		b, err := tx.CreateBucketIfNotExists("data")
		if err != nil {
			return err
		}
		return b.Put(binKey, binVal)
	})
	if err != nil {
		t.Fatal(err)
	}
	err = e.View(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		got, err := b.Get(binKey)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, binVal) {
			t.Errorf("binary roundtrip: got %x", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// writes in a read tx are rejected
	err = e.View(func(tx *db.Tx) error {
		b, err := tx.Bucket("data")
		if err != nil {
			return err
		}
		return b.Put([]byte("nope"), []byte("nope"))
	})
	if !errors.Is(err, db.ErrReadOnlyTx) {
		t.Errorf("expected ErrReadOnlyTx, got %v", err)
	}

	// a finished tx rejects further use
	tx, err := e.Begin(false)
	if err != nil {
		t.Fatal(err)
	}
	tx.Rollback()
	if _, err := tx.Bucket("data"); !errors.Is(err, db.ErrTxClosed) {
		t.Errorf("expected ErrTxClosed, got %v", err)
	}
}
