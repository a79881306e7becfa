package db

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/aspendb/aspen/lib/btree"
	"github.com/aspendb/aspen/lib/lockmgr"
	"github.com/aspendb/aspen/lib/pager"
	"github.com/aspendb/aspen/lib/watch"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

var (
	metricCommits    = metrics.GetOrCreateCounter(`aspen_commits_total`)
	metricRollbacks  = metrics.GetOrCreateCounter(`aspen_rollbacks_total`)
	metricReadTxs    = metrics.GetOrCreateCounter(`aspen_read_txs_total`)
	metricPagesFreed = metrics.GetOrCreateCounter(`aspen_pages_freed_total`)
)

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// Options configures an Engine. The zero value opens a read-write database
// on the OS filesystem with an unbounded writer lock wait.
type Options struct {
	// Fs is the backing filesystem, defaults to afero.NewOsFs()
	Fs afero.Fs

	// ReadOnly opens the file without taking the process file lock and
	// rejects write transactions
	ReadOnly bool

	// WriteTimeout bounds how long Update waits for the writer lock
	// (0 = wait forever)
	WriteTimeout time.Duration

	// Logger receives engine log output, defaults to the standard logger
	Logger logrus.FieldLogger
}

func (o *Options) withDefaults() Options {
	out := Options{}
	if o != nil {
		out = *o
	}
	if out.Fs == nil {
		out.Fs = afero.NewOsFs()
	}
	if out.Logger == nil {
		out.Logger = logrus.StandardLogger()
	}
	return out
}

// --------------------------------------------------------------------------
// Engine
// --------------------------------------------------------------------------

// Engine is a single-file MVCC storage engine. One writer at a time builds
// the next version while any number of readers operate on committed
// snapshots without locks.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Engine struct {
	path  string
	opts  Options
	log   logrus.FieldLogger
	pg    *pager.Pager
	locks lockmgr.ILockManager
	disp  *watch.Dispatcher

	meta atomic.Pointer[pager.Meta]

	// readers maps reader id -> pinned txid so the pager learns the
	// minimum version still in use
	readers   *xsync.MapOf[uint64, uint64]
	readerSeq atomic.Uint64

	closeMu sync.Mutex
	closed  atomic.Bool
}

// Open opens (or creates) the database file at path
func Open(path string, opts *Options) (*Engine, error) {
	o := opts.withDefaults()

	e := &Engine{
		path:    path,
		opts:    o,
		log:     o.Logger.WithField("component", "engine").WithField("path", path),
		locks:   lockmgr.NewLockManager(o.Fs, path),
		readers: xsync.NewMapOf[uint64, uint64](),
	}

	if !o.ReadOnly {
		if err := e.locks.AcquireFile(); err != nil {
			return nil, err
		}
	}

	pg, err := pager.Open(path, &pager.Options{Fs: o.Fs, ReadOnly: o.ReadOnly})
	if err != nil {
		if !o.ReadOnly {
			_ = e.locks.ReleaseFile()
		}
		return nil, err
	}
	e.pg = pg

	m := pg.Meta()
	e.meta.Store(&m)
	e.disp = watch.NewDispatcher(o.Logger)

	e.log.WithFields(logrus.Fields{
		"txid":  m.TxID,
		"pages": m.PageCount,
	}).Debug("database opened")
	return e, nil
}

// Close shuts the engine down. In-flight transactions must be finished
// first; Close does not wait for them.
func (e *Engine) Close() error {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()

	if e.closed.Swap(true) {
		return nil
	}

	e.disp.Close()

	err := e.pg.Close()
	if !e.opts.ReadOnly {
		if rerr := e.locks.ReleaseFile(); err == nil {
			err = rerr
		}
	}
	return err
}

// Path returns the database file path
func (e *Engine) Path() string {
	return e.path
}

// TxID returns the id of the most recently committed transaction
func (e *Engine) TxID() uint64 {
	return e.meta.Load().TxID
}

// SupportsFeature checks if the engine supports the specified feature.
// Multiple features can be checked at once using bitwise OR.
func (e *Engine) SupportsFeature(feature Feature) bool {
	supported := FeatureGet | FeaturePut | FeatureDelete | FeatureCursor |
		FeatureWatch | FeatureBackup | FeatureRestore | FeatureCompact
	if e.opts.ReadOnly {
		supported &^= FeaturePut | FeatureDelete | FeatureRestore | FeatureCompact
	}
	return supported&feature == feature
}

// Watch subscribes to committed changes of one bucket
func (e *Engine) Watch(bucket string) (*watch.Subscription, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	return e.disp.Subscribe(bucket), nil
}

// Unwatch cancels a subscription
func (e *Engine) Unwatch(s *watch.Subscription) {
	e.disp.Unsubscribe(s)
}

// --------------------------------------------------------------------------
// Transactions
// --------------------------------------------------------------------------

// View runs fn in a read transaction pinned to the current snapshot
func (e *Engine) View(fn func(*Tx) error) error {
	tx, err := e.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	return fn(tx)
}

// Update runs fn in the write transaction. A non-nil error from fn rolls
// everything back, otherwise the transaction commits.
func (e *Engine) Update(fn func(*Tx) error) error {
	tx, err := e.Begin(true)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Begin starts a transaction. Writable transactions take the writer lock
// and must be finished with Commit or Rollback; read transactions must be
// finished with Rollback so their snapshot pin is dropped.
func (e *Engine) Begin(writable bool) (*Tx, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	if writable {
		if e.opts.ReadOnly {
			return nil, ErrReadOnlyTx
		}
		token, err := e.locks.AcquireWrite(e.opts.WriteTimeout)
		if err != nil {
			return nil, err
		}
		m := *e.meta.Load()
		cat, err := btree.Write(e.pg, m.Root)
		if err != nil {
			_ = e.locks.ReleaseWrite(token)
			return nil, err
		}
		return &Tx{e: e, meta: m, writable: true, token: token, catalogW: cat}, nil
	}

	metricReadTxs.Inc()
	id := e.readerSeq.Add(1)

	// The pin must be visible before the snapshot is trusted: a commit
	// landing between loading the meta and storing the pin would compute
	// its release floor without this reader and hand the snapshot's
	// replaced pages back to the allocator. Store the pin first, then
	// re-check that the meta did not move; adopt the newer version if it
	// did.
	m := *e.meta.Load()
	for {
		e.readers.Store(id, m.TxID)
		curr := *e.meta.Load()
		if curr.TxID == m.TxID {
			break
		}
		m = curr
	}

	return &Tx{e: e, meta: m, readerID: id, catalogR: btree.View(e.pg, m.Root)}, nil
}

// releasePages tells the pager which freed page batches no reader can still
// reference
func (e *Engine) releasePages() {
	min := e.meta.Load().TxID
	e.readers.Range(func(_ uint64, pinned uint64) bool {
		if pinned < min {
			min = pinned
		}
		return true
	})
	e.pg.Release(min)
}

// publish installs the new committed meta and hands per-bucket diffs to the
// dispatcher. Runs on the writer goroutine before the replaced pages become
// reusable, so both roots are still readable.
func (e *Engine) publish(prev, curr pager.Meta) {
	e.meta.Store(&curr)
	metricCommits.Inc()

	if e.disp.Empty() || prev.Root == curr.Root {
		return
	}

	// the catalog diff narrows the work down to buckets whose root moved
	err := btree.Diff(e.pg, prev.Root, curr.Root, func(ch btree.Change) error {
		bucket := string(ch.Key)
		if !e.disp.HasSubscribers(bucket) {
			return nil
		}

		cs := watch.ChangeSet{Bucket: bucket, TxID: curr.TxID}
		err := btree.Diff(e.pg, decodeRoot(ch.Before), decodeRoot(ch.After), func(c btree.Change) error {
			switch {
			case c.Before == nil:
				cs.Inserted = append(cs.Inserted, c.Key)
			case c.After == nil:
				cs.Deleted = append(cs.Deleted, c.Key)
			default:
				cs.Modified = append(cs.Modified, c.Key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.disp.Publish(cs)
		return nil
	})
	if err != nil {
		e.log.WithError(err).Error("change notification diff failed")
	}
}
