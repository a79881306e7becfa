package watch

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/sirupsen/logrus"

	"github.com/aspendb/aspen/lib/db/util"
)

// --------------------------------------------------------------------------
// Change sets
// --------------------------------------------------------------------------

// ChangeSet describes what one commit did to one bucket. The key slices are
// primary keys, already detached from any page buffer.
type ChangeSet struct {
	Bucket   string   `json:"bucket"`
	TxID     uint64   `json:"tx_id"`
	Inserted [][]byte `json:"inserted,omitempty"`
	Modified [][]byte `json:"modified,omitempty"`
	Deleted  [][]byte `json:"deleted,omitempty"`
}

// Empty reports whether the change set carries no changes
func (cs *ChangeSet) Empty() bool {
	return len(cs.Inserted) == 0 && len(cs.Modified) == 0 && len(cs.Deleted) == 0
}

// --------------------------------------------------------------------------
// Subscription
// --------------------------------------------------------------------------

// Subscription delivers the change sets of one bucket in commit order.
// Consume from Changes until it closes; a slow consumer queues change sets
// without ever blocking the committing writer.
type Subscription struct {
	id     uint64
	bucket string
	queue  *util.LockFreeMPSC[ChangeSet]
	out    chan ChangeSet
	closed atomic.Bool
}

// Bucket returns the watched bucket name
func (s *Subscription) Bucket() string {
	return s.bucket
}

// Changes returns the delivery channel. It closes after Unsubscribe once
// every queued change set has been drained.
func (s *Subscription) Changes() <-chan ChangeSet {
	return s.out
}

// deliver pumps the MPSC queue into the subscriber channel
func (s *Subscription) deliver() {
	defer close(s.out)
	for cs := range s.queue.Recv() {
		s.out <- *cs
	}
}

// --------------------------------------------------------------------------
// Dispatcher
// --------------------------------------------------------------------------

// Dispatcher fans committed change sets out to subscribers. Publishing is
// wait-free for the writer: each subscription has its own queue and
// delivery goroutine.
//
// Thread-safety: all methods are safe for concurrent use.
type Dispatcher struct {
	log logrus.FieldLogger

	// subs maps bucket name -> (subscription id -> subscription)
	subs   *xsync.MapOf[string, *xsync.MapOf[uint64, *Subscription]]
	seq    atomic.Uint64
	count  atomic.Int64
	closed atomic.Bool
}

func NewDispatcher(log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		log:  log.WithField("component", "watch"),
		subs: xsync.NewMapOf[string, *xsync.MapOf[uint64, *Subscription]](),
	}
}

// Subscribe registers a subscriber for one bucket
func (d *Dispatcher) Subscribe(bucket string) *Subscription {
	s := &Subscription{
		id:     d.seq.Add(1),
		bucket: bucket,
		queue:  util.NewLockFreeMPSC[ChangeSet](),
		out:    make(chan ChangeSet),
	}
	go s.deliver()

	perBucket, _ := d.subs.LoadOrCompute(bucket, func() *xsync.MapOf[uint64, *Subscription] {
		return xsync.NewMapOf[uint64, *Subscription]()
	})
	perBucket.Store(s.id, s)
	d.count.Add(1)

	d.log.WithField("bucket", bucket).Debug("subscriber added")
	return s
}

// Unsubscribe removes a subscriber. Its channel closes once the queued
// change sets are drained.
func (d *Dispatcher) Unsubscribe(s *Subscription) {
	if s == nil || s.closed.Swap(true) {
		return
	}
	if perBucket, ok := d.subs.Load(s.bucket); ok {
		perBucket.Delete(s.id)
	}
	d.count.Add(-1)
	s.queue.Close()
}

// HasSubscribers reports whether anyone watches the bucket
func (d *Dispatcher) HasSubscribers(bucket string) bool {
	perBucket, ok := d.subs.Load(bucket)
	return ok && perBucket.Size() > 0
}

// Empty reports whether no subscriptions exist at all
func (d *Dispatcher) Empty() bool {
	return d.count.Load() == 0
}

// Publish hands a change set to every subscriber of its bucket. Change
// sets must be published in commit order; per-subscription queues preserve
// that order.
func (d *Dispatcher) Publish(cs ChangeSet) {
	if d.closed.Load() || cs.Empty() {
		return
	}
	perBucket, ok := d.subs.Load(cs.Bucket)
	if !ok {
		return
	}
	perBucket.Range(func(_ uint64, s *Subscription) bool {
		s.queue.Push(&cs)
		return true
	})
}

// Close shuts every subscription down
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	d.subs.Range(func(_ string, perBucket *xsync.MapOf[uint64, *Subscription]) bool {
		perBucket.Range(func(_ uint64, s *Subscription) bool {
			d.Unsubscribe(s)
			return true
		})
		return true
	})
}
