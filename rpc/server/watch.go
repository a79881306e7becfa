package server

import (
	"sync"

	"github.com/aspendb/aspen/lib/object"
	"github.com/aspendb/aspen/lib/watch"
)

// changeLogCapacity bounds how many change sets a poll log retains. A
// client that polls slower than writers commit loses the oldest sets; the
// response's latest commit id lets it detect the gap and fall back to a
// full read.
const changeLogCapacity = 1024

// changeLog buffers committed change sets of one collection for polling
// clients. It feeds from a store subscription, so it only sees commits
// made after the first poll created it.
type changeLog struct {
	handle *object.WatchHandle

	mu   sync.Mutex
	sets []watch.ChangeSet
}

func newChangeLog(handle *object.WatchHandle) *changeLog {
	cl := &changeLog{handle: handle}
	go cl.run()
	return cl
}

// run drains the subscription into the bounded buffer
func (cl *changeLog) run() {
	for cs := range cl.handle.Changes() {
		cl.mu.Lock()
		cl.sets = append(cl.sets, cs)
		if len(cl.sets) > changeLogCapacity {
			cl.sets = cl.sets[len(cl.sets)-changeLogCapacity:]
		}
		cl.mu.Unlock()
	}
}

// since returns the buffered change sets committed after the given
// transaction id, in commit order
func (cl *changeLog) since(txid uint64) []watch.ChangeSet {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	var out []watch.ChangeSet
	for _, cs := range cl.sets {
		if cs.TxID > txid {
			out = append(out, cs)
		}
	}
	return out
}

func (cl *changeLog) close() {
	cl.handle.Close()
}
