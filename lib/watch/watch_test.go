package watch

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func newTestDispatcher() *Dispatcher {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewDispatcher(log)
}

func recvTimeout(t *testing.T, ch <-chan ChangeSet) ChangeSet {
	t.Helper()
	select {
	case cs, ok := <-ch:
		if !ok {
			t.Fatal("channel closed unexpectedly")
		}
		return cs
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change set")
		return ChangeSet{}
	}
}

func TestPublishReachesSubscriber(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	s := d.Subscribe("users")
	d.Publish(ChangeSet{
		Bucket:   "users",
		TxID:     1,
		Inserted: [][]byte{[]byte("u1")},
	})

	cs := recvTimeout(t, s.Changes())
	if cs.TxID != 1 || len(cs.Inserted) != 1 || string(cs.Inserted[0]) != "u1" {
		t.Errorf("unexpected change set: %+v", cs)
	}
}

func TestPublishFiltersByBucket(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	users := d.Subscribe("users")
	d.Publish(ChangeSet{Bucket: "orders", TxID: 1, Inserted: [][]byte{[]byte("o1")}})
	d.Publish(ChangeSet{Bucket: "users", TxID: 2, Deleted: [][]byte{[]byte("u9")}})

	cs := recvTimeout(t, users.Changes())
	if cs.Bucket != "users" || cs.TxID != 2 {
		t.Errorf("subscriber received foreign change set: %+v", cs)
	}
}

func TestDeliveryPreservesCommitOrder(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	s := d.Subscribe("items")
	const n = 100
	for i := 1; i <= n; i++ {
		d.Publish(ChangeSet{
			Bucket:   "items",
			TxID:     uint64(i),
			Inserted: [][]byte{[]byte(fmt.Sprintf("k%d", i))},
		})
	}

	for i := 1; i <= n; i++ {
		cs := recvTimeout(t, s.Changes())
		if cs.TxID != uint64(i) {
			t.Fatalf("out of order: got txid %d, want %d", cs.TxID, i)
		}
	}
}

func TestUnsubscribeDrainsAndCloses(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	s := d.Subscribe("items")
	d.Publish(ChangeSet{Bucket: "items", TxID: 1, Inserted: [][]byte{[]byte("a")}})
	d.Unsubscribe(s)

	// the queued change set is still delivered
	cs := recvTimeout(t, s.Changes())
	if cs.TxID != 1 {
		t.Errorf("expected queued change set, got %+v", cs)
	}

	select {
	case _, ok := <-s.Changes():
		if ok {
			t.Error("expected closed channel after drain")
		}
	case <-time.After(time.Second):
		t.Error("channel did not close after unsubscribe")
	}

	if d.HasSubscribers("items") {
		t.Error("subscriber still registered after unsubscribe")
	}
}

func TestEmptyChangeSetNotDelivered(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	s := d.Subscribe("items")
	d.Publish(ChangeSet{Bucket: "items", TxID: 1})
	d.Publish(ChangeSet{Bucket: "items", TxID: 2, Modified: [][]byte{[]byte("m")}})

	cs := recvTimeout(t, s.Changes())
	if cs.TxID != 2 {
		t.Errorf("empty change set was delivered: %+v", cs)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	d := newTestDispatcher()
	defer d.Close()

	s := d.Subscribe("items") // never consumed until the end
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			d.Publish(ChangeSet{
				Bucket:   "items",
				TxID:     uint64(i + 1),
				Inserted: [][]byte{[]byte("k")},
			})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	d.Unsubscribe(s)
	count := 0
	for range s.Changes() {
		count++
	}
	if count != 1000 {
		t.Errorf("drained %d change sets, want 1000", count)
	}
}

func TestCloseShutsDownSubscriptions(t *testing.T) {
	d := newTestDispatcher()

	s := d.Subscribe("items")
	d.Close()

	select {
	case _, ok := <-s.Changes():
		if ok {
			t.Error("expected closed channel after dispatcher close")
		}
	case <-time.After(time.Second):
		t.Error("channel did not close after dispatcher close")
	}

	if !d.Empty() {
		t.Error("dispatcher not empty after close")
	}
}
