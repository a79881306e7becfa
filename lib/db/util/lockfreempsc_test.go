package util

import (
	"sync"
	"testing"
)

func TestMPSCSingleProducer(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			v := i
			if !q.Push(&v) {
				t.Errorf("push %d failed", i)
				return
			}
		}
		q.Close()
	}()

	count := 0
	for v := range q.Recv() {
		if *v != count {
			t.Errorf("expected %d, got %d", count, *v)
		}
		count++
	}

	if count != n {
		t.Errorf("expected %d items, got %d", n, count)
	}
}

func TestMPSCMultipleProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				q.Push(&v)
			}
		}(p)
	}

	go func() {
		wg.Wait()
		q.Close()
	}()

	seen := make(map[int]bool)
	for v := range q.Recv() {
		if seen[*v] {
			t.Errorf("duplicate value %d", *v)
		}
		seen[*v] = true
	}

	if len(seen) != producers*perProducer {
		t.Errorf("expected %d unique items, got %d", producers*perProducer, len(seen))
	}
}

func TestMPSCPushAfterClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	q.Close()

	v := 1
	if q.Push(&v) {
		t.Error("push after close should fail")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true")
	}

	// channel must be closed after drain
	if _, ok := <-q.Recv(); ok {
		t.Error("expected closed channel")
	}
}

func TestMPSCNilPush(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Push(nil) {
		t.Error("nil push should fail")
	}
}

func TestMPSCDrainOnClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const n = 50
	for i := 0; i < n; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	// items pushed before Close are still delivered
	count := 0
	for range q.Recv() {
		count++
	}
	if count != n {
		t.Errorf("expected %d items after close, got %d", n, count)
	}
}

func BenchmarkMPSCPush(b *testing.B) {
	q := NewLockFreeMPSC[int]()

	// consumer discards
	done := make(chan struct{})
	go func() {
		for range q.Recv() {
		}
		close(done)
	}()

	v := 42
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			q.Push(&v)
		}
	})
	b.StopTimer()

	q.Close()
	<-done
}
