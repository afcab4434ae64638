package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gwsu/torc/media"
)

func TestPushPopOrder(t *testing.T) {
	t.Parallel()

	q := New()
	for i := 0; i < 5; i++ {
		q.Push(media.NewPacket(i, []byte{byte(i)}))
	}

	if got := q.Length(); got != 5 {
		t.Fatalf("Length: got %d, want 5", got)
	}

	for i := 0; i < 5; i++ {
		pkt := q.Pop()
		if pkt == nil {
			t.Fatalf("Pop %d: got nil", i)
		}
		if pkt.StreamIndex != i {
			t.Errorf("Pop %d: stream index %d", i, pkt.StreamIndex)
		}
	}

	if pkt := q.Pop(); pkt != nil {
		t.Errorf("Pop on empty queue: got %+v, want nil", pkt)
	}
	if got := q.Size(); got != 0 {
		t.Errorf("Size after drain: got %d, want 0", got)
	}
}

func TestSizeAccounting(t *testing.T) {
	t.Parallel()

	q := New()
	pkt := media.NewPacket(0, make([]byte, 100))
	q.Push(pkt)

	if got := q.Size(); got != pkt.QueueSize() {
		t.Errorf("Size: got %d, want %d", got, pkt.QueueSize())
	}

	// Zero-length packets (EOF markers) must still register.
	q.Push(media.NewPacket(0, nil))
	if got := q.Length(); got != 2 {
		t.Errorf("Length: got %d, want 2", got)
	}
	if got := q.Size(); got <= pkt.QueueSize() {
		t.Errorf("Size: empty packet not accounted, got %d", got)
	}
}

func TestFlushInsertsSingleMarker(t *testing.T) {
	t.Parallel()

	q := New()
	for i := 0; i < 10; i++ {
		q.Push(media.NewPacket(0, []byte("data")))
	}

	q.Flush(true)
	q.Flush(true)
	q.Flush(true)

	if got := q.Length(); got != 1 {
		t.Fatalf("Length after repeated Flush(true): got %d, want 1", got)
	}

	pkt := q.Pop()
	if !pkt.IsFlush() {
		t.Fatalf("expected flush sentinel, got %+v", pkt)
	}
	if q.Pop() != nil {
		t.Error("expected empty queue after sentinel")
	}
}

func TestFlushWithoutMarker(t *testing.T) {
	t.Parallel()

	q := New()
	q.Push(media.NewPacket(0, []byte("data")))
	q.Flush(true)
	q.Flush(false)

	if got := q.Length(); got != 0 {
		t.Errorf("Length after Flush(false): got %d, want 0", got)
	}
	if got := q.Size(); got != 0 {
		t.Errorf("Size after Flush(false): got %d, want 0", got)
	}
}

func TestAwaitWorkWakesOnPush(t *testing.T) {
	t.Parallel()

	q := New()
	done := make(chan struct{})

	go func() {
		q.AwaitWork(func(queued int) bool { return queued > 0 })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(media.NewPacket(0, nil))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitWork did not wake on Push")
	}
}

func TestAwaitWorkWakesOnWake(t *testing.T) {
	t.Parallel()

	q := New()
	var stop atomic.Bool
	done := make(chan struct{})

	go func() {
		q.AwaitWork(func(queued int) bool { return queued > 0 || stop.Load() })
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	stop.Store(true)
	q.Wake()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitWork did not wake on Wake")
	}
}

func TestAwaitWorkNoLostWakeup(t *testing.T) {
	t.Parallel()

	// A request raised and signalled immediately before the wait must
	// still be observed: the predicate runs under the queue lock.
	q := New()
	var stop atomic.Bool
	stop.Store(true)
	q.Wake()

	done := make(chan struct{})
	go func() {
		q.AwaitWork(func(queued int) bool { return stop.Load() })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitWork slept through an already-raised request")
	}
}

func TestConcurrentPushPop(t *testing.T) {
	t.Parallel()

	q := New()
	const packets = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < packets; i++ {
			q.Push(media.NewPacket(0, []byte{1, 2, 3}))
		}
	}()

	popped := 0
	deadline := time.Now().Add(5 * time.Second)
	for popped < packets && time.Now().Before(deadline) {
		if q.Pop() != nil {
			popped++
		}
	}
	wg.Wait()

	if popped != packets {
		t.Fatalf("popped %d of %d packets", popped, packets)
	}
	if got := q.Size(); got != 0 {
		t.Errorf("Size after drain: got %d, want 0", got)
	}
}
