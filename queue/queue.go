// Package queue implements the bounded-by-backpressure packet FIFO that sits
// between the demuxer and each decoder worker. Capacity is not enforced here:
// the demuxer stops reading when the audio queue's byte size crosses its
// limit, so Push never blocks.
package queue

import (
	"sync"

	"github.com/gwsu/torc/media"
)

// PacketQueue is an ordered, thread-safe FIFO of demuxed packets with
// flush-marker injection. Workers block in AwaitWork until a push, flush, or
// explicit Wake.
type PacketQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	packets []*media.Packet
	size    int64
	length  int
}

// New creates an empty PacketQueue.
func New() *PacketQueue {
	q := &PacketQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends a packet, taking ownership, and wakes all waiters. The
// broadcast happens under the lock so AwaitWork predicates cannot miss it.
func (q *PacketQueue) Push(pkt *media.Packet) {
	if pkt == nil {
		return
	}
	q.mu.Lock()
	q.packets = append(q.packets, pkt)
	q.size += pkt.QueueSize()
	q.length++
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Pop removes and returns the oldest packet, or nil when the queue is empty.
// It never blocks.
func (q *PacketQueue) Pop() *media.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *PacketQueue) popLocked() *media.Packet {
	if len(q.packets) == 0 {
		return nil
	}
	pkt := q.packets[0]
	q.packets[0] = nil
	q.packets = q.packets[1:]
	q.size -= pkt.QueueSize()
	q.length--
	return pkt
}

// Flush drops every queued packet. With insertMarker set it then enqueues
// exactly one flush sentinel and wakes all waiters; consecutive flushes never
// stack sentinels because the drop pass removes any previous one first.
func (q *PacketQueue) Flush(insertMarker bool) {
	q.mu.Lock()
	for q.popLocked() != nil {
	}
	if insertMarker {
		pkt := media.FlushPacket()
		q.packets = append(q.packets, pkt)
		q.size += pkt.QueueSize()
		q.length++
		q.cond.Broadcast()
	}
	q.mu.Unlock()
}

// Size returns the queued byte count (payloads plus fixed per-packet
// overhead).
func (q *PacketQueue) Size() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Length returns the queued packet count.
func (q *PacketQueue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.length
}

// Wake unblocks every AwaitWork caller without delivering work. Workers use
// it to observe state-change requests.
func (q *PacketQueue) Wake() {
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}

// AwaitWork blocks until ready reports true. The predicate receives the
// queued packet count and is evaluated under the queue lock, so a wakeup
// between evaluation and sleep cannot be lost: Push, Flush, and Wake all
// broadcast while holding the lock.
func (q *PacketQueue) AwaitWork(ready func(queued int) bool) {
	q.mu.Lock()
	for !ready(len(q.packets)) {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
