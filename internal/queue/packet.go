// Package queue implements the bounded producer/consumer queues that connect
// the demux goroutine to the decode goroutines (PacketQueue) and the decode
// goroutines to the output loops (FrameQueue).
//
// Every queue carries a serial that increments once per flush. Items are
// tagged with the serial current when they were queued; a consumer that
// sees an item whose serial differs from the queue's current serial drops
// it as stale.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/rewind/internal/media"
)

// ErrAborted is returned by blocking calls on an aborted queue.
var ErrAborted = errors.New("queue: aborted")

// PacketQueue is a FIFO of encoded packets bounded by packet count and by
// cumulative payload bytes. Entries live in a fixed circular array whose
// data buffers are reused, so steady-state operation does not allocate.
type PacketQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	entries  []media.Packet
	head     int
	count    int
	size     int
	duration time.Duration
	maxBytes int
	aborted  bool
	serial   atomic.Int64
}

// NewPacketQueue creates an aborted queue holding at most maxPackets
// packets and maxBytes payload bytes. Call Start before use.
func NewPacketQueue(maxPackets, maxBytes int) (*PacketQueue, error) {
	if maxPackets < 1 {
		return nil, fmt.Errorf("queue: max packets %d, need at least 1", maxPackets)
	}
	if maxBytes < 1 {
		return nil, fmt.Errorf("queue: max bytes %d, need at least 1", maxBytes)
	}
	q := &PacketQueue{
		entries:  make([]media.Packet, maxPackets),
		maxBytes: maxBytes,
		aborted:  true,
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

// full reports whether pkt cannot be queued now. A packet larger than the
// byte bound is admitted into an empty queue.
func (q *PacketQueue) full(n int) bool {
	if q.count == len(q.entries) {
		return true
	}
	return q.count > 0 && q.size+n > q.maxBytes
}

// Put copies pkt to the tail of the queue, tagging it with the current
// serial. It blocks while the queue is full and fails with ErrAborted if
// the queue is aborted.
func (q *PacketQueue) Put(pkt *media.Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.aborted {
			return ErrAborted
		}
		if !q.full(len(pkt.Data)) {
			break
		}
		q.cond.Wait()
	}

	e := &q.entries[(q.head+q.count)%len(q.entries)]
	e.CopyFrom(pkt)
	e.Serial = int(q.serial.Load())
	q.count++
	q.size += len(pkt.Data)
	q.duration += pkt.Duration
	q.cond.Broadcast()
	return nil
}

// Get copies the head of the queue into dst and removes it. With block
// set it waits for a packet; otherwise it returns false at once when the
// queue is empty. It fails with ErrAborted if the queue is aborted.
func (q *PacketQueue) Get(dst *media.Packet, block bool) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.aborted {
			return false, ErrAborted
		}
		if q.count > 0 {
			break
		}
		if !block {
			return false, nil
		}
		q.cond.Wait()
	}

	e := &q.entries[q.head]
	dst.CopyFrom(e)
	q.head = (q.head + 1) % len(q.entries)
	q.count--
	q.size -= len(e.Data)
	q.duration -= e.Duration
	q.cond.Broadcast()
	return true, nil
}

// Flush discards every queued packet and starts a new serial.
func (q *PacketQueue) Flush() {
	q.mu.Lock()
	q.head = 0
	q.count = 0
	q.size = 0
	q.duration = 0
	q.serial.Add(1)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Abort makes every current and future blocking call return ErrAborted.
func (q *PacketQueue) Abort() {
	q.mu.Lock()
	q.aborted = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Start clears the abort flag and starts a new serial.
func (q *PacketQueue) Start() {
	q.mu.Lock()
	q.aborted = false
	q.serial.Add(1)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Aborted reports whether the queue is aborted.
func (q *PacketQueue) Aborted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted
}

// Serial returns the current generation.
func (q *PacketQueue) Serial() int {
	return int(q.serial.Load())
}

// Stale reports whether pkt was queued before the most recent flush.
func (q *PacketQueue) Stale(pkt *media.Packet) bool {
	return pkt.Serial != q.Serial()
}

// Len returns the number of queued packets.
func (q *PacketQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Size returns the cumulative payload bytes queued.
func (q *PacketQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Duration returns the cumulative duration of queued packets.
func (q *PacketQueue) Duration() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.duration
}

// Fits reports whether a packet of n bytes can be queued without
// blocking.
func (q *PacketQueue) Fits(n int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.aborted || !q.full(n)
}

// Full reports whether the queue has no room for another packet.
func (q *PacketQueue) Full() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count == len(q.entries)
}

// HasEnough reports whether the consumer is well fed: the queue is aborted,
// or holds more than minPackets packets covering more than minDuration
// (packets without a duration count as covering it).
func (q *PacketQueue) HasEnough(minPackets int, minDuration time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.aborted {
		return true
	}
	return q.count > minPackets && (q.duration == 0 || q.duration > minDuration)
}

// Stats is a snapshot of a packet queue.
type Stats struct {
	Packets  int           `json:"packets"`
	Bytes    int           `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Serial   int           `json:"serial"`
	Aborted  bool          `json:"aborted"`
}

// Stats returns the queue's current depth and serial.
func (q *PacketQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Packets:  q.count,
		Bytes:    q.size,
		Duration: q.duration,
		Serial:   int(q.serial.Load()),
		Aborted:  q.aborted,
	}
}
