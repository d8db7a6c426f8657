package queue

import (
	"fmt"
	"sync"

	"github.com/zsiec/rewind/internal/media"
)

// FrameQueue is a fixed array of pre-allocated frame slots filled by a
// decode goroutine and drained by an output loop. It shares abort and serial
// with the PacketQueue feeding the decoder.
//
// In keep-last mode the most recently consumed frame stays in its slot, and
// visible through PeekLast, until the next frame is consumed. Renderers use
// it to redraw the current picture.
type FrameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots    []media.Frame
	rindex   int
	windex   int
	size     int
	keepLast bool
	shown    int
	pktq     *PacketQueue

	// Sequence numbers for Flush: pushed counts frames ever pushed, head is
	// the sequence of the frame in slot rindex, and frames numbered below
	// dropBefore are discarded by the consumer.
	pushed     uint64
	head       uint64
	dropBefore uint64
}

// NewFrameQueue creates a queue of size slots linked to pktq.
func NewFrameQueue(pktq *PacketQueue, size int, keepLast bool) (*FrameQueue, error) {
	if size < 1 {
		return nil, fmt.Errorf("queue: frame queue size %d, need at least 1", size)
	}
	if pktq == nil {
		return nil, fmt.Errorf("queue: frame queue needs a packet queue")
	}
	fq := &FrameQueue{
		slots:    make([]media.Frame, size),
		keepLast: keepLast,
		pktq:     pktq,
	}
	for i := range fq.slots {
		fq.slots[i].Reset()
	}
	fq.cond = sync.NewCond(&fq.mu)
	return fq, nil
}

// Signal wakes every waiter so it can observe an abort of the linked
// packet queue.
func (fq *FrameQueue) Signal() {
	fq.mu.Lock()
	fq.mu.Unlock()
	fq.cond.Broadcast()
}

// PeekWritable blocks until a slot is free and returns it for the producer
// to fill in place. It fails with ErrAborted once the packet queue is
// aborted.
func (fq *FrameQueue) PeekWritable() (*media.Frame, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for {
		if fq.pktq.Aborted() {
			return nil, ErrAborted
		}
		if fq.size < len(fq.slots) {
			break
		}
		fq.cond.Wait()
	}
	return &fq.slots[fq.windex], nil
}

// Push publishes the slot returned by PeekWritable.
func (fq *FrameQueue) Push() {
	fq.mu.Lock()
	fq.windex = (fq.windex + 1) % len(fq.slots)
	fq.size++
	fq.pushed++
	fq.mu.Unlock()
	fq.cond.Broadcast()
}

// PeekReadable blocks until an unconsumed frame is available and returns
// it without consuming it. Frames pushed before the last Flush are dropped
// first.
func (fq *FrameQueue) PeekReadable() (*media.Frame, error) {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	for {
		if fq.pktq.Aborted() {
			return nil, ErrAborted
		}
		fq.dropFlushedLocked()
		if fq.size-fq.shown > 0 {
			break
		}
		fq.cond.Wait()
	}
	return &fq.slots[(fq.rindex+fq.shown)%len(fq.slots)], nil
}

func (fq *FrameQueue) dropFlushedLocked() {
	dropped := false
	for fq.size-fq.shown > 0 && fq.head+uint64(fq.shown) < fq.dropBefore {
		fq.nextLocked()
		dropped = true
	}
	if dropped {
		fq.cond.Broadcast()
	}
}

// PeekHead returns the next frame to consume. Only valid after
// PeekReadable or Remaining reported a frame.
func (fq *FrameQueue) PeekHead() *media.Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return &fq.slots[(fq.rindex+fq.shown)%len(fq.slots)]
}

// PeekNext returns the frame after the head. Only valid when Remaining
// reports at least two frames.
func (fq *FrameQueue) PeekNext() *media.Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return &fq.slots[(fq.rindex+fq.shown+1)%len(fq.slots)]
}

// PeekLast returns the most recently consumed frame in keep-last mode, or
// the head otherwise.
func (fq *FrameQueue) PeekLast() *media.Frame {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return &fq.slots[fq.rindex]
}

// Next consumes the head frame. In keep-last mode the frame stays in its
// slot until the following call.
func (fq *FrameQueue) Next() {
	fq.mu.Lock()
	fq.nextLocked()
	fq.mu.Unlock()
	fq.cond.Broadcast()
}

func (fq *FrameQueue) nextLocked() {
	if fq.keepLast && fq.shown == 0 {
		fq.shown = 1
		return
	}
	if fq.size == 0 {
		return
	}
	fq.rindex = (fq.rindex + 1) % len(fq.slots)
	fq.size--
	fq.head++
}

// Remaining returns the number of frames not yet consumed, after dropping
// flushed ones.
func (fq *FrameQueue) Remaining() int {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	fq.dropFlushedLocked()
	return fq.size - fq.shown
}

// Shown reports whether a consumed frame is being kept for PeekLast.
func (fq *FrameQueue) Shown() bool {
	fq.mu.Lock()
	defer fq.mu.Unlock()
	return fq.shown == 1
}

// Flush discards every frame pushed so far. A slot the consumer is
// currently holding stays valid until its next Peek or Next, which drop the
// discarded frames.
func (fq *FrameQueue) Flush() {
	fq.mu.Lock()
	fq.dropBefore = fq.pushed
	fq.mu.Unlock()
	fq.cond.Broadcast()
}

// Stale reports whether f was decoded from packets queued before the
// latest flush of the linked packet queue.
func (fq *FrameQueue) Stale(f *media.Frame) bool {
	return f.Serial != fq.pktq.Serial()
}

// Serial returns the current serial of the linked packet queue.
func (fq *FrameQueue) Serial() int {
	return fq.pktq.Serial()
}
