// Package ringbuf implements a fixed-capacity circular buffer shared by one
// producer and one consumer whose direction of traversal can be reversed in
// place.
//
// Every slot is addressed by a stream position: the item for position p is
// stored in slot p mod capacity. Reading forward returns ascending
// positions. Reading backward returns descending positions, while the
// producer keeps decoding forward, one reverse batch of at most maxReverse
// positions at a time, into the slots just below the lowest buffered
// position. Items already read stay buffered so that a direction change can
// pivot on them without refilling.
package ringbuf

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnblocked is returned by blocking calls interrupted by Unblock or
	// Flush. It is not a failure: callers treat it as "stop waiting".
	ErrUnblocked = errors.New("ringbuf: unblocked")

	// ErrStaleClaim is returned by WriteComplete when the slot claimed by
	// WriteRequest was invalidated by a direction change or a flush.
	ErrStaleClaim = errors.New("ringbuf: stale write claim")
)

// Ring is a bidirectional ring buffer of capacity slots of type T. Slots are
// allocated once and reused; Read and WriteRequest hand out pointers into
// them.
type Ring[T any] struct {
	mu   sync.Mutex
	cond *sync.Cond

	slots      []T
	capacity   int
	maxReverse int
	start      int64

	// readPos is the position the next Read returns. Readable items lie in
	// the current direction from readPos, retained items behind it.
	readPos  int64
	nBefore  int
	nAfter   int
	backward bool

	// nextPos is the position the next write fills. In backward mode it
	// walks up through the pending batch of batch slots, steps of which are
	// still unwritten.
	nextPos int64
	batch   int
	steps   int

	epoch      uint64
	claimEpoch uint64
	claimed    bool
	gen        uint64
	unblocked  bool
}

// New creates a ring whose first write is at position start. capacity must
// be at least 3 and maxReverse between 1 and capacity/2.
func New[T any](capacity, maxReverse int, start int64) (*Ring[T], error) {
	if capacity < 3 {
		return nil, fmt.Errorf("ringbuf: capacity %d, need at least 3", capacity)
	}
	if maxReverse < 1 || maxReverse > capacity/2 {
		return nil, fmt.Errorf("ringbuf: reverse window %d out of range [1, %d]", maxReverse, capacity/2)
	}
	r := &Ring[T]{
		slots:      make([]T, capacity),
		capacity:   capacity,
		maxReverse: maxReverse,
		start:      start,
	}
	r.cond = sync.NewCond(&r.mu)
	r.reset(start)
	return r, nil
}

func (r *Ring[T]) reset(pos int64) {
	r.readPos = pos
	r.nextPos = pos
	r.nBefore = 0
	r.nAfter = 0
	r.backward = false
	r.batch = 0
	r.steps = 0
	r.claimed = false
	r.epoch++
}

func (r *Ring[T]) slot(pos int64) *T {
	i := pos % int64(r.capacity)
	if i < 0 {
		i += int64(r.capacity)
	}
	return &r.slots[i]
}

// wait blocks until ready holds. It returns ErrUnblocked if the ring is, or
// becomes, unblocked or flushed.
func (r *Ring[T]) wait(ready func() bool) error {
	gen := r.gen
	for {
		if r.unblocked || r.gen != gen {
			return ErrUnblocked
		}
		if ready() {
			return nil
		}
		r.cond.Wait()
	}
}

// Read blocks until an item is readable, returns it, and moves the read
// cursor one position in the current direction. The returned item stays
// valid until the next Read, direction change, or Flush.
func (r *Ring[T]) Read() (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.wait(func() bool { return r.nBefore > 0 }); err != nil {
		return nil, err
	}
	item := r.slot(r.readPos)
	if r.backward {
		r.readPos--
	} else {
		r.readPos++
	}
	r.nBefore--
	r.nAfter++
	r.cond.Broadcast()
	return item, nil
}

// canWrite reports whether the writer may fill the slot at nextPos. In
// backward mode it first reclaims retained items farthest from the reader,
// always keeping the most recently read one.
func (r *Ring[T]) canWrite() bool {
	if !r.backward {
		return r.nBefore < r.capacity-1-r.maxReverse
	}
	if r.steps == 0 {
		return false
	}
	if free := r.capacity - 1 - r.nBefore - r.batch; r.nAfter > free {
		r.nAfter = max(1, free)
	}
	return r.nBefore+r.nAfter+r.batch <= r.capacity-1
}

// WriteRequest blocks until a slot may be filled and returns it. The
// caller fills the slot in place and publishes it with WriteComplete, or
// abandons the claim by calling WriteRequest again.
func (r *Ring[T]) WriteRequest() (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.wait(r.canWrite); err != nil {
		return nil, err
	}
	r.claimed = true
	r.claimEpoch = r.epoch
	return r.slot(r.nextPos), nil
}

// Claim returns the position of the slot handed out by the last
// WriteRequest and whether that claim is still valid.
func (r *Ring[T]) Claim() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextPos, r.claimed && r.claimEpoch == r.epoch
}

// WriteComplete publishes the claimed slot, which the caller filled with
// the item for stream position pos.
//
// In forward mode it returns 0. In backward mode it returns 0 until the
// last slot of the current reverse batch is written; it then publishes the
// batch, sizes the next one as min(first position of this batch - start,
// maxReverse), and returns the negative distance from pos+1 to the first
// position of the next batch. The caller must reposition its source by that
// delta. When the next batch would be empty the start of the stream has
// been reached, 0 is returned, and further writes block until the
// direction changes or the ring is flushed.
func (r *Ring[T]) WriteComplete(pos int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.claimed || r.claimEpoch != r.epoch {
		r.claimed = false
		return 0, ErrStaleClaim
	}
	if err := r.wait(r.canWrite); err != nil {
		return 0, err
	}
	r.claimed = false
	defer r.cond.Broadcast()

	if !r.backward {
		r.nextPos++
		r.nBefore++
		if r.nBefore+r.nAfter > r.capacity-1 {
			r.nAfter--
		}
		return 0, nil
	}

	r.nextPos++
	r.steps--
	if r.steps > 0 {
		return 0, nil
	}

	r.nBefore += r.batch
	first := pos - int64(r.batch) + 1
	next := int(min(first-r.start, int64(r.maxReverse)))
	if next <= 0 {
		r.nextPos = first
		r.batch = 0
		r.steps = 0
		return 0, nil
	}
	delta := -int64(r.batch + next)
	r.batch = next
	r.steps = next
	r.nextPos = first - int64(next)
	return delta, nil
}

// ToggleDirection reverses the direction of traversal around the most
// recently read item, whose stream position must be pos. It blocks until such an
// item exists. Items read before the pivot become readable again in the
// new direction and unread items become retained; the pivot itself is not
// returned again. The result is the signed number of positions the producer
// must move its source to reach the new write position.
func (r *Ring[T]) ToggleDirection(pos int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.wait(func() bool { return r.nAfter > 0 }); err != nil {
		return 0, err
	}

	prev := r.nextPos
	before, after := r.nBefore, r.nAfter
	r.nBefore = after - 1
	r.nAfter = before + 1

	if r.backward {
		// Lowest buffered item is pos-before; highest is pos+after-1.
		r.readPos += 2
		r.nextPos = pos + int64(after)
		r.batch = 0
		r.steps = 0
	} else {
		r.readPos -= 2
		lowest := pos + 1 - int64(after)
		b := int(min(lowest-r.start, int64(r.maxReverse)))
		b = max(b, 0)
		r.batch = b
		r.steps = b
		r.nextPos = lowest - int64(b)
	}
	r.backward = !r.backward
	r.epoch++
	r.cond.Broadcast()
	return r.nextPos - prev, nil
}

// Unblock makes every current and future blocking call return
// ErrUnblocked until Block is called.
func (r *Ring[T]) Unblock() {
	r.mu.Lock()
	r.unblocked = true
	r.mu.Unlock()
	r.cond.Broadcast()
}

// Block re-enables blocking after Unblock.
func (r *Ring[T]) Block() {
	r.mu.Lock()
	r.unblocked = false
	r.mu.Unlock()
}

// Flush wakes every waiter with ErrUnblocked, discards all buffered items,
// and resets the ring to forward mode with its next write at pos. Calls
// made after Flush block normally unless Unblock is in effect.
func (r *Ring[T]) Flush(pos int64) {
	r.mu.Lock()
	r.gen++
	r.reset(pos)
	r.mu.Unlock()
	r.cond.Broadcast()
}

// NextPosition returns the stream position the producer should write next.
func (r *Ring[T]) NextPosition() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextPos
}

// Backward reports whether the ring is traversed backward.
func (r *Ring[T]) Backward() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.backward
}

// Stats is a snapshot of the ring's bookkeeping.
type Stats struct {
	Capacity     int   `json:"capacity"`
	MaxReverse   int   `json:"maxReverse"`
	Readable     int   `json:"readable"`
	Retained     int   `json:"retained"`
	Backward     bool  `json:"backward"`
	ReadPosition int64 `json:"readPosition"`
	NextPosition int64 `json:"nextPosition"`
	Batch        int   `json:"batch"`
	Pending      int   `json:"pending"`
}

// Stats returns the ring's current bookkeeping.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Capacity:     r.capacity,
		MaxReverse:   r.maxReverse,
		Readable:     r.nBefore,
		Retained:     r.nAfter,
		Backward:     r.backward,
		ReadPosition: r.readPos,
		NextPosition: r.nextPos,
		Batch:        r.batch,
		Pending:      r.steps,
	}
}
