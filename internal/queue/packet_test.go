package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/zsiec/rewind/internal/media"
)

func newStartedQueue(t *testing.T, maxPackets, maxBytes int) *PacketQueue {
	t.Helper()
	q, err := NewPacketQueue(maxPackets, maxBytes)
	if err != nil {
		t.Fatal(err)
	}
	q.Start()
	return q
}

func pkt(n byte, size int) *media.Packet {
	data := make([]byte, size)
	for i := range data {
		data[i] = n
	}
	return &media.Packet{StreamIndex: int(n), Data: data, Duration: 40 * time.Millisecond}
}

func TestPacketQueueFIFO(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 4, 1<<20)

	var got media.Packet
	for round := range 3 {
		for i := range 4 {
			if err := q.Put(pkt(byte(round*4+i), 10)); err != nil {
				t.Fatal(err)
			}
		}
		if q.Len() != 4 || q.Size() != 40 || q.Duration() != 160*time.Millisecond {
			t.Fatalf("round %d: len %d size %d duration %v", round, q.Len(), q.Size(), q.Duration())
		}
		for i := range 4 {
			ok, err := q.Get(&got, false)
			if !ok || err != nil {
				t.Fatalf("Get: ok %v err %v", ok, err)
			}
			if want := round*4 + i; got.StreamIndex != want || got.Data[0] != byte(want) {
				t.Errorf("Get: got packet %d, want %d", got.StreamIndex, want)
			}
		}
	}
	if ok, err := q.Get(&got, false); ok || err != nil {
		t.Errorf("Get on empty queue: ok %v err %v", ok, err)
	}
}

func TestPacketQueueReusesBuffers(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 2, 1<<20)
	var got media.Packet

	// Warm up every entry and the destination.
	for range 2 {
		if err := q.Put(pkt(1, 64)); err != nil {
			t.Fatal(err)
		}
		if _, err := q.Get(&got, false); err != nil {
			t.Fatal(err)
		}
	}

	allocs := testing.AllocsPerRun(100, func() {
		_ = q.Put(pkt(2, 0)) // empty data so the helper does not allocate a buffer
		_, _ = q.Get(&got, false)
	})
	// pkt itself allocates the Packet struct.
	if allocs > 2 {
		t.Errorf("steady state Put/Get: %v allocations, want at most 2", allocs)
	}
}

func TestPacketQueueByteBound(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 16, 100)

	// An oversized packet is admitted into an empty queue.
	if err := q.Put(pkt(1, 500)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(pkt(2, 10)) }()
	select {
	case err := <-done:
		t.Fatalf("Put above byte bound returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	var got media.Packet
	if _, err := q.Get(&got, true); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Put after Get: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put not released after Get")
	}
}

func TestPacketQueueFlushBumpsSerial(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 8, 1<<20)

	if err := q.Put(pkt(1, 4)); err != nil {
		t.Fatal(err)
	}
	var got media.Packet
	if _, err := q.Get(&got, false); err != nil {
		t.Fatal(err)
	}
	before := q.Serial()
	if err := q.Put(pkt(2, 4)); err != nil {
		t.Fatal(err)
	}

	q.Flush()
	if q.Serial() != before+1 {
		t.Errorf("serial after Flush: got %d, want %d", q.Serial(), before+1)
	}
	if q.Len() != 0 || q.Size() != 0 {
		t.Errorf("Flush left %d packets, %d bytes", q.Len(), q.Size())
	}
	if !q.Stale(&got) {
		t.Error("packet dequeued before Flush not reported stale")
	}

	if err := q.Put(pkt(3, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := q.Get(&got, false); err != nil {
		t.Fatal(err)
	}
	if q.Stale(&got) {
		t.Error("packet queued after Flush reported stale")
	}
}

func TestPacketQueueAbortReleasesWaiters(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 1, 1<<20)
	if err := q.Put(pkt(1, 1)); err != nil {
		t.Fatal(err)
	}

	putErr := make(chan error, 1)
	go func() { putErr <- q.Put(pkt(2, 1)) }()

	empty := newStartedQueue(t, 1, 1<<20)
	getErr := make(chan error, 1)
	go func() {
		var p media.Packet
		_, err := empty.Get(&p, true)
		getErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Abort()
	empty.Abort()

	for name, ch := range map[string]chan error{"Put": putErr, "Get": getErr} {
		select {
		case err := <-ch:
			if !errors.Is(err, ErrAborted) {
				t.Errorf("%s: got %v, want ErrAborted", name, err)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s not released by Abort", name)
		}
	}

	q.Start()
	var p media.Packet
	if ok, err := q.Get(&p, false); !ok || err != nil {
		t.Errorf("Get after restart: ok %v err %v", ok, err)
	}
}

func TestPacketQueueHasEnough(t *testing.T) {
	t.Parallel()
	q := newStartedQueue(t, 64, 1<<20)
	for range 25 {
		if err := q.Put(pkt(1, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if q.HasEnough(25, time.Second) {
		t.Error("25 packets should not be enough with min 25")
	}
	if err := q.Put(pkt(1, 1)); err != nil {
		t.Fatal(err)
	}
	if !q.HasEnough(25, time.Second) {
		t.Errorf("26 packets over %v should be enough", q.Duration())
	}
	q.Abort()
	if !q.HasEnough(100, time.Hour) {
		t.Error("aborted queue should report enough")
	}
}
