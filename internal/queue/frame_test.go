package queue

import (
	"errors"
	"testing"
	"time"
)

func newFrameQueue(t *testing.T, size int, keepLast bool) (*FrameQueue, *PacketQueue) {
	t.Helper()
	pq := newStartedQueue(t, 8, 1<<20)
	fq, err := NewFrameQueue(pq, size, keepLast)
	if err != nil {
		t.Fatal(err)
	}
	return fq, pq
}

func push(t *testing.T, fq *FrameQueue, pos int64, serial int) {
	t.Helper()
	f, err := fq.PeekWritable()
	if err != nil {
		t.Fatalf("PeekWritable: %v", err)
	}
	f.Position = pos
	f.Serial = serial
	fq.Push()
}

func TestFrameQueueOrderAndPeeks(t *testing.T) {
	t.Parallel()
	fq, pq := newFrameQueue(t, 4, false)

	for pos := range int64(3) {
		push(t, fq, pos, pq.Serial())
	}
	if fq.Remaining() != 3 {
		t.Fatalf("Remaining: got %d, want 3", fq.Remaining())
	}
	f, err := fq.PeekReadable()
	if err != nil {
		t.Fatal(err)
	}
	if f.Position != 0 || fq.PeekHead().Position != 0 || fq.PeekNext().Position != 1 {
		t.Errorf("peeks: head %d next %d", fq.PeekHead().Position, fq.PeekNext().Position)
	}
	for want := range int64(3) {
		if got := fq.PeekHead().Position; got != want {
			t.Errorf("head: got %d, want %d", got, want)
		}
		fq.Next()
	}
	if fq.Remaining() != 0 {
		t.Errorf("Remaining after drain: got %d", fq.Remaining())
	}
}

func TestFrameQueueKeepLast(t *testing.T) {
	t.Parallel()
	fq, pq := newFrameQueue(t, 3, true)

	push(t, fq, 10, pq.Serial())
	push(t, fq, 11, pq.Serial())

	if _, err := fq.PeekReadable(); err != nil {
		t.Fatal(err)
	}
	fq.Next()
	if !fq.Shown() {
		t.Fatal("first Next should keep the frame shown")
	}
	if got := fq.PeekLast().Position; got != 10 {
		t.Errorf("PeekLast: got %d, want 10", got)
	}
	if got := fq.PeekHead().Position; got != 11 {
		t.Errorf("PeekHead: got %d, want 11", got)
	}
	if fq.Remaining() != 1 {
		t.Errorf("Remaining: got %d, want 1", fq.Remaining())
	}

	// The shown slot still counts against capacity.
	push(t, fq, 12, pq.Serial())
	blocked := make(chan error, 1)
	go func() {
		_, err := fq.PeekWritable()
		blocked <- err
	}()
	select {
	case <-blocked:
		t.Fatal("PeekWritable overwrote the shown frame")
	case <-time.After(30 * time.Millisecond):
	}

	fq.Next()
	if got := fq.PeekLast().Position; got != 11 {
		t.Errorf("PeekLast after second Next: got %d, want 11", got)
	}
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("PeekWritable not released by Next")
	}
}

func TestFrameQueueFlushDropsPushedFrames(t *testing.T) {
	t.Parallel()
	fq, pq := newFrameQueue(t, 4, true)

	push(t, fq, 0, pq.Serial())
	push(t, fq, 1, pq.Serial())
	if _, err := fq.PeekReadable(); err != nil {
		t.Fatal(err)
	}
	fq.Next() // 0 shown

	pq.Flush()
	fq.Flush()
	push(t, fq, 100, pq.Serial())

	f, err := fq.PeekReadable()
	if err != nil {
		t.Fatal(err)
	}
	if f.Position != 100 {
		t.Errorf("after Flush: got frame %d, want 100", f.Position)
	}
	if fq.Stale(f) {
		t.Error("frame pushed after Flush reported stale")
	}
	if fq.Remaining() != 1 {
		t.Errorf("Remaining after Flush: got %d, want 1", fq.Remaining())
	}
}

func TestFrameQueueSerialDiscard(t *testing.T) {
	t.Parallel()
	fq, pq := newFrameQueue(t, 4, false)

	// Decoded before the flush, delivered after it.
	push(t, fq, 5, pq.Serial())
	pq.Flush()

	f, err := fq.PeekReadable()
	if err != nil {
		t.Fatal(err)
	}
	if !fq.Stale(f) {
		t.Error("frame decoded before flush not detected as stale")
	}
}

func TestFrameQueueAbort(t *testing.T) {
	t.Parallel()
	fq, pq := newFrameQueue(t, 1, false)

	errCh := make(chan error, 1)
	go func() {
		_, err := fq.PeekReadable()
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	pq.Abort()
	fq.Signal()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrAborted) {
			t.Errorf("PeekReadable: got %v, want ErrAborted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("PeekReadable not released by abort")
	}
	if _, err := fq.PeekWritable(); !errors.Is(err, ErrAborted) {
		t.Errorf("PeekWritable after abort: got %v, want ErrAborted", err)
	}
}
