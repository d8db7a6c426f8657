package srt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func TestParseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    Target
		wantErr bool
	}{
		{name: "caller", raw: "srt://example.com:6000", want: Target{Addr: "example.com:6000"}},
		{name: "caller with stream id", raw: "srt://10.0.0.1:9000?streamid=live/cam1",
			want: Target{Addr: "10.0.0.1:9000", StreamID: "live/cam1"}},
		{name: "explicit caller", raw: "srt://h:1?mode=caller", want: Target{Addr: "h:1"}},
		{name: "listener without host", raw: "srt://:6000?mode=listener",
			want: Target{Addr: ":6000", Listen: true}},
		{name: "caller without host", raw: "srt://:6000", wantErr: true},
		{name: "missing port", raw: "srt://example.com", wantErr: true},
		{name: "wrong scheme", raw: "udp://example.com:6000", wantErr: true},
		{name: "unknown mode", raw: "srt://h:1?mode=rendezvous", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseURL(tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseURL(%q) err = %v, wantErr %v", tc.raw, err, tc.wantErr)
			}
			if err == nil && got != tc.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestIsURL(t *testing.T) {
	t.Parallel()
	if !IsURL("srt://h:1") {
		t.Error("srt URL not recognized")
	}
	if IsURL("movie.ts") || IsURL("/srt://x") {
		t.Error("file path recognized as srt URL")
	}
}

func TestExtractStreamKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		streamID string
		want     string
	}{
		{name: "simple key", streamID: "camera1", want: "camera1"},
		{name: "leading slash", streamID: "/camera1", want: "camera1"},
		{name: "live prefix", streamID: "live/camera1", want: "camera1"},
		{name: "slash and live prefix", streamID: "/live/camera1", want: "camera1"},
		{name: "empty returns default", streamID: "", want: "default"},
		{name: "just live/ returns default", streamID: "live/", want: "default"},
		{name: "nested path preserved", streamID: "studio/camera1", want: "studio/camera1"},
		{name: "live in name preserved", streamID: "liveshow", want: "liveshow"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := extractStreamKey(tc.streamID); got != tc.want {
				t.Errorf("extractStreamKey(%q) = %q, want %q", tc.streamID, got, tc.want)
			}
		})
	}
}

func TestAcceptStreamID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		want, streamID string
		ok             bool
	}{
		{"", "", false},
		{"", "anything", true},
		{"cam1", "live/cam1", true},
		{"cam1", "/cam1", true},
		{"cam1", "cam2", false},
		{"cam1", "", false},
	}
	for _, tc := range tests {
		if got := acceptStreamID(tc.want, tc.streamID); got != tc.ok {
			t.Errorf("acceptStreamID(%q, %q) = %v, want %v", tc.want, tc.streamID, got, tc.ok)
		}
	}
}

// fakeConn serves chunks, then blocks until closed.
type fakeConn struct {
	mu     sync.Mutex
	chunks [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn(chunks ...[]byte) *fakeConn {
	return &fakeConn{chunks: chunks, closed: make(chan struct{})}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if len(c.chunks) > 0 {
		n := copy(p, c.chunks[0])
		c.chunks = c.chunks[1:]
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, errors.New("connection closed")
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func TestSourceReadsAndCounts(t *testing.T) {
	t.Parallel()
	c := newFakeConn([]byte("abc"), []byte("defg"))
	s := newSource(context.Background(), c, "1.2.3.4:5", "live/x", slog.Default(), nil)
	defer s.Close()

	got := make([]byte, 7)
	if _, err := io.ReadFull(s, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("abcdefg")) {
		t.Errorf("read %q", got)
	}
	st := s.Stats()
	if st.BytesReceived != 7 || st.ReadCount != 2 || st.RemoteAddr != "1.2.3.4:5" || st.StreamID != "live/x" {
		t.Errorf("stats = %+v", st)
	}
}

type eofConn struct{ r io.Reader }

func (c eofConn) Read(p []byte) (int, error) { return c.r.Read(p) }
func (c eofConn) Close() error               { return nil }

func TestSourceEOF(t *testing.T) {
	t.Parallel()
	s := newSource(context.Background(), eofConn{bytes.NewReader([]byte("xyz"))}, "r", "", slog.Default(), nil)
	defer s.Close()

	data, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "xyz" {
		t.Errorf("read %q", data)
	}
}

func TestSourceCloseUnblocksRead(t *testing.T) {
	t.Parallel()
	closed := make(chan struct{})
	s := newSource(context.Background(), newFakeConn(), "r", "", slog.Default(), func() { close(closed) })

	errc := make(chan error, 1)
	go func() {
		_, err := s.Read(make([]byte, 16))
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		if err == nil {
			t.Error("Read returned nil error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Read still blocked after Close")
	}
	select {
	case <-closed:
	default:
		t.Error("onClose not called")
	}
	s.Close()
}

func TestSourceContextCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	s := newSource(ctx, newFakeConn(), "r", "", slog.Default(), nil)
	cancel()

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("receive goroutine still running after cancel")
	}
	if _, err := s.Read(make([]byte, 1)); err == nil {
		t.Error("Read succeeded after cancel")
	}
}

func TestDialValidation(t *testing.T) {
	t.Parallel()
	if _, err := Dial(context.Background(), "", "", 0, nil); err == nil {
		t.Error("expected error for empty address")
	}
}
