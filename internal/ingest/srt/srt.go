package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// DefaultDialTimeout bounds Dial when no timeout is given.
const DefaultDialTimeout = 10 * time.Second

// Target is a parsed srt:// URL.
type Target struct {
	Addr     string
	StreamID string
	Listen   bool
}

// ParseURL parses srt://host:port[?streamid=ID][&mode=caller|listener].
// Caller mode is the default and requires a host.
func ParseURL(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("srt: parse %q: %w", raw, err)
	}
	if u.Scheme != "srt" {
		return Target{}, fmt.Errorf("srt: scheme %q, want srt", u.Scheme)
	}
	if u.Port() == "" {
		return Target{}, fmt.Errorf("srt: %q has no port", raw)
	}

	q := u.Query()
	t := Target{Addr: u.Host, StreamID: q.Get("streamid")}
	switch mode := q.Get("mode"); mode {
	case "", "caller":
		if u.Hostname() == "" {
			return Target{}, fmt.Errorf("srt: caller mode needs a host in %q", raw)
		}
	case "listener":
		t.Listen = true
	default:
		return Target{}, fmt.Errorf("srt: unknown mode %q", mode)
	}
	return t, nil
}

// IsURL reports whether s names an SRT input.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "srt://")
}

// Stats captures connection-level metrics of a Source.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
	StreamID      string `json:"streamId,omitempty"`
}

// conn is the part of *srtgo.Conn a Source uses.
type conn interface {
	Read(p []byte) (int, error)
	Close() error
}

// Source is a live transport stream received over SRT. Socket reads run
// in a background goroutine feeding a pipe, so Read never observes a
// partially written buffer. Sources are not seekable.
type Source struct {
	log       *slog.Logger
	conn      conn
	pr        *io.PipeReader
	remote    string
	streamID  string
	startedAt time.Time
	cancel    context.CancelFunc
	onClose   func()

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	closeOnce     sync.Once
	done          chan struct{}
}

func newSource(ctx context.Context, c conn, remote, streamID string, log *slog.Logger, onClose func()) *Source {
	ctx, cancel := context.WithCancel(ctx)
	pr, pw := io.Pipe()
	s := &Source{
		log:       log,
		conn:      c,
		pr:        pr,
		remote:    remote,
		streamID:  streamID,
		startedAt: time.Now(),
		cancel:    cancel,
		onClose:   onClose,
		done:      make(chan struct{}),
	}
	go s.receive(ctx, pw)
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s
}

func (s *Source) receive(ctx context.Context, pw *io.PipeWriter) {
	defer close(s.done)
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			pw.CloseWithError(ctx.Err())
			break
		}
		n, err := s.conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "remote", s.remote, "error", err)
			}
			pw.Close()
			break
		}
		s.bytesReceived.Add(int64(n))
		s.readCount.Add(1)
		if _, err := pw.Write(buf[:n]); err != nil {
			s.log.Debug("pipe write error", "remote", s.remote, "error", err)
			break
		}
	}

	stats := s.Stats()
	s.log.Info("connection closed", "remote", s.remote,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// Read reads transport stream bytes. It returns io.EOF when the peer
// closes the connection.
func (s *Source) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Close closes the connection and waits for the receive goroutine.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.pr.Close()
		s.conn.Close()
		<-s.done
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Stats returns a snapshot of the connection metrics.
func (s *Source) Stats() Stats {
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.startedAt.UnixMilli(),
		UptimeMs:      time.Since(s.startedAt).Milliseconds(),
		RemoteAddr:    s.remote,
		StreamID:      s.streamID,
	}
}

// Dial connects to a remote SRT listener in caller mode. The dial is
// abandoned after timeout, or DefaultDialTimeout when timeout is zero. If
// log is nil, slog.Default() is used.
func Dial(ctx context.Context, addr, streamID string, timeout time.Duration, log *slog.Logger) (*Source, error) {
	if addr == "" {
		return nil, fmt.Errorf("srt: address is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	log = log.With("component", "srt-caller")
	log.Info("dialing", "address", addr, "stream_id", streamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Drain the dial result in the background and close any leaked connection.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", addr, res.err)
		}
		log.Info("connected", "address", addr)
		return newSource(ctx, res.conn, addr, streamID, log, nil), nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", addr, timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// Listen waits on addr for one publisher and returns its stream. When
// streamID is set, callers announcing a different stream key are
// rejected. The listener stays open until the Source is closed. If log is
// nil, slog.Default() is used.
func Listen(ctx context.Context, addr, streamID string, log *slog.Logger) (*Source, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-listener")

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("srt: listen on %s: %w", addr, err)
	}
	log.Info("listening", "addr", addr, "stream_id", streamID)

	want := ""
	if streamID != "" {
		want = extractStreamKey(streamID)
	}
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if !acceptStreamID(want, req.StreamID) {
			return srtgo.RejPeer
		}
		return 0
	})

	var closeOnce sync.Once
	closeListener := func() { closeOnce.Do(func() { l.Close() }) }

	stop := context.AfterFunc(ctx, closeListener)
	conn, err := l.Accept()
	stop()
	if err != nil {
		closeListener()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("srt: accept on %s: %w", addr, err)
	}

	remote := conn.RemoteAddr().String()
	log.Info("publish", "stream_key", extractStreamKey(conn.StreamID()), "remote", remote)
	return newSource(ctx, conn, remote, conn.StreamID(), log, closeListener), nil
}

// acceptStreamID reports whether a publisher announcing streamID may
// connect when the listener expects the key want. An empty want accepts
// any non-empty stream ID.
func acceptStreamID(want, streamID string) bool {
	if streamID == "" {
		return false
	}
	return want == "" || extractStreamKey(streamID) == want
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
