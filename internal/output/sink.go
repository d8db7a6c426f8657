package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/rewind/internal/media"
)

// ErrSinkClosed is returned by Write after Close.
var ErrSinkClosed = errors.New("output: sink closed")

// ClockedSink is an audio sink with no device behind it. Write consumes
// samples at the real-time rate of the opened format, blocking while more
// than one buffer of audio is queued ahead of the wall clock.
type ClockedSink struct {
	log           *slog.Logger
	bufferSamples int
	now           func() time.Time
	sleep         func(d time.Duration, done <-chan struct{})

	mu        sync.Mutex
	format    media.AudioFormat
	opened    bool
	started   time.Time
	written   int64
	total     int64
	underruns int
	done      chan struct{}
	closeOnce sync.Once
}

// SinkOption configures a ClockedSink.
type SinkOption func(*ClockedSink)

// WithSinkClock replaces the wall clock and the sleep used for pacing.
func WithSinkClock(now func() time.Time, sleep func(d time.Duration, done <-chan struct{})) SinkOption {
	return func(s *ClockedSink) {
		s.now = now
		s.sleep = sleep
	}
}

// NewClockedSink returns a sink that buffers bufferSamples sample frames.
// If log is nil, slog.Default() is used.
func NewClockedSink(bufferSamples int, log *slog.Logger, opts ...SinkOption) *ClockedSink {
	if log == nil {
		log = slog.Default()
	}
	s := &ClockedSink{
		log:           log.With("component", "audio-sink"),
		bufferSamples: max(bufferSamples, 1),
		now:           time.Now,
		sleep:         sleepOrDone,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepOrDone(d time.Duration, done <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-done:
	}
}

// Open accepts any positive format and returns the size of the sink's
// buffer in bytes.
func (s *ClockedSink) Open(f media.AudioFormat) (int, error) {
	if f.SampleRate <= 0 || f.FrameSize() <= 0 {
		return 0, fmt.Errorf("output: invalid audio format %+v", f)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
	s.opened = true
	s.started = time.Time{}
	s.written = 0
	s.log.Info("audio sink opened", "sample_rate", f.SampleRate, "channels", f.Channels,
		"bytes_per_sample", f.BytesPerSample, "buffer_samples", s.bufferSamples)
	return s.bufferSamples * f.FrameSize(), nil
}

// Write queues samples and blocks until the queue is no more than one
// buffer ahead of real time.
func (s *ClockedSink) Write(samples []byte) error {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return ErrSinkClosed
	default:
	}
	if !s.opened {
		s.mu.Unlock()
		return fmt.Errorf("output: write before open")
	}

	now := s.now()
	if s.started.IsZero() {
		s.started = now
	}
	rate := int64(s.format.BytesPerSecond())
	buffer := time.Duration(s.bufferSamples) * time.Second / time.Duration(s.format.SampleRate)

	// Played out everything queued: start a new pacing run from now.
	if played := now.Sub(s.started); played > s.duration(s.written, rate) && s.written > 0 {
		s.underruns++
		s.log.Debug("audio sink underrun", "late", played-s.duration(s.written, rate))
		s.started = now
		s.written = 0
	}

	s.written += int64(len(samples))
	s.total += int64(len(samples))
	ahead := s.duration(s.written, rate) - now.Sub(s.started) - buffer
	done := s.done
	s.mu.Unlock()

	if ahead > 0 {
		s.sleep(ahead, done)
	}
	return nil
}

func (s *ClockedSink) duration(bytes, rate int64) time.Duration {
	return time.Duration(bytes) * time.Second / time.Duration(rate)
}

// SinkStats is a snapshot of a ClockedSink.
type SinkStats struct {
	Format    media.AudioFormat `json:"format"`
	Bytes     int64             `json:"bytes"`
	Underruns int               `json:"underruns"`
}

// Stats returns the bytes written and underruns seen so far.
func (s *ClockedSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SinkStats{Format: s.format, Bytes: s.total, Underruns: s.underruns}
}

// Close wakes a blocked Write and rejects further writes.
func (s *ClockedSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.log.Info("audio sink closed", "bytes", s.Stats().Bytes)
	})
	return nil
}
