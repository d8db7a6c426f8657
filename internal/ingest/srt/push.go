package srt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// chunkSize is the SRT payload size: 7 transport stream packets.
const chunkSize = 188 * 7

const pushLogInterval = 10 * time.Second

// PushStats summarizes a Push.
type PushStats struct {
	BytesSent int64         `json:"bytesSent"`
	Loops     int           `json:"loops"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Push publishes a recorded transport stream to a remote SRT listener in
// caller mode, paced so that data plays out at bytesPerSec. With loop set
// it starts over at the end of data until ctx is done. If log is nil,
// slog.Default() is used.
func Push(ctx context.Context, addr, streamID string, data []byte, bytesPerSec float64, loop bool, log *slog.Logger) (PushStats, error) {
	if addr == "" {
		return PushStats{}, fmt.Errorf("srt: address is required")
	}
	if bytesPerSec <= 0 {
		return PushStats{}, fmt.Errorf("srt: push rate %v, need a positive rate", bytesPerSec)
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-push", "stream_id", streamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID
	conn, err := srtgo.Dial(addr, cfg)
	if err != nil {
		return PushStats{}, fmt.Errorf("srt: dial %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	log.Info("connected, pushing", "address", addr, "bytes", len(data), "rate", int64(bytesPerSec))
	p := newPacer(bytesPerSec, log)
	stats, err := p.send(ctx, conn, data, loop)
	if ctx.Err() != nil {
		err = nil
	}
	log.Info("push finished", "bytes", stats.BytesSent, "loops", stats.Loops, "elapsed", stats.Elapsed)
	return stats, err
}

// pacer writes data in SRT-sized chunks no faster than bytesPerSec,
// measured against the start of the whole push so that loop boundaries
// neither burst nor stall.
type pacer struct {
	log         *slog.Logger
	bytesPerSec float64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration)
}

func newPacer(bytesPerSec float64, log *slog.Logger) *pacer {
	return &pacer{log: log, bytesPerSec: bytesPerSec, now: time.Now, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (p *pacer) send(ctx context.Context, w io.Writer, data []byte, loop bool) (PushStats, error) {
	var stats PushStats
	if len(data) == 0 {
		return stats, nil
	}
	start := p.now()
	lastLog := start
	for {
		for i := 0; i < len(data); i += chunkSize {
			if ctx.Err() != nil {
				stats.Elapsed = p.now().Sub(start)
				return stats, ctx.Err()
			}
			chunk := data[i:min(i+chunkSize, len(data))]
			if _, err := w.Write(chunk); err != nil {
				stats.Elapsed = p.now().Sub(start)
				return stats, fmt.Errorf("srt: write: %w", err)
			}
			stats.BytesSent += int64(len(chunk))

			due := time.Duration(float64(stats.BytesSent) / p.bytesPerSec * float64(time.Second))
			if ahead := due - p.now().Sub(start); ahead > 0 {
				p.sleep(ctx, ahead)
			}
			if now := p.now(); now.Sub(lastLog) >= pushLogInterval {
				rate := float64(stats.BytesSent) / now.Sub(start).Seconds()
				p.log.Info("pushing", "loop", stats.Loops+1, "offset_pct", 100*i/len(data),
					"rate", int64(rate), "target", int64(p.bytesPerSec))
				lastLog = now
			}
		}
		stats.Loops++
		if !loop {
			stats.Elapsed = p.now().Sub(start)
			return stats, nil
		}
		p.log.Debug("loop complete", "loop", stats.Loops, "bytes", stats.BytesSent)
	}
}
