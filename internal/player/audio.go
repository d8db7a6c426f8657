package player

import (
	"context"
	"errors"
	"math"

	"github.com/zsiec/rewind/internal/clock"
	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/queue"
)

// audioLoop converts decoded audio frames and writes them to the sink,
// pacing itself on the sink. While paused or playing backward it writes
// silence instead, discarding frames in backward mode.
func (p *Player) audioLoop(ctx context.Context) error {
	s := p.audio
	silence := make([]byte, p.cfg.Audio.BufferSamples*p.audioFormat.FrameSize())
	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.isPaused() {
			if err := p.writeAudio(ctx, silence); err != nil {
				return nil
			}
			continue
		}

		f, err := s.fq.PeekReadable()
		if err != nil {
			if errors.Is(err, queue.ErrAborted) {
				return nil
			}
			s.fail("read frame", err)
			p.closeSink()
			return nil
		}
		if s.fq.Stale(f) {
			s.fq.Next()
			continue
		}

		if p.Direction() == Backward {
			n := f.NbSamples * p.audioFormat.SampleRate / max(f.SampleRate, 1)
			s.fq.Next()
			if err := p.writeAudio(ctx, silence[:min(n*p.audioFormat.FrameSize(), len(silence))]); err != nil {
				return nil
			}
			continue
		}

		wanted := p.synchronizeAudio(f)
		speed := p.Speed()
		if speed != 1 {
			wanted = max(1, int(float64(wanted)/speed))
		}
		p.audioBuf, err = p.resampler.Convert(p.audioBuf, f, wanted, p.audioFormat)
		end := f.Seconds() + float64(f.NbSamples)/float64(max(f.SampleRate, 1))
		serial := f.Serial
		pts := f.PTS
		if err != nil {
			s.fq.Next()
			s.decodeErrors.Add(1)
			s.log.Debug("resample failed", "pts", pts, "error", err)
			continue
		}

		werr := p.writeAudio(ctx, p.audioBuf)
		s.fq.Next()
		if werr != nil {
			return nil
		}
		latency := float64(p.hwBufSize) / float64(p.audioFormat.BytesPerSecond())
		p.audclk.SetAt(end-latency*speed, serial)
		clock.SyncSlaveToMaster(p.extclk, p.audclk, p.cfg.Sync.NoSyncThreshold)
		if p.video == nil {
			p.lastPTS.Store(int64(pts))
		}
	}
}

// writeAudio writes to the sink. A sink failure closes the audio stream
// only: its queue is aborted so the demuxer stops feeding it, and the
// other streams play on.
func (p *Player) writeAudio(ctx context.Context, b []byte) error {
	if len(b) == 0 {
		return nil
	}
	err := p.sink.Write(b)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	p.audio.fail("write", err)
	p.closeSink()
	return err
}

// synchronizeAudio returns how many samples f should be played as so that
// the audio clock follows the master.
func (p *Player) synchronizeAudio(f *media.Frame) int {
	diff := math.NaN()
	if p.master() != MasterAudio {
		diff = p.audclk.Time() - p.masterClock().Time()
	}
	return p.async.correct(diff, f.NbSamples, f.SampleRate)
}
