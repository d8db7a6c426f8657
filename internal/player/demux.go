package player

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/zsiec/rewind/internal/media"
)

// seekRequest is a pending reposition of the input. User seeks move the
// playback position; the others only refill the ring from a new input
// position and never replace a pending user seek.
type seekRequest struct {
	target time.Duration
	min    time.Duration
	max    time.Duration
	user   bool
}

// Seek moves playback to t from the start of the input. The seek is
// carried out by the demux goroutine; a later Seek replaces one not yet
// carried out.
func (p *Player) Seek(t time.Duration) error {
	return p.seekTo(p.start + max(t, 0))
}

// SeekRelative moves playback by delta from the current position.
func (p *Player) SeekRelative(delta time.Duration) error {
	return p.Seek(p.Position() + delta)
}

func (p *Player) seekTo(target time.Duration) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.vidclk == nil {
		return errors.New("player: seek before open")
	}
	if !p.canSeek() {
		p.seeksRejected.Add(1)
		p.log.Warn("seek rejected", "reason", "input is not seekable")
		return ErrSeekRejected
	}
	p.seekMu.Lock()
	p.seekReq = &seekRequest{target: target, min: unboundedMin, max: unboundedMax, user: true}
	p.seekMu.Unlock()
	p.signal()
	p.log.Debug("seek requested", "target", target-p.start)
	return nil
}

// requestReposition asks the demux goroutine to move the input to the
// keyframe at or before stream position pos, so that the video decoder
// produces pos next. Frames decoded before the move are discarded.
// Called with writeMu held.
func (p *Player) requestReposition(pos int64) {
	target := p.video.info.Timestamp(pos)
	p.seekMu.Lock()
	if p.seekReq != nil && p.seekReq.user {
		p.seekMu.Unlock()
		return
	}
	p.seekReq = &seekRequest{target: target, min: unboundedMin, max: target}
	p.raiseMinSerial(p.video.pktq.Serial() + 1)
	p.seekMu.Unlock()
	p.signal()
}

func (p *Player) takeSeek() *seekRequest {
	p.seekMu.Lock()
	defer p.seekMu.Unlock()
	req := p.seekReq
	p.seekReq = nil
	return req
}

func (p *Player) seekPending() bool {
	p.seekMu.Lock()
	defer p.seekMu.Unlock()
	return p.seekReq != nil
}

func (p *Player) raiseMinSerial(serial int) {
	for {
		cur := p.minSerial.Load()
		if int64(serial) <= cur || p.minSerial.CompareAndSwap(cur, int64(serial)) {
			return
		}
	}
}

func (p *Player) streamFor(index int) *stream {
	for _, s := range p.streams {
		if s.info.Index == index {
			return s
		}
	}
	return nil
}

// demuxLoop reads packets into the per-stream queues until ctx is done,
// pausing while the queues hold enough and carrying out seeks.
func (p *Player) demuxLoop(ctx context.Context) error {
	var pkt media.Packet
	pkt.Reset()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if req := p.takeSeek(); req != nil {
			p.doSeek(req)
			continue
		}
		if p.eof.Load() || p.queuesFull() {
			p.wait(ctx, p.cfg.Player.FullPoll)
			continue
		}

		if err := p.dmx.ReadPacket(&pkt); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				p.log.Warn("read failed, ending input", "error", err)
			} else {
				p.log.Debug("end of input")
			}
			p.putDrain(ctx)
			p.eof.Store(true)
			continue
		}

		s := p.streamFor(pkt.StreamIndex)
		if s == nil || s.closed() {
			continue
		}
		if !p.waitFits(ctx, s, len(pkt.Data)) {
			continue
		}
		if err := s.pktq.Put(&pkt); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// queuesFull reports whether the demux goroutine should stop reading: the
// queues together exceed their byte budget, one of them is at its packet
// bound, or every audio and video queue holds enough to play on.
func (p *Player) queuesFull() bool {
	bytes := 0
	enough := true
	for _, s := range p.streams {
		if s.closed() {
			continue
		}
		if s.pktq.Full() {
			return true
		}
		bytes += s.pktq.Size()
		if s.info.Kind != media.KindSubtitle && !s.pktq.HasEnough(p.cfg.Queue.MinFrames, p.cfg.Queue.MinDuration) {
			enough = false
		}
	}
	return bytes > p.cfg.Queue.MaxBytes || enough
}

// waitFits waits until s can take n more bytes. It gives up when ctx is
// done or a seek is pending, in which case the packet is dropped.
func (p *Player) waitFits(ctx context.Context, s *stream, n int) bool {
	for !s.pktq.Fits(n) {
		if ctx.Err() != nil || p.seekPending() {
			return false
		}
		p.wait(ctx, p.cfg.Player.FullPoll)
	}
	return true
}

func (p *Player) wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-t.C:
	}
}

// putDrain queues an empty packet on every stream, telling its decoder to
// flush out what it buffers.
func (p *Player) putDrain(ctx context.Context) {
	for _, s := range p.streams {
		if s.closed() || !p.waitFits(ctx, s, 0) {
			continue
		}
		pkt := media.Packet{StreamIndex: s.info.Index, PTS: media.NoPTS, DTS: media.NoPTS, Pos: -1}
		s.pktq.Put(&pkt)
	}
}

func (p *Player) seekStream() int {
	if p.video != nil {
		return p.video.info.Index
	}
	return p.audio.info.Index
}

// doSeek moves the input and discards everything queued from the old
// position. A rejected seek changes nothing.
func (p *Player) doSeek(req *seekRequest) {
	for _, s := range p.streams {
		if !s.closed() {
			s.setState(StateSeeking)
		}
	}
	err := p.dmx.Seek(p.seekStream(), req.min, req.target, req.max, 0)
	for _, s := range p.streams {
		if s.State() == StateSeeking {
			s.setState(StateRunning)
		}
	}
	if err != nil {
		p.seeksRejected.Add(1)
		p.log.Warn("seek rejected", "target", req.target-p.start, "user", req.user, "error", err)
		if !req.user && p.video != nil {
			p.minSerial.Store(int64(p.video.pktq.Serial()))
		}
		return
	}

	// A user seek empties the ring before the queues so that nothing
	// decoded from the old position can be written into it.
	if req.user && p.video != nil {
		p.writeMu.Lock()
		p.raiseMinSerial(p.video.pktq.Serial() + 1)
		p.ring.Flush(p.video.info.Position(req.target))
		p.gen.Add(1)
		p.writeMu.Unlock()
		p.applySpeed()
	}
	for _, s := range p.streams {
		s.pktq.Flush()
		if s.fq != nil {
			s.fq.Flush()
		}
	}
	if p.video != nil {
		p.raiseMinSerial(p.video.pktq.Serial())
	}
	p.eof.Store(false)
	p.endReported.Store(false)

	if !req.user {
		p.repositions.Add(1)
		p.log.Debug("repositioned", "target", req.target-p.start)
		return
	}

	p.seeks.Add(1)
	p.extclk.SetAt(media.Seconds(req.target), 0)

	p.ctlMu.Lock()
	if p.paused {
		p.step = true
	}
	p.ctlMu.Unlock()
	p.log.Info("seeked", "position", req.target-p.start)
}
