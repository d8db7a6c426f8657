package player

import (
	"context"
	"math"
	"time"

	"github.com/zsiec/rewind/internal/clock"
	"github.com/zsiec/rewind/internal/media"
)

func (p *Player) refreshLoop(ctx context.Context) error {
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
		t.Reset(p.Refresh())
	}
}

// Refresh shows the next picture if it is due and returns how long the
// caller may wait before calling again. Run calls it from its own loop
// unless the player was created WithExternalRefresh.
func (p *Player) Refresh() time.Duration {
	remaining := p.cfg.Player.RefreshRate
	if p.State() != StateRunning {
		return remaining
	}
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	if p.video != nil {
		p.applyDirection()
		remaining = p.refreshVideo(remaining)
	}
	p.checkEnd()
	return remaining
}

// refreshVideo advances the display by at most one picture, dropping
// pictures that are already late when frame dropping is enabled.
func (p *Player) refreshVideo(remaining time.Duration) time.Duration {
	for {
		if !p.hasNext && !p.fetch() {
			return remaining
		}
		if p.nextGen != p.gen.Load() {
			p.hasNext = false
			continue
		}
		// The first picture of a generation is due at once and restarts
		// the frame timer.
		fresh := !p.hasCur || p.curGen != p.nextGen
		if fresh && (!p.timerSet || p.timerGen != p.nextGen) {
			p.frameTimer = p.now()
			p.timerGen = p.nextGen
			p.timerSet = true
		}

		paused, step := p.pauseState()
		if paused {
			if p.hasCur && p.curGen == p.nextGen && !step {
				return remaining
			}
			p.setVideoClock(&p.next)
			p.display()
			p.clearStep()
			return remaining
		}

		speed := p.Speed()
		nominal := media.Seconds(p.next.Duration)
		last := 0.0
		if !fresh {
			last = frameDuration(p.cur.Seconds(), p.next.Seconds(), media.Seconds(p.cur.Duration))
		}
		delay := targetDelay(last/speed, p.videoDiff(), p.cfg.Sync)

		now := p.now()
		if now < p.frameTimer+delay {
			wait := time.Duration((p.frameTimer + delay - now) * float64(time.Second))
			return min(wait, remaining)
		}
		p.frameTimer += delay
		if delay > 0 && now-p.frameTimer > p.cfg.Sync.MaxThreshold {
			p.frameTimer = now
		}
		p.setVideoClock(&p.next)

		if p.cfg.Player.FrameDrop && p.master() != MasterVideo && p.ring.Stats().Readable > 0 {
			if now > p.frameTimer+nominal/speed {
				p.dropped.Add(1)
				p.hasNext = false
				continue
			}
		}
		p.display()
		return remaining
	}
}

func (p *Player) pauseState() (paused, step bool) {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	return p.paused, p.step
}

func (p *Player) clearStep() {
	p.ctlMu.Lock()
	p.step = false
	p.ctlMu.Unlock()
}

// videoDiff is the video clock minus the master clock, NaN when video is
// the master.
func (p *Player) videoDiff() float64 {
	if p.master() == MasterVideo {
		return math.NaN()
	}
	return p.vidclk.Time() - p.masterClock().Time()
}

// setVideoClock sets the video clock to f. Every picture in the ring is
// current until the ring is flushed, so the clock takes the serial of the
// packet queue rather than the one f was decoded under.
func (p *Player) setVideoClock(f *media.Frame) {
	p.vidclk.SetAt(f.Seconds(), p.video.pktq.Serial())
	clock.SyncSlaveToMaster(p.extclk, p.vidclk, p.cfg.Sync.NoSyncThreshold)
}

// fetch reads the next picture from the ring into p.next.
func (p *Player) fetch() bool {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if p.ring.Stats().Readable == 0 {
		return false
	}
	item, err := p.ring.Read()
	if err != nil {
		return false
	}
	p.next.CopyFrom(item)
	p.nextGen = p.gen.Load()
	p.hasNext = true
	return true
}

// display makes p.next the current picture and renders it with the
// subtitle active at its timestamp.
func (p *Player) display() {
	p.cur, p.next = p.next, p.cur
	p.curGen = p.nextGen
	p.hasCur = true
	p.hasNext = false
	p.lastPTS.Store(int64(p.cur.PTS))

	sub := p.subtitleFor(&p.cur)
	if err := p.renderer.Render(&p.cur, sub); err != nil {
		p.log.Debug("render failed", "position", p.cur.Position, "error", err)
	}
	p.shown.Add(1)
}

// subtitleFor returns the subtitle to show with vp, discarding expired
// ones. Subtitles are not shown during backward playback.
func (p *Player) subtitleFor(vp *media.Frame) *media.Frame {
	if p.subtitle == nil {
		return nil
	}
	fq := p.subtitle.fq
	if p.ring.Backward() {
		for fq.Remaining() > 0 {
			fq.Next()
		}
		return nil
	}
	for fq.Remaining() > 0 {
		sp := fq.PeekHead()
		var sp2 *media.Frame
		if fq.Remaining() > 1 {
			sp2 = fq.PeekNext()
		}
		if sp.Serial != fq.Serial() ||
			vp.PTS > sp.PTS+sp.End ||
			(sp2 != nil && vp.PTS > sp2.PTS+sp2.Start) {
			fq.Next()
			continue
		}
		break
	}
	if fq.Remaining() > 0 {
		if sp := fq.PeekHead(); vp.PTS >= sp.PTS+sp.Start {
			return sp
		}
	}
	return nil
}

// applyDirection reverses the ring around the displayed picture when the
// requested direction differs from the current one, and moves the input
// to where the ring now needs pictures from.
func (p *Player) applyDirection() {
	want := p.wantBackward()
	if want == p.ring.Backward() || !p.hasCur || p.hasNext || p.curGen != p.gen.Load() {
		return
	}

	p.writeMu.Lock()
	st := p.ring.Stats()
	if st.Retained == 0 || st.Backward == want {
		p.writeMu.Unlock()
		return
	}
	if _, err := p.ring.ToggleDirection(p.cur.Position); err != nil {
		p.writeMu.Unlock()
		return
	}
	st = p.ring.Stats()
	if !st.Backward || st.Pending > 0 {
		p.requestReposition(st.NextPosition)
	}
	p.writeMu.Unlock()

	p.applySpeed()
	p.frameTimer = p.now()
	p.endReported.Store(false)
	p.log.Info("direction", "direction", p.Direction().String(), "position", p.cur.Position)
}

// checkEnd reports, once per run through the input, that the end (or in
// backward mode the start) was displayed, then loops or exits as
// configured.
func (p *Player) checkEnd() {
	if p.endReported.Load() {
		return
	}
	backward := p.video != nil && p.ring.Backward()
	if backward {
		st := p.ring.Stats()
		if st.Pending > 0 || st.Readable > 0 || p.hasNext || !p.hasCur {
			return
		}
	} else if !p.eof.Load() || !p.drained() {
		return
	}
	p.endReported.Store(true)

	if backward {
		p.log.Info("start of input reached")
	} else {
		p.log.Info("end of input reached")
		if p.cfg.Player.Loop {
			if err := p.seekTo(p.start); err == nil {
				return
			}
		}
	}
	if p.cfg.Player.AutoExit {
		p.finish()
	}
}

// drained reports whether every decoder has delivered its last frame and
// every such frame has been played.
func (p *Player) drained() bool {
	for _, s := range p.streams {
		if s.closed() || s.info.Kind == media.KindSubtitle {
			continue
		}
		if !s.Finished() || s.pktq.Len() > 0 {
			return false
		}
		if s.fq != nil && s.fq.Remaining() > 0 {
			return false
		}
	}
	if p.video != nil && (p.hasNext || p.ring.Stats().Readable > 0) {
		return false
	}
	return true
}
