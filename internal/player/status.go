package player

import (
	"time"

	"github.com/zsiec/rewind/internal/clock"
	"github.com/zsiec/rewind/internal/ringbuf"
)

// Status is a point-in-time snapshot of playback.
type Status struct {
	State     State          `json:"state"`
	Position  time.Duration  `json:"position"`
	Paused    bool           `json:"paused"`
	Speed     float64        `json:"speed"`
	Direction string         `json:"direction"`
	Master    string         `json:"master"`
	EOF       bool           `json:"eof"`
	Video     clock.State    `json:"videoClock"`
	Audio     clock.State    `json:"audioClock"`
	External  clock.State    `json:"externalClock"`
	Ring      *ringbuf.Stats `json:"ring,omitempty"`
	Streams   []StreamStatus `json:"streams"`

	FramesShown      int64 `json:"framesShown"`
	FramesDropped    int64 `json:"framesDropped"`
	FramesDuplicated int64 `json:"framesDuplicated"`
	Seeks            int64 `json:"seeks"`
	SeeksRejected    int64 `json:"seeksRejected"`
	Repositions      int64 `json:"repositions"`
}

// Status returns the current playback status. It is safe to call at any
// time, including before Open and after Close.
func (p *Player) Status() Status {
	st := Status{
		State:            p.State(),
		Paused:           p.isPaused(),
		Speed:            p.Speed(),
		Direction:        p.Direction().String(),
		EOF:              p.eof.Load(),
		FramesShown:      p.shown.Load(),
		FramesDropped:    p.dropped.Load(),
		FramesDuplicated: p.duplicated.Load(),
		Seeks:            p.seeks.Load(),
		SeeksRejected:    p.seeksRejected.Load(),
		Repositions:      p.repositions.Load(),
	}
	if p.vidclk == nil {
		return st
	}
	st.Position = p.Position()
	st.Master = p.master()
	st.Video = p.vidclk.Snapshot()
	st.Audio = p.audclk.Snapshot()
	st.External = p.extclk.Snapshot()
	if p.ring != nil {
		rs := p.ring.Stats()
		st.Ring = &rs
	}
	for _, s := range p.streams {
		st.Streams = append(st.Streams, s.status())
	}
	return st
}
