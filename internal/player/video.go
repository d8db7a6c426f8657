package player

import (
	"context"
	"errors"

	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/queue"
)

// videoLoop decodes pictures into the ring.
func (p *Player) videoLoop(ctx context.Context) error {
	s := p.video
	var f media.Frame
	f.Reset()
	for {
		ok, err := s.decode(&f)
		if err != nil {
			if errors.Is(err, queue.ErrAborted) || ctx.Err() != nil {
				return nil
			}
			s.fail("decode", err)
			return nil
		}
		if !ok {
			continue
		}
		f.Kind = media.KindVideo
		if err := p.writeVideo(ctx, &f); err != nil {
			return nil
		}
	}
}

// writeVideo stores f in the ring at its stream position. It returns an
// error only when ctx is done.
//
// Frames of a discarded generation, frames before the write position
// (decoder pre-roll after a seek) and, in backward mode, frames past the
// pending reverse batch are dropped. A frame beyond the write position
// fills the gap with copies of itself. When a completed write ends a
// reverse batch the input is repositioned to the start of the next one.
func (p *Player) writeVideo(ctx context.Context, f *media.Frame) error {
	s := p.video
	pos := s.info.Position(f.PTS)
	if pos < 0 && f.PTS == media.NoPTS {
		s.log.Debug("frame without timestamp dropped")
		return nil
	}
	f.Position = pos

	for {
		slot, err := p.ring.WriteRequest()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The ring was flushed or toggled; f belongs to the old layout.
			return nil
		}

		p.writeMu.Lock()
		next, valid := p.ring.Claim()
		if !valid {
			p.writeMu.Unlock()
			return nil
		}
		if f.Serial < int(p.minSerial.Load()) || f.Serial != s.pktq.Serial() {
			p.writeMu.Unlock()
			return nil
		}
		if pos < next {
			p.writeMu.Unlock()
			return nil
		}
		st := p.ring.Stats()
		if st.Backward {
			if pos > next+int64(st.Pending)-1 {
				p.writeMu.Unlock()
				return nil
			}
		} else if pos-next >= int64(st.Capacity) {
			s.log.Debug("video gap too large, resyncing", "from", next, "to", pos)
			p.ring.Flush(pos)
			p.writeMu.Unlock()
			continue
		}

		slot.CopyFrom(f)
		if pos > next {
			slot.Position = next
			slot.PTS = s.info.Timestamp(next)
			p.duplicated.Add(1)
		}
		delta, err := p.ring.WriteComplete(next)
		if err == nil && delta != 0 {
			p.requestReposition(p.ring.NextPosition())
		}
		p.writeMu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if pos == next {
			return nil
		}
	}
}

// frameLoop decodes audio or subtitle frames into s's frame queue.
func (p *Player) frameLoop(ctx context.Context, s *stream) error {
	var f media.Frame
	f.Reset()
	for {
		ok, err := s.decode(&f)
		if err != nil {
			if errors.Is(err, queue.ErrAborted) || ctx.Err() != nil {
				return nil
			}
			s.fail("decode", err)
			return nil
		}
		if !ok {
			continue
		}
		f.Kind = s.info.Kind
		slot, err := s.fq.PeekWritable()
		if err != nil {
			return nil
		}
		slot.CopyFrom(&f)
		s.fq.Push()
	}
}
