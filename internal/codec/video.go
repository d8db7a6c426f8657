package codec

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/media"
)

// reorderDepth is how many pictures the video decoder holds back once it
// has seen a packet whose PTS differs from its DTS.
const reorderDepth = 2

// VideoDecoder emits one frame per H.264 or H.265 access unit, in
// presentation order. The frame carries the access unit bytes as its
// picture data.
type VideoDecoder struct {
	info    media.StreamInfo
	hevc    bool
	out     fifo
	reorder bool
	needKey bool
	frame   media.Frame
}

// NewVideoDecoder returns a decoder for info, which must have a frame
// duration.
func NewVideoDecoder(info media.StreamInfo) *VideoDecoder {
	return &VideoDecoder{
		info:    info,
		hevc:    info.Codec == demux.CodecH265,
		needKey: true,
	}
}

// SendPacket parses one access unit. Pictures before the first keyframe
// are rejected with ErrNoKeyframe.
func (d *VideoDecoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.out.draining = true
		return nil
	}
	if d.out.draining {
		return ErrDraining
	}

	var nals []demux.NALUnit
	if d.hevc {
		nals = demux.ParseAnnexBHEVC(pkt.Data)
	} else {
		nals = demux.ParseAnnexB(pkt.Data)
	}
	if len(nals) == 0 {
		return fmt.Errorf("codec: %s: no NAL units in %d byte packet", d.info.Codec, len(pkt.Data))
	}

	key := pkt.KeyFrame
	for _, nal := range nals {
		if d.hevc && demux.IsHEVCKeyframe(nal.Type) || !d.hevc && demux.IsKeyframe(nal.Type) {
			key = true
		}
	}
	if d.needKey && !key {
		return ErrNoKeyframe
	}
	d.needKey = false

	pts := pkt.PTS
	if pts == media.NoPTS {
		pts = pkt.DTS
	}
	if pkt.DTS != media.NoPTS && pts != pkt.DTS {
		d.reorder = true
	}
	dur := pkt.Duration
	if dur <= 0 {
		dur = d.info.FrameDuration
	}

	f := &d.frame
	f.Reset()
	f.Kind = media.KindVideo
	f.PTS = pts
	f.Duration = dur
	f.Position = d.info.Position(pts)
	f.KeyFrame = key
	f.Data = append(f.Data, pkt.Data...)
	d.out.push(f)
	slices.SortStableFunc(d.out.frames, func(a, b media.Frame) int {
		return cmp.Compare(a.PTS, b.PTS)
	})
	return nil
}

// ReceiveFrame returns the next picture in presentation order.
func (d *VideoDecoder) ReceiveFrame(dst *media.Frame) error {
	hold := 0
	if d.reorder {
		hold = reorderDepth
	}
	return d.out.pop(dst, hold)
}

// Flush drops buffered pictures. The next picture must be a keyframe.
func (d *VideoDecoder) Flush() {
	d.out.reset()
	d.needKey = true
}

// Close releases nothing; it exists to satisfy Decoder.
func (d *VideoDecoder) Close() error {
	return nil
}
