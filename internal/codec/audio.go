package codec

import (
	"fmt"
	"time"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/media"
)

// AudioDecoder emits one frame of 1024 samples per ADTS frame. Frames
// carry no PCM data; resamplers render them as silence.
type AudioDecoder struct {
	info  media.StreamInfo
	out   fifo
	frame media.Frame
}

// NewAudioDecoder returns a decoder for the AAC stream described by info.
func NewAudioDecoder(info media.StreamInfo) *AudioDecoder {
	return &AudioDecoder{info: info}
}

// SendPacket parses the ADTS frames in pkt.
func (d *AudioDecoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.out.draining = true
		return nil
	}
	if d.out.draining {
		return ErrDraining
	}

	frames, err := demux.ParseADTS(pkt.Data)
	if err != nil {
		return fmt.Errorf("codec: aac: %w", err)
	}
	if len(frames) == 0 {
		return fmt.Errorf("codec: aac: no ADTS frame in %d byte packet", len(pkt.Data))
	}

	for i, af := range frames {
		dur := time.Duration(demux.SamplesPerAACFrame) * time.Second / time.Duration(af.SampleRate)
		f := &d.frame
		f.Reset()
		f.Kind = media.KindAudio
		f.PTS = pkt.PTS
		if f.PTS != media.NoPTS {
			f.PTS += time.Duration(i) * dur
		}
		f.Duration = dur
		f.KeyFrame = true
		f.NbSamples = demux.SamplesPerAACFrame
		f.SampleRate = af.SampleRate
		f.Channels = af.Channels
		d.out.push(f)
	}
	return nil
}

// ReceiveFrame returns the next frame in decode order.
func (d *AudioDecoder) ReceiveFrame(dst *media.Frame) error {
	return d.out.pop(dst, 0)
}

// Flush drops buffered frames.
func (d *AudioDecoder) Flush() {
	d.out.reset()
}

// Close releases nothing; it exists to satisfy Decoder.
func (d *AudioDecoder) Close() error {
	return nil
}
