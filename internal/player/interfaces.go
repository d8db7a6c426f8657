package player

import (
	"time"

	"github.com/zsiec/rewind/internal/codec"
	"github.com/zsiec/rewind/internal/media"
)

// Demuxer reads packets of every stream of one input in file order.
// ReadPacket returns io.EOF at the end of the input. Seek repositions the
// input so that the next packet of stream belongs to a keyframe whose
// timestamp lies in [min, max], preferring the one closest to ts.
//
// A Demuxer may also implement Seekable; one that reports false makes
// every seek and backward playback fail with ErrSeekRejected.
type Demuxer interface {
	Streams() []media.StreamInfo
	ReadPacket(pkt *media.Packet) error
	Seek(stream int, min, ts, max time.Duration, flags media.SeekFlags) error
	Close() error
}

// Decoder is the send/receive decoder contract of the codec package.
type Decoder = codec.Decoder

// DecoderFactory opens a decoder for a stream.
type DecoderFactory interface {
	Open(info media.StreamInfo) (codec.Decoder, error)
}

// Resampler converts a decoded audio frame to wantedSamples samples in
// format out, appending to dst[:0].
type Resampler interface {
	Convert(dst []byte, f *media.Frame, wantedSamples int, out media.AudioFormat) ([]byte, error)
}

// AudioSink consumes interleaved PCM. Open returns the size in bytes of
// the sink's hardware buffer; Write blocks while that buffer is full.
type AudioSink interface {
	Open(f media.AudioFormat) (int, error)
	Write(samples []byte) error
	Close() error
}

// Renderer presents a video frame together with the subtitle active at
// its timestamp, or nil.
type Renderer interface {
	Render(video, subtitle *media.Frame) error
}

type seekable interface {
	Seekable() bool
}

// Direction is the direction of playback.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}
