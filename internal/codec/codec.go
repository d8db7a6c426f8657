// Package codec provides the decoders the player drives through its
// send/receive interface. Video and audio decoders are framing-only: they
// validate and time each access unit and emit one frame per picture or
// AAC frame without reconstructing pixels or samples. CEA-608 captions are
// decoded to text with ccx.
package codec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zsiec/rewind/internal/demux"
	"github.com/zsiec/rewind/internal/media"
)

// ErrAgain is returned by ReceiveFrame when the decoder needs more input
// before it can produce a frame.
var ErrAgain = errors.New("codec: need more input")

// ErrDraining is returned by SendPacket after a drain was requested and
// before Flush.
var ErrDraining = errors.New("codec: decoder is draining")

// ErrNoKeyframe is returned for inter-coded pictures received before the
// first keyframe following Open or Flush.
var ErrNoKeyframe = errors.New("codec: no reference keyframe")

// Decoder turns packets of one stream into frames.
//
// SendPacket with a nil packet starts draining: ReceiveFrame then returns
// the buffered frames followed by io.EOF. Flush discards buffered frames
// and leaves draining mode.
type Decoder interface {
	SendPacket(pkt *media.Packet) error
	ReceiveFrame(dst *media.Frame) error
	Flush()
	Close() error
}

// Factory opens decoders by codec name.
type Factory struct {
	log *slog.Logger
}

// NewFactory returns a Factory. If log is nil, slog.Default() is used.
func NewFactory(log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{log: log.With("component", "codec")}
}

// Open returns a decoder for the stream described by info.
func (f *Factory) Open(info media.StreamInfo) (Decoder, error) {
	log := f.log.With("stream", info.Index, "codec", info.Codec)
	switch info.Codec {
	case demux.CodecH264, demux.CodecH265:
		if info.FrameDuration <= 0 {
			return nil, fmt.Errorf("codec: %s stream %d has no frame duration", info.Codec, info.Index)
		}
		log.Debug("opening video decoder")
		return NewVideoDecoder(info), nil
	case demux.CodecAAC:
		if info.SampleRate <= 0 {
			return nil, fmt.Errorf("codec: aac stream %d has no sample rate", info.Index)
		}
		log.Debug("opening audio decoder")
		return NewAudioDecoder(info), nil
	case demux.CodecCEA608:
		log.Debug("opening caption decoder")
		return NewCaptionDecoder(info, log), nil
	}
	return nil, fmt.Errorf("codec: unsupported codec %q", info.Codec)
}

// fifo is the output side shared by the decoders: frames wait here until
// received.
type fifo struct {
	frames   []media.Frame
	draining bool
}

func (q *fifo) push(f *media.Frame) {
	q.frames = append(q.frames, media.Frame{})
	q.frames[len(q.frames)-1].CopyFrom(f)
}

// pop moves the first frame into dst once more than hold frames are
// buffered, or any frame while draining.
func (q *fifo) pop(dst *media.Frame, hold int) error {
	if len(q.frames) == 0 {
		if q.draining {
			return io.EOF
		}
		return ErrAgain
	}
	if len(q.frames) <= hold && !q.draining {
		return ErrAgain
	}
	dst.CopyFrom(&q.frames[0])
	q.frames = q.frames[1:]
	return nil
}

func (q *fifo) reset() {
	q.frames = q.frames[:0]
	q.draining = false
}
