package player

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/rewind/internal/codec"
	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/queue"
)

// stream is one opened elementary stream: its packet queue, its decoder,
// and for audio and subtitles the frame queue the decoder fills. Video
// frames go to the player's ring instead.
type stream struct {
	log  *slog.Logger
	info media.StreamInfo
	pktq *queue.PacketQueue
	fq   *queue.FrameQueue
	dec  codec.Decoder

	state atomic.Int32

	// Decode goroutine only.
	pkt       media.Packet
	pktSerial int

	// finished holds the packet serial at which the decoder reached the
	// end of its input, or -1.
	finished atomic.Int64

	decoded      atomic.Int64
	decodeErrors atomic.Int64
}

func newStream(info media.StreamInfo, dec codec.Decoder, pktq *queue.PacketQueue, log *slog.Logger) *stream {
	s := &stream{
		log:       log.With("stream", info.Index, "kind", info.Kind.String(), "codec", info.Codec),
		info:      info,
		pktq:      pktq,
		dec:       dec,
		pktSerial: -1,
	}
	s.pkt.Reset()
	s.finished.Store(-1)
	s.setState(StateOpened)
	return s
}

func (s *stream) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("stream state", "from", prev.String(), "to", st.String())
	}
}

func (s *stream) State() State {
	return State(s.state.Load())
}

// fail closes s after an error it cannot recover from. Its queue is
// aborted so the demuxer stops feeding it; the other streams play on.
func (s *stream) fail(op string, err error) {
	s.log.Error("stream failed, closing", "error", &StreamError{Kind: s.info.Kind, Op: op, Err: err})
	s.setState(StateClosing)
	s.pktq.Abort()
	if s.fq != nil {
		s.fq.Signal()
	}
}

func (s *stream) closed() bool {
	st := s.State()
	return st == StateClosing || st == StateClosed
}

// Finished reports whether the decoder has delivered everything queued
// since the last flush.
func (s *stream) Finished() bool {
	return s.finished.Load() == int64(s.pktq.Serial())
}

// decode produces the next frame into dst. It returns false without an
// error when the decoder reached the end of its input, and
// queue.ErrAborted when the packet queue is aborted.
//
// Packets queued before the latest flush are discarded, and the decoder
// is flushed whenever the serial of its input changes, so a frame's
// Serial always names the generation of the packets it came from.
func (s *stream) decode(dst *media.Frame) (bool, error) {
	for {
		if s.pktSerial == s.pktq.Serial() {
			for {
				err := s.dec.ReceiveFrame(dst)
				if err == nil {
					dst.Serial = s.pktSerial
					s.decoded.Add(1)
					return true, nil
				}
				if errors.Is(err, io.EOF) {
					s.finished.Store(int64(s.pktSerial))
					s.dec.Flush()
					return false, nil
				}
				if errors.Is(err, codec.ErrAgain) {
					break
				}
				s.decodeErrors.Add(1)
				s.log.Debug("receive frame failed", "error", err)
				break
			}
		}

		for {
			if _, err := s.pktq.Get(&s.pkt, true); err != nil {
				return false, err
			}
			if s.pkt.Serial != s.pktSerial {
				s.dec.Flush()
				s.finished.Store(-1)
				s.pktSerial = s.pkt.Serial
			}
			if s.pkt.Serial == s.pktq.Serial() {
				break
			}
		}

		var in *media.Packet
		if len(s.pkt.Data) > 0 {
			in = &s.pkt
		}
		if err := s.dec.SendPacket(in); err != nil {
			s.decodeErrors.Add(1)
			s.log.Debug("decode failed", "pts", s.pkt.PTS, "error", err)
		}
	}
}

// StreamStatus is a point-in-time view of one stream.
type StreamStatus struct {
	Index        int         `json:"index"`
	Kind         string      `json:"kind"`
	Codec        string      `json:"codec"`
	State        State       `json:"state"`
	Queue        queue.Stats `json:"queue"`
	Frames       int         `json:"frames,omitempty"`
	Decoded      int64       `json:"decoded"`
	DecodeErrors int64       `json:"decodeErrors"`
	Finished     bool        `json:"finished"`
}

func (s *stream) status() StreamStatus {
	st := StreamStatus{
		Index:        s.info.Index,
		Kind:         s.info.Kind.String(),
		Codec:        s.info.Codec,
		State:        s.State(),
		Queue:        s.pktq.Stats(),
		Decoded:      s.decoded.Load(),
		DecodeErrors: s.decodeErrors.Load(),
		Finished:     s.Finished(),
	}
	if s.fq != nil {
		st.Frames = s.fq.Remaining()
	}
	return st
}
