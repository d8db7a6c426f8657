package player

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/rewind/internal/codec"
	"github.com/zsiec/rewind/internal/config"
	"github.com/zsiec/rewind/internal/media"
)

const (
	testFrame = 2 * time.Millisecond
	testStart = time.Second
	badByte   = 0xFF
)

var errSeekRange = errors.New("fake: no keyframe in range")

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Player.RefreshRate = time.Millisecond
	cfg.Player.FullPoll = time.Millisecond
	cfg.Player.FrameDrop = false
	cfg.Player.AutoExit = true
	cfg.Sync.Master = MasterVideo
	return cfg
}

// fakeDemuxer serves a fixed packet list. Video packets are keyframes
// every gop frames; an audio packet follows every video packet.
type fakeDemuxer struct {
	mu          sync.Mutex
	streams     []media.StreamInfo
	pkts        []media.Packet
	idx         int
	notSeekable bool
	seeks       int
	closed      bool
}

func newFakeDemuxer(frames, gop int, video, audio bool) *fakeDemuxer {
	d := &fakeDemuxer{}
	if video {
		d.streams = append(d.streams, media.StreamInfo{
			Index: len(d.streams), Kind: media.KindVideo, Codec: "fake-video",
			StartTime: testStart, FrameDuration: testFrame,
		})
	}
	if audio {
		d.streams = append(d.streams, media.StreamInfo{
			Index: len(d.streams), Kind: media.KindAudio, Codec: "fake-audio",
			StartTime: testStart, SampleRate: 48000, Channels: 2,
		})
	}
	for i := range frames {
		pts := testStart + time.Duration(i)*testFrame
		for _, info := range d.streams {
			d.pkts = append(d.pkts, media.Packet{
				StreamIndex: info.Index,
				PTS:         pts,
				DTS:         pts,
				Duration:    testFrame,
				Data:        []byte{byte(i)},
				KeyFrame:    info.Kind == media.KindAudio || i%gop == 0,
				Pos:         int64(len(d.pkts)),
			})
		}
	}
	return d
}

// corrupt marks the video packet of frame i as undecodable.
func (d *fakeDemuxer) corrupt(i int) {
	for k := range d.pkts {
		pkt := &d.pkts[k]
		if pkt.StreamIndex == 0 && pkt.PTS == testStart+time.Duration(i)*testFrame {
			pkt.Data = []byte{badByte}
		}
	}
}

func (d *fakeDemuxer) Streams() []media.StreamInfo {
	return append([]media.StreamInfo(nil), d.streams...)
}

func (d *fakeDemuxer) ReadPacket(pkt *media.Packet) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.pkts) {
		return io.EOF
	}
	pkt.CopyFrom(&d.pkts[d.idx])
	d.idx++
	return nil
}

func (d *fakeDemuxer) Seek(stream int, lo, ts, hi time.Duration, _ media.SeekFlags) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	best := -1
	for i, pkt := range d.pkts {
		if pkt.StreamIndex == stream && pkt.KeyFrame && pkt.PTS <= ts && pkt.PTS >= lo {
			best = i
		}
	}
	if best < 0 {
		for i, pkt := range d.pkts {
			if pkt.StreamIndex == stream && pkt.KeyFrame && pkt.PTS > ts && pkt.PTS <= hi {
				best = i
				break
			}
		}
	}
	if best < 0 {
		return errSeekRange
	}
	d.idx = best
	d.seeks++
	return nil
}

func (d *fakeDemuxer) Seekable() bool {
	return !d.notSeekable
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// fakeDecoder emits one frame per packet and fails on packets starting
// with badByte.
type fakeDecoder struct {
	info     media.StreamInfo
	pending  []media.Frame
	draining bool
	closed   bool
}

func (d *fakeDecoder) SendPacket(pkt *media.Packet) error {
	if pkt == nil {
		d.draining = true
		return nil
	}
	if pkt.Data[0] == badByte {
		return errors.New("fake: corrupt packet")
	}
	f := media.Frame{
		Kind:     d.info.Kind,
		PTS:      pkt.PTS,
		Duration: pkt.Duration,
		KeyFrame: pkt.KeyFrame,
		Position: -1,
	}
	if d.info.Kind == media.KindAudio {
		f.NbSamples = 1024
		f.SampleRate = d.info.SampleRate
		f.Channels = d.info.Channels
	}
	d.pending = append(d.pending, f)
	return nil
}

func (d *fakeDecoder) ReceiveFrame(dst *media.Frame) error {
	if len(d.pending) == 0 {
		if d.draining {
			return io.EOF
		}
		return codec.ErrAgain
	}
	dst.CopyFrom(&d.pending[0])
	d.pending = d.pending[1:]
	return nil
}

func (d *fakeDecoder) Flush() {
	d.pending = nil
	d.draining = false
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeFactory struct {
	fail map[media.Kind]error
}

func (f fakeFactory) Open(info media.StreamInfo) (codec.Decoder, error) {
	if err := f.fail[info.Kind]; err != nil {
		return nil, err
	}
	return &fakeDecoder{info: info}, nil
}

// recordRenderer keeps the position of every rendered picture and calls
// onRender, if set, after recording.
type recordRenderer struct {
	mu        sync.Mutex
	positions []int64
	subtitles []string
	onRender  func(pos int64)
}

func (r *recordRenderer) Render(video, subtitle *media.Frame) error {
	r.mu.Lock()
	r.positions = append(r.positions, video.Position)
	if subtitle != nil {
		r.subtitles = append(r.subtitles, subtitle.Text)
	}
	fn := r.onRender
	r.mu.Unlock()
	if fn != nil {
		fn(video.Position)
	}
	return nil
}

func (r *recordRenderer) shown() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.positions...)
}

// recordSink accepts audio without pacing.
type recordSink struct {
	mu      sync.Mutex
	openErr error
	bytes   int
	writes  int
	closed  bool
	onWrite func()
}

func (s *recordSink) Open(f media.AudioFormat) (int, error) {
	if s.openErr != nil {
		return 0, s.openErr
	}
	return 1024 * f.FrameSize(), nil
}

func (s *recordSink) Write(b []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("fake: sink closed")
	}
	s.bytes += len(b)
	s.writes++
	s.mu.Unlock()
	if s.onWrite != nil {
		s.onWrite()
	}
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordSink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}
