package demux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/mpegts"
)

const (
	testPMTPID   = 0x1000
	testVideoPID = 0x100
	testAudioPID = 0x101

	testFrameTicks = 3600 // 25 fps
	testAudioTicks = 1920 // 1024 samples at 48 kHz
	testStartTicks = 90000
	testGOP        = 10
)

type testStream struct {
	data      []byte
	offsets   []int64 // byte offset of each video PES
	captionAt int
}

// buildTS writes frames video access units at 25 fps with an IDR every
// testGOP frames, interleaved with one ADTS frame per video frame after
// the first. When captionAt >= 0, that frame carries a caption SEI.
func buildTS(t *testing.T, frames, captionAt int) *testStream {
	t.Helper()
	var buf bytes.Buffer
	m, err := mpegts.NewMuxer(&buf, testPMTPID, []mpegts.ElementaryStream{
		{PID: testVideoPID, StreamType: mpegts.StreamTypeH264},
		{PID: testAudioPID, StreamType: mpegts.StreamTypeAAC},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteTables(); err != nil {
		t.Fatal(err)
	}

	ts := &testStream{captionAt: captionAt}
	for i := range frames {
		key := i%testGOP == 0
		var au []byte
		if key {
			au = AppendAnnexB(au, []byte{0x67, 0x42, 0xE0, 0x1E}, []byte{0x68, 0xCE, 0x38, 0x80})
		}
		if i == captionAt {
			au = AppendAnnexB(au, CaptionSEI(CaptionField1, [2]byte{'H', 'I'}))
		}
		if key {
			au = AppendAnnexB(au, []byte{0x65, 0x88, 0x84, byte(i)})
		} else {
			au = AppendAnnexB(au, []byte{0x41, 0x9A, byte(i)})
		}

		pts := int64(testStartTicks + i*testFrameTicks)
		ts.offsets = append(ts.offsets, m.Written())
		if err := m.WritePES(testVideoPID, mpegts.StreamIDVideo, pts, pts, au, key); err != nil {
			t.Fatal(err)
		}
		adts, err := AppendADTS(nil, 48000, 2, []byte{byte(i), 0x21})
		if err != nil {
			t.Fatal(err)
		}
		apts := int64(testStartTicks + i*testAudioTicks)
		if err := m.WritePES(testAudioPID, mpegts.StreamIDAudio, apts, mpegts.NoTimestamp, adts, false); err != nil {
			t.Fatal(err)
		}
	}
	ts.data = buf.Bytes()
	return ts
}

func frameTime(i int) time.Duration {
	return time.Second + time.Duration(i)*40*time.Millisecond
}

func openTest(t *testing.T, src io.Reader) *TSDemuxer {
	t.Helper()
	d, err := Open(context.Background(), src, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func nextVideo(t *testing.T, d *TSDemuxer) media.Packet {
	t.Helper()
	var pkt media.Packet
	for {
		if err := d.ReadPacket(&pkt); err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		if pkt.StreamIndex == 0 {
			return pkt
		}
	}
}

func TestOpenStreams(t *testing.T) {
	t.Parallel()
	d := openTest(t, bytes.NewReader(buildTS(t, 30, -1).data))

	streams := d.Streams()
	if len(streams) != 3 {
		t.Fatalf("got %d streams, want 3", len(streams))
	}

	v := streams[0]
	if v.Kind != media.KindVideo || v.Codec != CodecH264 || v.PID != testVideoPID {
		t.Errorf("video stream = %+v", v)
	}
	if v.FrameDuration != 40*time.Millisecond {
		t.Errorf("frame duration = %v, want 40ms", v.FrameDuration)
	}
	if v.StartTime != time.Second {
		t.Errorf("start time = %v, want 1s", v.StartTime)
	}

	a := streams[1]
	if a.Kind != media.KindAudio || a.Codec != CodecAAC || a.SampleRate != 48000 || a.Channels != 2 {
		t.Errorf("audio stream = %+v", a)
	}
	if want := 1024 * time.Second / 48000; a.FrameDuration != want {
		t.Errorf("audio frame duration = %v, want %v", a.FrameDuration, want)
	}

	s := streams[2]
	if s.Kind != media.KindSubtitle || s.Codec != CodecCEA608 || s.StartTime != time.Second {
		t.Errorf("subtitle stream = %+v", s)
	}
}

func TestOpenNoProgram(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), bytes.NewReader(make([]byte, 10*mpegts.PacketSize)), nil)
	if err == nil {
		t.Fatal("expected error for a source without a PMT")
	}
}

func TestReadPacketSequence(t *testing.T) {
	t.Parallel()
	const frames = 30
	d := openTest(t, bytes.NewReader(buildTS(t, frames, -1).data))

	var video, audio int
	var pkt media.Packet
	for {
		err := d.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket: %v", err)
		}
		switch pkt.StreamIndex {
		case 0:
			if pkt.PTS != frameTime(video) {
				t.Errorf("video %d: PTS %v, want %v", video, pkt.PTS, frameTime(video))
			}
			if pkt.KeyFrame != (video%testGOP == 0) {
				t.Errorf("video %d: keyframe %v", video, pkt.KeyFrame)
			}
			if pkt.Duration != 40*time.Millisecond {
				t.Errorf("video %d: duration %v", video, pkt.Duration)
			}
			video++
		case 1:
			want := time.Second + time.Duration(audio)*1024*time.Second/48000
			if pkt.PTS != want {
				t.Errorf("audio %d: PTS %v, want %v", audio, pkt.PTS, want)
			}
			audio++
		default:
			t.Errorf("unexpected packet on stream %d", pkt.StreamIndex)
		}
	}
	if video != frames || audio != frames {
		t.Errorf("read %d video and %d audio packets, want %d each", video, audio, frames)
	}
}

func TestReadPacketSplitsADTS(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	m, err := mpegts.NewMuxer(&buf, testPMTPID, []mpegts.ElementaryStream{
		{PID: testAudioPID, StreamType: mpegts.StreamTypeAAC},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.WriteTables(); err != nil {
		t.Fatal(err)
	}
	var adts []byte
	for i := range 3 {
		if adts, err = AppendADTS(adts, 48000, 2, []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}
	if err := m.WritePES(testAudioPID, mpegts.StreamIDAudio, 0, mpegts.NoTimestamp, adts, false); err != nil {
		t.Fatal(err)
	}

	d := openTest(t, bytes.NewReader(buf.Bytes()))
	if n := len(d.Streams()); n != 1 {
		t.Fatalf("got %d streams, want 1 (no captions without video)", n)
	}

	var pkt media.Packet
	for i := range 3 {
		if err := d.ReadPacket(&pkt); err != nil {
			t.Fatalf("ReadPacket %d: %v", i, err)
		}
		want := time.Duration(i) * 1024 * time.Second / 48000
		if pkt.PTS != want {
			t.Errorf("frame %d: PTS %v, want %v", i, pkt.PTS, want)
		}
		if len(pkt.Data) != 8 || pkt.Data[7] != byte(i) {
			t.Errorf("frame %d: data % X", i, pkt.Data)
		}
	}
	if err := d.ReadPacket(&pkt); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestReadPacketCaptions(t *testing.T) {
	t.Parallel()
	d := openTest(t, bytes.NewReader(buildTS(t, 20, 7).data))

	var got []media.Packet
	var pkt media.Packet
	for {
		err := d.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if pkt.StreamIndex == 2 {
			var p media.Packet
			p.CopyFrom(&pkt)
			got = append(got, p)
		}
	}
	if len(got) != 1 {
		t.Fatalf("got %d caption packets, want 1", len(got))
	}
	if got[0].PTS != frameTime(7) {
		t.Errorf("caption PTS = %v, want %v", got[0].PTS, frameTime(7))
	}
	if want := CaptionSEI(CaptionField1, [2]byte{'H', 'I'}); !bytes.Equal(got[0].Data, want) {
		t.Errorf("caption data = % X, want % X", got[0].Data, want)
	}
	if d.CaptionPackets() != 1 {
		t.Errorf("CaptionPackets() = %d, want 1", d.CaptionPackets())
	}
}

func TestSeek(t *testing.T) {
	t.Parallel()
	unbounded := time.Duration(math.MaxInt64)
	tests := []struct {
		name       string
		lo, ts, hi time.Duration
		wantFrame  int
	}{
		{"exact keyframe", media.NoPTS, frameTime(20), unbounded, 20},
		{"keyframe before target", media.NoPTS, frameTime(25), unbounded, 20},
		{"keyframe after target", frameTime(25), frameTime(25), unbounded, 30},
		{"before start", media.NoPTS, 0, unbounded, 0},
		{"past last keyframe", media.NoPTS, frameTime(100), unbounded, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := openTest(t, bytes.NewReader(buildTS(t, 40, -1).data))
			if !d.Seekable() {
				t.Fatal("bytes.Reader source should be seekable")
			}
			if err := d.Seek(0, tt.lo, tt.ts, tt.hi, 0); err != nil {
				t.Fatalf("Seek: %v", err)
			}
			pkt := nextVideo(t, d)
			if pkt.PTS != frameTime(tt.wantFrame) {
				t.Errorf("first video PTS = %v, want %v", pkt.PTS, frameTime(tt.wantFrame))
			}
			if !pkt.KeyFrame {
				t.Error("first packet after seek is not a keyframe")
			}
		})
	}
}

func TestSeekBackwardAfterReading(t *testing.T) {
	t.Parallel()
	d := openTest(t, bytes.NewReader(buildTS(t, 40, -1).data))
	for range 35 {
		nextVideo(t, d)
	}
	if err := d.Seek(0, media.NoPTS, frameTime(12), frameTime(12), 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pkt := nextVideo(t, d); pkt.PTS != frameTime(10) {
		t.Errorf("first video PTS = %v, want %v", pkt.PTS, frameTime(10))
	}
	for i := 11; i < 15; i++ {
		if pkt := nextVideo(t, d); pkt.PTS != frameTime(i) {
			t.Errorf("video PTS = %v, want %v", pkt.PTS, frameTime(i))
		}
	}
}

func TestSeekOutOfRange(t *testing.T) {
	t.Parallel()
	d := openTest(t, bytes.NewReader(buildTS(t, 40, -1).data))
	err := d.Seek(0, frameTime(25), frameTime(25), frameTime(25), 0)
	if !errors.Is(err, ErrSeekRange) {
		t.Errorf("err = %v, want ErrSeekRange", err)
	}
}

func TestSeekByte(t *testing.T) {
	t.Parallel()
	ts := buildTS(t, 40, -1)
	d := openTest(t, bytes.NewReader(ts.data))
	// Mid-packet offsets round down to the packet boundary.
	if err := d.Seek(0, 0, time.Duration(ts.offsets[30]+5), 0, media.SeekByte); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if pkt := nextVideo(t, d); pkt.PTS != frameTime(30) {
		t.Errorf("first video PTS = %v, want %v", pkt.PTS, frameTime(30))
	}
}

func TestSeekNotSeekable(t *testing.T) {
	t.Parallel()
	d := openTest(t, io.MultiReader(bytes.NewReader(buildTS(t, 20, -1).data)))
	if d.Seekable() {
		t.Error("MultiReader source reported seekable")
	}
	if err := d.Seek(0, media.NoPTS, frameTime(10), frameTime(10), 0); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("err = %v, want ErrNotSeekable", err)
	}
	// Reading continues after a rejected seek.
	if pkt := nextVideo(t, d); pkt.PTS != frameTime(0) {
		t.Errorf("first video PTS = %v, want %v", pkt.PTS, frameTime(0))
	}
}

func TestIndexAll(t *testing.T) {
	t.Parallel()
	d := openTest(t, bytes.NewReader(buildTS(t, 40, -1).data))
	if err := d.IndexAll(); err != nil {
		t.Fatalf("IndexAll: %v", err)
	}
	if got, want := d.Duration(), 30*40*time.Millisecond; got != want {
		t.Errorf("Duration() = %v, want %v", got, want)
	}
	if pkt := nextVideo(t, d); pkt.PTS != frameTime(0) {
		t.Errorf("first video PTS after IndexAll = %v, want %v", pkt.PTS, frameTime(0))
	}
}

type closeRecorder struct {
	*bytes.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestCloseClosesSource(t *testing.T) {
	t.Parallel()
	src := &closeRecorder{Reader: bytes.NewReader(buildTS(t, 10, -1).data)}
	d, err := Open(context.Background(), src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !src.closed {
		t.Error("source was not closed")
	}
}
