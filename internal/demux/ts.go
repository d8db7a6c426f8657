package demux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/zsiec/ccx"
	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/mpegts"
)

// ErrNotSeekable is returned by Seek on live sources.
var ErrNotSeekable = mpegts.ErrNotSeekable

// ErrSeekRange is returned by Seek when no keyframe lies inside the
// requested range.
var ErrSeekRange = errors.New("demux: no keyframe in seek range")

// Codec names reported in media.StreamInfo.
const (
	CodecH264   = "h264"
	CodecH265   = "h265"
	CodecAAC    = "aac"
	CodecCEA608 = "cea608"
)

// maxProbeUnits bounds how much of the stream Open reads to discover the
// streams and the video frame rate.
const maxProbeUnits = 4096

const defaultFrameDuration = 40 * time.Millisecond

// keyframe is one entry of the seek index.
type keyframe struct {
	pts    time.Duration
	offset int64
}

// TSDemuxer reads an MPEG transport stream and returns one media.Packet
// per video access unit, AAC frame, or caption-bearing SEI message.
//
// It is used by a single goroutine; no method is safe for concurrent use.
type TSDemuxer struct {
	log    *slog.Logger
	src    io.Reader
	ts     *mpegts.Demuxer
	closer io.Closer

	streams  []media.StreamInfo
	byPID    map[uint16]int
	hevc     bool
	video    int
	subtitle int
	indexPID uint16

	// probed holds units read by Open, replayed before reading on.
	probed  []*mpegts.Unit
	pending []media.Packet

	index       []keyframe
	indexedAll  bool
	captionPkts int64
}

// Open probes src for its program and returns a demuxer positioned at the
// start of the stream. src is seekable when it implements io.Seeker; it is
// closed by Close when it implements io.Closer. If log is nil,
// slog.Default() is used.
func Open(ctx context.Context, src io.Reader, log *slog.Logger) (*TSDemuxer, error) {
	if log == nil {
		log = slog.Default()
	}
	d := &TSDemuxer{
		log:      log.With("component", "demux"),
		src:      src,
		ts:       mpegts.NewDemuxer(ctx, src),
		byPID:    make(map[uint16]int),
		video:    -1,
		subtitle: -1,
	}
	if c, ok := src.(io.Closer); ok {
		d.closer = c
	}
	if err := d.probe(); err != nil {
		return nil, err
	}
	return d, nil
}

// probe reads until the PMT is known and the video frame duration can be
// measured from two timestamps, or the probe budget runs out.
func (d *TSDemuxer) probe() error {
	var pmt *mpegts.PMT
	firstPTS := map[uint16]int64{}
	var videoDTS []int64
	var audio *AACFrame

	for range maxProbeUnits {
		u, err := d.ts.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("demux: probe: %w", err)
		}
		d.probed = append(d.probed, u)

		switch {
		case u.PMT != nil && pmt == nil:
			pmt = u.PMT
		case u.PES != nil && pmt != nil:
			pes := u.PES
			if _, ok := firstPTS[pes.PID]; !ok && pes.PTS != mpegts.NoTimestamp {
				firstPTS[pes.PID] = pes.PTS
			}
			es := findES(pmt, pes.PID)
			switch {
			case es == nil:
			case isVideo(es.StreamType):
				if pes.DTS != mpegts.NoTimestamp && len(videoDTS) < 2 {
					videoDTS = append(videoDTS, pes.DTS)
				}
			case es.StreamType == mpegts.StreamTypeAAC && audio == nil:
				if frames, err := ParseADTS(pes.Data); err == nil && len(frames) > 0 {
					audio = &frames[0]
				}
			}
		}
		if pmt != nil && d.probeDone(pmt, videoDTS, audio) {
			break
		}
	}
	if pmt == nil {
		return fmt.Errorf("demux: no program map table found")
	}

	for _, es := range pmt.ElementaryStreams {
		info := media.StreamInfo{Index: len(d.streams), PID: es.PID}
		switch {
		case isVideo(es.StreamType) && d.video < 0:
			info.Kind = media.KindVideo
			info.Codec = CodecH264
			if es.StreamType == mpegts.StreamTypeH265 {
				info.Codec = CodecH265
				d.hevc = true
			}
			info.FrameDuration = defaultFrameDuration
			if len(videoDTS) == 2 && videoDTS[1] > videoDTS[0] {
				info.FrameDuration = toDuration(videoDTS[1] - videoDTS[0])
			}
			d.video = info.Index
			d.indexPID = es.PID
		case es.StreamType == mpegts.StreamTypeAAC && audio != nil:
			info.Kind = media.KindAudio
			info.Codec = CodecAAC
			info.SampleRate = audio.SampleRate
			info.Channels = audio.Channels
			info.FrameDuration = time.Duration(SamplesPerAACFrame) * time.Second / time.Duration(audio.SampleRate)
		default:
			d.log.Debug("ignoring elementary stream", "pid", es.PID, "stream_type", es.StreamType)
			continue
		}
		if pts, ok := firstPTS[es.PID]; ok {
			info.StartTime = toDuration(pts)
		}
		d.byPID[es.PID] = info.Index
		d.streams = append(d.streams, info)
	}
	if len(d.streams) == 0 {
		return fmt.Errorf("demux: no supported elementary streams")
	}

	if d.video >= 0 {
		v := d.streams[d.video]
		d.subtitle = len(d.streams)
		d.streams = append(d.streams, media.StreamInfo{
			Index:     d.subtitle,
			Kind:      media.KindSubtitle,
			Codec:     CodecCEA608,
			PID:       v.PID,
			StartTime: v.StartTime,
		})
	} else {
		d.indexPID = d.streams[0].PID
	}

	for _, s := range d.streams {
		d.log.Info("found stream", "index", s.Index, "kind", s.Kind, "codec", s.Codec, "pid", s.PID,
			"start", s.StartTime, "frame_duration", s.FrameDuration)
	}
	return nil
}

func (d *TSDemuxer) probeDone(pmt *mpegts.PMT, videoDTS []int64, audio *AACFrame) bool {
	for _, es := range pmt.ElementaryStreams {
		switch {
		case isVideo(es.StreamType) && len(videoDTS) < 2:
			return false
		case es.StreamType == mpegts.StreamTypeAAC && audio == nil:
			return false
		}
	}
	return true
}

func findES(pmt *mpegts.PMT, pid uint16) *mpegts.ElementaryStream {
	for i := range pmt.ElementaryStreams {
		if pmt.ElementaryStreams[i].PID == pid {
			return &pmt.ElementaryStreams[i]
		}
	}
	return nil
}

func isVideo(streamType uint8) bool {
	return streamType == mpegts.StreamTypeH264 || streamType == mpegts.StreamTypeH265
}

// toDuration converts a 90 kHz timestamp.
func toDuration(ts int64) time.Duration {
	if ts == mpegts.NoTimestamp {
		return media.NoPTS
	}
	return time.Duration(ts) * time.Second / 90000
}

// Streams returns the elementary streams found by Open.
func (d *TSDemuxer) Streams() []media.StreamInfo {
	return slices.Clone(d.streams)
}

// Seekable reports whether Seek can succeed.
func (d *TSDemuxer) Seekable() bool {
	_, ok := d.src.(io.Seeker)
	return ok
}

// CaptionPackets returns the number of caption packets read so far.
func (d *TSDemuxer) CaptionPackets() int64 {
	return d.captionPkts
}

// ReadPacket fills pkt with the next packet. It returns io.EOF at the end
// of the source.
func (d *TSDemuxer) ReadPacket(pkt *media.Packet) error {
	for len(d.pending) == 0 {
		u, err := d.nextUnit()
		if err != nil {
			return err
		}
		if u.PES != nil {
			d.handlePES(u.PES)
		}
	}
	pkt.CopyFrom(&d.pending[0])
	d.pending = d.pending[1:]
	return nil
}

func (d *TSDemuxer) nextUnit() (*mpegts.Unit, error) {
	if len(d.probed) > 0 {
		u := d.probed[0]
		d.probed = d.probed[1:]
		return u, nil
	}
	return d.ts.Next()
}

func (d *TSDemuxer) handlePES(pes *mpegts.PES) {
	idx, ok := d.byPID[pes.PID]
	if !ok || len(pes.Data) == 0 {
		return
	}
	info := d.streams[idx]
	switch info.Kind {
	case media.KindVideo:
		d.handleVideo(info, pes)
	case media.KindAudio:
		d.handleAudio(info, pes)
	}
}

func (d *TSDemuxer) handleVideo(info media.StreamInfo, pes *mpegts.PES) {
	au := scanAccessUnit(pes.Data, d.hevc)
	key := au.keyframe || pes.RandomAccess
	pts := toDuration(pes.PTS)
	if key {
		d.addKeyframe(pts, pes.Offset)
	}
	d.pending = append(d.pending, media.Packet{
		StreamIndex: info.Index,
		PTS:         pts,
		DTS:         toDuration(pes.DTS),
		Duration:    info.FrameDuration,
		Data:        pes.Data,
		KeyFrame:    key,
		Pos:         pes.Offset,
	})

	for _, sei := range au.sei {
		cd := ccx.ExtractCaptions(sei)
		if cd == nil || len(cd.CC608Pairs) == 0 {
			continue
		}
		d.captionPkts++
		d.pending = append(d.pending, media.Packet{
			StreamIndex: d.subtitle,
			PTS:         pts,
			DTS:         pts,
			Data:        sei,
			KeyFrame:    true,
			Pos:         pes.Offset,
		})
	}
}

func (d *TSDemuxer) handleAudio(info media.StreamInfo, pes *mpegts.PES) {
	if info.Index == d.byPID[d.indexPID] {
		d.addKeyframe(toDuration(pes.PTS), pes.Offset)
	}
	frames, err := ParseADTS(pes.Data)
	if err != nil {
		d.log.Debug("dropping malformed ADTS", "offset", pes.Offset, "error", err)
	}
	pts := toDuration(pes.PTS)
	for i, f := range frames {
		fpts := pts
		if pts != media.NoPTS && f.SampleRate > 0 {
			fpts += time.Duration(i*SamplesPerAACFrame) * time.Second / time.Duration(f.SampleRate)
		}
		d.pending = append(d.pending, media.Packet{
			StreamIndex: info.Index,
			PTS:         fpts,
			DTS:         fpts,
			Duration:    info.FrameDuration,
			Data:        f.Data,
			KeyFrame:    true,
			Pos:         pes.Offset,
		})
	}
}

// addKeyframe extends the seek index. Entries arrive in stream order; ones
// at or before the last indexed offset were indexed already.
func (d *TSDemuxer) addKeyframe(pts time.Duration, offset int64) {
	if pts == media.NoPTS {
		return
	}
	if n := len(d.index); n > 0 && offset <= d.index[n-1].offset {
		return
	}
	d.index = append(d.index, keyframe{pts: pts, offset: offset})
}

// Seek repositions the source so that the next packets start at the
// keyframe with the largest timestamp at or before ts that is not below
// lo. If there is none, the first keyframe after ts not above hi is used.
// With media.SeekByte, ts is a byte offset and lo and hi are ignored.
// stream is ignored: the index is built from the video stream, or the
// first stream when there is no video.
func (d *TSDemuxer) Seek(stream int, lo, ts, hi time.Duration, flags media.SeekFlags) error {
	if !d.Seekable() {
		return ErrNotSeekable
	}
	if flags&media.SeekByte != 0 {
		return d.seekOffset(int64(ts))
	}
	if err := d.indexThrough(ts); err != nil {
		return err
	}

	i, _ := slices.BinarySearchFunc(d.index, ts, func(k keyframe, t time.Duration) int {
		switch {
		case k.pts < t:
			return -1
		case k.pts > t:
			return 1
		}
		return 0
	})
	// index[i] is the first keyframe at or after ts.
	if i < len(d.index) && d.index[i].pts == ts {
		return d.seekOffset(d.index[i].offset)
	}
	if i > 0 && d.index[i-1].pts >= lo {
		return d.seekOffset(d.index[i-1].offset)
	}
	if i < len(d.index) && d.index[i].pts <= hi {
		return d.seekOffset(d.index[i].offset)
	}
	return fmt.Errorf("%w: target %s", ErrSeekRange, ts)
}

// indexThrough scans forward from the last indexed keyframe until a
// keyframe after ts is indexed or the source ends.
func (d *TSDemuxer) indexThrough(ts time.Duration) error {
	if d.indexedAll {
		return nil
	}
	if n := len(d.index); n > 0 && d.index[n-1].pts > ts {
		return nil
	}

	var from int64
	if n := len(d.index); n > 0 {
		from = d.index[n-1].offset
	}
	if err := d.ts.Seek(from); err != nil {
		return err
	}
	d.log.Debug("indexing keyframes", "from", from, "target", ts)

	for {
		u, err := d.ts.Next()
		if errors.Is(err, io.EOF) {
			d.indexedAll = true
			return nil
		}
		if err != nil {
			return err
		}
		pes := u.PES
		if pes == nil || pes.PID != d.indexPID {
			continue
		}
		pts := toDuration(pes.PTS)
		if d.streams[d.byPID[pes.PID]].Kind == media.KindVideo &&
			!pes.RandomAccess && !scanAccessUnit(pes.Data, d.hevc).keyframe {
			continue
		}
		d.addKeyframe(pts, pes.Offset)
		if pts > ts {
			return nil
		}
	}
}

func (d *TSDemuxer) seekOffset(offset int64) error {
	if err := d.ts.Seek(offset); err != nil {
		return err
	}
	d.probed = nil
	d.pending = d.pending[:0]
	return nil
}

// Duration returns the timestamp of the last indexed keyframe relative to
// the start, or 0 when nothing is indexed.
func (d *TSDemuxer) Duration() time.Duration {
	if len(d.index) == 0 || len(d.streams) == 0 {
		return 0
	}
	return max(d.index[len(d.index)-1].pts-d.streams[0].StartTime, 0)
}

// IndexAll scans the whole source to complete the keyframe index and then
// rewinds to the start.
func (d *TSDemuxer) IndexAll() error {
	if err := d.indexThrough(time.Duration(math.MaxInt64)); err != nil {
		return err
	}
	return d.seekOffset(0)
}

// Close closes the source when it is an io.Closer.
func (d *TSDemuxer) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}
