package media

import "time"

// Default slot counts for the decoded frame queues: a short run of audio
// blocks, and enough subtitles to cover overlapping cues. Pictures go to
// the video ring instead.
const (
	AudioQueueSize    = 9
	SubtitleQueueSize = 16
)

// StreamInfo describes one elementary stream exposed by a demuxer.
type StreamInfo struct {
	Index         int           `json:"index"`
	Kind          Kind          `json:"kind"`
	Codec         string        `json:"codec"`
	PID           uint16        `json:"pid,omitempty"`
	StartTime     time.Duration `json:"startTime"`
	FrameDuration time.Duration `json:"frameDuration,omitempty"`
	SampleRate    int           `json:"sampleRate,omitempty"`
	Channels      int           `json:"channels,omitempty"`
}

// Position maps a timestamp to a stream position: the index of the frame
// presented at ts counted from the stream start. Streams without a frame
// duration have no positions.
func (s StreamInfo) Position(ts time.Duration) int64 {
	if s.FrameDuration <= 0 || ts == NoPTS {
		return -1
	}
	d := ts - s.StartTime
	half := s.FrameDuration / 2
	if d < 0 {
		return -int64((-d + half) / s.FrameDuration)
	}
	return int64((d + half) / s.FrameDuration)
}

// Timestamp is the inverse of Position.
func (s StreamInfo) Timestamp(pos int64) time.Duration {
	return s.StartTime + time.Duration(pos)*s.FrameDuration
}

// AudioFormat is the interleaved PCM format an audio sink consumes.
type AudioFormat struct {
	SampleRate     int `json:"sampleRate"`
	Channels       int `json:"channels"`
	BytesPerSample int `json:"bytesPerSample"`
}

// FrameSize returns the number of bytes in one sample frame (all channels).
func (f AudioFormat) FrameSize() int {
	return f.Channels * f.BytesPerSample
}

// BytesPerSecond returns the data rate of the format.
func (f AudioFormat) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

// SeekFlags modify how a demuxer resolves a seek target.
type SeekFlags int

const (
	// SeekByte makes the target a byte offset in the source instead of a
	// timestamp.
	SeekByte SeekFlags = 1 << iota
)
