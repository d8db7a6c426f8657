// Package media defines the units that flow through the player: encoded
// packets read by a demuxer and decoded frames held in queue and ring slots.
package media

import (
	"math"
	"time"
)

// NoPTS marks a packet or frame without a presentation timestamp.
const NoPTS = time.Duration(math.MinInt64)

// Kind identifies the type of an elementary stream.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindSubtitle
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Packet is one encoded unit read from a demuxer. Data is owned by the
// Packet and reused across CopyFrom calls.
type Packet struct {
	StreamIndex int
	PTS         time.Duration
	DTS         time.Duration
	Duration    time.Duration
	Data        []byte
	KeyFrame    bool
	Pos         int64 // byte offset in the source, -1 if unknown
	Serial      int
}

// CopyFrom copies src into p, reusing p's data buffer.
func (p *Packet) CopyFrom(src *Packet) {
	data := append(p.Data[:0], src.Data...)
	*p = *src
	p.Data = data
}

// Reset clears p while keeping the capacity of its data buffer.
func (p *Packet) Reset() {
	data := p.Data[:0]
	*p = Packet{PTS: NoPTS, DTS: NoPTS, Pos: -1}
	p.Data = data
}

// Frame is one decoded unit: a video picture, a block of audio samples, or
// a subtitle. Frames live in pre-allocated slots and are mutated in place.
type Frame struct {
	Kind     Kind
	PTS      time.Duration
	Duration time.Duration
	Position int64
	Serial   int
	KeyFrame bool
	Data     []byte

	// Audio.
	NbSamples  int
	SampleRate int
	Channels   int

	// Subtitle display window relative to PTS.
	Text  string
	Start time.Duration
	End   time.Duration
}

// CopyFrom copies src into f, reusing f's data buffer.
func (f *Frame) CopyFrom(src *Frame) {
	data := append(f.Data[:0], src.Data...)
	*f = *src
	f.Data = data
}

// Reset clears f while keeping the capacity of its data buffer.
func (f *Frame) Reset() {
	data := f.Data[:0]
	*f = Frame{PTS: NoPTS, Position: -1}
	f.Data = data
}

// Seconds returns the frame PTS in seconds, or NaN if the frame has none.
func (f *Frame) Seconds() float64 {
	return Seconds(f.PTS)
}

// Seconds converts a timestamp to seconds, mapping NoPTS to NaN.
func Seconds(d time.Duration) float64 {
	if d == NoPTS {
		return math.NaN()
	}
	return d.Seconds()
}

// FromSeconds converts seconds to a timestamp, mapping NaN to NoPTS.
func FromSeconds(s float64) time.Duration {
	if math.IsNaN(s) {
		return NoPTS
	}
	return time.Duration(s * float64(time.Second))
}
