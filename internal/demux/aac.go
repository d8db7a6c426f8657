package demux

import "errors"

// ErrInvalidADTS is returned when an ADTS header is malformed.
var ErrInvalidADTS = errors.New("demux: invalid ADTS header")

// SamplesPerAACFrame is the number of PCM samples per channel in one AAC
// frame.
const SamplesPerAACFrame = 1024

// AAC sampling frequency table, ISO 14496-3.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AACFrame is one ADTS frame.
type AACFrame struct {
	Data       []byte // header and payload
	SampleRate int
	Channels   int
}

// ParseADTS splits an ADTS byte stream into frames. Bytes before a sync
// word are skipped and a truncated final frame is dropped.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	off := 0
	for len(data)-off >= 7 {
		if data[off] != 0xFF || data[off+1]&0xF0 != 0xF0 {
			off++
			continue
		}

		headerSize := 7
		if data[off+1]&0x01 == 0 {
			headerSize = 9 // CRC present
		}
		rateIdx := int(data[off+2] >> 2 & 0x0F)
		if rateIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		channels := int(data[off+2]&0x01)<<2 | int(data[off+3]>>6&0x03)
		frameLen := int(data[off+3]&0x03)<<11 | int(data[off+4])<<3 | int(data[off+5]>>5)
		if frameLen < headerSize || off+frameLen > len(data) {
			break
		}

		frames = append(frames, AACFrame{
			Data:       data[off : off+frameLen],
			SampleRate: aacSampleRates[rateIdx],
			Channels:   channels,
		})
		off += frameLen
	}
	return frames, nil
}

// AppendADTS appends an ADTS frame (AAC-LC, no CRC) carrying payload to
// dst.
func AppendADTS(dst []byte, sampleRate, channels int, payload []byte) ([]byte, error) {
	rateIdx := -1
	for i, r := range aacSampleRates {
		if r == sampleRate {
			rateIdx = i
			break
		}
	}
	if rateIdx < 0 || channels < 1 || channels > 7 {
		return dst, ErrInvalidADTS
	}
	n := 7 + len(payload)
	if n > 0x1FFF {
		return dst, ErrInvalidADTS
	}
	dst = append(dst,
		0xFF,
		0xF1,
		1<<6|byte(rateIdx)<<2|byte(channels>>2),
		byte(channels&0x03)<<6|byte(n>>11),
		byte(n>>3),
		byte(n&0x07)<<5|0x1F,
		0xFC,
	)
	return append(dst, payload...), nil
}
