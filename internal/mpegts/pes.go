package mpegts

import "fmt"

// NoTimestamp marks a PES packet without PTS or DTS.
const NoTimestamp int64 = -1

// PES is a reassembled Packetized Elementary Stream packet. Timestamps are
// in 90 kHz units.
type PES struct {
	PID      uint16
	StreamID uint8
	PTS      int64
	DTS      int64
	Data     []byte

	// Offset is the byte offset of the first transport packet of this PES
	// packet. RandomAccess is set from that packet's adaptation field.
	Offset       int64
	RandomAccess bool
}

func hasPESStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x01
}

// Stream IDs without the optional PES header: padding, private_stream_2,
// ECM, EMM, DSMCC, H.222.1 type E, program_stream_directory.
func hasOptionalHeader(streamID byte) bool {
	switch streamID {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !hasPESStartCode(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PES{StreamID: payload[3], PTS: NoTimestamp, DTS: NoTimestamp}
	length := int(payload[4])<<8 | int(payload[5])
	end := len(payload)
	if length > 0 && 6+length < end {
		end = 6 + length
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// payload[7] bits 7-6: PTS_DTS_flags; payload[8]: header data length.
	flags := payload[7] >> 6 & 0x03
	switch {
	case flags == 2 && len(payload) >= 14:
		pes.PTS = decodeTimestamp(payload[9:14])
		pes.DTS = pes.PTS
	case flags == 3 && len(payload) >= 19:
		pes.PTS = decodeTimestamp(payload[9:14])
		pes.DTS = decodeTimestamp(payload[14:19])
	}

	start := min(9+int(payload[8]), end)
	pes.Data = payload[start:end]
	return pes, nil
}

// decodeTimestamp extracts a 33-bit PTS/DTS from its 5-byte encoding.
func decodeTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1&0x7F)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1&0x7F)
}

// encodeTimestamp is the inverse of decodeTimestamp. marker is the 4-bit
// prefix: 0x2 for a lone PTS, 0x3 for a PTS followed by DTS, 0x1 for DTS.
func encodeTimestamp(dst []byte, marker byte, ts int64) {
	dst[0] = marker<<4 | byte(ts>>29)&0x0E | 0x01
	dst[1] = byte(ts >> 22)
	dst[2] = byte(ts>>14)&0xFE | 0x01
	dst[3] = byte(ts >> 7)
	dst[4] = byte(ts<<1)&0xFE | 0x01
}
