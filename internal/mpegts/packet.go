// Package mpegts reads and writes MPEG transport streams: PAT/PMT discovery,
// PES reassembly with PTS/DTS extraction, byte-offset tracking for seeking,
// and a small muxer for synthetic streams.
package mpegts

import "fmt"

const (
	// PacketSize is the size of one transport stream packet.
	PacketSize = 188
	syncByte   = 0x47

	pidPAT  uint16 = 0x0000
	pidNull uint16 = 0x1FFF
)

// Stream types carried in the PMT.
const (
	StreamTypeAAC  = 0x0F
	StreamTypeH264 = 0x1B
	StreamTypeH265 = 0x24
)

// Packet is one parsed transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
	Offset  int64 // byte offset of the packet in the source
}

// PacketHeader holds the header fields of a transport stream packet.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

func parsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &Packet{}
	h := &p.Header
	h.TransportErrorIndicator = buf[1]&0x80 != 0
	h.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	h.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	h.HasAdaptationField = buf[3]&0x20 != 0
	h.HasPayload = buf[3]&0x10 != 0
	h.ContinuityCounter = buf[3] & 0x0F

	off := 4
	if h.HasAdaptationField {
		afLen := int(buf[off])
		if afLen > 0 {
			h.DiscontinuityIndicator = buf[off+1]&0x80 != 0
			h.RandomAccessIndicator = buf[off+1]&0x40 != 0
		}
		off = min(off+1+afLen, PacketSize)
	}

	if h.HasPayload && off < PacketSize {
		p.Payload = make([]byte, PacketSize-off)
		copy(p.Payload, buf[off:])
	}
	return p, nil
}
