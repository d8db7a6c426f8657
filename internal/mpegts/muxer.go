package mpegts

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PES stream IDs used by the muxer.
const (
	StreamIDVideo = 0xE0
	StreamIDAudio = 0xC0
)

// Muxer writes a single-program transport stream.
type Muxer struct {
	w       io.Writer
	pmtPID  uint16
	pcrPID  uint16
	streams []ElementaryStream
	cc      map[uint16]uint8
	pkt     [PacketSize]byte
	written int64
}

// NewMuxer creates a Muxer for one program whose PMT is on pmtPID. The
// first stream carries the PCR.
func NewMuxer(w io.Writer, pmtPID uint16, streams []ElementaryStream) (*Muxer, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("mpegts: muxer needs at least one stream")
	}
	return &Muxer{
		w:       w,
		pmtPID:  pmtPID,
		pcrPID:  streams[0].PID,
		streams: streams,
		cc:      make(map[uint16]uint8),
	}, nil
}

// Written returns the number of bytes written so far.
func (m *Muxer) Written() int64 {
	return m.written
}

// WriteTables writes a PAT and a PMT.
func (m *Muxer) WriteTables() error {
	pat := []byte{tableIDPAT, 0, 0, 0x00, 0x01, 0xC1, 0x00, 0x00,
		0x00, 0x01, 0xE0 | byte(m.pmtPID>>8), byte(m.pmtPID)}
	if err := m.writeSection(pidPAT, pat); err != nil {
		return err
	}

	pmt := []byte{tableIDPMT, 0, 0, 0x00, 0x01, 0xC1, 0x00, 0x00,
		0xE0 | byte(m.pcrPID>>8), byte(m.pcrPID), 0xF0, 0x00}
	for _, es := range m.streams {
		pmt = append(pmt, es.StreamType, 0xE0|byte(es.PID>>8), byte(es.PID), 0xF0, 0x00)
	}
	return m.writeSection(m.pmtPID, pmt)
}

// writeSection fills in section_length, appends the CRC, and writes the
// section behind a zero pointer field.
func (m *Muxer) writeSection(pid uint16, section []byte) error {
	n := len(section) - 3 + 4
	section[1] = 0xB0 | byte(n>>8)&0x0F
	section[2] = byte(n)
	section = binary.BigEndian.AppendUint32(section, crc32MPEG(section))
	return m.writePackets(pid, append([]byte{0}, section...), false)
}

// WritePES writes one PES packet. pts and dts are 90 kHz values;
// NoTimestamp omits them, and a dts equal to pts is not written.
// randomAccess marks the first transport packet as a random access point.
func (m *Muxer) WritePES(pid uint16, streamID byte, pts, dts int64, data []byte, randomAccess bool) error {
	hdr := make([]byte, 9, 19+len(data))
	hdr[0], hdr[1], hdr[2], hdr[3] = 0x00, 0x00, 0x01, streamID
	hdr[6] = 0x80
	switch {
	case pts == NoTimestamp:
	case dts == NoTimestamp || dts == pts:
		hdr[7] = 0x80
		hdr = append(hdr, make([]byte, 5)...)
		encodeTimestamp(hdr[9:], 0x2, pts)
	default:
		hdr[7] = 0xC0
		hdr = append(hdr, make([]byte, 10)...)
		encodeTimestamp(hdr[9:], 0x3, pts)
		encodeTimestamp(hdr[14:], 0x1, dts)
	}
	hdr[8] = byte(len(hdr) - 9)

	length := len(hdr) - 6 + len(data)
	if length <= 0xFFFF && streamID != StreamIDVideo {
		binary.BigEndian.PutUint16(hdr[4:], uint16(length))
	}
	return m.writePackets(pid, append(hdr, data...), randomAccess)
}

func (m *Muxer) writePackets(pid uint16, payload []byte, randomAccess bool) error {
	for first := true; first || len(payload) > 0; first = false {
		b := m.pkt[:]
		b[0] = syncByte
		b[1] = byte(pid>>8) & 0x1F
		if first {
			b[1] |= 0x40
		}
		b[2] = byte(pid)

		cc := m.cc[pid]
		m.cc[pid] = (cc + 1) & 0x0F

		flags := byte(0)
		afMin := 0
		if first && randomAccess {
			flags = 0x40
			afMin = 2
		}
		n := min(len(payload), PacketSize-4-afMin)
		afLen := PacketSize - 4 - n

		ctrl := byte(0x10)
		off := 4
		if afLen > 0 {
			ctrl |= 0x20
			b[4] = byte(afLen - 1)
			if afLen > 1 {
				b[5] = flags
				for i := 6; i < 4+afLen; i++ {
					b[i] = 0xFF
				}
			}
			off += afLen
		}
		b[3] = ctrl | cc
		copy(b[off:], payload[:n])
		payload = payload[n:]

		if _, err := m.w.Write(b); err != nil {
			return fmt.Errorf("mpegts: write: %w", err)
		}
		m.written += PacketSize
	}
	return nil
}
