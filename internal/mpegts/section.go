package mpegts

import (
	"errors"
	"fmt"
)

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

var errCRC = errors.New("mpegts: CRC32 mismatch")

// MPEG-2 CRC32, polynomial 0x04C11DB7, no reflection.
var crcTable = func() (t [256]uint32) {
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

func crc32MPEG(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// PAT is a Program Association Table.
type PAT struct {
	Programs []PATProgram
}

// PATProgram maps a program number to the PID carrying its PMT.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PMT is a Program Map Table.
type PMT struct {
	ProgramNumber     uint16
	PCRPID            uint16
	ElementaryStreams []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// sectionsComplete reports whether payload, starting with a pointer field,
// holds only whole sections.
func sectionsComplete(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return false
	}
	for off < len(payload) {
		if payload[off] == 0xFF {
			return true
		}
		if off+3 > len(payload) {
			return false
		}
		if payload[off+1]&0x80 == 0 {
			return true
		}
		n := 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if off+n > len(payload) {
			return false
		}
		off += n
	}
	return true
}

// parseSections walks the PAT and PMT sections in payload, skipping other
// tables.
func parseSections(payload []byte) (pats []*PAT, pmts []*PMT, err error) {
	if len(payload) < 1 {
		return nil, nil, fmt.Errorf("mpegts: PSI payload too short")
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	for off+3 <= len(payload) {
		tableID := payload[off]
		if tableID == 0xFF || payload[off+1]&0x80 == 0 {
			break
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			break
		}
		section := payload[off:end]
		off = end

		switch tableID {
		case tableIDPAT:
			pat, err := parsePAT(section)
			if err != nil {
				return pats, pmts, err
			}
			pats = append(pats, pat)
		case tableIDPMT:
			pmt, err := parsePMT(section)
			if err != nil {
				return pats, pmts, err
			}
			pmts = append(pmts, pmt)
		}
	}
	return pats, pmts, nil
}

// Section layout shared by PAT and PMT: table_id, two bytes of flags and
// section_length, five bytes of table-specific header, the body, CRC32.
func parsePAT(section []byte) (*PAT, error) {
	if len(section) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	if crc32MPEG(section) != 0 {
		return nil, fmt.Errorf("mpegts: PAT: %w", errCRC)
	}

	pat := &PAT{}
	for i := 8; i+4 <= len(section)-4; i += 4 {
		num := uint16(section[i])<<8 | uint16(section[i+1])
		pid := uint16(section[i+2]&0x1F)<<8 | uint16(section[i+3])
		if num == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, PATProgram{ProgramNumber: num, PMTPID: pid})
	}
	return pat, nil
}

func parsePMT(section []byte) (*PMT, error) {
	if len(section) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	if crc32MPEG(section) != 0 {
		return nil, fmt.Errorf("mpegts: PMT: %w", errCRC)
	}

	pmt := &PMT{
		ProgramNumber: uint16(section[3])<<8 | uint16(section[4]),
		PCRPID:        uint16(section[8]&0x1F)<<8 | uint16(section[9]),
	}
	off := 12 + (int(section[10]&0x0F)<<8 | int(section[11]))
	bodyEnd := len(section) - 4
	for off+5 <= bodyEnd {
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, ElementaryStream{
			StreamType: section[off],
			PID:        uint16(section[off+1]&0x1F)<<8 | uint16(section[off+2]),
		})
		off += 5 + (int(section[off+3]&0x0F)<<8 | int(section[off+4]))
	}
	return pmt, nil
}
