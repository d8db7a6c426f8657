package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotSeekable is returned by Seek when the source is not an io.Seeker.
var ErrNotSeekable = errors.New("mpegts: source is not seekable")

// Unit is one parsed output of the Demuxer. Exactly one of PAT, PMT or PES
// is set.
type Unit struct {
	PID    uint16
	Offset int64
	PAT    *PAT
	PMT    *PMT
	PES    *PES
}

// Demuxer reads transport packets from a source and returns parsed PAT,
// PMT and PES units in stream order.
type Demuxer struct {
	ctx     context.Context
	src     io.Reader
	buf     []byte
	offset  int64
	asm     *reassembler
	pending []*Unit
	eof     bool
	skipped int64
}

// NewDemuxer creates a Demuxer reading from src. Reads stop when ctx is
// cancelled.
func NewDemuxer(ctx context.Context, src io.Reader) *Demuxer {
	return &Demuxer{
		ctx: ctx,
		src: src,
		buf: make([]byte, PacketSize),
		asm: newReassembler(),
	}
}

// Next returns the next parsed unit. At the end of the source it flushes
// partial units and then returns io.EOF.
func (d *Demuxer) Next() (*Unit, error) {
	for {
		if len(d.pending) > 0 {
			u := d.pending[0]
			d.pending = d.pending[1:]
			return u, nil
		}
		if d.eof {
			return nil, io.EOF
		}
		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		off := d.offset
		_, err := io.ReadFull(d.src, d.buf)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.eof = true
			for _, packets := range d.asm.drain() {
				d.emit(packets)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		d.offset += PacketSize

		p, err := parsePacket(d.buf)
		if err != nil {
			d.skipped++
			continue
		}
		p.Offset = off
		if p.Header.PID == pidNull {
			continue
		}
		if done := d.asm.add(p); done != nil {
			d.emit(done)
		}
	}
}

// emit parses a completed unit and queues the results. Corrupt units are
// counted and dropped.
func (d *Demuxer) emit(packets []*Packet) {
	first := packets[0]
	pid := first.Header.PID
	payload := joinPayloads(packets)
	if len(payload) == 0 {
		return
	}

	if d.asm.isPSI(pid) {
		pats, pmts, err := parseSections(payload)
		if err != nil {
			d.skipped++
		}
		for _, pat := range pats {
			for _, prog := range pat.Programs {
				d.asm.addPMTPID(prog.PMTPID)
			}
			d.pending = append(d.pending, &Unit{PID: pid, Offset: first.Offset, PAT: pat})
		}
		for _, pmt := range pmts {
			d.pending = append(d.pending, &Unit{PID: pid, Offset: first.Offset, PMT: pmt})
		}
		return
	}

	if !hasPESStartCode(payload) {
		return
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.skipped++
		return
	}
	pes.PID = pid
	pes.Offset = first.Offset
	pes.RandomAccess = first.Header.RandomAccessIndicator
	d.pending = append(d.pending, &Unit{PID: pid, Offset: first.Offset, PES: pes})
}

// Offset returns the byte offset of the next packet to be read.
func (d *Demuxer) Offset() int64 {
	return d.offset
}

// Skipped returns the number of corrupt packets and units dropped.
func (d *Demuxer) Skipped() int64 {
	return d.skipped
}

// Seek repositions the source at the packet boundary at or before offset
// and discards partial units. Program tables learned so far are kept.
func (d *Demuxer) Seek(offset int64) error {
	s, ok := d.src.(io.Seeker)
	if !ok {
		return ErrNotSeekable
	}
	offset = max(offset-offset%PacketSize, 0)
	if _, err := s.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("mpegts: seek to %d: %w", offset, err)
	}
	d.offset = offset
	d.asm.reset()
	d.pending = nil
	d.eof = false
	return nil
}
