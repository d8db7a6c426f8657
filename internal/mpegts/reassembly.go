package mpegts

import "slices"

// pidBuffer collects the packets of one PID until a unit (PES packet or
// PSI section group) is complete.
type pidBuffer struct {
	pid     uint16
	psi     bool
	packets []*Packet
}

// add appends p and returns the packets of a completed unit, if any. A
// unit completes when the next unit starts or, for PSI, when its sections
// are whole.
func (b *pidBuffer) add(p *Packet) []*Packet {
	if p.Header.TransportErrorIndicator {
		b.packets = nil
		return nil
	}
	if !p.Header.HasPayload {
		return nil
	}

	if n := len(b.packets); n > 0 && !p.Header.DiscontinuityIndicator {
		prev := b.packets[n-1].Header.ContinuityCounter
		switch p.Header.ContinuityCounter {
		case (prev + 1) & 0x0F:
		case prev:
			return nil // duplicate
		default:
			b.packets = nil // lost packets, the unit is unusable
		}
	}

	var done []*Packet
	if p.Header.PayloadUnitStartIndicator {
		if len(b.packets) > 0 {
			done = b.packets
			b.packets = nil
		}
	} else if len(b.packets) == 0 {
		return nil // continuation of a unit whose start we never saw
	}
	b.packets = append(b.packets, p)

	if done == nil && b.psi && sectionsComplete(joinPayloads(b.packets)) {
		done = b.packets
		b.packets = nil
	}
	return done
}

func (b *pidBuffer) take() []*Packet {
	done := b.packets
	b.packets = nil
	return done
}

func joinPayloads(packets []*Packet) []byte {
	n := 0
	for _, p := range packets {
		n += len(p.Payload)
	}
	out := make([]byte, 0, n)
	for _, p := range packets {
		out = append(out, p.Payload...)
	}
	return out
}

// reassembler routes packets to per-PID buffers.
type reassembler struct {
	buffers map[uint16]*pidBuffer
	pmtPIDs map[uint16]bool
}

func newReassembler() *reassembler {
	return &reassembler{
		buffers: make(map[uint16]*pidBuffer),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (r *reassembler) isPSI(pid uint16) bool {
	return pid == pidPAT || r.pmtPIDs[pid]
}

func (r *reassembler) addPMTPID(pid uint16) {
	r.pmtPIDs[pid] = true
	if b, ok := r.buffers[pid]; ok {
		b.psi = true
	}
}

func (r *reassembler) add(p *Packet) []*Packet {
	pid := p.Header.PID
	b, ok := r.buffers[pid]
	if !ok {
		b = &pidBuffer{pid: pid, psi: r.isPSI(pid)}
		r.buffers[pid] = b
	}
	return b.add(p)
}

// drain returns every partial unit, PAT first so PMT PIDs are known
// before PMT payloads are parsed.
func (r *reassembler) drain() [][]*Packet {
	pids := make([]uint16, 0, len(r.buffers))
	for pid := range r.buffers {
		pids = append(pids, pid)
	}
	slices.Sort(pids)

	var all [][]*Packet
	for _, pid := range pids {
		if packets := r.buffers[pid].take(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}

// reset discards partial units but keeps the PMT PIDs learned so far.
func (r *reassembler) reset() {
	clear(r.buffers)
}
