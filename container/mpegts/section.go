package mpegts

import "sort"

// pmtPIDs tracks which PIDs carry PMT sections, learned from PAT entries.
type pmtPIDs struct {
	m map[uint16]bool
}

func newPMTPIDs() *pmtPIDs {
	return &pmtPIDs{m: make(map[uint16]bool)}
}

func (pm *pmtPIDs) add(pid uint16)      { pm.m[pid] = true }
func (pm *pmtPIDs) has(pid uint16) bool { return pm.m[pid] }

// accumulator buffers packets for a single PID until a unit boundary or a
// complete PSI section.
type accumulator struct {
	pid     uint16
	packets []*tsPacket
	pmts    *pmtPIDs
}

func (a *accumulator) add(p *tsPacket) []*tsPacket {
	if p.transportErr {
		a.packets = nil
		return nil
	}
	if !p.hasPayload {
		return nil
	}

	// Continuity check; a signalled discontinuity makes the jump expected.
	if len(a.packets) > 0 && !p.discontinuity {
		prev := a.packets[len(a.packets)-1].cc
		expected := (prev + 1) & 0x0F
		if p.cc != expected {
			if p.cc == prev {
				return nil // duplicate, drop
			}
			a.packets = nil // unsignalled discontinuity
		}
	}

	var flushed []*tsPacket
	if p.unitStart && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}
	a.packets = append(a.packets, p)

	if flushed == nil && a.isPSI() && psiComplete(a.packets) {
		flushed = a.packets
		a.packets = nil
	}
	return flushed
}

func (a *accumulator) isPSI() bool {
	return a.pid == pidPAT || a.pmts.has(a.pid)
}

func (a *accumulator) flush() []*tsPacket {
	flushed := a.packets
	a.packets = nil
	return flushed
}

// psiComplete reports whether the accumulated payloads hold a full section.
func psiComplete(packets []*tsPacket) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) < 1 {
		return false
	}

	offset := 1 + int(payload[0]) // pointer field
	if offset >= len(payload) {
		return false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing
		}
		if offset+3 > len(payload) {
			return false
		}
		if payload[offset+1]&0x80 == 0 {
			return true // padding, not a section header
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		if offset+3+sectionLength > len(payload) {
			return false
		}
		offset += 3 + sectionLength
	}
	return true
}

// pool keys accumulators by PID.
type pool struct {
	accs map[uint16]*accumulator
	pmts *pmtPIDs
}

func newPool(pmts *pmtPIDs) *pool {
	return &pool{accs: make(map[uint16]*accumulator), pmts: pmts}
}

func (pp *pool) add(p *tsPacket) []*tsPacket {
	acc, ok := pp.accs[p.pid]
	if !ok {
		acc = &accumulator{pid: p.pid, pmts: pp.pmts}
		pp.accs[p.pid] = acc
	}
	return acc.add(p)
}

// dump flushes every accumulator, PAT first so PMT PIDs stay recognisable.
func (pp *pool) dump() [][]*tsPacket {
	pids := make([]int, 0, len(pp.accs))
	for pid := range pp.accs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var all [][]*tsPacket
	for _, pid := range pids {
		if packets := pp.accs[uint16(pid)].flush(); len(packets) > 0 {
			all = append(all, packets)
		}
	}
	return all
}
