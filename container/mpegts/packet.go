// Package mpegts implements the MPEG transport stream container format:
// PAT/PMT program discovery, PES reassembly with PTS/DTS extraction, and
// packet delivery in container order for the playback engine.
package mpegts

import (
	"fmt"

	"github.com/gwsu/torc/bitstream"
)

const (
	packetSize = 188
	syncByte   = 0x47
	pidPAT     = 0x0000
)

// tsPacket is one parsed 188-byte transport packet.
type tsPacket struct {
	pid           uint16
	cc            uint8
	unitStart     bool
	transportErr  bool
	discontinuity bool
	hasPayload    bool
	payload       []byte
}

// parseTSPacket decodes the 4-byte transport header and any adaptation
// field, leaving the payload as the remaining whole bytes. Truncated
// adaptation fields make the packet corrupt; callers skip it.
func parseTSPacket(buf []byte) (*tsPacket, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}

	r := bitstream.NewReader(buf)
	if r.Bits(8) != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &tsPacket{}
	p.transportErr = r.Flag()
	p.unitStart = r.Flag()
	r.Skip(1) // transport priority
	p.pid = uint16(r.Bits(13))
	r.Skip(2) // scrambling control
	hasAdaptation := r.Flag()
	p.hasPayload = r.Flag()
	p.cc = uint8(r.Bits(4))

	if hasAdaptation {
		// The discontinuity indicator leads the adaptation flags; the
		// rest of the field (PCR, stuffing) is skipped whole.
		if length := int(r.Bits(8)); length > 0 {
			p.discontinuity = r.Flag()
			r.Skip(length*8 - 1)
		}
	}

	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("mpegts: truncated adaptation field: %w", err)
	}

	if p.hasPayload {
		if n := r.BytesRemaining(); n > 0 {
			p.payload = make([]byte, n)
			copy(p.payload, buf[packetSize-n:])
		}
	}
	return p, nil
}
