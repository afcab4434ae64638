package mpegts

import (
	"fmt"

	"github.com/gwsu/torc/bitstream"
)

// pesData is a reassembled packetized elementary stream unit.
type pesData struct {
	streamID uint8
	pts      int64 // 90 kHz base, -1 when absent
	dts      int64 // 90 kHz base, -1 when absent
	data     []byte
}

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// headerlessStreamID reports PES stream IDs defined without the optional
// header: padding, the second private stream, conditional-access messages,
// DSM-CC, H.222.1 type E, and the program stream directory.
func headerlessStreamID(id uint8) bool {
	switch id {
	case 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return true
	}
	return false
}

// parsePES decodes one reassembled PES packet: stream id, bounded or
// unbounded payload extent, and the 90 kHz timestamps when present.
func parsePES(payload []byte) (*pesData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	r := bitstream.NewReader(payload)
	r.Skip(24) // start code prefix
	pes := &pesData{
		streamID: uint8(r.Bits(8)),
		pts:      -1,
		dts:      -1,
	}

	// A declared length of zero means the payload runs to the end of the
	// reassembled unit (unbounded video PES).
	end := len(payload)
	if length := int(r.Bits(16)); length > 0 && 6+length <= end {
		end = 6 + length
	}

	if headerlessStreamID(pes.streamID) {
		pes.data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	r.Skip(8) // marker, scrambling, priority, alignment, copyright, original
	ptsPresent := r.Flag()
	dtsPresent := r.Flag()
	r.Skip(6) // ESCR, ES rate, trick mode, copy info, CRC, extension
	headerLength := int(r.Bits(8))

	if ptsPresent {
		pes.pts = readClock(r)
	}
	if ptsPresent && dtsPresent {
		pes.dts = readClock(r)
	}

	dataStart := 9 + headerLength
	if dataStart > end {
		dataStart = end
	}
	pes.data = payload[dataStart:end]
	return pes, nil
}

// readClock decodes one 40-bit PES timestamp field: the 33-bit 90 kHz value
// is carried in three runs (3+15+15 bits) separated by marker bits.
func readClock(r *bitstream.Reader) int64 {
	r.Skip(4) // '0010'/'0011' prefix
	ts := int64(r.Bits(3)) << 30
	r.Skip(1)
	ts |= int64(r.Bits(15)) << 15
	r.Skip(1)
	ts |= int64(r.Bits(15))
	r.Skip(1)

	if r.Err() != nil {
		return -1
	}
	return ts
}
