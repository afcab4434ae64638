package mpegts

import (
	"io"
	"testing"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/container"
	"github.com/gwsu/torc/media"
)

// appendCRC finishes a PSI section with its MPEG CRC32.
func appendCRC(section []byte) []byte {
	crc := computeCRC32(section)
	return append(section,
		byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// buildPATSection builds a single-program PAT.
func buildPATSection(programNumber, pmtPID uint16) []byte {
	body := []byte{
		0x00,       // table_id
		0xB0, 0x00, // section_syntax + length (patched below)
		0x00, 0x01, // transport_stream_id
		0xC1,       // version 0, current
		0x00, 0x00, // section/last section number
		byte(programNumber >> 8), byte(programNumber),
		0xE0 | byte(pmtPID>>8), byte(pmtPID),
	}
	length := len(body) - 3 + 4 // after the length field, plus CRC
	body[1] = 0xB0 | byte(length>>8)
	body[2] = byte(length)
	return appendCRC(body)
}

// buildPMTSection builds a PMT with the given elementary streams.
func buildPMTSection(programNumber uint16, streams []esEntry) []byte {
	body := []byte{
		0x02,       // table_id
		0xB0, 0x00, // patched below
		byte(programNumber >> 8), byte(programNumber),
		0xC1,       // version
		0x00, 0x00, // section numbers
		0xE0, 0x00, // PCR PID
		0xF0, 0x00, // program_info_length
	}
	for _, es := range streams {
		body = append(body,
			es.streamType,
			0xE0|byte(es.pid>>8), byte(es.pid),
		)
		if es.language != "" {
			desc := append([]byte{descriptorISO639, 0x04}, es.language[0], es.language[1], es.language[2], 0x00)
			body = append(body, 0xF0|byte(len(desc)>>8), byte(len(desc)))
			body = append(body, desc...)
		} else {
			body = append(body, 0xF0, 0x00)
		}
	}
	length := len(body) - 3 + 4
	body[1] = 0xB0 | byte(length>>8)
	body[2] = byte(length)
	return appendCRC(body)
}

// buildTSPacket wraps a payload (with PUSI pointer field if psi) in one
// 188-byte transport packet.
func buildTSPacket(pid uint16, cc byte, unitStart bool, psi bool, payload []byte) []byte {
	pkt := make([]byte, packetSize)
	pkt[0] = syncByte
	pkt[1] = byte(pid >> 8)
	if unitStart {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (cc & 0x0F) // payload only

	offset := 4
	if psi && unitStart {
		pkt[offset] = 0x00 // pointer_field
		offset++
	}
	copy(pkt[offset:], payload)
	for i := offset + len(payload); i < packetSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

// encodePTS packs a 90 kHz timestamp into the 5-byte PES form.
func encodePTS(pts int64) []byte {
	return []byte{
		0x21 | byte((pts>>29)&0x0E),
		byte(pts >> 22),
		0x01 | byte((pts>>14)&0xFE),
		byte(pts >> 7),
		0x01 | byte((pts<<1)&0xFE),
	}
}

// buildPES assembles a complete audio PES packet with a PTS.
func buildPES(pts int64, data []byte) []byte {
	// optional header: flags + length + 5 PTS bytes
	optional := append([]byte{0x80, 0x80, 0x05}, encodePTS(pts)...)
	packetLength := len(optional) + len(data)
	pes := []byte{0x00, 0x00, 0x01, 0xC0, byte(packetLength >> 8), byte(packetLength)}
	pes = append(pes, optional...)
	return append(pes, data...)
}

func TestParsePAT(t *testing.T) {
	t.Parallel()

	entries, err := parsePAT(buildPATSection(1, 0x100))
	if err != nil {
		t.Fatalf("parsePAT: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 program, got %d", len(entries))
	}
	if entries[0].programNumber != 1 || entries[0].pmtPID != 0x100 {
		t.Errorf("entry: %+v", entries[0])
	}
}

func TestParsePATBadCRC(t *testing.T) {
	t.Parallel()

	section := buildPATSection(1, 0x100)
	section[len(section)-1] ^= 0xFF
	if _, err := parsePAT(section); err == nil {
		t.Error("expected CRC error")
	}
}

func TestParsePMTWithLanguage(t *testing.T) {
	t.Parallel()

	section := buildPMTSection(1, []esEntry{
		{pid: 0x101, streamType: streamTypeAAC, language: "eng"},
		{pid: 0x102, streamType: streamTypeH264},
	})

	pmt, err := parsePMT(section)
	if err != nil {
		t.Fatalf("parsePMT: %v", err)
	}
	if pmt.programNumber != 1 {
		t.Errorf("programNumber: got %d", pmt.programNumber)
	}
	if len(pmt.streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(pmt.streams))
	}
	if pmt.streams[0].language != "eng" {
		t.Errorf("language: got %q, want eng", pmt.streams[0].language)
	}
	if pmt.streams[1].streamType != streamTypeH264 {
		t.Errorf("streamType: got 0x%02X", pmt.streams[1].streamType)
	}
}

func TestParsePES(t *testing.T) {
	t.Parallel()

	pes, err := parsePES(buildPES(90000, []byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("parsePES: %v", err)
	}
	if pes.pts != 90000 {
		t.Errorf("pts: got %d, want 90000", pes.pts)
	}
	if len(pes.data) != 4 {
		t.Errorf("data: got %d bytes, want 4", len(pes.data))
	}
}

func TestProbe(t *testing.T) {
	t.Parallel()

	var f Format
	stream := append(buildTSPacket(0, 0, true, true, buildPATSection(1, 0x100)),
		buildTSPacket(0x100, 0, true, true, buildPMTSection(1, []esEntry{{pid: 0x101, streamType: streamTypeAAC}}))...)

	if got := f.Probe(stream, "clip.ts"); got != 100 {
		t.Errorf("Probe aligned TS: got %d, want 100", got)
	}
	if got := f.Probe([]byte{0x00, 0x01, 0x02}, "clip.bin"); got != 0 {
		t.Errorf("Probe garbage: got %d, want 0", got)
	}
}

// buildStream assembles a minimal single-program TS: PAT, PMT (AAC + H.264),
// and a couple of audio PES packets.
func buildStream(t *testing.T) []byte {
	t.Helper()

	var ts []byte
	ts = append(ts, buildTSPacket(0, 0, true, true, buildPATSection(1, 0x100))...)
	ts = append(ts, buildTSPacket(0x100, 0, true, true, buildPMTSection(1, []esEntry{
		{pid: 0x101, streamType: streamTypeAAC, language: "eng"},
		{pid: 0x102, streamType: streamTypeH264},
	}))...)
	ts = append(ts, buildTSPacket(0x101, 0, true, false, buildPES(90000, []byte{0x10, 0x11}))...)
	ts = append(ts, buildTSPacket(0x101, 1, true, false, buildPES(93600, []byte{0x20, 0x21}))...)
	// A trailing unit start flushes the previous accumulated payload.
	ts = append(ts, buildTSPacket(0x101, 2, true, false, buildPES(97200, []byte{0x30}))...)
	return ts
}

func TestOpenEnumeratesPrograms(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://clip.ts", buildStream(t))
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	programs := in.Programs()
	if len(programs) != 1 {
		t.Fatalf("expected 1 program, got %d", len(programs))
	}
	if programs[0].ID != 1 {
		t.Errorf("program id: got %d", programs[0].ID)
	}

	streams := in.Streams()
	if len(streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(streams))
	}
	audio := streams[0]
	if audio.Type != media.StreamTypeAudio || audio.Codec != media.CodecAAC {
		t.Errorf("stream 0: type %v codec %v", audio.Type, audio.Codec)
	}
	if audio.Language != "eng" {
		t.Errorf("stream 0 language: got %q", audio.Language)
	}
	if audio.Channels != 0 {
		t.Errorf("AAC channels before decode: got %d, want 0", audio.Channels)
	}
	if streams[1].Type != media.StreamTypeVideo || streams[1].Codec != media.CodecH264 {
		t.Errorf("stream 1: type %v codec %v", streams[1].Type, streams[1].Codec)
	}
}

func TestReadFrameDeliversPTS(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://clip.ts", buildStream(t))
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	pkt, err := in.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if pkt.StreamIndex != 0 {
		t.Errorf("stream index: got %d, want 0", pkt.StreamIndex)
	}
	if pkt.PTS != 1000 { // 90000 ticks / 90
		t.Errorf("PTS: got %d ms, want 1000", pkt.PTS)
	}

	pkt2, err := in.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame 2: %v", err)
	}
	if pkt2.PTS != 1040 {
		t.Errorf("PTS 2: got %d ms, want 1040", pkt2.PTS)
	}
}

func TestOpenNoProgramsFails(t *testing.T) {
	t.Parallel()

	// Payload-only packets, no PAT.
	var ts []byte
	ts = append(ts, buildTSPacket(0x101, 0, true, false, buildPES(0, []byte{1}))...)
	ts = append(ts, buildTSPacket(0x101, 1, true, false, buildPES(3600, []byte{2}))...)

	src := buffer.NewMem("mem://bad.ts", ts)
	var f Format
	if _, err := f.Open(src, container.OpenOptions{}); err == nil {
		t.Fatal("expected error when no PAT is present")
	}
}

func TestSeekRewinds(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://clip.ts", buildStream(t))
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	first, err := in.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}

	if err := in.Seek(-1, 0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	again, err := in.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame after Seek: %v", err)
	}
	if again.PTS != first.PTS {
		t.Errorf("PTS after rewind: got %d, want %d", again.PTS, first.PTS)
	}
}

func TestReadFrameEOF(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://clip.ts", buildStream(t))
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	n := 0
	for {
		_, err := in.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		n++
		if n > 10 {
			t.Fatal("EOF never reached")
		}
	}
	if n < 2 {
		t.Errorf("expected at least 2 packets before EOF, got %d", n)
	}
}
