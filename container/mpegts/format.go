package mpegts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/container"
	"github.com/gwsu/torc/media"
)

// Elementary stream types recognised in PMTs. MPEG-1/2 audio is recognised
// but discarded by streamForES.
const (
	streamTypeMPEG1Audio = 0x03
	streamTypeMPEG2Audio = 0x04
	streamTypePrivatePES = 0x06
	streamTypeAAC        = 0x0F
	streamTypeH264       = 0x1B
	streamTypeH265       = 0x24
)

// scanPacketLimit bounds how many demuxed units (PSI tables and PES
// payloads) the open sequence will inspect while hunting for the PAT and
// every PMT it references.
const scanPacketLimit = 5000

var errNoPrograms = errors.New("mpegts: no programs found")

func init() {
	container.Register(Format{})
}

// Format is the MPEG-TS container format.
type Format struct{}

// Name returns "mpegts".
func (Format) Name() string { return "mpegts" }

// Probe scores consecutive sync bytes at packet boundaries.
func (Format) Probe(peek []byte, uri string) int {
	if len(peek) < packetSize {
		return 0
	}
	if peek[0] != syncByte {
		return 0
	}
	aligned := 1
	for off := packetSize; off < len(peek) && aligned < 4; off += packetSize {
		if peek[off] != syncByte {
			return 0
		}
		aligned++
	}
	if aligned >= 2 {
		return 100
	}
	return 40
}

// Open scans for the PAT and its PMTs, enumerates programs and streams, and
// returns the input positioned to deliver any payload seen during the scan.
func (Format) Open(src buffer.Buffer, opts container.OpenOptions) (container.Input, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	in := &input{
		src:       src,
		interrupt: opts.Interrupt,
		log:       log.With("component", "mpegts"),
		readBuf:   make([]byte, packetSize),
		pmts:      newPMTPIDs(),
		pmtSeen:   make(map[uint16]bool),
		metadata:  make(map[string]string),
	}
	if in.interrupt == nil {
		in.interrupt = func() bool { return false }
	}
	in.pool = newPool(in.pmts)

	if err := in.scan(); err != nil {
		return nil, err
	}
	return in, nil
}

// unit is one logical demuxed item: a PSI table or a PES payload.
type unit struct {
	pat []patEntry
	pmt *pmtSection
	pid uint16
	pes *pesData
}

type input struct {
	src       buffer.Buffer
	interrupt func() bool
	log       *slog.Logger

	readBuf  []byte
	pool     *pool
	pmts     *pmtPIDs
	unitBuf  []*unit
	eof      bool
	eofUnits []*unit

	patEntries []patEntry
	pmtSeen    map[uint16]bool
	programES  map[uint16][]esEntry
	scannedPES []*unit

	programs    []*media.Program
	streams     []*media.Stream
	pidToStream map[uint16]*media.Stream
	pending     []*media.Packet
	metadata    map[string]string
}

// scan reads transport packets until the PAT and all referenced PMTs have
// been parsed, buffering any elementary payload met on the way.
func (in *input) scan() error {
	read := 0
	for read < scanPacketLimit {
		u, err := in.nextUnit()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		read++
		in.consumePSI(u)
		if u.pes != nil {
			in.bufferScanPES(u)
		}
		if in.tablesComplete() {
			break
		}
	}

	if len(in.patEntries) == 0 {
		return errNoPrograms
	}
	in.buildPrograms()
	if len(in.streams) == 0 {
		return errNoPrograms
	}

	// Replay payload seen during the scan once the PID map exists.
	for _, u := range in.scannedPES {
		if pkt := in.packetFromPES(u); pkt != nil {
			in.pending = append(in.pending, pkt)
		}
	}
	in.scannedPES = nil
	return nil
}

func (in *input) tablesComplete() bool {
	if len(in.patEntries) == 0 {
		return false
	}
	for _, e := range in.patEntries {
		if !in.pmtSeen[e.pmtPID] {
			return false
		}
	}
	return true
}

func (in *input) consumePSI(u *unit) {
	if u.pat != nil {
		if in.patEntries == nil {
			in.patEntries = u.pat
		}
		for _, e := range u.pat {
			in.pmts.add(e.pmtPID)
		}
	}
	if u.pmt != nil {
		in.markPMTSeen(u.pmt.programNumber)
	}
}

func (in *input) markPMTSeen(programNumber uint16) {
	for _, e := range in.patEntries {
		if e.programNumber == programNumber {
			in.pmtSeen[e.pmtPID] = true
		}
	}
}

// buildPrograms turns PAT/PMT knowledge into the media program/stream model.
// Stream indices are assigned in PMT declaration order, so enumeration is
// deterministic; data streams and audio codecs the engine cannot decode are
// discarded.
func (in *input) buildPrograms() {
	in.pidToStream = make(map[uint16]*media.Stream)

	for i, entry := range in.patEntries {
		prog := &media.Program{
			ID:       int(entry.programNumber),
			Index:    i,
			Metadata: map[string]string{},
		}

		for _, es := range in.programES[entry.programNumber] {
			if _, dup := in.pidToStream[es.pid]; dup {
				continue
			}
			stream := in.streamForES(es)
			if stream == nil {
				continue
			}
			in.pidToStream[es.pid] = stream
			in.streams = append(in.streams, stream)
			prog.Add(stream)
		}

		if prog.Valid() {
			in.programs = append(in.programs, prog)
		}
	}
}

func (in *input) streamForES(es esEntry) *media.Stream {
	s := &media.Stream{
		Index:          len(in.streams),
		ID:             int(es.pid),
		SecondaryIndex: -1,
		Language:       es.language,
		Metadata:       map[string]string{},
	}

	switch es.streamType {
	case streamTypeH264:
		s.Type = media.StreamTypeVideo
		s.Codec = media.CodecH264
	case streamTypeH265:
		s.Type = media.StreamTypeVideo
		s.Codec = media.CodecH265
	case streamTypeAAC:
		s.Type = media.StreamTypeAudio
		s.Codec = media.CodecAAC
		// Channel count is unknown until the first frame decodes.
	case streamTypePrivatePES:
		// Private PES data carrying caption byte pairs.
		s.Type = media.StreamTypeSubtitle
		s.Codec = media.CodecCEA608
	default:
		// MPEG audio and data streams are discarded.
		return nil
	}
	return s
}

func (in *input) bufferScanPES(u *unit) {
	in.scannedPES = append(in.scannedPES, u)
}

// nextUnit returns the next demuxed unit, draining internal buffers first.
func (in *input) nextUnit() (*unit, error) {
	for {
		if len(in.unitBuf) > 0 {
			u := in.unitBuf[0]
			in.unitBuf = in.unitBuf[1:]
			return u, nil
		}

		if in.eof {
			if len(in.eofUnits) > 0 {
				u := in.eofUnits[0]
				in.eofUnits = in.eofUnits[1:]
				return u, nil
			}
			return nil, io.EOF
		}

		if in.interrupt() {
			return nil, container.ErrInterrupted
		}

		_, err := io.ReadFull(in.src, in.readBuf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				in.eof = true
				in.drainPool()
				continue
			}
			return nil, fmt.Errorf("%w: %v", container.ErrIO, err)
		}

		pkt, err := parseTSPacket(in.readBuf)
		if err != nil {
			continue // skip corrupt packets
		}

		flushed := in.pool.add(pkt)
		if flushed == nil {
			continue
		}
		units, err := in.processPackets(flushed)
		if err != nil || len(units) == 0 {
			continue // skip corrupt sections
		}
		in.unitBuf = units[1:]
		return units[0], nil
	}
}

func (in *input) drainPool() {
	for _, packets := range in.pool.dump() {
		units, err := in.processPackets(packets)
		if err != nil {
			continue
		}
		// Register PAT results immediately so PMT PIDs stay recognisable
		// for later entries of the dump.
		for _, u := range units {
			if u.pat != nil {
				for _, e := range u.pat {
					in.pmts.add(e.pmtPID)
				}
			}
		}
		in.eofUnits = append(in.eofUnits, units...)
	}
}

func (in *input) processPackets(packets []*tsPacket) ([]*unit, error) {
	if len(packets) == 0 {
		return nil, nil
	}
	pid := packets[0].pid

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if pid == pidPAT || in.pmts.has(pid) {
		var units []*unit
		err := walkSections(payload,
			func(entries []patEntry) {
				units = append(units, &unit{pat: entries, pid: pid})
			},
			func(pmt pmtSection) {
				p := pmt
				in.recordProgramES(p)
				units = append(units, &unit{pmt: &p, pid: pid})
			})
		return units, err
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*unit{{pid: pid, pes: pes}}, nil
	}
	return nil, nil
}

func (in *input) recordProgramES(pmt pmtSection) {
	if in.programES == nil {
		in.programES = make(map[uint16][]esEntry)
	}
	if _, ok := in.programES[pmt.programNumber]; !ok {
		in.programES[pmt.programNumber] = pmt.streams
	}
}

func (in *input) packetFromPES(u *unit) *media.Packet {
	stream, ok := in.pidToStream[u.pid]
	if !ok {
		return nil
	}
	pkt := media.NewPacket(stream.Index, u.pes.data)
	if u.pes.pts >= 0 {
		pkt.PTS = u.pes.pts / 90 // 90 kHz → ms
	}
	if u.pes.dts >= 0 {
		pkt.DTS = u.pes.dts / 90
	} else {
		pkt.DTS = pkt.PTS
	}
	return pkt
}

// FormatName returns "mpegts".
func (in *input) FormatName() string { return "mpegts" }

// Programs returns the programs discovered from the PAT.
func (in *input) Programs() []*media.Program { return in.programs }

// Streams returns the enumerated streams.
func (in *input) Streams() []*media.Stream { return in.streams }

// Chapters returns nil: transport streams carry no chapters.
func (in *input) Chapters() []*media.Chapter { return nil }

// Metadata returns top-level metadata (none in raw TS).
func (in *input) Metadata() map[string]string { return in.metadata }

// Duration is unknown for transport streams.
func (in *input) Duration() float64 { return 0 }

// BitRate is unknown; the demuxer falls back to its estimate policy.
func (in *input) BitRate() int64 { return 0 }

// ReadFrame returns the next elementary payload in container order.
func (in *input) ReadFrame() (*media.Packet, error) {
	for {
		if len(in.pending) > 0 {
			pkt := in.pending[0]
			in.pending = in.pending[1:]
			return pkt, nil
		}

		u, err := in.nextUnit()
		if err != nil {
			return nil, err
		}
		if u.pes == nil {
			continue // periodic PSI repeats
		}
		if pkt := in.packetFromPES(u); pkt != nil {
			return pkt, nil
		}
	}
}

// Seek rewinds a seekable source to the start of the stream; transport
// streams have no index, so only the restart position is supported.
func (in *input) Seek(streamIndex int, timestamp int64, flags int) error {
	if in.src.IsSequential() {
		return buffer.ErrNotSupported
	}
	if _, err := in.src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("mpegts: seek: %w", err)
	}
	in.pool = newPool(in.pmts)
	in.unitBuf = nil
	in.eofUnits = nil
	in.pending = nil
	in.eof = false
	return nil
}

// ReadPause is a no-op; pacing is the source's concern.
func (in *input) ReadPause() error { return nil }

// ReadPlay is a no-op.
func (in *input) ReadPlay() error { return nil }

// Close releases nothing; the buffer is owned by the demuxer.
func (in *input) Close() error { return nil }
