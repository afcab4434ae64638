// Package wav implements the RIFF/WAVE PCM container format: one audio
// stream, fixed-duration packets, sample-accurate seeking on seekable
// sources.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/container"
	"github.com/gwsu/torc/media"
)

// packetDurationMs is how much audio one demuxed packet carries.
const packetDurationMs = 40

const (
	waveFormatPCM        = 0x0001
	waveFormatExtensible = 0xFFFE
)

var errBadHeader = errors.New("wav: malformed header")

func init() {
	container.Register(Format{})
}

// Format is the wav container format.
type Format struct{}

// Name returns "wav".
func (Format) Name() string { return "wav" }

// Probe recognises the RIFF/WAVE magic.
func (Format) Probe(peek []byte, uri string) int {
	if len(peek) >= 12 && string(peek[0:4]) == "RIFF" && string(peek[8:12]) == "WAVE" {
		return 100
	}
	return 0
}

// Open parses the RIFF chunk list up to the data chunk and enumerates the
// single PCM stream.
func (Format) Open(src buffer.Buffer, opts container.OpenOptions) (container.Input, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	in := &input{
		src:       src,
		interrupt: opts.Interrupt,
		log:       log.With("component", "wav"),
		metadata:  make(map[string]string),
	}
	if in.interrupt == nil {
		in.interrupt = func() bool { return false }
	}

	if err := in.parseHeader(); err != nil {
		return nil, err
	}
	return in, nil
}

type input struct {
	src       buffer.Buffer
	interrupt func() bool
	log       *slog.Logger
	metadata  map[string]string

	stream  *media.Stream
	program *media.Program

	channels      int
	sampleRate    int
	bitsPerSample int
	blockAlign    int
	byteRate      int

	dataStart int64 // byte offset of the data chunk payload
	dataLen   int64
	consumed  int64 // bytes of the data chunk read so far
}

func (in *input) parseHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(in.src, riff[:]); err != nil {
		return fmt.Errorf("wav: read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return errBadHeader
	}

	offset := int64(12)
	haveFmt := false

	for {
		if in.interrupt() {
			return container.ErrInterrupted
		}

		var chunk [8]byte
		if _, err := io.ReadFull(in.src, chunk[:]); err != nil {
			return fmt.Errorf("wav: read chunk header: %w", err)
		}
		offset += 8
		id := string(chunk[0:4])
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))

		switch id {
		case "fmt ":
			if size < 16 {
				return errBadHeader
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(in.src, body); err != nil {
				return fmt.Errorf("wav: read fmt chunk: %w", err)
			}
			offset += size

			format := binary.LittleEndian.Uint16(body[0:2])
			if format != waveFormatPCM && format != waveFormatExtensible {
				return fmt.Errorf("wav: unsupported format tag 0x%04X", format)
			}
			in.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			in.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			in.byteRate = int(binary.LittleEndian.Uint32(body[8:12]))
			in.blockAlign = int(binary.LittleEndian.Uint16(body[12:14]))
			in.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			if in.sampleRate <= 0 || in.channels <= 0 || in.blockAlign <= 0 {
				return errBadHeader
			}
			if in.byteRate <= 0 {
				in.byteRate = in.sampleRate * in.blockAlign
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return errBadHeader
			}
			in.dataStart = offset
			in.dataLen = size
			if in.dataLen == 0 {
				// Streamed wav with unknown length.
				in.dataLen = in.src.BytesAvailable()
			}
			in.buildStream()
			return nil

		default:
			// LIST/INFO and friends: skip.
			if err := in.skip(size); err != nil {
				return err
			}
			offset += size
		}
	}
}

func (in *input) skip(n int64) error {
	if !in.src.IsSequential() {
		_, err := in.src.Seek(n, io.SeekCurrent)
		return err
	}
	buf := make([]byte, 4096)
	for n > 0 {
		chunk := int64(len(buf))
		if chunk > n {
			chunk = n
		}
		read, err := in.src.Read(buf[:chunk])
		if err != nil {
			return fmt.Errorf("wav: skip chunk: %w", err)
		}
		n -= int64(read)
	}
	return nil
}

func (in *input) buildStream() {
	codec := media.CodecPCMS16LE
	if in.bitsPerSample == 8 {
		codec = media.CodecPCMU8
	}

	in.stream = &media.Stream{
		Type:             media.StreamTypeAudio,
		Index:            0,
		ID:               1,
		SecondaryIndex:   -1,
		OriginalChannels: in.channels,
		Metadata:         map[string]string{},
		Codec:            codec,
		SampleRate:       in.sampleRate,
		Channels:         in.channels,
	}

	in.program = &media.Program{ID: 0, Index: 0, Metadata: map[string]string{}}
	in.program.Add(in.stream)
}

// FormatName returns "wav".
func (in *input) FormatName() string { return "wav" }

// Programs returns the synthetic single program.
func (in *input) Programs() []*media.Program { return []*media.Program{in.program} }

// Streams returns the single PCM stream.
func (in *input) Streams() []*media.Stream { return []*media.Stream{in.stream} }

// Chapters returns nil: wav has none.
func (in *input) Chapters() []*media.Chapter { return nil }

// Metadata returns top-level metadata (empty for plain wav).
func (in *input) Metadata() map[string]string { return in.metadata }

// Duration derives the duration from the data chunk length.
func (in *input) Duration() float64 {
	if in.byteRate <= 0 || in.dataLen <= 0 {
		return 0
	}
	return float64(in.dataLen) / float64(in.byteRate)
}

// BitRate reports the PCM byte rate in bits per second.
func (in *input) BitRate() int64 { return int64(in.byteRate) * 8 }

// ReadFrame returns the next packet of packetDurationMs worth of samples.
func (in *input) ReadFrame() (*media.Packet, error) {
	if in.interrupt() {
		return nil, container.ErrInterrupted
	}
	if in.consumed >= in.dataLen {
		return nil, io.EOF
	}

	size := int64(in.byteRate) * packetDurationMs / 1000
	size -= size % int64(in.blockAlign)
	if size <= 0 {
		size = int64(in.blockAlign)
	}
	if remaining := in.dataLen - in.consumed; size > remaining {
		size = remaining
	}

	data := make([]byte, size)
	read, err := io.ReadFull(in.src, data)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if read == 0 {
				return nil, io.EOF
			}
			data = data[:read]
		} else {
			return nil, fmt.Errorf("%w: %v", container.ErrIO, err)
		}
	}

	pkt := media.NewPacket(0, data)
	pkt.PTS = in.consumed * 1000 / int64(in.byteRate)
	pkt.DTS = pkt.PTS
	pkt.Duration = int64(read) * 1000 / int64(in.byteRate)
	in.consumed += int64(read)
	return pkt, nil
}

// Seek repositions into the data chunk by timestamp.
func (in *input) Seek(streamIndex int, timestamp int64, flags int) error {
	if in.src.IsSequential() {
		return buffer.ErrNotSupported
	}
	if timestamp < 0 {
		timestamp = 0
	}

	target := timestamp * int64(in.byteRate) / 1000
	target -= target % int64(in.blockAlign)
	if target > in.dataLen {
		target = in.dataLen
	}

	if _, err := in.src.Seek(in.dataStart+target, io.SeekStart); err != nil {
		return fmt.Errorf("wav: seek: %w", err)
	}
	in.consumed = target
	return nil
}

// ReadPause is a no-op for local PCM data.
func (in *input) ReadPause() error { return nil }

// ReadPlay is a no-op for local PCM data.
func (in *input) ReadPlay() error { return nil }

// Close releases nothing; the buffer is owned by the demuxer.
func (in *input) Close() error { return nil }
