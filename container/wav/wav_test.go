package wav

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/container"
	"github.com/gwsu/torc/media"
)

// buildWAV assembles a 16-bit PCM RIFF file of the given length.
func buildWAV(ms, sampleRate, channels int) []byte {
	bytesPerSecond := sampleRate * channels * 2
	dataLen := bytesPerSecond * ms / 1000

	var out []byte
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+dataLen))
	out = append(out, "WAVE"...)

	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(bytesPerSecond))
	out = binary.LittleEndian.AppendUint16(out, uint16(channels*2)) // block align
	out = binary.LittleEndian.AppendUint16(out, 16)                 // bits per sample

	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(dataLen))
	out = append(out, make([]byte, dataLen)...)
	return out
}

func open(t *testing.T, data []byte) container.Input {
	t.Helper()
	src := buffer.NewMem("mem://clip.wav", data)
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return in
}

func TestProbe(t *testing.T) {
	t.Parallel()

	var f Format
	if got := f.Probe(buildWAV(100, 48000, 1), "clip.wav"); got != 100 {
		t.Errorf("Probe wav: got %d, want 100", got)
	}
	if got := f.Probe([]byte("not a riff file"), "clip.bin"); got != 0 {
		t.Errorf("Probe garbage: got %d, want 0", got)
	}
}

func TestOpenEnumeratesSingleStream(t *testing.T) {
	t.Parallel()

	in := open(t, buildWAV(1000, 48000, 1))
	defer in.Close()

	streams := in.Streams()
	if len(streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(streams))
	}
	s := streams[0]
	if s.Type != media.StreamTypeAudio || s.Codec != media.CodecPCMS16LE {
		t.Errorf("stream: type %v codec %v", s.Type, s.Codec)
	}
	if s.SampleRate != 48000 || s.Channels != 1 {
		t.Errorf("layout: %d Hz %d ch", s.SampleRate, s.Channels)
	}

	programs := in.Programs()
	if len(programs) != 1 || !programs[0].Valid() {
		t.Fatalf("expected 1 valid synthetic program")
	}

	if got := in.Duration(); got < 0.99 || got > 1.01 {
		t.Errorf("Duration: got %f, want ~1.0", got)
	}
}

func TestReadFramePTSAdvances(t *testing.T) {
	t.Parallel()

	in := open(t, buildWAV(200, 48000, 2))
	defer in.Close()

	var last int64 = -1
	packets := 0
	for {
		pkt, err := in.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if pkt.PTS <= last {
			t.Fatalf("PTS not strictly increasing: %d after %d", pkt.PTS, last)
		}
		last = pkt.PTS
		packets++
	}
	// 200 ms at 40 ms per packet.
	if packets != 5 {
		t.Errorf("packets: got %d, want 5", packets)
	}
}

func TestSeekRepositions(t *testing.T) {
	t.Parallel()

	in := open(t, buildWAV(1000, 48000, 1))
	defer in.Close()

	for i := 0; i < 3; i++ {
		if _, err := in.ReadFrame(); err != nil {
			t.Fatal(err)
		}
	}

	if err := in.Seek(-1, 0, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	pkt, err := in.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if pkt.PTS != 0 {
		t.Errorf("PTS after rewind: got %d, want 0", pkt.PTS)
	}

	if err := in.Seek(-1, 500, 0); err != nil {
		t.Fatalf("Seek mid: %v", err)
	}
	pkt, err = in.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	if pkt.PTS != 500 {
		t.Errorf("PTS after mid seek: got %d, want 500", pkt.PTS)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://junk", []byte("RIFFxxxxJUNK"))
	var f Format
	if _, err := f.Open(src, container.OpenOptions{}); err == nil {
		t.Fatal("expected error for non-WAVE RIFF")
	}
}

func TestSeekOnSequentialSourceFails(t *testing.T) {
	t.Parallel()

	src := buffer.NewMem("mem://live.wav", buildWAV(100, 8000, 1))
	src.SetSequential(true)
	var f Format
	in, err := f.Open(src, container.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer in.Close()

	if err := in.Seek(-1, 0, 0); err == nil {
		t.Error("expected seek failure on sequential source")
	}
}
