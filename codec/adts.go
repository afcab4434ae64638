package codec

import (
	"errors"

	"github.com/gwsu/torc/bitstream"
	"github.com/gwsu/torc/media"
)

// ErrInvalidADTS is returned when the ADTS sync word or header is malformed.
var ErrInvalidADTS = errors.New("codec: invalid ADTS header")

// AAC sample rate index table (ISO 14496-3).
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// adtsHeaderSize is the fixed header length; a CRC adds two bytes.
const adtsHeaderSize = 7

// ADTSFrame is a single AAC frame parsed from an ADTS stream.
type ADTSFrame struct {
	Data       []byte // complete ADTS frame (header + payload)
	SampleRate int
	Channels   int
}

// ParseADTS splits an ADTS byte stream into individual AAC frames,
// resynchronising byte by byte over garbage and stopping at a truncated
// trailing frame.
func ParseADTS(data []byte) ([]ADTSFrame, error) {
	var frames []ADTSFrame

	for offset := 0; len(data)-offset >= adtsHeaderSize; {
		rest := data[offset:]

		r := bitstream.NewReader(rest)
		if r.Bits(12) != 0xFFF {
			offset++ // hunt for the next sync word
			continue
		}
		r.Skip(3) // MPEG version, layer
		crcProtected := !r.Flag()
		r.Skip(2) // profile
		rateIndex := int(r.Bits(4))
		if rateIndex >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		r.Skip(1) // private bit
		channelConfig := int(r.Bits(3))
		r.Skip(4) // original/copy, home, copyright id + start
		frameLength := int(r.Bits(13))

		headerSize := adtsHeaderSize
		if crcProtected {
			headerSize += 2
		}
		if frameLength < headerSize || frameLength > len(rest) {
			break // truncated
		}

		frames = append(frames, ADTSFrame{
			Data:       rest[:frameLength],
			SampleRate: aacSampleRates[rateIndex],
			Channels:   channelConfig,
		})
		offset += frameLength
	}

	return frames, nil
}

// adtsDecoder handles AAC delivered as ADTS. The engine's sinks take AAC by
// passthrough, so the decoder's job is layout discovery (sample rate and
// channel count live in the ADTS header) and frame-boundary splitting.
type adtsDecoder struct {
	sampleRate int
	channels   int
	requested  int
}

func newADTSDecoder() *adtsDecoder {
	return &adtsDecoder{}
}

// Decode parses the packet's ADTS frames, learning the stream layout from
// the first valid header, and returns the raw frames for passthrough.
func (d *adtsDecoder) Decode(pkt *media.Packet) (*AudioOutput, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}

	frames, err := ParseADTS(pkt.Data)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}

	if d.sampleRate == 0 {
		d.sampleRate = frames[0].SampleRate
		d.channels = frames[0].Channels
	}

	return &AudioOutput{
		Data:       pkt.Data,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		Format:     media.FormatS16,
	}, nil
}

func (d *adtsDecoder) SampleRate() int { return d.sampleRate }
func (d *adtsDecoder) Channels() int   { return d.channels }

func (d *adtsDecoder) SetRequestChannels(n int) { d.requested = n }

func (d *adtsDecoder) ForceChannels(n int) {
	if n > 0 {
		d.channels = n
	}
}

// Flush forgets the discovered layout so a post-seek stream change is
// re-detected.
func (d *adtsDecoder) Flush() {
	d.sampleRate = 0
	d.channels = 0
}

func (d *adtsDecoder) Close() error { return nil }
