package codec

import (
	"github.com/gwsu/torc/media"
)

// pcmDecoder passes interleaved PCM through, reporting the container-declared
// layout.
type pcmDecoder struct {
	format     media.SampleFormat
	sampleRate int
	channels   int
}

func newPCMDecoder(s *media.Stream) *pcmDecoder {
	format := media.FormatS16
	if s.Codec == media.CodecPCMU8 {
		format = media.FormatU8
	}
	return &pcmDecoder{
		format:     format,
		sampleRate: s.SampleRate,
		channels:   s.Channels,
	}
}

// Decode returns the packet payload unchanged; PCM needs no transform.
func (d *pcmDecoder) Decode(pkt *media.Packet) (*AudioOutput, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}
	return &AudioOutput{
		Data:       pkt.Data,
		SampleRate: d.sampleRate,
		Channels:   d.channels,
		Format:     d.format,
	}, nil
}

func (d *pcmDecoder) SampleRate() int          { return d.sampleRate }
func (d *pcmDecoder) Channels() int            { return d.channels }
func (d *pcmDecoder) SetRequestChannels(n int) {}
func (d *pcmDecoder) ForceChannels(n int) {
	if n > 0 {
		d.channels = n
	}
}
func (d *pcmDecoder) Flush()       {}
func (d *pcmDecoder) Close() error { return nil }
