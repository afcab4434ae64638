package codec

import (
	"github.com/zsiec/ccx"

	"github.com/gwsu/torc/media"
)

// captionDecoder decodes CEA-608 byte pairs into subtitle events. Packets
// either carry raw cc pairs (private-data subtitle streams) or an SEI payload
// from which pairs are extracted.
type captionDecoder struct {
	decoders map[int]*ccx.CEA608Decoder
}

func newCaptionDecoder() *captionDecoder {
	return &captionDecoder{
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

// Decode extracts caption pairs and feeds them through the per-channel
// CEA-608 decoders, emitting one event per completed text update.
func (d *captionDecoder) Decode(pkt *media.Packet) ([]media.SubtitleEvent, error) {
	if len(pkt.Data) == 0 {
		return nil, nil
	}

	var events []media.SubtitleEvent
	emit := func(channel int, cc1, cc2 byte) {
		dec := d.decoders[channel]
		if dec == nil {
			return
		}
		if text := dec.Decode(cc1, cc2); text != "" {
			events = append(events, media.SubtitleEvent{
				PTS:     pkt.PTS,
				Text:    text,
				Channel: channel,
			})
		}
	}

	if cd := ccx.ExtractCaptions(pkt.Data); cd != nil {
		for _, pair := range cd.CC608Pairs {
			emit(pair.Channel, pair.Data[0], pair.Data[1])
		}
		return events, nil
	}

	// Raw byte pairs on channel 1.
	for i := 0; i+1 < len(pkt.Data); i += 2 {
		emit(1, pkt.Data[i], pkt.Data[i+1])
	}
	return events, nil
}

// Flush recreates the channel decoders, dropping any partial caption state.
func (d *captionDecoder) Flush() {
	for ch := range d.decoders {
		d.decoders[ch] = ccx.NewCEA608Decoder()
	}
}

func (d *captionDecoder) Close() error { return nil }
