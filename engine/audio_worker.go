package engine

import (
	"time"

	"github.com/gwsu/torc/codec"
	"github.com/gwsu/torc/media"
)

// setupAudio derives the sink configuration from the selected audio stream
// and the decoder's discovered layout, reconfiguring the sink only when the
// description actually changed.
func (d *demuxer) setupAudio() {
	snk := d.eng.snk
	dec := d.audioDecoder()
	if snk == nil || dec == nil {
		return
	}

	index := d.CurrentStream(media.StreamTypeAudio)
	if index < 0 {
		return
	}
	stream := d.streamByIndex(index)
	if stream == nil {
		d.log.Error("fatal audio error: selected stream unknown")
		return
	}

	format := media.FormatS16
	if stream.Codec == media.CodecPCMU8 {
		format = media.FormatU8
	}

	sampleRate := dec.SampleRate()
	if sampleRate == 0 {
		sampleRate = stream.SampleRate
	}
	channels := dec.Channels()
	if channels == 0 {
		channels = stream.Channels
	}

	passthrough := snk.ShouldPassthrough(sampleRate, channels, stream.Codec, stream.Profile, false)

	request := channels
	if !passthrough && channels > snk.MaxChannels() && snk.DecoderWillDownmix(stream.Codec) {
		request = snk.MaxChannels()
		dec.SetRequestChannels(request)
	}

	profile := 0
	if stream.Codec == media.CodecDTS {
		profile = stream.Profile
	}

	desc := media.AudioDescription{
		Codec:            stream.Codec,
		Format:           format,
		SampleRate:       sampleRate,
		Channels:         channels,
		Passthrough:      passthrough,
		OriginalChannels: stream.OriginalChannels,
		CodecProfile:     profile,
	}
	if desc.Equal(d.audioIn) {
		return
	}

	d.audioOut = desc
	d.log.Info("audio format changed", "old", d.audioIn.String(), "new", d.audioOut.String())
	d.audioIn = desc

	snk.SetAudioParams(format, stream.OriginalChannels, request, stream.Codec,
		sampleRate, passthrough, profile)
	if err := snk.Initialise(); err != nil {
		d.log.Error("failed to initialise audio sink", "error", err)
	}
}

// decodeAudioFrames is the audio worker loop: backpressure against the sink,
// flush handling, packet decode, and strictly-increasing PTS forwarding.
func (d *demuxer) decodeAudioFrames(w *worker) {
	d.log.Info("audio thread starting")
	defer d.log.Info("audio thread stopping")

	q := w.queue
	d.eng.audioPTS.Store(media.NoPTS)
	d.setupAudio()
	w.setState(StateRunning)

	for !d.eng.interrupted() && w.Requested() != StateStopped {
		w.awaitWork(d.eng.interrupted)

		if d.eng.interrupted() || w.Requested() == StateStopped {
			break
		}
		w.applyRequested()
		if w.State() == StatePaused {
			continue
		}

		snk := d.eng.snk
		dec := d.audioDecoder()

		// Decoders open after this worker starts; configure the sink as
		// soon as both sides exist.
		if snk != nil && dec != nil && !snk.HasAudioOut() {
			d.setupAudio()
		}

		// Wait for the audio device: short naps keep pauses responsive.
		if snk != nil && d.audioOut.BestFillSize() > 0 && snk.FillStatus() > d.audioOut.BestFillSize() {
			time.Sleep(time.Duration(d.audioOut.BufferTime()/2) * time.Millisecond)
			continue
		}

		index := d.CurrentStream(media.StreamTypeAudio)
		pkt := q.Pop()
		if pkt == nil {
			continue
		}

		if pkt.IsFlush() {
			if dec != nil {
				dec.Flush()
			}
			d.eng.audioPTS.Store(media.NoPTS)
			continue
		}

		if snk == nil || dec == nil || !snk.HasAudioOut() || pkt.StreamIndex != index {
			continue // discard
		}

		d.processAudioPacket(pkt, dec, index)
	}

	w.setState(StateStopped)
	q.Flush(true)
}

// processAudioPacket decodes (or passes through) one packet and forwards the
// result to the sink, honouring passthrough decisions, stream re-selection
// on format changes, and the audio PTS high-water mark.
func (d *demuxer) processAudioPacket(pkt *media.Packet, dec codec.AudioDecoder, index int) {
	snk := d.eng.snk
	stream := d.streamByIndex(index)
	if stream == nil {
		return
	}

	var out *codec.AudioOutput
	decoded := false
	reselect := false

	// First packet with unknown channel layout: decide passthrough vs
	// downmix before the codec commits to a layout.
	if dec.Channels() == 0 {
		d.log.Info("deciding audio layout", "codec", stream.Codec.String())

		passthrough := snk.ShouldPassthrough(dec.SampleRate(), dec.Channels(),
			stream.Codec, stream.Profile, false)
		if passthrough || !snk.DecoderWillDownmix(stream.Codec) {
			// Let the decoder pick the channel count; any downmix
			// happens at the output stage.
			dec.SetRequestChannels(0)
		} else {
			dec.SetRequestChannels(snk.MaxChannels())
			if stream.Codec == media.CodecAC3 {
				dec.ForceChannels(snk.MaxChannels())
			}
		}

		var err error
		out, err = dec.Decode(pkt)
		if err != nil {
			d.log.Warn("audio decode error", "error", err)
			return
		}
		decoded = true
		reselect = dec.Channels() != 0
	}

	if reselect {
		d.log.Warn("need to reselect audio track")
		d.selectStream(media.StreamTypeAudio)
		d.setupAudio()
	}

	var data []byte
	frames := -1

	if d.audioOut.Passthrough {
		if !decoded && snk.NeedsDecodingBeforePassthrough() {
			if _, err := dec.Decode(pkt); err != nil {
				d.log.Warn("audio decode error", "error", err)
				return
			}
		}
		data = pkt.Data
	} else {
		if !decoded {
			if snk.DecoderWillDownmix(stream.Codec) {
				dec.SetRequestChannels(snk.MaxChannels())
				if stream.Codec == media.CodecAC3 {
					dec.ForceChannels(snk.MaxChannels())
				}
			} else {
				dec.SetRequestChannels(0)
			}
			var err error
			out, err = dec.Decode(pkt)
			if err != nil {
				d.log.Warn("audio decode error", "error", err)
				return
			}
		}
		if out == nil {
			return
		}

		// Some layouts are only known after the first decode; a change
		// re-selects the stream and re-opens the sink once the
		// buffered audio has drained.
		if out.SampleRate != d.audioOut.SampleRate || out.Channels != d.audioOut.Channels {
			d.log.Warn("audio stream changed",
				"sampleRate", d.audioOut.SampleRate, "newSampleRate", out.SampleRate,
				"channels", d.audioOut.Channels, "newChannels", out.Channels,
			)
			d.selectStream(media.StreamTypeAudio)
			snk.Drain()
			d.setupAudio()
			return
		}

		data = out.Data
		if out.Channels > 0 && out.Format.SampleSize() > 0 {
			frames = len(out.Data) / (out.Channels * out.Format.SampleSize())
		}
	}

	if len(data) == 0 {
		return
	}

	// Withhold audio that precedes the first decoded video frame.
	if d.eng.filterAudio(pkt.PTS) {
		return
	}

	// Forward only when the audio PTS high-water mark strictly advances.
	watermark := d.eng.audioPTS.Load()
	if pkt.PTS == media.NoPTS || (watermark != media.NoPTS && pkt.PTS <= watermark) {
		return
	}
	d.eng.audioPTS.Store(pkt.PTS)

	if !snk.AddAudioData(data, pkt.PTS, frames) {
		// Sink refusal: re-setup and carry on.
		d.log.Warn("audio sink refused data, reconfiguring")
		d.setupAudio()
	}
}
