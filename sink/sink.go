// Package sink defines the audio output collaborator consumed by the audio
// decoder worker, plus a software implementation that models playout with a
// monotonic clock so the engine runs end-to-end without audio hardware.
package sink

import (
	"github.com/gwsu/torc/media"
)

// Sink is the audio output surface. The audio worker is the only mutator;
// engine-level setup and teardown pause the worker first. AudioTime is read
// concurrently by the supervisor's refresh loop, so implementations must be
// internally synchronised.
type Sink interface {
	// ShouldPassthrough reports whether encoded bitstream for this codec
	// should be forwarded without decoding/mixing.
	ShouldPassthrough(sampleRate, channels int, codec media.CodecID, profile int, upmix bool) bool
	// DecoderWillDownmix reports whether the decoder is asked to downmix
	// for this codec (as opposed to the sink's own mixer).
	DecoderWillDownmix(codec media.CodecID) bool
	// NeedsDecodingBeforePassthrough reports whether passthrough data must
	// still run through the decoder first (e.g. for framing).
	NeedsDecodingBeforePassthrough() bool
	// MaxChannels is the widest layout the output device accepts.
	MaxChannels() int
	// FillStatus returns the currently buffered byte count.
	FillStatus() int

	// SetAudioParams reconfigures the output ahead of Initialise.
	SetAudioParams(format media.SampleFormat, originalChannels, requestChannels int,
		codec media.CodecID, sampleRate int, passthrough bool, profile int)
	// Initialise (re)opens the output with the configured parameters.
	Initialise() error

	// AddAudioData queues one block of samples with its presentation
	// timestamp and frame count (-1 when unknown). It reports false when
	// the sink refuses the data.
	AddAudioData(data []byte, pts int64, frameCount int) bool
	// Drain blocks until buffered audio has played out (bounded).
	Drain()
	// HasAudioOut reports whether an output is open.
	HasAudioOut() bool

	// AudioTime returns the current playout timestamp in milliseconds
	// (media.NoPTS before audio starts) and the monotonic microsecond
	// time at which it was last updated.
	AudioTime() (pts int64, lastUpdateMicros int64)
}
