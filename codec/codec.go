// Package codec provides the decoder registry for the playback engine. Codec
// open and close are serialised by a process-wide lock, mirroring the
// thread-safety contract of hardware-backed decoder libraries; the lock is
// never held across I/O or decoding.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gwsu/torc/media"
)

// Capability flags advertised per codec.
type Capability int

// CapDelay marks codecs whose decoders buffer frames internally and need an
// empty packet at EOF to drain.
const CapDelay Capability = 1 << iota

// ErrUnsupported is returned when no decoder exists for a codec id.
var ErrUnsupported = errors.New("codec: unsupported")

// openLock is the process-wide codec open/close mutex.
var openLock sync.Mutex

// AudioOutput is one block of decoded (interleaved) samples.
type AudioOutput struct {
	Data       []byte
	SampleRate int
	Channels   int
	Format     media.SampleFormat
}

// AudioDecoder decodes audio packets into interleaved PCM. Implementations
// are used by a single worker goroutine.
type AudioDecoder interface {
	// Decode consumes one packet; nil output means the decoder produced
	// nothing (it may be buffering).
	Decode(pkt *media.Packet) (*AudioOutput, error)
	// SampleRate and Channels report the decoded layout; zero until the
	// first successful decode for codecs that declare nothing up front.
	SampleRate() int
	Channels() int
	// SetRequestChannels asks the decoder to downmix to n channels; 0
	// lets the decoder decide.
	SetRequestChannels(n int)
	// ForceChannels coerces the context's channel count (hard-downmix
	// codecs such as AC-3).
	ForceChannels(n int)
	// Flush resets internal buffers after a seek.
	Flush()
	Close() error
}

// Picture is one decoded video picture's attributes plus its payload.
type Picture struct {
	Width       int
	Height      int
	Keyframe    bool
	Interlaced  bool
	TopFieldFst bool
	RepeatPict  int
	PixelAspect float64
	Data        []byte
}

// VideoDecoder decodes video packets into pictures.
type VideoDecoder interface {
	Decode(pkt *media.Packet) (*Picture, error)
	Flush()
	Close() error
}

// SubtitleDecoder decodes subtitle packets into cue events.
type SubtitleDecoder interface {
	Decode(pkt *media.Packet) ([]media.SubtitleEvent, error)
	Flush()
	Close() error
}

// Supported reports whether a decoder exists for the codec.
func Supported(id media.CodecID) bool {
	switch id {
	case media.CodecPCMS16LE, media.CodecPCMU8, media.CodecAAC,
		media.CodecH264, media.CodecH265, media.CodecCEA608:
		return true
	}
	return false
}

// Has reports whether the codec advertises a capability.
func Has(id media.CodecID, c Capability) bool {
	if c == CapDelay {
		// Frame-buffering codecs need the EOF drain packet.
		return id == media.CodecAAC || id == media.CodecH264 || id == media.CodecH265
	}
	return false
}

// OpenAudio creates an audio decoder for the stream under the global lock.
func OpenAudio(s *media.Stream) (AudioDecoder, error) {
	openLock.Lock()
	defer openLock.Unlock()

	switch s.Codec {
	case media.CodecPCMS16LE, media.CodecPCMU8:
		return newPCMDecoder(s), nil
	case media.CodecAAC:
		return newADTSDecoder(), nil
	}
	return nil, fmt.Errorf("%w: audio codec %s", ErrUnsupported, s.Codec)
}

// OpenVideo creates a video decoder for the stream under the global lock.
func OpenVideo(s *media.Stream) (VideoDecoder, error) {
	openLock.Lock()
	defer openLock.Unlock()

	switch s.Codec {
	case media.CodecH264, media.CodecH265:
		return newH26xDecoder(s.Codec, s.Width, s.Height), nil
	}
	return nil, fmt.Errorf("%w: video codec %s", ErrUnsupported, s.Codec)
}

// OpenSubtitle creates a subtitle decoder for the stream under the global
// lock.
func OpenSubtitle(s *media.Stream) (SubtitleDecoder, error) {
	openLock.Lock()
	defer openLock.Unlock()

	switch s.Codec {
	case media.CodecCEA608:
		return newCaptionDecoder(), nil
	}
	return nil, fmt.Errorf("%w: subtitle codec %s", ErrUnsupported, s.Codec)
}

// CloseDecoder closes any decoder under the global lock.
func CloseDecoder(c interface{ Close() error }) error {
	if c == nil {
		return nil
	}
	openLock.Lock()
	defer openLock.Unlock()
	return c.Close()
}
