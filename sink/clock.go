package sink

import (
	"sync"
	"time"

	"github.com/gwsu/torc/media"
)

// monoStart anchors the monotonic microsecond clock shared with the
// supervisor's refresh loop.
var monoStart = time.Now()

// NowMicros returns monotonic microseconds since process start.
func NowMicros() int64 {
	return time.Since(monoStart).Microseconds()
}

// drainTimeout bounds how long Drain waits for buffered audio to play out.
const drainTimeout = 500 * time.Millisecond

// ClockSink is a software Sink: queued audio "plays" at the configured
// sample rate against the monotonic clock. It is the default sink for
// headless playback and tests.
type ClockSink struct {
	mu sync.Mutex

	maxChannels int
	passthrough map[media.CodecID]bool
	downmix     map[media.CodecID]bool

	format      media.SampleFormat
	channels    int
	sampleRate  int
	codec       media.CodecID
	passthru    bool
	initialised bool

	bufferedBytes int
	bufferedMs    int64
	headPTS       int64 // PTS at the end of the buffered audio
	lastUpdate    int64 // monotonic micros of the last AddAudioData
	started       bool
}

// NewClockSink creates a stereo software sink. Compressed codecs are taken
// by passthrough; AC-3 and DTS are marked decoder-downmixed.
func NewClockSink() *ClockSink {
	return &ClockSink{
		maxChannels: 2,
		passthrough: map[media.CodecID]bool{
			media.CodecAAC: true,
			media.CodecAC3: true,
			media.CodecDTS: true,
		},
		downmix: map[media.CodecID]bool{
			media.CodecAC3: true,
			media.CodecDTS: true,
		},
		headPTS: media.NoPTS,
	}
}

// SetMaxChannels overrides the widest accepted layout.
func (s *ClockSink) SetMaxChannels(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.maxChannels = n
	}
}

// ShouldPassthrough reports true for codecs configured for passthrough.
func (s *ClockSink) ShouldPassthrough(sampleRate, channels int, codec media.CodecID, profile int, upmix bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passthrough[codec]
}

// DecoderWillDownmix reports true for hard-downmix codecs.
func (s *ClockSink) DecoderWillDownmix(codec media.CodecID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downmix[codec]
}

// NeedsDecodingBeforePassthrough reports false: the clock sink takes raw
// bitstream as-is.
func (s *ClockSink) NeedsDecodingBeforePassthrough() bool { return false }

// MaxChannels returns the widest accepted layout.
func (s *ClockSink) MaxChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxChannels
}

// FillStatus returns the buffered byte count after simulated playout.
func (s *ClockSink) FillStatus() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainElapsedLocked()
	return s.bufferedBytes
}

// SetAudioParams reconfigures the output; Initialise applies it.
func (s *ClockSink) SetAudioParams(format media.SampleFormat, originalChannels, requestChannels int,
	codec media.CodecID, sampleRate int, passthrough bool, profile int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.format = format
	s.channels = requestChannels
	if s.channels <= 0 {
		s.channels = originalChannels
	}
	s.sampleRate = sampleRate
	s.codec = codec
	s.passthru = passthrough
}

// Initialise opens the simulated output and clears any stale buffer.
func (s *ClockSink) Initialise() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialised = true
	s.bufferedBytes = 0
	s.bufferedMs = 0
	s.headPTS = media.NoPTS
	s.started = false
	return nil
}

// HasAudioOut reports whether Initialise has run.
func (s *ClockSink) HasAudioOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialised
}

// AddAudioData queues a block. Duration comes from the frame count when
// known, else from the byte count at the configured PCM rate.
func (s *ClockSink) AddAudioData(data []byte, pts int64, frameCount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialised {
		return false
	}
	s.drainElapsedLocked()

	var durationMs int64
	switch {
	case frameCount > 0 && s.sampleRate > 0:
		durationMs = int64(frameCount) * 1000 / int64(s.sampleRate)
	case s.sampleRate > 0 && s.channels > 0 && s.format.SampleSize() > 0:
		bytesPerMs := s.sampleRate * s.channels * s.format.SampleSize() / 1000
		if bytesPerMs > 0 {
			durationMs = int64(len(data) / bytesPerMs)
		}
	}

	s.bufferedBytes += len(data)
	s.bufferedMs += durationMs
	if pts != media.NoPTS {
		s.headPTS = pts + durationMs
	} else if s.headPTS != media.NoPTS {
		s.headPTS += durationMs
	}
	s.lastUpdate = NowMicros()
	s.started = true
	return true
}

// Drain waits (bounded) for the buffer to play out.
func (s *ClockSink) Drain() {
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		s.drainElapsedLocked()
		empty := s.bufferedMs <= 0
		s.mu.Unlock()
		if empty {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// AudioTime reports the playout position: the PTS at the buffer head minus
// whatever is still queued.
func (s *ClockSink) AudioTime() (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.headPTS == media.NoPTS {
		return media.NoPTS, 0
	}
	s.drainElapsedLocked()
	return s.headPTS - s.bufferedMs, s.lastUpdate
}

// drainElapsedLocked advances simulated playout by the wall time elapsed
// since the last update, shrinking the buffer proportionally.
func (s *ClockSink) drainElapsedLocked() {
	if !s.started || s.bufferedMs <= 0 {
		return
	}
	now := NowMicros()
	elapsedMs := (now - s.lastUpdate) / 1000
	if elapsedMs <= 0 {
		return
	}

	if elapsedMs >= s.bufferedMs {
		s.bufferedMs = 0
		s.bufferedBytes = 0
	} else {
		consumed := int(int64(s.bufferedBytes) * elapsedMs / s.bufferedMs)
		s.bufferedBytes -= consumed
		s.bufferedMs -= elapsedMs
	}
	s.lastUpdate = now
}
