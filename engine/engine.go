package engine

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gwsu/torc/config"
	"github.com/gwsu/torc/frames"
	"github.com/gwsu/torc/media"
	"github.com/gwsu/torc/sink"
)

// Flags select which track types the engine decodes.
type Flags int

// Decode flags. DecodeVideo also covers subtitles and raw text.
const (
	DecodeNone Flags = 1 << iota
	DecodeAudio
	DecodeVideo
)

// DecodeAV decodes everything.
const DecodeAV = DecodeAudio | DecodeVideo

// Option configures an Engine at construction.
type Option func(*Engine)

// WithFlags overrides the decode flags (default DecodeAV).
func WithFlags(f Flags) Option { return func(e *Engine) { e.flags = f } }

// WithTunables overrides the default tunables.
func WithTunables(t config.Tunables) Option { return func(e *Engine) { e.tunables = t } }

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option { return func(e *Engine) { e.baseLog = log } }

// WithPoolSize overrides the video frame pool size.
func WithPoolSize(n int) Option { return func(e *Engine) { e.poolSize = n } }

// Engine is the media engine (one per URI): it owns the demuxer goroutine
// and its workers, the frame pool, and the seek/interrupt latches. Control
// methods are safe from any goroutine.
type Engine struct {
	// ID distinguishes overlapping engines during media switches.
	ID string

	baseLog   *slog.Logger
	log       *slog.Logger
	uri       string
	flags     Flags
	tunables  config.Tunables
	poolSize  int
	snk       sink.Sink
	pool      *frames.Pool
	subtitles chan media.SubtitleEvent

	d *demuxer

	interrupt     atomic.Bool
	seek          atomic.Bool
	audioPTS      atomic.Int64
	videoPTS      atomic.Int64
	firstVideoPTS atomic.Int64
	audioFilter   atomic.Bool
}

// New creates an Engine for the URI. The sink may be nil for video-only use.
func New(uri string, snk sink.Sink, opts ...Option) *Engine {
	e := &Engine{
		ID:        uuid.NewString(),
		uri:       uri,
		flags:     DecodeAV,
		tunables:  config.Defaults(),
		snk:       snk,
		subtitles: make(chan media.SubtitleEvent, 32),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.baseLog == nil {
		e.baseLog = slog.Default()
	}
	e.log = e.baseLog.With("engine", e.ID[:8])
	e.pool = frames.NewPool(e.poolSize)

	e.audioPTS.Store(media.NoPTS)
	e.videoPTS.Store(media.NoPTS)
	e.firstVideoPTS.Store(media.NoPTS)

	e.d = newDemuxer(e, uri, e.log)
	return e
}

// Open starts the demuxer goroutine. It reports false for an empty URI; any
// later failure surfaces through the Errored state.
func (e *Engine) Open() bool {
	if e.uri == "" {
		return false
	}
	e.d.demux.start(e.d.run)
	time.Sleep(50 * time.Millisecond)
	return true
}

// State returns the demuxer's authoritative state.
func (e *Engine) State() State { return e.d.demux.State() }

// Start requests playback.
func (e *Engine) Start() { e.d.demux.Unpause() }

// Pause requests a pause.
func (e *Engine) Pause() { e.d.demux.Pause() }

// Stop raises the interrupt flag (preempting blocked reads via the abort
// callback), closes the byte source (buffer) to unblock any read stuck inside
// it, and asks
// the demuxer to stop.
func (e *Engine) Stop() {
	e.interrupt.Store(true)
	e.d.demux.Stop()
	e.d.abortIO()
}

// Seek latches a seek request; the demuxer consumes it on its next
// iteration.
func (e *Engine) Seek() { e.seek.Store(true) }

// takeSeek consumes the seek latch.
func (e *Engine) takeSeek() bool { return e.seek.CompareAndSwap(true, false) }

// SelectProgram switches the current program; legal only while Opening or
// Paused.
func (e *Engine) SelectProgram(index int) bool { return e.d.selectProgram(index) }

// SelectStreams re-runs stream selection; legal only while Opening or
// Paused.
func (e *Engine) SelectStreams() bool { return e.d.selectStreams() }

// SelectStream re-runs selection for a single stream type; legal only while
// Opening or Paused.
func (e *Engine) SelectStream(t media.StreamType) bool { return e.d.selectStreamChecked(t) }

// CurrentStream returns the selected stream index for a type, or -1.
func (e *Engine) CurrentStream(t media.StreamType) int { return e.d.CurrentStream(t) }

// Programs returns the enumerated programs.
func (e *Engine) Programs() []*media.Program {
	e.d.streamLock.RLock()
	defer e.d.streamLock.RUnlock()
	out := make([]*media.Program, len(e.d.programs))
	copy(out, e.d.programs)
	return out
}

// Chapters returns the parsed chapter markers.
func (e *Engine) Chapters() []*media.Chapter {
	e.d.streamLock.RLock()
	defer e.d.streamLock.RUnlock()
	out := make([]*media.Chapter, len(e.d.chapters))
	copy(out, e.d.chapters)
	return out
}

// Duration returns the container duration in seconds, 0 when unknown.
func (e *Engine) Duration() float64 {
	e.d.streamLock.RLock()
	defer e.d.streamLock.RUnlock()
	return e.d.duration
}

// Buffers exposes the video frame pool to the refresh loop.
func (e *Engine) Buffers() *frames.Pool { return e.pool }

// Subtitles delivers decoded caption cues.
func (e *Engine) Subtitles() <-chan media.SubtitleEvent { return e.subtitles }

// AudioPTS returns the audio high-water mark in ms, NoPTS before audio
// starts.
func (e *Engine) AudioPTS() int64 { return e.audioPTS.Load() }

// VideoPTS returns the most recently decoded video PTS, NoPTS before video
// starts.
func (e *Engine) VideoPTS() int64 { return e.videoPTS.Load() }

// HandleAction forwards a control action to the buffer.
func (e *Engine) HandleAction(action int) bool { return e.d.handleAction(action) }

// Close stops the engine and waits (bounded) for the demuxer to exit.
func (e *Engine) Close() {
	e.Stop()
	e.d.demux.Wait(workerStopTimeoutMs)
}

func (e *Engine) interrupted() bool { return e.interrupt.Load() }

func (e *Engine) setInterrupt() { e.interrupt.Store(true) }

// armAudioFilter makes the audio worker withhold data until the video worker
// reports its first decoded timestamp.
func (e *Engine) armAudioFilter() {
	e.firstVideoPTS.Store(media.NoPTS)
	e.audioFilter.Store(true)
}

// filterAudio reports whether audio at pts must be withheld because video
// has not caught up yet. While the first video timestamp is unknown the
// audio worker is slowed down rather than allowed to flood the sink.
func (e *Engine) filterAudio(pts int64) bool {
	if !e.audioFilter.Load() {
		return false
	}
	first := e.firstVideoPTS.Load()
	if first == media.NoPTS {
		time.Sleep(50 * time.Millisecond)
		return true
	}
	if pts != media.NoPTS && pts < first {
		return true
	}
	e.audioFilter.Store(false)
	return false
}

// noteVideoPTS records a decoded video timestamp, latching the first one
// after each flush for the early-audio filter.
func (e *Engine) noteVideoPTS(pts int64) {
	e.videoPTS.Store(pts)
	e.firstVideoPTS.CompareAndSwap(media.NoPTS, pts)
}
