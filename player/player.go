// Package player implements the top-level playback supervisor: a state
// machine over one media engine, with asynchronous media switching, timer
// supervision, and the audio/video master-clock refresh loop.
package player

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gwsu/torc/config"
	"github.com/gwsu/torc/engine"
	"github.com/gwsu/torc/frames"
	"github.com/gwsu/torc/media"
	"github.com/gwsu/torc/render"
	"github.com/gwsu/torc/sink"
)

// Supervision timeouts.
const (
	engineStartTimeout = 20 * time.Second
	engineStopTimeout  = 3 * time.Second
	enginePauseTimeout = time.Second
	enginePlayTimeout  = time.Second
)

// State is the player-level state machine.
type State int

// Player states.
const (
	None State = iota
	Opening
	Paused
	Starting
	Playing
	Searching
	Pausing
	Stopping
	Stopped
	Errored
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case Opening:
		return "Opening"
	case Paused:
		return "Paused"
	case Starting:
		return "Starting"
	case Playing:
		return "Playing"
	case Searching:
		return "Searching"
	case Pausing:
		return "Pausing"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Errored:
		return "Errored"
	case None:
		return "None"
	}
	return "Unknown"
}

// Option configures a Player.
type Option func(*Player)

// WithTunables overrides the default tunables.
func WithTunables(t config.Tunables) Option { return func(p *Player) { p.cfg = t } }

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option { return func(p *Player) { p.baseLog = log } }

// WithFlags overrides the engine decode flags.
func WithFlags(f engine.Flags) Option { return func(p *Player) { p.flags = f } }

// WithUserMessage installs the callback for user-visible messages. Each
// fatal transition emits exactly one.
func WithUserMessage(fn func(string)) Option { return func(p *Player) { p.userMessage = fn } }

// WithStateCallback installs an observer for state transitions.
func WithStateCallback(fn func(State)) Option { return func(p *Player) { p.stateCallback = fn } }

// Player supervises playback. All control methods are idempotent and safe
// from any goroutine; Refresh is driven by the owner's tick.
type Player struct {
	baseLog       *slog.Logger
	log           *slog.Logger
	cfg           config.Tunables
	snk           sink.Sink
	rend          render.Renderer
	flags         engine.Flags
	userMessage   func(string)
	stateCallback func(State)

	mu        sync.Mutex
	uri       string
	state     State
	nextState State
	speed     float64

	eng *engine.Engine

	switching         bool
	nextURI           string
	nextEng           *engine.Engine
	nextEngPlay       bool
	nextStartDeadline time.Time

	oldEng          *engine.Engine
	oldStopDeadline time.Time

	pauseDeadline time.Time
	playDeadline  time.Time
	stopDeadline  time.Time

	currentFrame *media.VideoFrame
	framePool    *frames.Pool

	// newEngine is swappable for tests.
	newEngine func(uri string) *engine.Engine
}

// New creates a Player over the given sink and renderer.
func New(snk sink.Sink, rend render.Renderer, opts ...Option) *Player {
	p := &Player{
		cfg:   config.Defaults(),
		snk:   snk,
		rend:  rend,
		flags: engine.DecodeAV,
		speed: 1.0,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseLog == nil {
		p.baseLog = slog.Default()
	}
	p.log = p.baseLog.With("component", "player")
	p.newEngine = func(uri string) *engine.Engine {
		return engine.New(uri, p.snk,
			engine.WithFlags(p.flags),
			engine.WithTunables(p.cfg),
			engine.WithLogger(p.baseLog),
		)
	}
	return p
}

// setState transitions and cancels any supervision deadlines, notifying the
// observer.
func (p *Player) setState(s State) {
	p.state = s
	p.pauseDeadline = time.Time{}
	p.playDeadline = time.Time{}
	p.stopDeadline = time.Time{}
	if p.stateCallback != nil {
		p.stateCallback(s)
	}
}

func (p *Player) sendUserMessage(msg string) {
	if p.userMessage != nil && msg != "" {
		p.userMessage(msg)
	}
}

// GetState returns the current player state.
func (p *Player) GetState() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsSwitching reports whether a media switch is in flight.
func (p *Player) IsSwitching() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.switching
}

// URI returns the currently playing URI.
func (p *Player) URI() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uri
}

// PlayMedia begins an asynchronous switch to uri. The current engine keeps
// playing until the next engine leaves Opening; at most three engines
// (current, next, old) coexist during the swap.
func (p *Player) PlayMedia(uri string, startPaused bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if uri == p.uri && p.state != Stopped && p.state != Errored {
		return false
	}
	if uri == "" {
		p.log.Error("invalid uri")
		p.sendUserMessage("Failed to open '" + uri + "' (invalid filename)")
		return false
	}
	if p.switching {
		p.log.Error("player busy")
		p.sendUserMessage("Player busy")
		return false
	}

	if p.eng == nil {
		p.setState(Opening)
	}

	p.nextEngPlay = !startPaused
	p.nextURI = uri
	p.nextEng = p.newEngine(uri)

	if p.nextEng == nil || !p.nextEng.Open() {
		p.log.Error("failed to open engine")
		p.sendUserMessage("Failed to open media decoder")
		p.nextURI = ""
		p.nextEng = nil
		return false
	}

	p.nextStartDeadline = time.Now().Add(engineStartTimeout)
	p.switching = true
	return true
}

// Play requests playback of the current media.
func (p *Player) Play() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playLocked()
}

func (p *Player) playLocked() bool {
	if p.state == Errored {
		return false
	}
	p.nextEngPlay = false
	p.nextState = Playing
	return true
}

// Pause requests a pause.
func (p *Player) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored {
		return false
	}
	p.nextState = Paused
	return true
}

// Unpause requests a resume.
func (p *Player) Unpause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored {
		return false
	}
	p.nextState = Playing
	return true
}

// TogglePause flips between paused and playing.
func (p *Player) TogglePause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored {
		return false
	}
	if p.state == Paused || p.state == Pausing {
		p.nextState = Playing
	} else {
		p.nextState = Paused
	}
	return true
}

// Stop requests a stop.
func (p *Player) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored {
		return false
	}
	p.nextState = Stopped
	return true
}

// Seek latches a seek on the current engine.
func (p *Player) Seek() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored || p.eng == nil {
		return false
	}
	p.eng.Seek()
	return true
}

// SelectProgram switches the engine's program.
func (p *Player) SelectProgram(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored || p.eng == nil {
		return false
	}
	return p.eng.SelectProgram(index)
}

// SelectStreams re-runs the engine's stream selection.
func (p *Player) SelectStreams() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored || p.eng == nil {
		return false
	}
	return p.eng.SelectStreams()
}

// SelectStream re-runs selection for a single stream type.
func (p *Player) SelectStream(t media.StreamType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Errored || p.eng == nil {
		return false
	}
	return p.eng.SelectStream(t)
}

// Speed returns the playback speed property.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// SetSpeed sets the playback speed property.
func (p *Player) SetSpeed(speed float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
}

// Reset returns an inactive player to None, releasing every engine. Active
// players refuse the reset.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Errored || p.state == None || p.state == Stopped {
		p.log.Info("resetting player")
		p.teardownLocked()
		return
	}
	p.log.Error("not resetting player while it is active")
}

// Teardown releases everything unconditionally.
func (p *Player) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.teardownLocked()
}

func (p *Player) teardownLocked() {
	p.releaseCurrentFrame()
	p.setState(None)
	p.nextStartDeadline = time.Time{}
	p.oldStopDeadline = time.Time{}

	for _, e := range []*engine.Engine{p.eng, p.nextEng, p.oldEng} {
		if e != nil {
			e.Close()
		}
	}
	p.eng = nil
	p.nextEng = nil
	p.oldEng = nil

	p.uri = ""
	p.nextURI = ""
	p.nextState = None
	p.speed = 0
	p.switching = false

	if p.rend != nil {
		p.rend.Reset()
	}
}

func (p *Player) releaseCurrentFrame() {
	if p.currentFrame != nil && p.framePool != nil {
		p.framePool.ReleaseFrameFromDisplaying(p.currentFrame)
	}
	p.currentFrame = nil
}

// destroyNextEngine abandons a failed switch. The current engine is left
// untouched; the player errors only when there is nothing left to play.
func (p *Player) destroyNextEngine() {
	p.log.Error("failed to create new engine")
	if p.switching {
		p.sendUserMessage("Failed to open media decoder")
	}

	p.nextURI = ""
	if p.nextEng != nil {
		p.nextEng.Close()
		p.nextEng = nil
	}
	p.switching = false
	p.nextStartDeadline = time.Time{}

	if p.eng == nil {
		p.setState(Errored)
	}
}

// destroyOldEngine reclaims the engine displaced by a media switch.
func (p *Player) destroyOldEngine() {
	if p.oldEng != nil {
		p.oldEng.Close()
		p.oldEng = nil
	}
	p.oldStopDeadline = time.Time{}

	if p.eng != nil && p.nextEngPlay {
		p.playLocked()
	}
}
