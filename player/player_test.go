package player_test

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gwsu/torc/buffer"
	_ "github.com/gwsu/torc/container/mpegts"
	_ "github.com/gwsu/torc/container/wav"
	"github.com/gwsu/torc/frames"
	"github.com/gwsu/torc/media"
	"github.com/gwsu/torc/player"
	"github.com/gwsu/torc/render"
	"github.com/gwsu/torc/sink"
)

var (
	fixturesMu sync.Mutex
	fixtures   = map[string][]byte{}
)

type memFactory struct{}

func (memFactory) Score(uri string) int {
	if len(uri) > 6 && uri[:6] == "mem://" {
		return 100
	}
	return 0
}

func (memFactory) Create(uri string) (buffer.Buffer, error) {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	data, ok := fixtures[uri]
	if !ok {
		return nil, fmt.Errorf("no fixture for %q", uri)
	}
	return buffer.NewMem(uri, data), nil
}

func init() {
	buffer.RegisterFactory(memFactory{})
}

func registerFixture(name string, data []byte) string {
	uri := "mem://" + name
	fixturesMu.Lock()
	fixtures[uri] = data
	fixturesMu.Unlock()
	return uri
}

func buildWAV(ms, sampleRate, channels int) []byte {
	bytesPerSecond := sampleRate * channels * 2
	dataLen := bytesPerSecond * ms / 1000

	var out []byte
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+dataLen))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1)
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(bytesPerSecond))
	out = binary.LittleEndian.AppendUint16(out, uint16(channels*2))
	out = binary.LittleEndian.AppendUint16(out, 16)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(dataLen))
	out = append(out, make([]byte, dataLen)...)
	return out
}

// drive ticks the refresh loop until cond holds or the timeout elapses.
func drive(t *testing.T, p *player.Player, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	size := render.Size{Width: 1280, Height: 720}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.Refresh(sink.NowMicros(), size, true)
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s (state %v)", msg, p.GetState())
}

func newPlayer() *player.Player {
	return player.New(sink.NewClockSink(), &render.Null{})
}

func TestPlayMediaEmptyURI(t *testing.T) {
	t.Parallel()

	p := newPlayer()
	defer p.Teardown()

	if p.PlayMedia("", false) {
		t.Fatal("PlayMedia with empty URI should fail")
	}
}

func TestPlaybackLifecycle(t *testing.T) {
	t.Parallel()

	uri := registerFixture("life.wav", buildWAV(10000, 48000, 2))
	p := newPlayer()
	defer p.Teardown()

	if !p.PlayMedia(uri, false) {
		t.Fatal("PlayMedia failed")
	}

	drive(t, p, 5*time.Second, func() bool {
		return p.GetState() == player.Playing
	}, "player did not reach Playing")

	if p.URI() != uri {
		t.Errorf("URI: got %q, want %q", p.URI(), uri)
	}
	if p.IsSwitching() {
		t.Error("still switching after reaching Playing")
	}

	p.Stop()
	drive(t, p, 5*time.Second, func() bool {
		return p.GetState() == player.Stopped
	}, "player did not reach Stopped")
}

func TestPauseAndResume(t *testing.T) {
	t.Parallel()

	uri := registerFixture("pauseres.wav", buildWAV(10000, 48000, 2))
	p := newPlayer()
	defer p.Teardown()

	if !p.PlayMedia(uri, false) {
		t.Fatal("PlayMedia failed")
	}
	drive(t, p, 5*time.Second, func() bool { return p.GetState() == player.Playing },
		"player did not reach Playing")

	p.Pause()
	drive(t, p, 2*time.Second, func() bool { return p.GetState() == player.Paused },
		"player did not reach Paused")

	p.TogglePause()
	drive(t, p, 2*time.Second, func() bool { return p.GetState() == player.Playing },
		"player did not resume via TogglePause")

	p.Stop()
	drive(t, p, 5*time.Second, func() bool { return p.GetState() == player.Stopped },
		"player did not stop")
}

// Scenario: a media switch during playback swaps engines; the new engine
// reaches Playing and the old one is reclaimed.
func TestMediaSwitch(t *testing.T) {
	t.Parallel()

	uri1 := registerFixture("switch1.wav", buildWAV(10000, 48000, 2))
	uri2 := registerFixture("switch2.wav", buildWAV(10000, 44100, 1))
	p := newPlayer()
	defer p.Teardown()

	if !p.PlayMedia(uri1, false) {
		t.Fatal("PlayMedia 1 failed")
	}
	drive(t, p, 5*time.Second, func() bool { return p.GetState() == player.Playing },
		"first media did not reach Playing")

	if !p.PlayMedia(uri2, false) {
		t.Fatal("PlayMedia 2 failed")
	}
	drive(t, p, 10*time.Second, func() bool {
		return p.URI() == uri2 && p.GetState() == player.Playing && !p.IsSwitching()
	}, "second media did not take over")

	p.Stop()
	drive(t, p, 5*time.Second, func() bool { return p.GetState() == player.Stopped },
		"player did not stop after switch")
}

func TestPlayMediaWhileSwitchingIsRejected(t *testing.T) {
	t.Parallel()

	uri1 := registerFixture("busy1.wav", buildWAV(5000, 48000, 1))
	uri2 := registerFixture("busy2.wav", buildWAV(5000, 48000, 1))
	p := newPlayer()
	defer p.Teardown()

	if !p.PlayMedia(uri1, false) {
		t.Fatal("PlayMedia failed")
	}
	if p.PlayMedia(uri2, false) {
		t.Error("PlayMedia during a switch should be rejected")
	}
}

func TestFailedMediaLeavesPlayerErrored(t *testing.T) {
	t.Parallel()

	uri := registerFixture("broken.bin", []byte("garbage that probes nowhere"))

	var messages []string
	var msgMu sync.Mutex
	p := player.New(sink.NewClockSink(), &render.Null{},
		player.WithUserMessage(func(m string) {
			msgMu.Lock()
			messages = append(messages, m)
			msgMu.Unlock()
		}))
	defer p.Teardown()

	if !p.PlayMedia(uri, false) {
		t.Fatal("PlayMedia should start asynchronously")
	}

	drive(t, p, 5*time.Second, func() bool {
		return p.GetState() == player.Errored && !p.IsSwitching()
	}, "player did not error on broken media")

	msgMu.Lock()
	defer msgMu.Unlock()
	if len(messages) == 0 {
		t.Error("expected a user message for the failed open")
	}
}

func TestMasterClock(t *testing.T) {
	t.Parallel()

	// 1500 ms PTS reported 20 ms ago, +10 ms manual offset.
	got := player.MasterClock(1500, 1_000_000, 1_020_000, 10)
	if got != 1530 {
		t.Errorf("MasterClock: got %d, want 1530", got)
	}

	// A stale now (clock skew) must not subtract.
	got = player.MasterClock(1500, 2_000_000, 1_000_000, 0)
	if got != 1500 {
		t.Errorf("MasterClock with skew: got %d, want 1500", got)
	}
}

// Scenario: when audio leads video beyond the tolerance, the refresh policy
// drops frames one by one until video catches up.
func TestDequeueFrameCatchUp(t *testing.T) {
	t.Parallel()

	pool := frames.NewPool(8)
	for i := 0; i < 6; i++ {
		f := pool.FrameForDecoding()
		f.PTS = int64(i) * 33
		f.FrameNumber = i + 1
		pool.ReleaseFrameFromDecoding(f)
	}

	// Clock at 150 ms: frames at 0, 33, 66, 99 are >50 ms behind.
	frame, dropped := player.DequeueFrame(pool, true, 150)
	if frame == nil {
		t.Fatal("expected a frame")
	}
	if dropped != 4 {
		t.Errorf("dropped: got %d, want 4", dropped)
	}
	if frame.PTS != 132 {
		t.Errorf("frame PTS: got %d, want 132", frame.PTS)
	}
	pool.ReleaseFrameFromDisplaying(frame)
}

func TestDequeueFrameVideoAhead(t *testing.T) {
	t.Parallel()

	pool := frames.NewPool(4)
	f := pool.FrameForDecoding()
	f.PTS = 500
	pool.ReleaseFrameFromDecoding(f)

	// Video 400 ms ahead of the clock: wait, do not dequeue.
	frame, dropped := player.DequeueFrame(pool, true, 100)
	if frame != nil {
		t.Errorf("expected no frame while video is ahead, got PTS %d", frame.PTS)
	}
	if dropped != 0 {
		t.Errorf("dropped: got %d, want 0", dropped)
	}

	// Without audio the frame flows immediately.
	frame, _ = player.DequeueFrame(pool, false, media.NoPTS)
	if frame == nil {
		t.Fatal("expected a frame in video-only mode")
	}
	pool.ReleaseFrameFromDisplaying(frame)
}

func TestDequeueFrameWaitsForClock(t *testing.T) {
	t.Parallel()

	pool := frames.NewPool(4)
	f := pool.FrameForDecoding()
	f.PTS = 0
	pool.ReleaseFrameFromDecoding(f)

	// Audio selected but its clock is not valid yet: wait.
	if frame, _ := player.DequeueFrame(pool, true, media.NoPTS); frame != nil {
		t.Error("expected no frame before the audio clock is valid")
	}
}
