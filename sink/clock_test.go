package sink

import (
	"testing"
	"time"

	"github.com/gwsu/torc/media"
)

func setupPCM(t *testing.T) *ClockSink {
	t.Helper()
	s := NewClockSink()
	s.SetAudioParams(media.FormatS16, 2, 2, media.CodecPCMS16LE, 48000, false, 0)
	if err := s.Initialise(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAudioTimeUnknownBeforeData(t *testing.T) {
	t.Parallel()

	s := setupPCM(t)
	if pts, _ := s.AudioTime(); pts != media.NoPTS {
		t.Errorf("AudioTime before data: got %d, want NoPTS", pts)
	}
}

func TestAddAudioDataAdvancesClock(t *testing.T) {
	t.Parallel()

	s := setupPCM(t)

	// 100 ms of stereo s16 at 48 kHz.
	block := make([]byte, 48000*2*2/10)
	if !s.AddAudioData(block, 0, 4800) {
		t.Fatal("AddAudioData refused")
	}

	pts1, upd1 := s.AudioTime()
	if pts1 == media.NoPTS {
		t.Fatal("AudioTime still unknown after data")
	}
	if upd1 == 0 {
		t.Error("lastUpdate not set")
	}

	time.Sleep(50 * time.Millisecond)
	pts2, _ := s.AudioTime()
	if pts2 < pts1 {
		t.Errorf("audio clock went backwards: %d -> %d", pts1, pts2)
	}
	if pts2 == pts1 {
		t.Errorf("audio clock did not advance during playout")
	}
}

func TestFillStatusDrains(t *testing.T) {
	t.Parallel()

	s := setupPCM(t)
	block := make([]byte, 48000*2*2/10) // 100 ms
	s.AddAudioData(block, 0, 4800)

	if got := s.FillStatus(); got == 0 {
		t.Fatal("FillStatus: expected buffered bytes")
	}

	time.Sleep(150 * time.Millisecond)
	if got := s.FillStatus(); got != 0 {
		t.Errorf("FillStatus after playout window: got %d, want 0", got)
	}
}

func TestDrainReturnsOnceEmpty(t *testing.T) {
	t.Parallel()

	s := setupPCM(t)
	block := make([]byte, 48000*2*2/20) // 50 ms
	s.AddAudioData(block, 0, 2400)

	start := time.Now()
	s.Drain()
	if elapsed := time.Since(start); elapsed > drainTimeout {
		t.Errorf("Drain exceeded its bound: %v", elapsed)
	}
	if got := s.FillStatus(); got != 0 {
		t.Errorf("FillStatus after Drain: got %d", got)
	}
}

func TestPassthroughPolicy(t *testing.T) {
	t.Parallel()

	s := NewClockSink()
	if !s.ShouldPassthrough(48000, 2, media.CodecAAC, 0, false) {
		t.Error("AAC should be passthrough")
	}
	if s.ShouldPassthrough(48000, 2, media.CodecPCMS16LE, 0, false) {
		t.Error("PCM should not be passthrough")
	}
	if !s.DecoderWillDownmix(media.CodecAC3) {
		t.Error("AC-3 should be decoder-downmixed")
	}
	if s.DecoderWillDownmix(media.CodecPCMS16LE) {
		t.Error("PCM should not be decoder-downmixed")
	}
}
