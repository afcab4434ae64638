package frames

import (
	"testing"

	"github.com/gwsu/torc/media"
)

func TestAcquireReleaseCycle(t *testing.T) {
	t.Parallel()

	p := NewPool(2)

	f1 := p.FrameForDecoding()
	if f1 == nil {
		t.Fatal("expected a free frame")
	}
	f2 := p.FrameForDecoding()
	if f2 == nil {
		t.Fatal("expected a second free frame")
	}
	if p.FrameForDecoding() != nil {
		t.Fatal("pool of 2 handed out a third frame")
	}

	f1.PTS = 100
	p.ReleaseFrameFromDecoding(f1)
	f2.PTS = 133
	p.ReleaseFrameFromDecoding(f2)

	if pts, ok := p.NextVideoTimestamp(); !ok || pts != 100 {
		t.Errorf("NextVideoTimestamp: got %d/%v, want 100/true", pts, ok)
	}
	// Peeking must not consume the frame.
	if pts, ok := p.NextVideoTimestamp(); !ok || pts != 100 {
		t.Errorf("NextVideoTimestamp (second peek): got %d/%v", pts, ok)
	}

	d1 := p.FrameForDisplaying()
	if d1 != f1 {
		t.Error("display order should follow decode order")
	}
	p.ReleaseFrameFromDisplaying(d1)

	if p.FrameForDecoding() == nil {
		t.Error("released frame did not return to Free")
	}
}

func TestResetKeepsDisplayingFrame(t *testing.T) {
	t.Parallel()

	p := NewPool(3)

	a := p.FrameForDecoding()
	b := p.FrameForDecoding()
	p.ReleaseFrameFromDecoding(a)
	p.ReleaseFrameFromDecoding(b)

	shown := p.FrameForDisplaying()
	if shown != a {
		t.Fatal("expected oldest decoded frame")
	}

	p.Reset(false)

	unused, inuse, held := p.Status()
	if held != 1 {
		t.Errorf("held: got %d, want 1 (displaying frame survives reset)", held)
	}
	if inuse != 0 {
		t.Errorf("inuse: got %d, want 0", inuse)
	}
	if unused != 2 {
		t.Errorf("unused: got %d, want 2", unused)
	}

	p.Reset(true)
	unused, _, held = p.Status()
	if held != 0 || unused != 3 {
		t.Errorf("after force reset: unused=%d held=%d, want 3/0", unused, held)
	}
}

func TestDoubleReleaseIsHarmless(t *testing.T) {
	t.Parallel()

	p := NewPool(1)
	f := p.FrameForDecoding()
	p.ReleaseFrameFromDecoding(f)

	shown := p.FrameForDisplaying()
	p.ReleaseFrameFromDisplaying(shown)
	p.ReleaseFrameFromDisplaying(shown) // second release must not corrupt Free

	if got := p.FrameForDecoding(); got == nil {
		t.Fatal("expected frame available")
	}
	if p.FrameForDecoding() != nil {
		t.Fatal("double release duplicated a frame in the free list")
	}
}

func TestFormatChangedResets(t *testing.T) {
	t.Parallel()

	p := NewPool(2)
	a := p.FrameForDecoding()
	p.ReleaseFrameFromDecoding(a)

	p.FormatChanged(media.PixelFormatYUV420P, 1280, 720, 4)

	if got := p.DecodedCount(); got != 0 {
		t.Errorf("DecodedCount after format change: got %d, want 0", got)
	}

	f := p.FrameForDecoding()
	if f.RawWidth != 1280 || f.RawHeight != 720 || f.PixelFormat != media.PixelFormatYUV420P {
		t.Errorf("acquired frame geometry: %dx%d fmt %d", f.RawWidth, f.RawHeight, f.PixelFormat)
	}
}
