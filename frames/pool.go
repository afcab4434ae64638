// Package frames implements the video frame pool shared by the decoder path
// (producer) and the refresh loop (consumer). Every frame lives in exactly
// one of four states; the pool is the only party that moves frames between
// them.
package frames

import (
	"sync"

	"github.com/gwsu/torc/media"
)

// DefaultPoolSize is the number of frames allocated per pool. Sized for a
// couple of GOP's worth of decode-ahead without excessive memory.
const DefaultPoolSize = 16

// State is the lifecycle position of one pooled frame.
type State int

// Frame states. Transitions: Free→Decoding (decoder acquire), Decoding→
// Decoded (decoder release), Decoded→Displaying (refresh acquire),
// Displaying→Free (refresh release).
const (
	StateFree State = iota
	StateDecoding
	StateDecoded
	StateDisplaying
)

// Pool owns a fixed arena of VideoFrames and the queues between their
// states. One decoder and one refresh loop may use it concurrently.
type Pool struct {
	mu     sync.Mutex
	frames []*media.VideoFrame
	states map[*media.VideoFrame]State

	free       []*media.VideoFrame
	decoded    []*media.VideoFrame // FIFO in decode (container) order
	displaying *media.VideoFrame

	pixelFormat media.PixelFormat
	width       int
	height      int
	refs        int
}

// NewPool allocates a pool of size frames; size <= 0 uses DefaultPoolSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &Pool{states: make(map[*media.VideoFrame]State, size)}
	for i := 0; i < size; i++ {
		f := &media.VideoFrame{}
		f.Reset()
		p.frames = append(p.frames, f)
		p.free = append(p.free, f)
		p.states[f] = StateFree
	}
	return p
}

// FormatChanged records new decode geometry and resets all non-displaying
// frames so they are re-described on next acquire.
func (p *Pool) FormatChanged(format media.PixelFormat, width, height, refs int) {
	p.mu.Lock()
	p.pixelFormat = format
	p.width = width
	p.height = height
	p.refs = refs
	p.mu.Unlock()

	p.Reset(false)
}

// FrameForDecoding moves the oldest Free frame to Decoding and returns it,
// or nil when the pool is exhausted.
func (p *Pool) FrameForDecoding() *media.VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return nil
	}
	f := p.free[0]
	p.free = p.free[1:]
	p.states[f] = StateDecoding

	f.Reset()
	f.PixelFormat = p.pixelFormat
	f.RawWidth = p.width
	f.RawHeight = p.height
	f.DisplayWidth = p.width
	f.DisplayHeight = p.height
	return f
}

// ReleaseFrameFromDecoding moves a Decoding frame to Decoded, making it
// visible to the refresh loop in acquisition order.
func (p *Pool) ReleaseFrameFromDecoding(f *media.VideoFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.states[f] != StateDecoding {
		return
	}
	p.states[f] = StateDecoded
	p.decoded = append(p.decoded, f)
}

// ReleaseFrameFromDecoded returns a frame the decoder no longer references
// straight to Free (codec dropped it without display).
func (p *Pool) ReleaseFrameFromDecoded(f *media.VideoFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseToFreeLocked(f)
}

// FrameForDisplaying pops the oldest Decoded frame into Displaying, or nil
// when nothing is ready.
func (p *Pool) FrameForDisplaying() *media.VideoFrame {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.decoded) == 0 {
		return nil
	}
	f := p.decoded[0]
	p.decoded = p.decoded[1:]
	p.states[f] = StateDisplaying
	p.displaying = f
	return f
}

// ReleaseFrameFromDisplaying returns a Displaying frame to Free.
func (p *Pool) ReleaseFrameFromDisplaying(f *media.VideoFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.states[f] != StateDisplaying {
		return
	}
	if p.displaying == f {
		p.displaying = nil
	}
	p.releaseToFreeLocked(f)
}

func (p *Pool) releaseToFreeLocked(f *media.VideoFrame) {
	if p.states[f] == StateFree {
		return
	}
	p.states[f] = StateFree
	p.free = append(p.free, f)
}

// NextVideoTimestamp returns the PTS of the oldest Decoded frame without
// removing it; ok is false when no frame is decoded.
func (p *Pool) NextVideoTimestamp() (pts int64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.decoded) == 0 {
		return media.NoPTS, false
	}
	return p.decoded[0].PTS, true
}

// Reset returns every frame to Free except a currently-Displaying one, which
// is reclaimed only when force is set.
func (p *Pool) Reset(force bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.decoded = p.decoded[:0]
	for _, f := range p.frames {
		switch p.states[f] {
		case StateFree:
		case StateDisplaying:
			if force {
				p.displaying = nil
				p.releaseToFreeLocked(f)
			}
		default:
			p.releaseToFreeLocked(f)
		}
	}
}

// Status counts frames per state: unused (Free), inuse (Decoding+Decoded),
// held (Displaying).
func (p *Pool) Status() (unused, inuse, held int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, s := range p.states {
		switch s {
		case StateFree:
			unused++
		case StateDisplaying:
			held++
		default:
			inuse++
		}
	}
	return unused, inuse, held
}

// DecodedCount returns how many frames await display.
func (p *Pool) DecodedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.decoded)
}
