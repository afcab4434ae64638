// Package render defines the video output collaborator the supervisor hands
// synchronised frames to.
package render

import (
	"sync/atomic"

	"github.com/gwsu/torc/media"
)

// Size is the output surface size in pixels.
type Size struct {
	Width  float64
	Height float64
}

// Renderer receives the frame selected by the refresh loop. Refresh is
// called from the supervisor's refresh goroutine only.
type Renderer interface {
	// Refresh presents one frame at timeNowMicros on a surface of the
	// given size.
	Refresh(frame *media.VideoFrame, size Size, timeNowMicros int64)
	// Reset drops any renderer-held state (display device change, stop).
	Reset()
}

// Null is a Renderer that counts frames and otherwise discards them. It
// backs headless playback and tests.
type Null struct {
	frames  atomic.Int64
	lastPTS atomic.Int64
}

// Refresh counts the frame.
func (n *Null) Refresh(frame *media.VideoFrame, size Size, timeNowMicros int64) {
	if frame == nil {
		return
	}
	n.frames.Add(1)
	n.lastPTS.Store(frame.PTS)
}

// Reset clears the counters.
func (n *Null) Reset() {
	n.frames.Store(0)
}

// FrameCount returns the number of frames presented since the last Reset.
func (n *Null) FrameCount() int64 { return n.frames.Load() }

// LastPTS returns the PTS of the most recently presented frame.
func (n *Null) LastPTS() int64 { return n.lastPTS.Load() }
