package engine

import "errors"

// Error kinds reported by the engine. Open-sequence failures are terminal
// for the engine but not for the player, which may accept a new Play.
var (
	// ErrOpenFailed marks a buffer or format open failure.
	ErrOpenFailed = errors.New("engine: open failed")
	// ErrNoPrograms marks an input with no usable program.
	ErrNoPrograms = errors.New("engine: no programs found")
	// ErrCodecOpen marks a required codec that could not be opened.
	ErrCodecOpen = errors.New("engine: codec open failed")
	// ErrIO marks a read-layer error distinct from EOF.
	ErrIO = errors.New("engine: io error")
	// ErrInterrupted marks normal termination via Stop.
	ErrInterrupted = errors.New("engine: interrupted")
)
