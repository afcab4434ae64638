// Package buffer provides URI-addressed byte sources for the demuxer. A
// Buffer couples positioned reads with the capability queries the format
// layer needs: peeking for probes, sequential/seekable classification, and
// read-ahead sizing driven by the measured bitrate.
package buffer

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Action codes forwarded from the control surface down to a buffer. Only
// buffers that understand an action consume it.
const (
	ActionNone = iota
	ActionJumpForward
	ActionJumpBackward
)

// ErrNotSupported is returned by optional operations (Write, Seek on
// sequential sources) that the buffer cannot provide.
var ErrNotSupported = errors.New("buffer: operation not supported")

// Buffer is a byte source for one media URI. Implementations are used by a
// single demuxer goroutine; Close may be called from another goroutine to
// interrupt a blocked read.
type Buffer interface {
	// Peek returns up to n bytes from the current position without
	// advancing it.
	Peek(n int) ([]byte, error)
	// Read advances the position. Blocking reads must return promptly
	// after Close.
	Read(p []byte) (int, error)
	// Write is optional; sources that cannot accept data return
	// ErrNotSupported.
	Write(p []byte) (int, error)
	// Seek repositions the source; sequential sources return
	// ErrNotSupported.
	Seek(offset int64, whence int) (int64, error)

	// IsSequential reports whether the source cannot seek (live input).
	IsSequential() bool
	// BytesAvailable returns the bytes known to remain from the current
	// position, or a large value for unbounded sources.
	BytesAvailable() int64
	// BestBufferSize is the preferred byte-context read size.
	BestBufferSize() int
	// Size returns the total source size in bytes, -1 when unknown.
	Size() int64

	// FilteredURI is the post-processed URI handed to the format layer.
	FilteredURI() string
	// RequiredFormat names a container format the buffer knows it carries,
	// or "" to let the format layer probe.
	RequiredFormat() string

	// HandleAction consumes a control action, reporting whether it did.
	HandleAction(action int) bool
	// SetBitrate informs the buffer of the measured stream bitrate and a
	// container read-ahead factor, for read-ahead sizing.
	SetBitrate(bitsPerSecond int64, factor int)

	Close() error
}

// Factory creates a Buffer for a URI it recognises. Score reports how well
// the factory matches the URI (0 = not handled).
type Factory interface {
	Score(uri string) int
	Create(uri string) (Buffer, error)
}

var (
	factoryMu sync.RWMutex
	factories []Factory
)

// RegisterFactory adds a buffer factory to the registry. Typically called
// from package init.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories = append(factories, f)
}

// Create builds a Buffer for the URI using the best-scoring registered
// factory.
func Create(uri string) (Buffer, error) {
	if uri == "" {
		return nil, errors.New("buffer: empty uri")
	}

	factoryMu.RLock()
	candidates := make([]Factory, len(factories))
	copy(candidates, factories)
	factoryMu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score(uri) > candidates[j].Score(uri)
	})

	if len(candidates) == 0 || candidates[0].Score(uri) <= 0 {
		return nil, fmt.Errorf("buffer: no handler for %q", uri)
	}
	return candidates[0].Create(uri)
}

// schemeOf returns the URI scheme in lower case, or "" for plain paths.
func schemeOf(uri string) string {
	idx := strings.Index(uri, "://")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(uri[:idx])
}
