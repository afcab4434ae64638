// Package container is the format layer: it probes a byte source, opens the
// matching container format, and exposes stream enumeration plus the packet
// read loop to the demuxer.
package container

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/media"
)

// ErrIO marks a read-layer failure distinct from EOF. The demuxer transitions
// to Errored when it sees it.
var ErrIO = errors.New("container: io error")

// ErrInterrupted is returned when the installed abort callback fired during a
// blocking operation.
var ErrInterrupted = errors.New("container: interrupted")

// OpenOptions carries the demuxer-supplied hooks into a format open.
type OpenOptions struct {
	// Interrupt is the abort callback; formats poll it between reads and
	// abandon blocking work when it reports true.
	Interrupt func() bool
	// BufferSize is the byte-context read size, already capped by the
	// buffer's available bytes.
	BufferSize int
	Log        *slog.Logger
}

// Input is an opened container. Implementations are driven by a single
// demuxer goroutine; Close may be called once after that goroutine is done.
type Input interface {
	// FormatName returns the short container name ("wav", "mpegts").
	FormatName() string
	// Programs returns the enumerated programs. Containers that declare
	// none return a single synthetic program over all streams.
	Programs() []*media.Program
	// Streams returns every enumerated stream, indexed by Stream.Index.
	Streams() []*media.Stream
	// Chapters returns the parsed chapter list, possibly empty.
	Chapters() []*media.Chapter
	// Metadata returns top-level container metadata.
	Metadata() map[string]string
	// Duration returns the container duration in seconds, 0 when unknown.
	Duration() float64
	// BitRate returns the container-reported bitrate, 0 when unknown.
	BitRate() int64

	// ReadFrame returns the next packet in container order. io.EOF ends
	// the stream; ErrIO wraps read-layer failures.
	ReadFrame() (*media.Packet, error)
	// Seek repositions to timestamp (ms) on the given stream index, or on
	// the container default when streamIndex is -1.
	Seek(streamIndex int, timestamp int64, flags int) error
	// ReadPause and ReadPlay forward pause intent to protocols that
	// support it; no-ops elsewhere.
	ReadPause() error
	ReadPlay() error

	Close() error
}

// Format creates Inputs for one container type.
type Format interface {
	// Name is the registry key a buffer's RequiredFormat may nominate.
	Name() string
	// Probe scores how confidently the peeked bytes match this format
	// (0 = no match, 100 = certain).
	Probe(peek []byte, uri string) int
	// Open reads the container header from src and enumerates streams.
	Open(src buffer.Buffer, opts OpenOptions) (Input, error)
}

var (
	registryMu sync.RWMutex
	registry   []Format
)

// Register adds a container format. Typically called from package init.
func Register(f Format) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, f)
}

// Lookup returns the registered format with the given name, or nil.
func Lookup(name string) Format {
	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, f := range registry {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// Probe returns the best-scoring format for the peeked bytes, or nil when
// nothing matches.
func Probe(peek []byte, uri string) Format {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var best Format
	bestScore := 0
	for _, f := range registry {
		if score := f.Probe(peek, uri); score > bestScore {
			best, bestScore = f, score
		}
	}
	return best
}
