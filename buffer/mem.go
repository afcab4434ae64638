package buffer

import (
	"io"
	"sync"
)

// MemBuffer is an in-memory Buffer used by tests and synthetic inputs. It can
// optionally declare itself sequential or nominate a required container
// format, which makes it a convenient stand-in for exotic sources.
type MemBuffer struct {
	mu         sync.Mutex
	uri        string
	data       []byte
	pos        int64
	sequential bool
	required   string
	closed     bool

	// BlockReads, when set, makes Read block until Close. Used to exercise
	// the abort path on stuck input.
	BlockReads bool
	unblock    chan struct{}
}

// NewMem creates a MemBuffer over data.
func NewMem(uri string, data []byte) *MemBuffer {
	return &MemBuffer{uri: uri, data: data, unblock: make(chan struct{})}
}

// SetSequential marks the buffer as unseekable.
func (b *MemBuffer) SetSequential(sequential bool) { b.sequential = sequential }

// SetRequiredFormat nominates a container format, bypassing the probe.
func (b *MemBuffer) SetRequiredFormat(name string) { b.required = name }

// Peek returns up to n bytes without advancing the position.
func (b *MemBuffer) Peek(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= int64(len(b.data)) {
		return nil, nil
	}
	end := b.pos + int64(n)
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	out := make([]byte, end-b.pos)
	copy(out, b.data[b.pos:end])
	return out, nil
}

// Read copies from the backing slice, advancing the position.
func (b *MemBuffer) Read(p []byte) (int, error) {
	if b.BlockReads {
		<-b.unblock
		return 0, io.EOF
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.EOF
	}
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// Write is not supported.
func (b *MemBuffer) Write(p []byte) (int, error) { return 0, ErrNotSupported }

// Seek repositions unless the buffer is sequential.
func (b *MemBuffer) Seek(offset int64, whence int) (int64, error) {
	if b.sequential {
		return 0, ErrNotSupported
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = int64(len(b.data)) + offset
	}
	if b.pos < 0 {
		b.pos = 0
	}
	return b.pos, nil
}

// IsSequential reports the configured seekability.
func (b *MemBuffer) IsSequential() bool { return b.sequential }

// BytesAvailable returns the bytes left from the current position.
func (b *MemBuffer) BytesAvailable() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pos >= int64(len(b.data)) {
		return 0
	}
	return int64(len(b.data)) - b.pos
}

// BestBufferSize returns a small fixed read size.
func (b *MemBuffer) BestBufferSize() int { return 4096 }

// Size returns the backing slice length.
func (b *MemBuffer) Size() int64 { return int64(len(b.data)) }

// FilteredURI returns the URI unchanged.
func (b *MemBuffer) FilteredURI() string { return b.uri }

// RequiredFormat returns the nominated format, if any.
func (b *MemBuffer) RequiredFormat() string { return b.required }

// HandleAction reports false.
func (b *MemBuffer) HandleAction(action int) bool { return false }

// SetBitrate is a no-op for in-memory data.
func (b *MemBuffer) SetBitrate(bitsPerSecond int64, factor int) {}

// Close releases any blocked reader.
func (b *MemBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.unblock)
	}
	return nil
}
