package buffer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

const fileDefaultBufferSize = 32 * 1024

func init() {
	RegisterFactory(fileFactory{})
}

type fileFactory struct{}

func (fileFactory) Score(uri string) int {
	switch schemeOf(uri) {
	case "", "file":
		return 10
	}
	return 0
}

func (fileFactory) Create(uri string) (Buffer, error) {
	return OpenFile(uri)
}

// FileBuffer is a seekable Buffer over a local file.
type FileBuffer struct {
	uri      string
	file     *os.File
	size     int64
	readSize atomic.Int64
}

// OpenFile opens a local file as a Buffer. file:// prefixes are stripped.
func OpenFile(uri string) (*FileBuffer, error) {
	path := strings.TrimPrefix(uri, "file://")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	b := &FileBuffer{uri: path, file: f, size: info.Size()}
	b.readSize.Store(fileDefaultBufferSize)
	return b, nil
}

// Peek reads up to n bytes at the current position without advancing it.
func (b *FileBuffer) Peek(n int) ([]byte, error) {
	pos, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	read, err := b.file.ReadAt(buf, pos)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}

// Read reads from the file, advancing the position.
func (b *FileBuffer) Read(p []byte) (int, error) {
	return b.file.Read(p)
}

// Write is not supported for read-only file playback.
func (b *FileBuffer) Write(p []byte) (int, error) {
	return 0, ErrNotSupported
}

// Seek repositions the file.
func (b *FileBuffer) Seek(offset int64, whence int) (int64, error) {
	return b.file.Seek(offset, whence)
}

// IsSequential reports false: files seek.
func (b *FileBuffer) IsSequential() bool { return false }

// BytesAvailable returns the bytes between the current position and EOF.
func (b *FileBuffer) BytesAvailable() int64 {
	pos, err := b.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	if pos >= b.size {
		return 0
	}
	return b.size - pos
}

// BestBufferSize returns the bitrate-scaled read size.
func (b *FileBuffer) BestBufferSize() int { return int(b.readSize.Load()) }

// Size returns the file size.
func (b *FileBuffer) Size() int64 { return b.size }

// FilteredURI returns the plain path handed to the format layer.
func (b *FileBuffer) FilteredURI() string { return b.uri }

// RequiredFormat returns "" so the format layer probes.
func (b *FileBuffer) RequiredFormat() string { return "" }

// HandleAction reports false; plain files consume no actions.
func (b *FileBuffer) HandleAction(action int) bool { return false }

// SetBitrate sizes read-ahead to roughly one second of content, scaled by
// the container factor and clamped to [32 KiB, 1 MiB].
func (b *FileBuffer) SetBitrate(bitsPerSecond int64, factor int) {
	if bitsPerSecond <= 0 || factor <= 0 {
		return
	}
	size := bitsPerSecond / 8 * int64(factor)
	if size < fileDefaultBufferSize {
		size = fileDefaultBufferSize
	}
	if size > 1<<20 {
		size = 1 << 20
	}
	b.readSize.Store(size)
}

// Close closes the underlying file.
func (b *FileBuffer) Close() error { return b.file.Close() }
