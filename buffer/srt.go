package buffer

import (
	"fmt"
	"net/url"
	"sync"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize matches the standard SRT payload size of seven 188-byte
// transport packets, times a few for batching.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

func init() {
	RegisterFactory(srtFactory{})
}

type srtFactory struct{}

func (srtFactory) Score(uri string) int {
	if schemeOf(uri) == "srt" {
		return 50
	}
	return 0
}

func (srtFactory) Create(uri string) (Buffer, error) {
	return OpenSRT(uri)
}

// SRTBuffer is a sequential Buffer over a pulled SRT connection. SRT carries
// MPEG-TS, so the buffer nominates the mpegts container and skips probing.
type SRTBuffer struct {
	uri  string
	conn *srtgo.Conn

	mu     sync.Mutex
	peeked []byte
	closed bool
}

// OpenSRT dials srt://host:port[?streamid=...] and returns a live buffer.
func OpenSRT(uri string) (*SRTBuffer, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse srt uri: %w", err)
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if id := parsed.Query().Get("streamid"); id != "" {
		cfg.StreamID = id
	}

	conn, err := srtgo.Dial(parsed.Host, cfg)
	if err != nil {
		return nil, fmt.Errorf("srt dial %s: %w", parsed.Host, err)
	}

	return &SRTBuffer{uri: uri, conn: conn}, nil
}

// Peek buffers up to n bytes from the socket without consuming them; later
// Reads drain the peeked bytes first.
func (b *SRTBuffer) Peek(n int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.peeked) < n {
		chunk := make([]byte, srtReadBufferSize)
		read, err := b.conn.Read(chunk)
		if read > 0 {
			b.peeked = append(b.peeked, chunk[:read]...)
		}
		if err != nil {
			break
		}
	}

	if len(b.peeked) > n {
		return b.peeked[:n], nil
	}
	return b.peeked, nil
}

// Read serves previously peeked bytes, then the socket.
func (b *SRTBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	if len(b.peeked) > 0 {
		n := copy(p, b.peeked)
		b.peeked = b.peeked[n:]
		b.mu.Unlock()
		return n, nil
	}
	b.mu.Unlock()
	return b.conn.Read(p)
}

// Write is not supported on a pull connection.
func (b *SRTBuffer) Write(p []byte) (int, error) { return 0, ErrNotSupported }

// Seek is not supported; SRT is live.
func (b *SRTBuffer) Seek(offset int64, whence int) (int64, error) {
	return 0, ErrNotSupported
}

// IsSequential reports true.
func (b *SRTBuffer) IsSequential() bool { return true }

// BytesAvailable reports an effectively unbounded live source.
func (b *SRTBuffer) BytesAvailable() int64 { return 1 << 40 }

// BestBufferSize returns the SRT payload batch size.
func (b *SRTBuffer) BestBufferSize() int { return srtReadBufferSize }

// Size is unknown for live input.
func (b *SRTBuffer) Size() int64 { return -1 }

// FilteredURI returns the original URI.
func (b *SRTBuffer) FilteredURI() string { return b.uri }

// RequiredFormat nominates mpegts: SRT payloads are transport streams.
func (b *SRTBuffer) RequiredFormat() string { return "mpegts" }

// HandleAction reports false.
func (b *SRTBuffer) HandleAction(action int) bool { return false }

// SetBitrate is a no-op; SRT paces itself.
func (b *SRTBuffer) SetBitrate(bitsPerSecond int64, factor int) {}

// Close closes the SRT connection, releasing any blocked Read.
func (b *SRTBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}
