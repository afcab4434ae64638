// Package media defines the core data model that flows through the playback
// pipeline: demuxed packets, elementary streams and their programs, audio
// descriptors, and decoded video frames.
package media

import "math"

// NoPTS marks an unknown presentation or decode timestamp.
const NoPTS int64 = math.MinInt64

// PacketKind distinguishes real demuxed data from the flush sentinel that a
// queue injects on seek.
type PacketKind int

const (
	// PacketData is a codec-specific encoded chunk read from the container.
	PacketData PacketKind = iota
	// PacketFlush tells the consuming worker to reset its codec state and
	// forget its PTS watermark. It carries no payload.
	PacketFlush
)

// Packet is one container-level encoded unit belonging to a single stream.
// Packets are created by the demuxer and consumed (and thereby released) by
// exactly one decoder worker. The flush sentinel is expressed as an explicit
// kind rather than a magic shared instance, so address identity never matters.
type Packet struct {
	Kind        PacketKind
	StreamIndex int
	PTS         int64 // milliseconds, NoPTS when unknown
	DTS         int64 // milliseconds, NoPTS when unknown
	Duration    int64 // milliseconds, 0 when unknown
	Data        []byte
}

// packetOverhead approximates the queue-accounting cost of an empty packet,
// so that zero-length EOF packets still move the queue size.
const packetOverhead = 32

// NewPacket returns a data packet for the given stream with unknown timestamps.
func NewPacket(streamIndex int, data []byte) *Packet {
	return &Packet{
		Kind:        PacketData,
		StreamIndex: streamIndex,
		PTS:         NoPTS,
		DTS:         NoPTS,
		Data:        data,
	}
}

// FlushPacket returns a flush sentinel. Each call returns a fresh value; the
// sentinel is identified by kind, not by address.
func FlushPacket() *Packet {
	return &Packet{Kind: PacketFlush, StreamIndex: -1, PTS: NoPTS, DTS: NoPTS}
}

// IsFlush reports whether the packet is a flush sentinel.
func (p *Packet) IsFlush() bool {
	return p != nil && p.Kind == PacketFlush
}

// QueueSize is the number of bytes the packet accounts for inside a
// PacketQueue.
func (p *Packet) QueueSize() int64 {
	if p == nil {
		return 0
	}
	return packetOverhead + int64(len(p.Data))
}
