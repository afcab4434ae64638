package media

// SampleFormat is the interleaved PCM sample layout delivered to the sink.
type SampleFormat int

// Supported output sample formats.
const (
	FormatNone SampleFormat = iota
	FormatU8
	FormatS16
	FormatS24
	FormatS32
	FormatFLT
)

// SampleSize returns the per-sample byte width of the format.
func (f SampleFormat) SampleSize() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32, FormatFLT:
		return 4
	}
	return 0
}

// String returns the format name used in logs.
func (f SampleFormat) String() string {
	switch f {
	case FormatU8:
		return "u8"
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	case FormatFLT:
		return "flt"
	}
	return "none"
}

// audioBufferTimeMs is the nominal sink buffering window. The audio worker
// naps for half of this when the sink reports a backlog above BestFillSize.
const audioBufferTimeMs = 100

// AudioDescription is an immutable descriptor of the decoded (or passed
// through) audio the sink is asked to accept.
type AudioDescription struct {
	Codec            CodecID
	Format           SampleFormat
	SampleRate       int
	Channels         int
	Passthrough      bool
	OriginalChannels int
	CodecProfile     int
}

// SampleSize is the byte width of one interleaved sample across all channels.
func (d AudioDescription) SampleSize() int {
	return d.Channels * d.Format.SampleSize()
}

// BufferTime is the nominal sink buffering window in milliseconds.
func (d AudioDescription) BufferTime() int {
	return audioBufferTimeMs
}

// BestFillSize is the sink backlog, in bytes, above which the audio worker
// stops feeding and naps for BufferTime/2.
func (d AudioDescription) BestFillSize() int {
	bytesPerSecond := d.SampleRate * d.SampleSize()
	if bytesPerSecond <= 0 {
		return 0
	}
	return bytesPerSecond * audioBufferTimeMs / 1000
}

// String summarises the description for logs.
func (d AudioDescription) String() string {
	pass := ""
	if d.Passthrough {
		pass = " passthrough"
	}
	return d.Codec.String() + " " + d.Format.String() + pass
}

// Equal reports whether two descriptions describe the same sink setup.
func (d AudioDescription) Equal(o AudioDescription) bool {
	return d == o
}
