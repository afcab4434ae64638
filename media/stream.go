package media

// StreamType classifies an elementary track within a container.
type StreamType int

// Stream types in scan order. StreamTypeEnd bounds per-type bucket arrays.
const (
	StreamTypeUnknown StreamType = iota
	StreamTypeAudio
	StreamTypeVideo
	StreamTypeSubtitle
	StreamTypeRawText
	StreamTypeAttachment
	StreamTypeEnd
)

// String returns the human-readable stream type name used in logs.
func (t StreamType) String() string {
	switch t {
	case StreamTypeAudio:
		return "Audio"
	case StreamTypeVideo:
		return "Video"
	case StreamTypeSubtitle:
		return "Subtitle"
	case StreamTypeRawText:
		return "RawText"
	case StreamTypeAttachment:
		return "Attachment"
	}
	return "Unknown"
}

// Disposition is the container-reported stream disposition bitset.
type Disposition int

// Disposition flags the stream scorer and scanner care about.
const (
	DispositionDefault Disposition = 1 << iota
	DispositionForced
	DispositionAttachedPic
)

// CodecID identifies the codec of an elementary stream. The format layer
// assigns these during stream enumeration.
type CodecID int

// Known codecs. CodecProbe marks a stream the container could not identify.
const (
	CodecUnknown CodecID = iota
	CodecProbe
	CodecPCMS16LE
	CodecPCMU8
	CodecAAC
	CodecAC3
	CodecDTS
	CodecH264
	CodecH265
	CodecText
	CodecSRT
	CodecDVBTeletext
	CodecCEA608
)

// String returns the codec name used in logs.
func (c CodecID) String() string {
	switch c {
	case CodecProbe:
		return "probe"
	case CodecPCMS16LE:
		return "pcm_s16le"
	case CodecPCMU8:
		return "pcm_u8"
	case CodecAAC:
		return "aac"
	case CodecAC3:
		return "ac3"
	case CodecDTS:
		return "dts"
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecText:
		return "text"
	case CodecSRT:
		return "srt"
	case CodecDVBTeletext:
		return "dvb_teletext"
	case CodecCEA608:
		return "cea608"
	}
	return "unknown"
}

// Stream identifies one elementary track in the container, together with the
// codec parameters discovered at open time.
type Stream struct {
	Type             StreamType
	Index            int // container-assigned, unique across the input
	ID               int
	SecondaryIndex   int
	Disposition      Disposition
	Language         string // BCP-47-ish, empty when undeclared
	OriginalChannels int    // audio only
	Metadata         map[string]string

	Codec      CodecID
	Profile    int
	SampleRate int
	Channels   int
	Width      int
	Height     int
}

// Valid reports whether the stream was classified and indexed.
func (s *Stream) Valid() bool {
	return s.Type > StreamTypeUnknown && s.Type < StreamTypeEnd && s.Index >= 0
}

// Program is a collection of streams that belong together, bucketed by type.
// Containers without declared programs are modeled as one synthetic program
// spanning every stream.
type Program struct {
	ID          int
	Index       int
	Metadata    map[string]string
	Streams     [StreamTypeEnd][]*Stream
	StreamCount int
}

// Valid reports whether the program contains at least one usable stream.
func (p *Program) Valid() bool {
	return p.StreamCount > 0
}

// Add buckets the stream by type and bumps the stream count.
func (p *Program) Add(s *Stream) {
	if s == nil || !s.Valid() {
		return
	}
	p.Streams[s.Type] = append(p.Streams[s.Type], s)
	p.StreamCount++
}

// Chapter is a read-only chapter marker parsed at open.
type Chapter struct {
	ID        int
	StartTime int64 // seconds
	Metadata  map[string]string
}

// SubtitleEvent is one decoded subtitle/caption cue produced by the subtitle
// worker.
type SubtitleEvent struct {
	PTS     int64 // milliseconds
	Text    string
	Channel int
}
