package engine

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gwsu/torc/buffer"
	"github.com/gwsu/torc/codec"
	"github.com/gwsu/torc/container"
	"github.com/gwsu/torc/media"
)

// workerStopTimeoutMs bounds how long teardown waits for each worker.
const workerStopTimeoutMs = 1000

// demuxer owns the input, the three decoder workers, and the packet-reading
// loop. Its life cycle is one open → run → teardown pass on the demux
// worker's goroutine.
type demuxer struct {
	eng *Engine
	log *slog.Logger
	uri string

	demux *worker
	audio *worker
	video *worker
	sub   *worker

	srcMu sync.Mutex
	src   buffer.Buffer
	input container.Input

	streamLock     sync.RWMutex
	programs       []*media.Program
	chapters       []*media.Chapter
	metadata       map[string]string
	streamsByIndex map[int]*media.Stream
	currentProgram int
	currentStreams [media.StreamTypeEnd]int

	duration      float64
	bitrate       int64
	bitrateFactor int
	pauseResult   error

	decMu    sync.Mutex
	audioDec codec.AudioDecoder
	videoDec codec.VideoDecoder
	subDec   codec.SubtitleDecoder

	audioIn  media.AudioDescription
	audioOut media.AudioDescription
}

func newDemuxer(eng *Engine, uri string, log *slog.Logger) *demuxer {
	d := &demuxer{
		eng:   eng,
		log:   log.With("component", "demuxer"),
		uri:   uri,
		demux: newWorker("demux", log, false),
		audio: newWorker("audio", log, true),
		video: newWorker("video", log, true),
		sub:   newWorker("subtitle", log, true),
	}
	for i := range d.currentStreams {
		d.currentStreams[i] = -1
	}
	return d
}

// run is the demux goroutine body: open, then pump packets.
func (d *demuxer) run() {
	d.log.Info("demuxer starting")
	if d.openDemuxer() {
		d.demuxPackets()
	}
	d.log.Info("demuxer stopped")
}

// failOpen tears down a partially opened demuxer and reports the terminal
// state. User messaging is the supervisor's job; the engine only logs.
func (d *demuxer) failOpen(err error) bool {
	d.log.Error("demuxer open failed", "error", err)
	d.closeDemuxer()
	d.demux.setState(StateErrored)
	return false
}

// openDemuxer performs the ordered open sequence: workers first, then
// buffer, probe, format, programs, stream selection, codecs, chapters.
func (d *demuxer) openDemuxer() bool {
	if d.demux.State() > StateNone {
		d.log.Warn("trying to reopen demuxer, ignoring")
		return false
	}
	d.demux.setState(StateOpening)

	// 1. Consumer workers start and set themselves Running at once (they
	// do not start Paused); they idle on their queues, which the demuxer
	// fills only after Start.
	if !d.audio.IsRunning() {
		d.audio.start(func() { d.decodeAudioFrames(d.audio) })
	}
	if !d.video.IsRunning() {
		d.video.start(func() { d.decodeVideoFrames(d.video) })
	}
	if !d.sub.IsRunning() {
		d.sub.start(func() { d.decodeSubtitles(d.sub) })
	}

	// 2. Buffer for the URI.
	src, err := buffer.Create(d.uri)
	if err != nil {
		return d.failOpen(errors.Join(ErrOpenFailed, err))
	}
	d.srcMu.Lock()
	d.src = src
	d.srcMu.Unlock()

	// Required format beats probing.
	var format container.Format
	if name := src.RequiredFormat(); name != "" {
		if format = container.Lookup(name); format != nil {
			d.log.Info("demuxer required by buffer", "format", name)
		}
	}
	if format == nil {
		probeSize := d.eng.tunables.ProbeSize
		if !src.IsSequential() && src.BytesAvailable() < int64(probeSize) {
			probeSize = int(src.BytesAvailable())
		}
		peek, err := src.Peek(probeSize)
		if err != nil {
			return d.failOpen(errors.Join(ErrOpenFailed, err))
		}
		format = container.Probe(peek, d.uri)
	}
	if format == nil {
		return d.failOpen(ErrOpenFailed)
	}

	// 3. Byte-context sizing, capped by available bytes.
	bufSize := src.BestBufferSize()
	if !src.IsSequential() && src.BytesAvailable() < int64(bufSize) {
		bufSize = int(src.BytesAvailable())
	}
	d.log.Info("input buffer size", "bytes", bufSize)

	// 4./5. Open the format with the abort callback installed.
	input, err := format.Open(src, container.OpenOptions{
		Interrupt:  d.eng.interrupted,
		BufferSize: bufSize,
		Log:        d.log,
	})
	if err != nil {
		return d.failOpen(errors.Join(ErrOpenFailed, err))
	}
	d.input = input

	// 6. Programs and streams, with reclassification.
	if !d.scanPrograms() {
		return d.failOpen(ErrNoPrograms)
	}

	// 7. Bitrate policy.
	d.updateBitrate()

	// 8. Default program, stream scoring.
	d.selectProgram(0)
	d.selectStreams()

	// 9. Codecs for the selected streams.
	if !d.openDecoders() {
		return d.failOpen(ErrCodecOpen)
	}

	// 10. Chapters.
	d.scanChapters()
	d.debugPrograms()

	// 11. Ready.
	d.demux.setState(StatePaused)
	return true
}

// scanPrograms rebuilds the container's programs, applying the engine's
// classification rules: attached pictures become attachments, plain-text
// subtitle codecs become raw text, unknown streams are discarded.
func (d *demuxer) scanPrograms() bool {
	d.streamLock.Lock()
	defer d.streamLock.Unlock()

	d.programs = nil
	d.metadata = d.input.Metadata()
	d.streamsByIndex = make(map[int]*media.Stream)
	d.currentProgram = 0

	for _, src := range d.input.Programs() {
		prog := &media.Program{
			ID:       src.ID,
			Index:    src.Index,
			Metadata: src.Metadata,
		}
		for t := media.StreamTypeUnknown; t < media.StreamTypeEnd; t++ {
			for _, s := range src.Streams[t] {
				reclassifyStream(s)
				if !s.Valid() {
					continue
				}
				prog.Add(s)
				d.streamsByIndex[s.Index] = s
			}
		}
		if prog.Valid() {
			d.programs = append(d.programs, prog)
		}
	}
	return len(d.programs) > 0
}

// reclassifyStream applies the disposition and codec based overrides.
func reclassifyStream(s *media.Stream) {
	if s.Disposition&media.DispositionAttachedPic != 0 {
		s.Type = media.StreamTypeAttachment
		return
	}
	if s.Type == media.StreamTypeSubtitle &&
		(s.Codec == media.CodecText || s.Codec == media.CodecSRT) {
		s.Type = media.StreamTypeRawText
	}
}

// updateBitrate applies the bitrate policy: container value, estimate from
// size and duration, then 1 Mbit/s when still below 1000 bit/s.
// Matroska-like containers read ahead twice as far.
func (d *demuxer) updateBitrate() {
	duration := d.input.Duration()
	bitrate := d.input.BitRate()
	factor := 1

	if strings.Contains(strings.ToLower(d.input.FormatName()), "matroska") {
		factor = 2
	}

	if bitrate < 1000 && duration > 0 {
		if size := d.src.Size(); size > 0 {
			bitrate = int64(float64(size*8) / duration)
			d.log.Info("guessing bitrate from file size and duration")
		}
	}
	if bitrate < 1000 {
		d.log.Warn("unable to determine a reasonable bitrate, forcing")
		bitrate = 1_000_000
	}

	d.streamLock.Lock()
	d.duration = duration
	d.bitrate = bitrate
	d.bitrateFactor = factor
	d.streamLock.Unlock()

	d.src.SetBitrate(bitrate, factor)
}

// selectProgram picks a program; legal only while Opening or Paused.
func (d *demuxer) selectProgram(index int) bool {
	state := d.demux.State()
	if state != StateOpening && state != StatePaused {
		d.log.Error("cannot select program unless demuxer is paused")
		return false
	}

	d.streamLock.Lock()
	defer d.streamLock.Unlock()
	if index < 0 || index >= len(d.programs) {
		return false
	}
	d.currentProgram = index
	return true
}

// selectStreams re-runs stream scoring for every type; legal only while
// Opening or Paused.
func (d *demuxer) selectStreams() bool {
	state := d.demux.State()
	if state != StateOpening && state != StatePaused {
		d.log.Error("cannot select streams unless demuxer is paused")
		return false
	}

	d.selectStream(media.StreamTypeAudio)
	d.selectStream(media.StreamTypeVideo)
	d.selectStream(media.StreamTypeSubtitle)
	d.selectStream(media.StreamTypeRawText)
	return true
}

// selectStreamChecked re-runs selection for one type; legal only while
// Opening or Paused.
func (d *demuxer) selectStreamChecked(t media.StreamType) bool {
	state := d.demux.State()
	if state != StateOpening && state != StatePaused {
		d.log.Error("cannot select streams unless demuxer is paused")
		return false
	}
	d.selectStream(t)
	return true
}

// openDecoders opens a codec for each selected stream. Probe streams and
// teletext/plain-text subtitles are skipped; any other failure is fatal.
func (d *demuxer) openDecoders() bool {
	d.closeDecoders()

	if d.eng.flags&DecodeNone != 0 {
		return true
	}

	for t := media.StreamTypeAudio; t < media.StreamTypeEnd; t++ {
		if t == media.StreamTypeAudio && d.eng.flags&DecodeAudio == 0 {
			continue
		}
		if (t == media.StreamTypeVideo || t == media.StreamTypeSubtitle || t == media.StreamTypeRawText) &&
			d.eng.flags&DecodeVideo == 0 {
			continue
		}

		index := d.CurrentStream(t)
		if index < 0 {
			continue
		}
		stream := d.streamByIndex(index)
		if stream == nil || stream.Codec == media.CodecProbe {
			continue
		}

		switch t {
		case media.StreamTypeAudio:
			dec, err := codec.OpenAudio(stream)
			if err != nil {
				d.log.Error("failed to open audio codec", "codec", stream.Codec, "error", err)
				return false
			}
			d.decMu.Lock()
			d.audioDec = dec
			d.decMu.Unlock()
		case media.StreamTypeVideo:
			dec, err := codec.OpenVideo(stream)
			if err != nil {
				d.log.Error("failed to open video codec", "codec", stream.Codec, "error", err)
				return false
			}
			d.decMu.Lock()
			d.videoDec = dec
			d.decMu.Unlock()
			// Hold early audio until the first frame decodes so the
			// tracks start together.
			d.eng.armAudioFilter()
		case media.StreamTypeSubtitle:
			if stream.Codec == media.CodecDVBTeletext || stream.Codec == media.CodecText {
				continue
			}
			dec, err := codec.OpenSubtitle(stream)
			if err != nil {
				d.log.Error("failed to open subtitle codec", "codec", stream.Codec, "error", err)
				return false
			}
			d.decMu.Lock()
			d.subDec = dec
			d.decMu.Unlock()
		}
		d.log.Info("codec opened", "stream", index, "codec", stream.Codec.String())
	}
	return true
}

// closeDecoders runs with the workers already stopped.
func (d *demuxer) closeDecoders() {
	d.decMu.Lock()
	defer d.decMu.Unlock()

	if d.audioDec != nil {
		codec.CloseDecoder(d.audioDec)
		d.audioDec = nil
	}
	if d.videoDec != nil {
		codec.CloseDecoder(d.videoDec)
		d.videoDec = nil
	}
	if d.subDec != nil {
		codec.CloseDecoder(d.subDec)
		d.subDec = nil
	}
}

func (d *demuxer) audioDecoder() codec.AudioDecoder {
	d.decMu.Lock()
	defer d.decMu.Unlock()
	return d.audioDec
}

func (d *demuxer) videoDecoder() codec.VideoDecoder {
	d.decMu.Lock()
	defer d.decMu.Unlock()
	return d.videoDec
}

func (d *demuxer) subtitleDecoder() codec.SubtitleDecoder {
	d.decMu.Lock()
	defer d.decMu.Unlock()
	return d.subDec
}

func (d *demuxer) scanChapters() {
	d.streamLock.Lock()
	d.chapters = d.input.Chapters()
	d.streamLock.Unlock()
}

// debugPrograms dumps the enumerated programs and streams at open time.
func (d *demuxer) debugPrograms() {
	d.log.Info("demuxer open",
		"format", d.input.FormatName(),
		"uri", d.uri,
		"duration", d.duration,
		"bitrate", d.bitrate,
	)
	d.streamLock.RLock()
	defer d.streamLock.RUnlock()

	for _, prog := range d.programs {
		d.log.Info("program", "id", prog.ID, "streams", prog.StreamCount)
		for t := media.StreamTypeAudio; t < media.StreamTypeEnd; t++ {
			for _, s := range prog.Streams[t] {
				d.log.Info("stream",
					"index", s.Index,
					"type", s.Type.String(),
					"codec", s.Codec.String(),
					"language", s.Language,
				)
			}
		}
	}
	for i, ch := range d.chapters {
		d.log.Info("chapter", "index", i, "id", ch.ID, "start", ch.StartTime)
	}
}

// abortIO closes the byte source so a read blocked inside it returns. The
// buffer stays owned by the demuxer, which closes it again (harmlessly) at
// teardown.
func (d *demuxer) abortIO() {
	d.srcMu.Lock()
	if d.src != nil {
		d.src.Close()
	}
	d.srcMu.Unlock()
}

// handleAction offers a control action to the buffer.
func (d *demuxer) handleAction(action int) bool {
	d.srcMu.Lock()
	defer d.srcMu.Unlock()
	if d.src == nil {
		return false
	}
	return d.src.HandleAction(action)
}

// CurrentStream returns the selected stream index for a type, -1 for none.
func (d *demuxer) CurrentStream(t media.StreamType) int {
	d.streamLock.RLock()
	defer d.streamLock.RUnlock()
	return d.currentStreams[t]
}

func (d *demuxer) streamByIndex(index int) *media.Stream {
	d.streamLock.RLock()
	defer d.streamLock.RUnlock()
	return d.streamsByIndex[index]
}

// demuxPackets is the steady-state loop: backpressure, pause/resume
// handshakes, the seek latch, EOF draining, and packet routing.
func (d *demuxer) demuxPackets() {
	state := d.demux

	eof := false
	waseof := false
	demuxerError := false

	for !d.eng.interrupted() && d.input != nil && state.Requested() != StateStopped {
		if state.State() == StatePausing {
			if d.audio.IsPaused() && d.video.IsPaused() && d.sub.IsPaused() {
				d.log.Debug("demuxer paused")
				state.setState(StatePaused)
				continue
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if state.State() == StateStarting {
			if d.audio.IsPaused() || d.video.IsPaused() || d.sub.IsPaused() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			d.log.Debug("demuxer started")
			state.setState(StateRunning)
			continue
		}

		if state.Requested() == StatePaused {
			d.log.Debug("demuxer pausing")
			d.video.Pause()
			d.audio.Pause()
			d.sub.Pause()

			if state.State() == StateRunning {
				// Result recorded but not fatal; not every protocol
				// honours read_pause.
				if d.pauseResult = d.input.ReadPause(); d.pauseResult != nil {
					d.log.Warn("read pause failed", "error", d.pauseResult)
				}
			}
			state.setState(StatePausing)
			state.setRequested(StateNone)
			continue
		}

		if state.Requested() == StateRunning {
			d.log.Debug("demuxer unpausing")
			d.video.Unpause()
			d.audio.Unpause()
			d.sub.Unpause()

			d.input.ReadPlay()
			state.setState(StateStarting)
			state.setRequested(StateNone)
			continue
		}

		if d.eng.takeSeek() {
			if err := d.input.Seek(-1, 0, 0); err != nil {
				d.log.Error("failed to seek", "error", err)
			} else {
				// Flush only reaches the currently selected streams.
				d.video.queue.Flush(true)
				d.audio.queue.Flush(true)
				d.sub.queue.Flush(true)
			}
		}

		if state.State() == StatePaused {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if d.audio.queue.Size() > d.eng.tunables.MaxAudioQueueBytes ||
			d.audio.queue.Length() > d.eng.tunables.MaxQueueLength {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		videoIndex := d.CurrentStream(media.StreamTypeVideo)
		audioIndex := d.CurrentStream(media.StreamTypeAudio)
		subIndex := d.CurrentStream(media.StreamTypeSubtitle)

		if eof {
			if !waseof {
				waseof = true

				// Delay-capable codecs need an empty packet to drain
				// their internal buffers.
				if videoIndex > -1 {
					d.video.queue.Push(media.NewPacket(videoIndex, nil))
				}
				if audioIndex > -1 {
					if s := d.streamByIndex(audioIndex); s != nil && codec.Has(s.Codec, codec.CapDelay) {
						d.audio.queue.Push(media.NewPacket(audioIndex, nil))
					}
				}
			}

			backlog := d.audio.queue.Length() + d.video.queue.Length() + d.sub.queue.Length()
			if backlog == 0 {
				// Let buffered sink audio play out before finishing.
				if d.eng.snk != nil && d.eng.snk.FillStatus() > 1 {
					time.Sleep(50 * time.Millisecond)
					continue
				}
				break
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		pkt, err := d.input.ReadFrame()
		if err != nil {
			if d.eng.interrupted() {
				break
			}
			if errors.Is(err, io.EOF) {
				d.log.Info("end of file")
				eof = true
				continue
			}
			if errors.Is(err, container.ErrInterrupted) {
				continue
			}
			d.log.Error("io error", "error", err)
			demuxerError = true
			break
		}

		switch pkt.StreamIndex {
		case videoIndex:
			d.video.queue.Push(pkt)
		case audioIndex:
			d.audio.queue.Push(pkt)
		case subIndex:
			d.sub.queue.Push(pkt)
		default:
			// Unselected stream: drop.
		}
	}

	state.setState(StateStopping)
	d.log.Info("demuxer stopping")
	d.video.Stop()
	d.audio.Stop()
	d.sub.Stop()
	d.video.Wait(0)
	d.audio.Wait(0)
	d.sub.Wait(0)

	state.setState(StateStopped)

	// Stay queryable until the owner asks for a stop.
	for !d.eng.interrupted() && !demuxerError && state.Requested() != StateStopped {
		time.Sleep(50 * time.Millisecond)
	}

	d.eng.setInterrupt()
	d.log.Info("demuxer exiting")
	d.closeDemuxer()

	if demuxerError {
		state.setState(StateErrored)
	}
}

// closeDemuxer tears the session down: workers, codecs, programs, input,
// buffer. Safe to call on a partially opened demuxer.
func (d *demuxer) closeDemuxer() {
	d.video.Stop()
	d.audio.Stop()
	d.sub.Stop()
	d.video.Wait(workerStopTimeoutMs)
	d.audio.Wait(workerStopTimeoutMs)
	d.sub.Wait(workerStopTimeoutMs)

	d.streamLock.Lock()
	for i := range d.currentStreams {
		d.currentStreams[i] = -1
	}
	d.streamLock.Unlock()

	d.closeDecoders()

	d.streamLock.Lock()
	d.programs = nil
	d.chapters = nil
	d.metadata = nil
	d.streamsByIndex = nil
	d.currentProgram = 0
	d.duration = 0
	d.bitrate = 0
	d.bitrateFactor = 1
	d.streamLock.Unlock()

	if d.input != nil {
		d.input.Close()
		d.input = nil
	}
	d.srcMu.Lock()
	if d.src != nil {
		d.src.Close()
		d.src = nil
	}
	d.srcMu.Unlock()
}
