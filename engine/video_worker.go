package engine

import (
	"time"

	"github.com/gwsu/torc/media"
)

// defaultFrameRate is assumed until timestamps let the worker measure one.
const defaultFrameRate = 30000.0 / 1001.0

// saneAspect bounds plausibility for computed aspect ratios.
func saneAspect(v float64) bool { return v > 0.1 && v < 10.0 }

// ptsTracker selects a validated timestamp per frame: PTS unless the PTS
// channel has shown more monotonicity violations than the DTS channel.
// Counters reset on seek and flush.
type ptsTracker struct {
	lastPTS   int64
	lastDTS   int64
	faultyPTS int
	faultyDTS int
}

func (t *ptsTracker) reset() {
	t.lastPTS = media.NoPTS
	t.lastDTS = media.NoPTS
	t.faultyPTS = 0
	t.faultyDTS = 0
}

func (t *ptsTracker) validTimestamp(pts, dts int64) int64 {
	if dts != media.NoPTS {
		if t.lastDTS != media.NoPTS && dts <= t.lastDTS {
			t.faultyDTS++
		}
		t.lastDTS = dts
	}
	if pts != media.NoPTS {
		if t.lastPTS != media.NoPTS && pts <= t.lastPTS {
			t.faultyPTS++
		}
		t.lastPTS = pts
	}

	if (t.faultyPTS <= t.faultyDTS || dts == media.NoPTS) && pts != media.NoPTS {
		return pts
	}
	return dts
}

// decodeVideoFrames is the video worker loop: flush handling, packet decode
// through the codec into the frame pool, and frame attribute stamping.
func (d *demuxer) decodeVideoFrames(w *worker) {
	d.log.Info("video thread starting")
	defer d.log.Info("video thread stopping")

	q := w.queue
	pool := d.eng.pool

	tracker := &ptsTracker{}
	tracker.reset()
	keyframeSeen := false
	frameNumber := 0
	lastPTS := media.NoPTS
	frameRate := defaultFrameRate
	curWidth, curHeight := 0, 0

	w.setState(StateRunning)

	for !d.eng.interrupted() && w.Requested() != StateStopped {
		w.awaitWork(d.eng.interrupted)

		if d.eng.interrupted() || w.Requested() == StateStopped {
			break
		}
		w.applyRequested()

		for w.State() == StateRunning && q.Length() > 0 {
			index := d.CurrentStream(media.StreamTypeVideo)
			pkt := q.Pop()
			if pkt == nil {
				break
			}

			dec := d.videoDecoder()

			if pkt.IsFlush() {
				if dec != nil {
					dec.Flush()
				}
				tracker.reset()
				// Frames decoded before the next keyframe are
				// marked corrupt, even across stream changes.
				keyframeSeen = false
				lastPTS = media.NoPTS
				pool.Reset(false)
				if index >= 0 {
					d.eng.armAudioFilter()
				}
				continue
			}

			if index < 0 || pkt.StreamIndex != index || dec == nil {
				continue // discard
			}

			pic, err := dec.Decode(pkt)
			if err != nil {
				d.log.Warn("video decode error", "error", err)
				continue
			}
			if pic == nil {
				continue
			}

			if pic.Keyframe {
				keyframeSeen = true
			}

			if pic.Width != curWidth || pic.Height != curHeight {
				if curWidth != 0 || curHeight != 0 {
					d.log.Info("video format changed",
						"width", pic.Width, "height", pic.Height)
				}
				curWidth, curHeight = pic.Width, pic.Height
				pool.FormatChanged(media.PixelFormatYUV420P, pic.Width, pic.Height, 4)
			}

			frame := pool.FrameForDecoding()
			for frame == nil {
				// Pool exhausted: the refresh loop frees frames as
				// it displays them.
				if d.eng.interrupted() || w.Requested() == StateStopped {
					break
				}
				time.Sleep(10 * time.Millisecond)
				frame = pool.FrameForDecoding()
			}
			if frame == nil {
				break
			}

			valid := tracker.validTimestamp(pkt.PTS, pkt.DTS)
			if lastPTS != media.NoPTS && valid != media.NoPTS && valid > lastPTS {
				frameRate = 1000.0 / float64(valid-lastPTS)
			}

			frameNumber++
			frame.Buffer = pic.Data
			frame.PTS = valid
			frame.FrameNumber = frameNumber
			frame.Corrupt = !keyframeSeen
			frame.Interlaced = pic.Interlaced
			frame.TopFieldFirst = pic.TopFieldFst
			frame.RepeatPict = pic.RepeatPict
			frame.PixelAspectRatio = pic.PixelAspect
			frame.FrameAspectRatio = frameAspect(pic.Width, pic.Height, pic.PixelAspect)
			frame.FrameRate = frameRate
			if pic.Height >= 720 {
				frame.ColourSpace = media.ColourSpaceBT709
			} else if pic.Height > 0 {
				frame.ColourSpace = media.ColourSpaceBT601
			}

			pool.ReleaseFrameFromDecoding(frame)

			if valid != media.NoPTS {
				lastPTS = valid
				d.eng.noteVideoPTS(valid)
			}
		}
	}

	w.setState(StateStopped)
	q.Flush(true)
}

// frameAspect derives the display aspect ratio from geometry and pixel
// aspect, falling back to 4:3 when nothing sane is available.
func frameAspect(width, height int, pixelAspect float64) float64 {
	if height > 0 {
		if pixelAspect > 0 {
			if v := pixelAspect * float64(width) / float64(height); saneAspect(v) {
				return v
			}
		}
		if v := float64(width) / float64(height); saneAspect(v) {
			return v
		}
	}
	return 4.0 / 3.0
}
