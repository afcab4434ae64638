package engine

import (
	"github.com/gwsu/torc/media"
)

// decodeSubtitles is the subtitle worker loop. It shares the audio/video
// skeleton (flush, pause, stop) and forwards decoded cues to the engine's
// subtitle channel without ever blocking on a slow consumer.
func (d *demuxer) decodeSubtitles(w *worker) {
	d.log.Info("subtitle thread starting")
	defer d.log.Info("subtitle thread stopping")

	q := w.queue
	w.setState(StateRunning)

	for !d.eng.interrupted() && w.Requested() != StateStopped {
		w.awaitWork(d.eng.interrupted)

		if d.eng.interrupted() || w.Requested() == StateStopped {
			break
		}
		w.applyRequested()

		for w.State() == StateRunning && q.Length() > 0 {
			index := d.CurrentStream(media.StreamTypeSubtitle)
			pkt := q.Pop()
			if pkt == nil {
				break
			}

			dec := d.subtitleDecoder()

			if pkt.IsFlush() {
				if dec != nil {
					dec.Flush()
				}
				continue
			}

			if index < 0 || pkt.StreamIndex != index || dec == nil {
				continue // discard
			}

			events, err := dec.Decode(pkt)
			if err != nil {
				d.log.Warn("subtitle decode error", "error", err)
				continue
			}
			for _, ev := range events {
				select {
				case d.eng.subtitles <- ev:
				default:
					// A stalled consumer drops cues, never packets.
				}
			}
		}
	}

	w.setState(StateStopped)
	q.Flush(true)
}
