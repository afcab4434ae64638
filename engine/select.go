package engine

import (
	"github.com/samber/lo"

	"github.com/gwsu/torc/media"
)

// scoreStream rates one stream for automatic selection. The function is pure:
// identical inputs always produce identical scores.
func scoreStream(s *media.Stream, position, count int, locale string) int {
	score := count - position
	if locale != "" && s.Language == locale {
		score += 500
	}
	if s.Disposition&media.DispositionForced != 0 {
		score += 1000
	}
	if s.Disposition&media.DispositionDefault != 0 {
		score += 100
	}
	score += (s.OriginalChannels + count) * 2
	return score
}

// selectStream picks the stream of the given type for the current program,
// storing the chosen container index (or -1). It reports whether the
// selection changed.
func (d *demuxer) selectStream(t media.StreamType) bool {
	d.streamLock.Lock()
	defer d.streamLock.Unlock()

	current := d.currentStreams[t]
	selected := -1

	var streams []*media.Stream
	if d.currentProgram >= 0 && d.currentProgram < len(d.programs) {
		streams = d.programs[d.currentProgram].Streams[t]
	}
	count := len(streams)

	ignore := (t == media.StreamTypeAudio && d.eng.flags&DecodeAudio == 0) ||
		((t == media.StreamTypeVideo || t == media.StreamTypeSubtitle || t == media.StreamTypeRawText) &&
			d.eng.flags&DecodeVideo == 0)

	switch {
	case count < 1 || ignore:
		// nothing to pick

	case count == 1:
		selected = streams[0].Index

	default:
		type candidate struct {
			index int
			score int
		}
		scored := lo.Map(streams, func(s *media.Stream, position int) candidate {
			return candidate{
				index: s.Index,
				score: scoreStream(s, position, count, d.eng.tunables.Locale),
			}
		})
		// Strict comparison keeps the first occurrence on ties.
		best := lo.MaxBy(scored, func(a, b candidate) bool { return a.score > b.score })
		selected = best.index
	}

	d.currentStreams[t] = selected
	return current != selected
}
