package engine

import (
	"testing"

	"github.com/gwsu/torc/media"
)

func TestScoreStreamComponents(t *testing.T) {
	t.Parallel()

	base := &media.Stream{Type: media.StreamTypeAudio, Index: 0}
	forced := &media.Stream{Type: media.StreamTypeAudio, Index: 1, Disposition: media.DispositionForced}
	deflt := &media.Stream{Type: media.StreamTypeAudio, Index: 2, Disposition: media.DispositionDefault}
	localized := &media.Stream{Type: media.StreamTypeAudio, Index: 3, Language: "de"}
	surround := &media.Stream{Type: media.StreamTypeAudio, Index: 4, OriginalChannels: 6}

	count := 5
	baseScore := scoreStream(base, 0, count, "")

	if got := scoreStream(forced, 0, count, ""); got != baseScore+1000 {
		t.Errorf("forced: got %d, want %d", got, baseScore+1000)
	}
	if got := scoreStream(deflt, 0, count, ""); got != baseScore+100 {
		t.Errorf("default: got %d, want %d", got, baseScore+100)
	}
	if got := scoreStream(localized, 0, count, "de"); got != baseScore+500 {
		t.Errorf("locale match: got %d, want %d", got, baseScore+500)
	}
	if got := scoreStream(localized, 0, count, "fr"); got != baseScore {
		t.Errorf("locale mismatch: got %d, want %d", got, baseScore)
	}
	if got := scoreStream(surround, 0, count, ""); got != baseScore+12 {
		t.Errorf("channels: got %d, want %d", got, baseScore+12)
	}
}

func TestScoreStreamPositionBias(t *testing.T) {
	t.Parallel()

	s := &media.Stream{Type: media.StreamTypeAudio}
	first := scoreStream(s, 0, 3, "")
	last := scoreStream(s, 2, 3, "")
	if first <= last {
		t.Errorf("earlier streams should outscore later ones: %d vs %d", first, last)
	}
}

func TestScoreStreamDeterministic(t *testing.T) {
	t.Parallel()

	s := &media.Stream{
		Type:             media.StreamTypeAudio,
		Language:         "en",
		Disposition:      media.DispositionDefault,
		OriginalChannels: 2,
	}
	a := scoreStream(s, 1, 4, "en")
	b := scoreStream(s, 1, 4, "en")
	if a != b {
		t.Errorf("score not deterministic: %d vs %d", a, b)
	}
}

func TestPTSTrackerPrefersHealthyChannel(t *testing.T) {
	t.Parallel()

	tr := &ptsTracker{}
	tr.reset()

	// Clean PTS: picked every time.
	if got := tr.validTimestamp(100, 90); got != 100 {
		t.Errorf("got %d, want 100", got)
	}
	if got := tr.validTimestamp(133, 123); got != 133 {
		t.Errorf("got %d, want 133", got)
	}

	// Break PTS monotonicity twice while DTS stays clean: DTS wins.
	tr.validTimestamp(50, 156)
	tr.validTimestamp(40, 190)
	if got := tr.validTimestamp(30, 223); got != 223 {
		t.Errorf("after PTS faults: got %d, want DTS 223", got)
	}

	// Reset clears the fault counters.
	tr.reset()
	if got := tr.validTimestamp(10, 5); got != 10 {
		t.Errorf("after reset: got %d, want 10", got)
	}
}

func TestPTSTrackerMissingTimestamps(t *testing.T) {
	t.Parallel()

	tr := &ptsTracker{}
	tr.reset()

	if got := tr.validTimestamp(media.NoPTS, 80); got != 80 {
		t.Errorf("missing PTS: got %d, want DTS 80", got)
	}
	if got := tr.validTimestamp(120, media.NoPTS); got != 120 {
		t.Errorf("missing DTS: got %d, want PTS 120", got)
	}
}
