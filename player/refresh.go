package player

import (
	"time"

	"github.com/gwsu/torc/engine"
	"github.com/gwsu/torc/frames"
	"github.com/gwsu/torc/media"
	"github.com/gwsu/torc/render"
)

// Refresh is one supervisor tick: reclaim finished engines, progress a media
// switch, converge pending intents, and synchronise one video frame to the
// master clock. timeNow is monotonic microseconds (sink.NowMicros). It
// reports whether the player is still active.
func (p *Player) Refresh(timeNow int64, size render.Size, visible bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	// Return the previously displayed frame before picking a new one.
	p.releaseCurrentFrame()

	// 1. Destroy the displaced engine once it stops, or when its teardown
	// timer expires.
	if p.oldEng != nil {
		if p.oldEng.State() == engine.StateStopped {
			p.destroyOldEngine()
		} else if !p.oldStopDeadline.IsZero() && now.After(p.oldStopDeadline) {
			p.log.Error("engine failed to stop, killing")
			p.destroyOldEngine()
		}
	}

	// 2. Progress the media-switch handshake.
	if p.nextEng != nil {
		state := p.nextEng.State()
		switch {
		case state == engine.StateErrored || state == engine.StateStopped:
			p.destroyNextEngine()

		case !p.nextStartDeadline.IsZero() && now.After(p.nextStartDeadline):
			p.destroyNextEngine()

		case state > engine.StateOpening && p.oldEng == nil:
			p.oldEng = p.eng
			if p.oldEng != nil {
				p.oldStopDeadline = now.Add(engineStopTimeout)
				p.oldEng.Stop()
			}

			p.eng = p.nextEng
			p.uri = p.nextURI
			p.nextURI = ""
			p.nextEng = nil
			p.switching = false
			p.nextStartDeadline = time.Time{}

			p.setState(Paused)
			if p.nextEngPlay && p.oldEng == nil {
				p.playLocked()
			}
		}
	}

	if (p.state == Stopped || p.state == Errored) && p.nextState == None {
		return false
	}

	// 3. Fatal engine errors stop playback; the player stays usable for a
	// fresh PlayMedia.
	if p.eng != nil {
		if p.eng.State() == engine.StateErrored {
			p.sendUserMessage("Fatal error decoding media")
			p.log.Error("fatal engine error detected, stopping playback")
			p.setState(Errored)
			return false
		}
	} else {
		if p.state == None || p.state == Opening {
			return false
		}
		p.setState(Errored)
		return false
	}

	// Playback completion.
	if p.eng.State() == engine.StateStopped {
		p.setState(Stopped)
		p.eng.Close()
		p.eng = nil
	}

	// 4. Apply one pending intent, arming its supervision timer.
	if p.nextState != None {
		if p.nextState != p.state {
			switch p.nextState {
			case Paused:
				p.setState(Pausing)
				p.pauseDeadline = now.Add(enginePauseTimeout)
			case Playing:
				if p.oldEng != nil {
					p.log.Warn("trying to start engine before old engine stopped")
					return false
				}
				p.setState(Starting)
				p.playDeadline = now.Add(enginePlayTimeout)
			case Stopped:
				p.setState(Stopping)
				p.stopDeadline = now.Add(engineStopTimeout)
			}
		}
		p.nextState = None
	}

	// Expired supervision timers log and proceed; they never crash.
	if !p.pauseDeadline.IsZero() && now.After(p.pauseDeadline) {
		p.log.Info("waited 1 second for player to pause")
		p.pauseDeadline = time.Time{}
	}
	if !p.playDeadline.IsZero() && now.After(p.playDeadline) {
		p.log.Info("waited 1 second for player to start playing")
		p.playDeadline = time.Time{}
	}
	if !p.stopDeadline.IsZero() && now.After(p.stopDeadline) {
		p.log.Info("waited for player to stop")
		p.stopDeadline = time.Time{}
	}

	// Converge towards the pending transition.
	if p.eng != nil {
		switch p.state {
		case Pausing:
			if p.eng.State() == engine.StatePaused {
				p.setState(Paused)
			} else if p.eng.State() != engine.StatePausing {
				p.eng.Pause()
			}
		case Starting:
			if p.eng.State() == engine.StateRunning {
				p.setState(Playing)
			} else if p.eng.State() != engine.StateStarting {
				p.eng.Start()
			}
		case Stopping:
			if p.eng.State() == engine.StateStopped {
				p.setState(Stopped)
			} else if p.eng.State() != engine.StateStopping {
				p.eng.Stop()
			}
		}
	}

	// 5.-7. Master clock and frame selection.
	p.refreshVideo(timeNow, size)

	return true
}

// refreshVideo computes the master clock and hands at most one synchronised
// frame to the renderer. With audio present the audio clock leads; video
// more than the tolerance ahead waits, video behind is dropped frame by
// frame until it catches up.
func (p *Player) refreshVideo(timeNow int64, size render.Size) {
	if p.eng == nil || p.eng.CurrentStream(media.StreamTypeVideo) == -1 {
		return
	}

	pool := p.eng.Buffers()
	hasAudio := p.eng.CurrentStream(media.StreamTypeAudio) != -1

	audioTime := media.NoPTS
	if p.snk != nil && hasAudio {
		if pts, lastUpdate := p.snk.AudioTime(); pts != media.NoPTS {
			audioTime = MasterClock(pts, lastUpdate, timeNow, p.cfg.AVSyncOffsetMs)
		}
	}

	videoTime, haveVideo := pool.NextVideoTimestamp()
	validAudio := audioTime != media.NoPTS

	switch {
	case hasAudio && validAudio && haveVideo && videoTime-audioTime > avSyncToleranceMs:
		p.log.Debug("video ahead of audio, waiting", "ms", videoTime-audioTime)

	case hasAudio && !validAudio:
		p.log.Debug("waiting for audio to start")

	case hasAudio && !haveVideo:
		p.log.Debug("waiting for video to start")

	default:
		frame := pool.FrameForDisplaying()

		if frame != nil && hasAudio {
			drift := audioTime - frame.PTS
			for drift > avSyncToleranceMs {
				p.log.Info("audio ahead of video, dropping frame",
					"ms", drift, "frame", frame.FrameNumber)
				pool.ReleaseFrameFromDisplaying(frame)
				frame = pool.FrameForDisplaying()
				if frame == nil {
					break
				}
				drift = audioTime - frame.PTS
			}
		}

		p.currentFrame = frame
		p.framePool = pool
	}

	if p.currentFrame != nil && p.rend != nil {
		switch p.state {
		case Paused, Starting, Playing, Searching, Pausing, Stopping:
			p.rend.Refresh(p.currentFrame, size, timeNow)
		}
	}
}

// DequeueFrame applies the refresh loop's selection policy against an
// arbitrary pool, returning the frame to display (caller releases it) and
// the number of frames dropped catching up. Split out for testability.
func DequeueFrame(pool *frames.Pool, hasAudio bool, clock int64) (*media.VideoFrame, int) {
	videoTime, haveVideo := pool.NextVideoTimestamp()
	validAudio := clock != media.NoPTS

	if hasAudio {
		if validAudio && haveVideo && videoTime-clock > avSyncToleranceMs {
			return nil, 0
		}
		if !validAudio || !haveVideo {
			return nil, 0
		}
	}

	frame := pool.FrameForDisplaying()
	dropped := 0
	if frame != nil && hasAudio {
		for clock-frame.PTS > avSyncToleranceMs {
			pool.ReleaseFrameFromDisplaying(frame)
			dropped++
			frame = pool.FrameForDisplaying()
			if frame == nil {
				break
			}
		}
	}
	return frame, dropped
}
