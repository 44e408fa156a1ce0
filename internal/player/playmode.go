package player

import "fmt"

// PlayMode is the externally visible play mode.
type PlayMode string

const (
	ModeRepeat     PlayMode = "repeat"
	ModeRepeatOnce PlayMode = "repeat-once"
	ModeShuffle    PlayMode = "shuffle"
)

// ParsePlayMode validates s.
func ParsePlayMode(s string) (PlayMode, error) {
	switch m := PlayMode(s); m {
	case ModeRepeat, ModeRepeatOnce, ModeShuffle:
		return m, nil
	default:
		return "", fmt.Errorf("unknown play mode %q", s)
	}
}

// RepeatMode is what the repeat button cycles through.
type RepeatMode int

const (
	RepeatList RepeatMode = iota
	RepeatTrack
)

type internalMode struct {
	shuffling bool
	repeat    RepeatMode
}

func toInternal(m PlayMode) internalMode {
	switch m {
	case ModeShuffle:
		return internalMode{shuffling: true, repeat: RepeatList}
	case ModeRepeatOnce:
		return internalMode{repeat: RepeatTrack}
	default:
		return internalMode{repeat: RepeatList}
	}
}

func (m internalMode) external() PlayMode {
	switch {
	case m.shuffling:
		return ModeShuffle
	case m.repeat == RepeatTrack:
		return ModeRepeatOnce
	default:
		return ModeRepeat
	}
}

// PlayModeController maps the shuffle and repeat buttons onto the three play
// modes. It remembers the mode in effect before shuffle was switched on so
// switching it off restores that mode. Not safe for concurrent use.
type PlayModeController struct {
	beforeShuffle *internalMode
}

// NextShuffleMode is the mode after pressing shuffle in mode current.
func (c *PlayModeController) NextShuffleMode(current PlayMode) PlayMode {
	mode := toInternal(current)

	var target internalMode
	if mode.shuffling {
		target = internalMode{repeat: RepeatList}
		if c.beforeShuffle != nil {
			target = *c.beforeShuffle
		}
		c.beforeShuffle = nil
	} else {
		saved := mode
		c.beforeShuffle = &saved
		target = internalMode{shuffling: true, repeat: RepeatList}
	}
	return target.external()
}

// NextRepeatMode is the mode after pressing repeat in mode current. Repeat
// always leaves shuffle into list repeat.
func (c *PlayModeController) NextRepeatMode(current PlayMode) PlayMode {
	mode := toInternal(current)

	if mode.shuffling {
		c.beforeShuffle = nil
		return internalMode{repeat: RepeatList}.external()
	}
	if mode.repeat == RepeatList {
		return internalMode{repeat: RepeatTrack}.external()
	}
	return internalMode{repeat: RepeatList}.external()
}

// Snapshot reports the mode saved when shuffle was last switched on.
func (c *PlayModeController) Snapshot() (PlayMode, bool) {
	if c.beforeShuffle == nil {
		return "", false
	}
	return c.beforeShuffle.external(), true
}

// RestoreSnapshot seeds the pre-shuffle mode, for callers that keep it
// outside the controller between presses. Shuffle itself is not a valid
// snapshot and is ignored.
func (c *PlayModeController) RestoreSnapshot(m PlayMode) {
	mode := toInternal(m)
	if mode.shuffling {
		return
	}
	c.beforeShuffle = &mode
}
