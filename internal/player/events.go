package player

import "context"

// Event is a notification from the native player.
type Event interface {
	isEvent()
}

// TimePosChanged carries the playback position in seconds.
type TimePosChanged struct{ Seconds float64 }

// PauseChanged mirrors the native pause property.
type PauseChanged struct{ Paused bool }

// DurationChanged carries the track duration in seconds.
type DurationChanged struct{ Seconds float64 }

// VolumeChanged carries the native volume in 0..100.
type VolumeChanged struct{ Percent float64 }

// FileLoaded fires once the native player has opened a new file.
type FileLoaded struct{}

// PlaybackRestart fires when audio actually starts rendering, after a load
// or a seek.
type PlaybackRestart struct{}

// Ended fires when the current file stops playing.
type Ended struct{ Reason string }

func (TimePosChanged) isEvent()  {}
func (PauseChanged) isEvent()    {}
func (DurationChanged) isEvent() {}
func (VolumeChanged) isEvent()   {}
func (FileLoaded) isEvent()      {}
func (PlaybackRestart) isEvent() {}
func (Ended) isEvent()           {}

// Result is the reply to a request/response command.
type Result struct {
	Success bool
	Error   string
}

// NativePlayer is the command surface of an out-of-process player.
type NativePlayer interface {
	Play(ctx context.Context, url, title string, autoPlay bool) (Result, error)
	Pause() error
	Resume() error
	Stop() error
	Seek(seconds float64) error
	SetVolume(percent float64) error
	SetRate(rate float64) error
	SetAudioDevice(ctx context.Context, id string) (Result, error)
	Events() <-chan Event
}
