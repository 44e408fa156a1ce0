package player

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Playerctl reads the now-playing state of an MPRIS player that this process
// does not own, for follow mode.
type Playerctl struct {
	// Player restricts queries to one MPRIS player name. Empty means the
	// playerctl default.
	Player string

	run func(ctx context.Context, args ...string) ([]byte, error)
}

func (p *Playerctl) output(ctx context.Context, args ...string) (string, error) {
	if p.Player != "" {
		args = append([]string{"--player=" + p.Player}, args...)
	}
	run := p.run
	if run == nil {
		run = func(ctx context.Context, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, "playerctl", args...).Output()
		}
	}
	out, err := run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("playerctl %s failed: %w", args[len(args)-1], err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentSong returns "artist - title".
func (p *Playerctl) CurrentSong(ctx context.Context) (string, error) {
	return p.output(ctx, "metadata", "--format", `{{artist}} - {{title}}`)
}

// Position returns the playback position in seconds, or 0 when unknown.
func (p *Playerctl) Position(ctx context.Context) float64 {
	s, err := p.output(ctx, "position")
	if err != nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return seconds
}

// Playing reports whether the followed player is playing.
func (p *Playerctl) Playing(ctx context.Context) bool {
	s, err := p.output(ctx, "status")
	return err == nil && s == "Playing"
}

// Control forwards a transport command such as "play-pause" or
// "position 42" to the followed player.
func (p *Playerctl) Control(ctx context.Context, args ...string) error {
	_, err := p.output(ctx, args...)
	return err
}
