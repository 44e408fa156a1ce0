package player

import "testing"

func TestShuffleRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		start PlayMode
	}{
		{"from repeat", ModeRepeat},
		{"from repeat-once", ModeRepeatOnce},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c PlayModeController
			on := c.NextShuffleMode(tt.start)
			if on != ModeShuffle {
				t.Fatalf("expected shuffle, got %s", on)
			}
			off := c.NextShuffleMode(on)
			if off != tt.start {
				t.Fatalf("expected %s restored, got %s", tt.start, off)
			}
		})
	}
}

func TestShuffleOffWithoutSnapshot(t *testing.T) {
	var c PlayModeController
	if got := c.NextShuffleMode(ModeShuffle); got != ModeRepeat {
		t.Fatalf("expected list repeat default, got %s", got)
	}
}

func TestSnapshotIsNotAStack(t *testing.T) {
	var c PlayModeController
	c.NextShuffleMode(ModeRepeatOnce) // snapshot repeat-once
	c.NextShuffleMode(ModeShuffle)    // restore, clear
	if got := c.NextShuffleMode(ModeShuffle); got != ModeRepeat {
		t.Fatalf("snapshot should be single-use, got %s", got)
	}
}

func TestNextRepeatMode(t *testing.T) {
	tests := []struct {
		current PlayMode
		want    PlayMode
	}{
		{ModeRepeat, ModeRepeatOnce},
		{ModeRepeatOnce, ModeRepeat},
		{ModeShuffle, ModeRepeat},
		{PlayMode("bogus"), ModeRepeatOnce},
	}

	for _, tt := range tests {
		t.Run(string(tt.current), func(t *testing.T) {
			var c PlayModeController
			if got := c.NextRepeatMode(tt.current); got != tt.want {
				t.Fatalf("NextRepeatMode(%s) = %s, want %s", tt.current, got, tt.want)
			}
		})
	}
}

func TestRepeatClearsShuffleSnapshot(t *testing.T) {
	var c PlayModeController
	c.NextShuffleMode(ModeRepeatOnce)
	if got := c.NextRepeatMode(ModeShuffle); got != ModeRepeat {
		t.Fatalf("repeat should exit shuffle into list repeat, got %s", got)
	}
	// The cleared snapshot must not resurrect repeat-once.
	if got := c.NextShuffleMode(ModeShuffle); got != ModeRepeat {
		t.Fatalf("expected repeat, got %s", got)
	}
}

func TestSnapshotCarriedBetweenControllers(t *testing.T) {
	var first PlayModeController
	if got := first.NextShuffleMode(ModeRepeatOnce); got != ModeShuffle {
		t.Fatalf("expected shuffle, got %s", got)
	}
	saved, ok := first.Snapshot()
	if !ok || saved != ModeRepeatOnce {
		t.Fatalf("expected repeat-once snapshot, got %q %v", saved, ok)
	}

	var second PlayModeController
	second.RestoreSnapshot(saved)
	if got := second.NextShuffleMode(ModeShuffle); got != ModeRepeatOnce {
		t.Fatalf("restored snapshot should win, got %s", got)
	}
	if _, ok := second.Snapshot(); ok {
		t.Fatal("snapshot should be consumed")
	}

	second.RestoreSnapshot(ModeShuffle)
	if _, ok := second.Snapshot(); ok {
		t.Fatal("shuffle must not be stored as a snapshot")
	}
}

func TestParsePlayMode(t *testing.T) {
	if m, err := ParsePlayMode("repeat-once"); err != nil || m != ModeRepeatOnce {
		t.Fatalf("unexpected result %q, %v", m, err)
	}
	if _, err := ParsePlayMode("loop"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
