package lyrics

import "testing"

func line(text string, start float64) Line {
	return Line{Words: []Word{{Word: text, StartTime: start, EndTime: start + 500}}, StartTime: start, EndTime: start + 500}
}

func TestAlignLyricsTolerance(t *testing.T) {
	tests := []struct {
		name    string
		primary float64
		aligned bool
	}{
		{"exact", 1000, true},
		{"within tolerance", 1250, true},
		{"beyond tolerance", 1400, false},
		{"exactly at tolerance", 1300, false},
		{"earlier within tolerance", 800, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lines := []Line{line("main", tt.primary)}
			AlignLyrics(lines, []Line{line("trans", 1000)}, AlignTranslation)
			if got := lines[0].TranslatedLyric == "trans"; got != tt.aligned {
				t.Fatalf("aligned = %v, want %v", got, tt.aligned)
			}
		})
	}
}

func TestAlignLyricsLastMatchWins(t *testing.T) {
	lines := []Line{line("main", 1000)}
	other := []Line{line("first", 900), line("second", 1100)}
	AlignLyrics(lines, other, AlignRoman)
	if lines[0].RomanLyric != "second" {
		t.Fatalf("expected last qualifying line, got %q", lines[0].RomanLyric)
	}
	if lines[0].TranslatedLyric != "" {
		t.Fatal("roman alignment must not touch translation")
	}
}

func TestAlignLyricsEmpty(t *testing.T) {
	if got := AlignLyrics(nil, []Line{line("x", 0)}, AlignTranslation); len(got) != 0 {
		t.Fatal("expected empty result")
	}
	lines := []Line{line("main", 0)}
	if got := AlignLyrics(lines, nil, AlignTranslation); got[0].TranslatedLyric != "" {
		t.Fatal("nothing to align")
	}
}

func TestIndexAt(t *testing.T) {
	lines := []Line{line("a", 1000), line("b", 2000), line("c", 3000)}
	tests := []struct {
		ms   float64
		want int
	}{
		{0, -1},
		{999, -1},
		{1000, 0},
		{1999, 0},
		{2000, 1},
		{10000, 2},
	}
	for _, tt := range tests {
		if got := IndexAt(lines, tt.ms); got != tt.want {
			t.Fatalf("IndexAt(%v) = %d, want %d", tt.ms, got, tt.want)
		}
	}
	if IndexAt(nil, 5) != -1 {
		t.Fatal("expected -1 for no lines")
	}
}
