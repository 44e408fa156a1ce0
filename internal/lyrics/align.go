package lyrics

import "math"

// AlignTolerance is the largest start time difference, exclusive, at which a
// secondary line still attaches to a primary line. Tunable.
var AlignTolerance = 300.0

// AlignField selects which secondary track AlignLyrics fills.
type AlignField int

const (
	AlignTranslation AlignField = iota
	AlignRoman
)

// AlignLyrics attaches the text of each line in other to every line in lines
// starting within AlignTolerance of it. When several secondary lines qualify
// the last one wins. lines is modified in place and returned.
func AlignLyrics(lines, other []Line, field AlignField) []Line {
	if len(lines) == 0 || len(other) == 0 {
		return lines
	}
	for i := range lines {
		for _, o := range other {
			if lines[i].StartTime != o.StartTime && math.Abs(lines[i].StartTime-o.StartTime) >= AlignTolerance {
				continue
			}
			switch field {
			case AlignTranslation:
				lines[i].TranslatedLyric = o.Text()
			case AlignRoman:
				lines[i].RomanLyric = o.Text()
			}
		}
	}
	return lines
}
