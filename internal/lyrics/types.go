package lyrics

import "strings"

// Word is one timed word. Times are milliseconds from track start.
type Word struct {
	Word      string  `json:"word"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	RomanWord string  `json:"romanWord"`
}

// Line is one lyric line. Within a line words are time ordered and each
// word ends where the next begins.
type Line struct {
	Words           []Word  `json:"words"`
	StartTime       float64 `json:"startTime"`
	EndTime         float64 `json:"endTime"`
	TranslatedLyric string  `json:"translatedLyric"`
	RomanLyric      string  `json:"romanLyric"`
	IsBG            bool    `json:"isBG"`
	IsDuet          bool    `json:"isDuet"`
}

// Text joins the words of the line.
func (l Line) Text() string {
	var sb strings.Builder
	for _, w := range l.Words {
		sb.WriteString(w.Word)
	}
	return sb.String()
}

func newWord(text string, start float64) Word {
	return Word{Word: text, StartTime: start, EndTime: start}
}

func newLine(words []Word, start float64) Line {
	return Line{Words: words, StartTime: start}
}

// fixLineEndTimes closes every line at the next line's start, or one second
// after its last word when it is the final line.
func fixLineEndTimes(lines []Line) {
	for i := range lines {
		line := &lines[i]
		if len(line.Words) == 0 {
			continue
		}
		last := &line.Words[len(line.Words)-1]
		if i+1 < len(lines) {
			last.EndTime = lines[i+1].StartTime
		} else {
			last.EndTime = last.StartTime + 1000
		}
		line.EndTime = last.EndTime
	}
}
