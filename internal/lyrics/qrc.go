package lyrics

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	qrcEnvelopeRe = regexp.MustCompile(`<Lyric_1[^>]*LyricContent="([^"]*)"[^>]*/>`)
	qrcLineRe     = regexp.MustCompile(`^\[(\d+),(\d+)\](.*)$`)
	qrcWordRe     = regexp.MustCompile(`([^(]*)\((\d+),(\d+)\)`)
)

// parseQRCContent parses the QRC body, unwrapping the XML envelope when the
// content still carries it.
func parseQRCContent(raw string) []Line {
	content := raw
	if m := qrcEnvelopeRe.FindStringSubmatch(raw); m != nil {
		content = html.UnescapeString(m[1])
	}

	var result []Line
	for _, line := range contentLines(content) {
		lm := qrcLineRe.FindStringSubmatch(line)
		if lm == nil {
			continue
		}
		lineStart, _ := strconv.Atoi(lm[1])
		lineDuration, _ := strconv.Atoi(lm[2])

		var words []Word
		for _, wm := range qrcWordRe.FindAllStringSubmatch(lm[3], -1) {
			if wm[1] == "" {
				continue
			}
			start, _ := strconv.Atoi(wm[2])
			duration, _ := strconv.Atoi(wm[3])
			words = append(words, Word{
				Word:      wm[1],
				StartTime: float64(start),
				EndTime:   float64(start + duration),
			})
		}

		if len(words) > 0 {
			result = append(result, Line{
				Words:     words,
				StartTime: float64(lineStart),
				EndTime:   float64(lineStart + lineDuration),
			})
		}
	}
	return result
}

// isCopyrightNotice matches the boilerplate QQ Music appends to translations.
func isCopyrightNotice(text string) bool {
	return strings.Contains(text, "//") || strings.Contains(text, "作品的著作权")
}

// ParseQRC parses QRC lyrics. trans is plain LRC and roma is QRC; either may
// be empty. Romanization is aligned line by line, not per word.
func ParseQRC(content, trans, roma string) []Line {
	result := parseQRCContent(content)

	if trans != "" {
		transLines := lo.Filter(ParseLineLrc(trans), func(l Line, _ int) bool {
			return !isCopyrightNotice(l.Text())
		})
		if len(transLines) > 0 {
			result = AlignLyrics(result, transLines, AlignTranslation)
		}
	}

	if roma != "" {
		romaLines := lo.Map(parseQRCContent(roma), func(l Line, _ int) Line {
			return Line{
				Words:     []Word{{Word: l.Text(), StartTime: l.StartTime, EndTime: l.EndTime}},
				StartTime: l.StartTime,
				EndTime:   l.EndTime,
			}
		})
		if len(romaLines) > 0 {
			result = AlignLyrics(result, romaLines, AlignRoman)
		}
	}

	return result
}
