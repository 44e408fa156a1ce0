package lyrics

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "lyrics").Logger()

// Format is an LRC dialect.
type Format string

const (
	// FormatLine is plain LRC, one timestamp per line.
	FormatLine Format = "line"
	// FormatWordByWord carries a bracket timestamp before every word:
	// [00:28.850]曲[00:32.455]：[00:36.060]钱
	FormatWordByWord Format = "word-by-word"
	// FormatEnhanced is ESLyric style, a line tag followed by angle word tags:
	// [01:37.305]<01:37.624>怕<01:37.943>你
	FormatEnhanced Format = "enhanced"
	// FormatQRC is QQ Music's [start,duration]word(start,duration) encoding.
	FormatQRC Format = "qrc"
)

var (
	metaTagRe        = regexp.MustCompile(`(?i)^\[[a-z]+:`)
	timeTagRe        = regexp.MustCompile(`\[(\d{2}):(\d{2})\.(\d+)\]`)
	enhancedTagRe    = regexp.MustCompile(`<(\d{2}):(\d{2})\.(\d+)>`)
	wordByWordRe     = regexp.MustCompile(`\[(\d{2}):(\d{2})\.(\d+)\]([^\[\]]*)`)
	enhancedWordRe   = regexp.MustCompile(`<(\d{2}):(\d{2})\.(\d+)>([^<]*)`)
	lineTimeRe       = regexp.MustCompile(`^\[(\d{2}):(\d{2})\.(\d+)\]`)
	leadingLineTagRe = regexp.MustCompile(`^\[(\d{2}):(\d{2})(?:\.(\d+))?\]`)
)

// contentLines yields trimmed lines that are neither blank nor metadata tags.
func contentLines(content string) []string {
	var out []string
	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || metaTagRe.MatchString(line) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// DetectLrcFormat reports the dialect of content. The first line carrying an
// angle word tag or more than one bracket tag decides; otherwise it is plain LRC.
func DetectLrcFormat(content string) Format {
	for _, line := range contentLines(content) {
		if enhancedTagRe.MatchString(line) {
			return FormatEnhanced
		}
		if len(timeTagRe.FindAllString(line, -1)) > 1 {
			return FormatWordByWord
		}
	}
	return FormatLine
}

// ParseWordByWordLrc parses bracket-per-word LRC. A word ends where the next
// tag begins, so a trailing empty tag only closes the previous word.
func ParseWordByWordLrc(content string) []Line {
	var result []Line

	for _, line := range contentLines(content) {
		var words []Word
		lineStart := math.Inf(1)

		for _, m := range wordByWordRe.FindAllStringSubmatch(line, -1) {
			start := parseTimestamp(m[1], m[2], m[3])
			text := m[4]

			if text == "" && len(words) == 0 {
				continue
			}
			lineStart = math.Min(lineStart, start)

			if len(words) > 0 {
				words[len(words)-1].EndTime = start
			}
			if text != "" {
				words = append(words, newWord(text, start))
			}
		}

		if len(words) > 0 {
			result = append(result, newLine(words, lineStart))
		}
	}

	fixLineEndTimes(result)
	return result
}

// ParseEnhancedLrc parses ESLyric enhanced LRC. Lines without word tags
// become a single word spanning the line.
func ParseEnhancedLrc(content string) []Line {
	var result []Line

	for _, line := range contentLines(content) {
		lm := lineTimeRe.FindStringSubmatch(line)
		if lm == nil {
			continue
		}
		lineStart := parseTimestamp(lm[1], lm[2], lm[3])
		rest := line[len(lm[0]):]

		var words []Word
		if enhancedTagRe.MatchString(rest) {
			for _, m := range enhancedWordRe.FindAllStringSubmatch(rest, -1) {
				start := parseTimestamp(m[1], m[2], m[3])
				if len(words) > 0 {
					words[len(words)-1].EndTime = start
				}
				if m[4] != "" {
					words = append(words, newWord(m[4], start))
				}
			}
		} else if text := strings.TrimSpace(rest); text != "" {
			words = append(words, newWord(text, lineStart))
		}

		if len(words) > 0 {
			result = append(result, newLine(words, lineStart))
		}
	}

	fixLineEndTimes(result)
	return result
}

// ParseLineLrc parses plain LRC. A line may carry several leading tags, each
// producing its own line. Blank lines are dropped and the result is ordered by
// start time.
func ParseLineLrc(content string) []Line {
	var result []Line

	for _, line := range contentLines(content) {
		var starts []float64
		rest := line
		for {
			m := leadingLineTagRe.FindStringSubmatch(rest)
			if m == nil {
				break
			}
			starts = append(starts, parseTimestamp(m[1], m[2], m[3]))
			rest = rest[len(m[0]):]
		}
		text := strings.TrimSpace(rest)
		if len(starts) == 0 || text == "" {
			continue
		}
		for _, start := range starts {
			result = append(result, newLine([]Word{newWord(text, start)}, start))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime < result[j].StartTime
	})
	fixLineEndTimes(result)
	return result
}

// ParseSmartLrc detects the dialect of content and parses it accordingly.
func ParseSmartLrc(content string) (Format, []Line) {
	format := DetectLrcFormat(content)

	var lines []Line
	switch format {
	case FormatWordByWord:
		lines = ParseWordByWordLrc(content)
	case FormatEnhanced:
		lines = ParseEnhancedLrc(content)
	default:
		lines = ParseLineLrc(content)
	}

	logger.Debug().Str("format", string(format)).Int("lines", len(lines)).Msg("Parsed lyrics")
	return format, lines
}

// IsWordLevelFormat reports whether format carries per-word timing.
func IsWordLevelFormat(format Format) bool {
	return format == FormatWordByWord || format == FormatEnhanced || format == FormatQRC
}
