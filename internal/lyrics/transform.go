package lyrics

import (
	"fmt"
	"regexp"

	"github.com/liuzl/gocc"
)

type maskRule struct {
	re   *regexp.Regexp
	word string
}

// Applied in order.
var maskRules = []maskRule{
	{regexp.MustCompile(`(?i)f\*{2}k`), "fuck"},
	{regexp.MustCompile(`(?i)s\*{2}t`), "shit"},
	{regexp.MustCompile(`(?i)c\*{2}t`), "cunt"},
	{regexp.MustCompile(`(?i)c\*{2}k`), "cock"},
	{regexp.MustCompile(`(?i)co\*{2}`), "cock"},
	{regexp.MustCompile(`(?i)s\*{2}ker`), "sucker"},
	{regexp.MustCompile(`(?i)\*{4}ing`), "fucking"},
	{regexp.MustCompile(`(?i)b\*{3}h`), "bitch"},
	{regexp.MustCompile(`(?i)d\*{2}k`), "dick"},
	{regexp.MustCompile(`(?i)d\*{2}n`), "damn"},
	{regexp.MustCompile(`(?i)\*{4}er`), "fucker"},
	{regexp.MustCompile(`(?i)as\*{2}le`), "asshole"},
	{regexp.MustCompile(`(?i)w\*{3}e`), "whore"},
	{regexp.MustCompile(`(?i)n\*{3}a`), "nigga"},
}

// Uncensor restores masked profanity such as "f**k".
func Uncensor(text string) string {
	if text == "" {
		return text
	}
	for _, r := range maskRules {
		text = r.re.ReplaceAllString(text, r.word)
	}
	return text
}

// Converter rewrites text between Chinese variants.
type Converter interface {
	Convert(in string) (string, error)
}

// NewChineseConverter loads an OpenCC conversion such as "t2s" or "s2t".
func NewChineseConverter(conversion string) (Converter, error) {
	cc, err := gocc.New(conversion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenCC converter %q: %w", conversion, err)
	}
	return cc, nil
}

// Transforms are optional rewrites applied to a parsed timeline.
type Transforms struct {
	Uncensor bool
	Chinese  Converter
}

func (t Transforms) text(s string) string {
	if s == "" {
		return s
	}
	if t.Uncensor {
		s = Uncensor(s)
	}
	if t.Chinese != nil {
		out, err := t.Chinese.Convert(s)
		if err != nil {
			logger.Warn().Err(err).Str("text", s).Msg("Chinese conversion failed, keeping original")
		} else {
			s = out
		}
	}
	return s
}

// Apply returns a rewritten copy of lines. lines is left untouched.
func (t Transforms) Apply(lines []Line) []Line {
	out := make([]Line, len(lines))
	for i, line := range lines {
		line.Words = append([]Word(nil), line.Words...)
		if t.Uncensor || t.Chinese != nil {
			for j := range line.Words {
				line.Words[j].Word = t.text(line.Words[j].Word)
				line.Words[j].RomanWord = t.text(line.Words[j].RomanWord)
			}
			line.TranslatedLyric = t.text(line.TranslatedLyric)
			line.RomanLyric = t.text(line.RomanLyric)
		}
		out[i] = line
	}
	return out
}
