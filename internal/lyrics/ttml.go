package lyrics

import (
	"fmt"
	"math"
	"strings"
)

const ttmlHeader = `<?xml version="1.0" encoding="utf-8"?>
<tt xmlns="http://www.w3.org/ns/ttml" xmlns:ttm="http://www.w3.org/ns/ttml#metadata" xmlns:amll="http://www.example.com/ns/amll">
  <head>
    <metadata>
      <ttm:title>Lyrics</ttm:title>
    </metadata>
  </head>
  <body>
    <div>
`

const ttmlFooter = `    </div>
  </body>
</tt>`

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// formatTTMLTime renders ms as HH:MM:SS.mmm, rounded to whole milliseconds.
func formatTTMLTime(ms float64) string {
	total := int64(math.Round(ms))
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", total/3_600_000, total/60_000%60, total/1000%60, total%1000)
}

// ToTTML serializes lines as a TTML document. Every line becomes a <p>; words
// that are empty or have no duration are skipped.
func ToTTML(lines []Line) string {
	var sb strings.Builder
	sb.WriteString(ttmlHeader)

	for _, line := range lines {
		fmt.Fprintf(&sb, "      <p begin=\"%s\" end=\"%s\">\n",
			formatTTMLTime(line.StartTime), formatTTMLTime(line.EndTime))

		for _, w := range line.Words {
			if w.Word == "" || w.StartTime == w.EndTime {
				continue
			}
			fmt.Fprintf(&sb, "        <span begin=\"%s\" end=\"%s\">%s</span>\n",
				formatTTMLTime(w.StartTime), formatTTMLTime(w.EndTime), xmlEscaper.Replace(w.Word))
		}
		if line.TranslatedLyric != "" {
			fmt.Fprintf(&sb, "        <span ttm:role=\"x-translation\">%s</span>\n", xmlEscaper.Replace(line.TranslatedLyric))
		}
		if line.RomanLyric != "" {
			fmt.Fprintf(&sb, "        <span ttm:role=\"x-roman\">%s</span>\n", xmlEscaper.Replace(line.RomanLyric))
		}

		sb.WriteString("      </p>\n")
	}

	sb.WriteString(ttmlFooter)
	return sb.String()
}
