package lyrics

import (
	"strconv"
	"strings"
)

// parseTimestamp converts mm, ss and a fractional part into milliseconds.
// The fraction is a decimal fraction of a second regardless of its width, so
// ".1" is 100ms, ".85" is 850ms and ".850" is 850ms. Digits past the third
// are kept as sub-millisecond precision.
func parseTimestamp(min, sec, frac string) float64 {
	m, _ := strconv.Atoi(min)
	s, _ := strconv.Atoi(sec)
	return float64(m*60_000+s*1000) + fractionMs(frac)
}

func fractionMs(frac string) float64 {
	if frac == "" {
		return 0
	}
	head, tail := frac, ""
	if len(frac) > 3 {
		head, tail = frac[:3], frac[3:]
	}
	head += strings.Repeat("0", 3-len(head))
	ms, _ := strconv.Atoi(head)
	if tail == "" {
		return float64(ms)
	}
	sub, err := strconv.ParseFloat("0."+tail, 64)
	if err != nil {
		return float64(ms)
	}
	return float64(ms) + sub
}
