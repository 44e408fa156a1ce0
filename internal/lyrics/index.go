package lyrics

import "sort"

// IndexAt returns the index of the line active at ms, the last line whose
// start is not after ms, or -1 before the first line. lines must be ordered
// by start time.
func IndexAt(lines []Line, ms float64) int {
	i := sort.Search(len(lines), func(i int) bool {
		return lines[i].StartTime > ms
	})
	return i - 1
}
