// Package partition implements the range-partitioning policy shared by the
// coordinator (partitioning [0, 2^32) across connected workers, spec.md
// §4.4) and the parallel search engine (partitioning a worker's assigned
// range across local cores, spec.md §4.2). Both use the exact same
// "N-1 equal shares, last absorbs the remainder" rule, so the math lives
// in one place.
package partition

// Range is a half-open interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Width reports the size of the range.
func (r Range) Width() uint64 { return r.End - r.Start }

// Split divides [start, end) into n contiguous sub-ranges of equal width
// w = (end-start)/n (integer division); the last sub-range absorbs
// whatever remainder integer division drops, per spec.md §4.4 and the
// identical rule in §4.2. n must be >= 1.
func Split(start, end uint64, n int) []Range {
	if n < 1 {
		n = 1
	}
	total := end - start
	w := total / uint64(n)

	ranges := make([]Range, n)
	cur := start
	for i := 0; i < n; i++ {
		if i == n-1 {
			ranges[i] = Range{Start: cur, End: end}
			break
		}
		next := cur + w
		ranges[i] = Range{Start: cur, End: next}
		cur = next
	}
	return ranges
}
