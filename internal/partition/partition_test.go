package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestSplitN3 is spec.md §8 scenario S2: partitioning [0, 2^32) across 3
// workers.
func TestSplitN3(t *testing.T) {
	ranges := Split(0, 1<<32, 3)
	assert.Equal(t, []Range{
		{Start: 0, End: 1431655765},
		{Start: 1431655765, End: 2863311530},
		{Start: 2863311530, End: 4294967296},
	}, ranges)
}

// TestSplitTotality checks spec.md §8 property 3: for any N >= 1, the
// ranges union to [0, 2^32), are pairwise disjoint, and the first N-1 have
// width floor(2^32/N) while the last absorbs the remainder.
func TestSplitTotality(t *testing.T) {
	const total = uint64(1) << 32
	for n := 1; n <= 17; n++ {
		ranges := Split(0, total, n)
		require := assert.New(t)
		require.Len(ranges, n)

		w := total / uint64(n)
		for i, r := range ranges {
			if i < n-1 {
				require.Equal(w, r.Width(), "range %d width", i)
			} else {
				require.Equal(total-uint64(n-1)*w, r.Width(), "last range width")
			}
		}

		// Disjoint + contiguous + covers [0, total).
		require.Equal(uint64(0), ranges[0].Start)
		require.Equal(total, ranges[n-1].End)
		for i := 1; i < n; i++ {
			require.Equal(ranges[i-1].End, ranges[i].Start, "contiguity at %d", i)
		}
	}
}

// TestSplitSingleWorker checks N=1 degenerates to the whole range.
func TestSplitSingleWorker(t *testing.T) {
	ranges := Split(10, 20, 1)
	assert.Equal(t, []Range{{Start: 10, End: 20}}, ranges)
}
