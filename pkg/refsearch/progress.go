package refsearch

import (
	"sync"
)

// WeightPolicy selects how per-range progress is folded into the overall
// percentage of a multi-range operation.
type WeightPolicy uint8

const (
	// WeightEqual gives every range the same share of the overall bar,
	// regardless of its size. This reproduces the historical behavior:
	// overall = floor(((rangeIndex + percent/100) / rangeCount) * 100).
	WeightEqual WeightPolicy = iota
	// WeightBytes weights every range by its size in bytes.
	WeightBytes
)

// progressAggregator folds the per-range progress of an operation into a
// single monotonically non-decreasing overall percentage and forwards both
// to the sink. It is safe for use by concurrent range scans.
type progressAggregator struct {
	sink   Sink
	policy WeightPolicy

	mu        sync.Mutex
	percents  []int
	sizes     []uint64
	totalSize uint64
	last      int
}

func newProgressAggregator(sink Sink, policy WeightPolicy, ranges []ScanRange) *progressAggregator {
	agg := &progressAggregator{
		sink:     sink,
		policy:   policy,
		percents: make([]int, len(ranges)),
		sizes:    make([]uint64, len(ranges)),
	}
	for i := range ranges {
		agg.sizes[i] = ranges[i].Size
		agg.totalSize += ranges[i].Size
	}
	return agg
}

// rangeProgress records a range-local percentage and reports it together
// with the recomputed overall percentage. The sink calls happen under the
// mutex so concurrent range scans cannot deliver a higher overall value
// before a lower one.
func (agg *progressAggregator) rangeProgress(rangeIndex, percent int, label string) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	if percent > agg.percents[rangeIndex] {
		agg.percents[rangeIndex] = percent
	}
	overall := agg.overallLocked()
	if overall < agg.last {
		overall = agg.last
	}
	agg.last = overall

	agg.sink.RangeProgress(percent, label)
	agg.sink.OverallProgress(overall)
}

// overallLocked computes floor of the weighted mean of the per-range
// percentages. With equal weights and sequential scanning this equals
// floor(((rangeIndex + percent/100) / rangeCount) * 100), since every
// earlier range sits at 100.
func (agg *progressAggregator) overallLocked() int {
	switch agg.policy {
	case WeightBytes:
		if agg.totalSize == 0 {
			return 100
		}
		var acc uint64
		for i, p := range agg.percents {
			acc += uint64(p) * agg.sizes[i]
		}
		return int(acc / agg.totalSize)
	default:
		sum := 0
		for _, p := range agg.percents {
			sum += p
		}
		return sum / len(agg.percents)
	}
}

// rangeDone requests a refresh of the result view after a completed range.
func (agg *progressAggregator) rangeDone() {
	agg.sink.ResultsChanged()
}

// finish makes the final overall=100 report and the last result refresh.
func (agg *progressAggregator) finish() {
	agg.sink.OverallProgress(100)
	agg.sink.ResultsChanged()
}
