package refsearch

import (
	"sync/atomic"

	"github.com/refscan/refscan/pkg/proc"
)

// SearchContext is the shared accumulator and identity record of one find
// operation. It is created when the operation starts and threaded through
// every range scan, so the match count accumulates across ranges.
type SearchContext struct {
	// Name is the display name of the whole operation, e.g.
	// "calls (Region libc-2.31.so)".
	Name string

	// UserData is opaque caller state, available to the predicate for its
	// own stateful logic.
	UserData interface{}

	matchCount uint64
}

// MatchCount returns the number of matches found so far. It is
// monotonically non-decreasing over the lifetime of the operation.
func (sctx *SearchContext) MatchCount() uint64 {
	return atomic.LoadUint64(&sctx.matchCount)
}

func (sctx *SearchContext) addMatch() {
	atomic.AddUint64(&sctx.matchCount, 1)
}

// Predicate decides whether one decoded instruction is a match. It is
// called once with a nil instruction before the first range of an
// operation is scanned, so it can initialize its own state; the return
// value of that call is ignored.
type Predicate func(instr *proc.Instruction, sctx *SearchContext) bool

// Sink receives progress notifications from a find operation. Calls are
// fire-and-forget: the engine never waits on the sink.
type Sink interface {
	// RangeProgress reports progress within the current scan range,
	// labeled with the range's display name.
	RangeProgress(percent int, label string)
	// OverallProgress reports progress of the whole operation.
	OverallProgress(percent int)
	// ResultsChanged asks the presentation layer to refresh its view of
	// the accumulated results.
	ResultsChanged()
}

type nopSink struct{}

func (nopSink) RangeProgress(percent int, label string) {}
func (nopSink) OverallProgress(percent int)             {}
func (nopSink) ResultsChanged()                         {}
