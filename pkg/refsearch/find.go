package refsearch

import (
	"context"
	"runtime"
	"sync"

	"github.com/refscan/refscan/pkg/logflags"
	"github.com/refscan/refscan/pkg/proc"
)

// FindReferences decodes every instruction in the scope selected by req
// and invokes predicate on each one, returning the number of matches. The
// scope is resolved into one range (region and module scopes) or one range
// per loaded module (all-modules scope); ranges are scanned in order and a
// failure in any range aborts the operation. Progress is reported through
// sink, which may be nil.
func FindReferences(ctx context.Context, t proc.Target, dec proc.Decoder, req *Request, predicate Predicate, sink Sink) (uint64, error) {
	if sink == nil {
		sink = nopSink{}
	}

	name, ranges, err := resolveScope(t, req)
	if err != nil {
		if !req.Silent {
			logflags.RefSearchLogger().Errorf("%v", err)
		}
		return 0, err
	}

	sctx := &SearchContext{Name: name, UserData: req.UserData}
	agg := newProgressAggregator(sink, req.Weight, ranges)

	if req.Parallel && req.Scope == ScopeAllModules && len(ranges) > 1 {
		err = scanParallel(ctx, t, dec, ranges, sctx, predicate, agg)
	} else {
		for i := range ranges {
			rng := ranges[i]
			err = scanRange(ctx, t, dec, rng, sctx, predicate, i == 0, func(percent int) {
				agg.rangeProgress(i, percent, rng.Label)
			})
			if err != nil {
				break
			}
			agg.rangeDone()
		}
	}
	if err != nil {
		if !req.Silent {
			logflags.RefSearchLogger().Errorf("%s: %v", name, err)
		}
		return 0, err
	}

	agg.finish()
	return sctx.MatchCount(), nil
}

// scanParallel scans the ranges of an all-modules search with a worker
// pool. Ranges are independent address spans, so only the shared match
// counter and the aggregator need synchronization; scanning within one
// range stays sequential because decode-failure resynchronization depends
// on the previous offset.
func scanParallel(ctx context.Context, t proc.Target, dec proc.Decoder, ranges []ScanRange, sctx *SearchContext, predicate Predicate, agg *progressAggregator) error {
	// The one-time initialization call happens before any instruction is
	// decoded, as in the sequential path.
	predicate(nil, sctx)

	workers := runtime.NumCPU()
	if workers > len(ranges) {
		workers = len(ranges)
	}

	indexes := make(chan int)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				rng := ranges[i]
				err := scanRange(cctx, t, dec, rng, sctx, predicate, false, func(percent int) {
					agg.rangeProgress(i, percent, rng.Label)
				})
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
				agg.rangeDone()
			}
		}()
	}

feed:
	for i := range ranges {
		select {
		case indexes <- i:
		case <-cctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()
	return firstErr
}
