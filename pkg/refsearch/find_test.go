package refsearch

import (
	"context"
	"errors"
	"testing"

	"github.com/refscan/refscan/pkg/proc"
)

// one module per 0x1000 boundary, every module filled with one-byte
// instructions.
func allModulesTarget(sizes ...int) *fakeTarget {
	mods := make([]proc.Module, len(sizes))
	data := []byte{}
	base := uint64(0x1000)
	for i, size := range sizes {
		mods[i] = proc.Module{Base: base + uint64(len(data)), Size: uint64(size), Name: string(rune('a'+i)) + ".so"}
		data = append(data, bytesOf(opNop1, size)...)
	}
	return &fakeTarget{base: base, data: data, mods: proc.NewModuleTable(mods)}
}

func findNoError(t *testing.T, tgt *fakeTarget, req *Request, predicate Predicate, sink Sink) uint64 {
	t.Helper()
	count, err := FindReferences(context.Background(), tgt, &toyDecoder{}, req, predicate, sink)
	if err != nil {
		t.Fatalf("FindReferences: %v", err)
	}
	return count
}

func TestFindRegionCount(t *testing.T) {
	// 0x01 / 0xCA 0x10 / 0x01 / bad / 0x01 -> 4 instructions, one call.
	data := []byte{opNop1, opCall, 0x10, opNop1, opBad, opNop1}
	tgt := &fakeTarget{
		base:    0x1000,
		data:    data,
		regions: []proc.MemRegion{{Addr: 0x1000, Size: uint64(len(data))}},
	}

	req := &Request{Addr: 0x1000, Scope: ScopeRegion, Name: "all"}
	if count := findNoError(t, tgt, req, MatchAll(), nil); count != 4 {
		t.Errorf("expected 4 matches, got %d", count)
	}

	req = &Request{Addr: 0x1000, Scope: ScopeRegion, Name: "calls"}
	if count := findNoError(t, tgt, req, CallsTo(0x10, 1), nil); count != 1 {
		t.Errorf("expected 1 call match, got %d", count)
	}
}

// Scenario: address outside every region fails without reading any
// memory.
func TestFindRegionNotFound(t *testing.T) {
	tgt := &fakeTarget{}
	_, err := FindReferences(context.Background(), tgt, &toyDecoder{},
		&Request{Addr: 0xdead, Scope: ScopeRegion, Name: "x", Silent: true}, MatchAll(), nil)

	var rerr *RegionNotFoundError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected RegionNotFoundError, got %v", err)
	}
	if tgt.reads != 0 {
		t.Errorf("memory was read despite scope resolution failing")
	}
}

// Scenario: three modules of sizes 100, 1 and 50 bytes, predicate matching
// everything. The total is the literal instruction count and the overall
// percentage crosses 33/66/100 at the module boundaries.
func TestFindAllModules(t *testing.T) {
	tgt := allModulesTarget(100, 1, 50)
	sink := &recordSink{}

	count := findNoError(t, tgt, &Request{Scope: ScopeAllModules, Name: "x"}, MatchAll(), sink)
	if count != 151 {
		t.Errorf("expected 151 matches, got %d", count)
	}

	seen := map[int]bool{}
	for _, p := range sink.overall {
		seen[p] = true
	}
	for _, boundary := range []int{33, 66, 100} {
		if !seen[boundary] {
			t.Errorf("overall progress never reported %d: %v", boundary, sink.overall)
		}
	}
	for i := 1; i < len(sink.overall); i++ {
		if sink.overall[i] < sink.overall[i-1] {
			t.Fatalf("overall progress went backwards: %v", sink.overall)
		}
	}
	if last := sink.lastOverall(); last != 100 {
		t.Errorf("overall progress ended at %d", last)
	}
}

// The total of an all-modules search does not depend on module order.
func TestFindAllModulesReorder(t *testing.T) {
	counts := map[string]uint64{}
	for name, sizes := range map[string][]int{
		"abc": {100, 1, 50},
		"cba": {50, 1, 100},
	} {
		tgt := allModulesTarget(sizes...)
		counts[name] = findNoError(t, tgt, &Request{Scope: ScopeAllModules, Name: "x"}, MatchAll(), nil)
	}
	if counts["abc"] != counts["cba"] {
		t.Errorf("module order changed the total: %v", counts)
	}
}

// A read failure in one module aborts the whole operation instead of
// skipping to the next module.
func TestFindAllModulesReadFailureAborts(t *testing.T) {
	tgt := allModulesTarget(100, 50)
	// Shrink the backing data so the second module is unreadable.
	tgt.data = tgt.data[:100]

	_, err := FindReferences(context.Background(), tgt, &toyDecoder{},
		&Request{Scope: ScopeAllModules, Name: "x", Silent: true}, MatchAll(), nil)
	var merr *MemoryReadError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MemoryReadError, got %v", err)
	}
}

func TestFindParallelMatchesSequential(t *testing.T) {
	sizes := []int{100, 1, 50, 700, 3}

	seq := findNoError(t, allModulesTarget(sizes...), &Request{Scope: ScopeAllModules, Name: "x"}, MatchAll(), nil)
	par := findNoError(t, allModulesTarget(sizes...), &Request{Scope: ScopeAllModules, Name: "x", Parallel: true}, MatchAll(), &recordSink{})

	if seq != par {
		t.Errorf("parallel scan found %d matches, sequential %d", par, seq)
	}
}

func TestFindCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tgt := allModulesTarget(100, 50)
	_, err := FindReferences(ctx, tgt, &toyDecoder{},
		&Request{Scope: ScopeAllModules, Name: "x", Silent: true}, MatchAll(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// The match counter accumulates across ranges through the shared search
// context, and the result list resets once per operation.
func TestFindSharedContext(t *testing.T) {
	tgt := allModulesTarget(10, 10)
	list := &ResultList{}

	count := findNoError(t, tgt, &Request{Scope: ScopeAllModules, Name: "x", UserData: list}, MatchAll(), nil)
	if count != 20 {
		t.Errorf("expected 20 matches, got %d", count)
	}
	if len(list.Results()) != 20 {
		t.Errorf("expected 20 collected results, got %d", len(list.Results()))
	}

	// Second operation on the same list starts over.
	count = findNoError(t, tgt, &Request{Scope: ScopeAllModules, Name: "x", UserData: list}, MatchAll(), nil)
	if count != 20 || len(list.Results()) != 20 {
		t.Errorf("result list was not reset: count=%d results=%d", count, len(list.Results()))
	}
}
