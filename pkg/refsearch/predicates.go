package refsearch

import (
	"sync"

	"github.com/refscan/refscan/pkg/proc"
)

// Result records one matching instruction.
type Result struct {
	Addr uint64
	Text string
}

// ResultList collects matches as a side effect of a predicate. Pass it as
// the request's UserData; the initialization call at the start of an
// operation resets it. Safe for parallel scans.
type ResultList struct {
	mu      sync.Mutex
	results []Result
}

// Results returns the collected matches.
func (list *ResultList) Results() []Result {
	list.mu.Lock()
	defer list.mu.Unlock()
	return list.results
}

func resetResults(sctx *SearchContext) {
	if list, ok := sctx.UserData.(*ResultList); ok {
		list.mu.Lock()
		list.results = list.results[:0]
		list.mu.Unlock()
	}
}

func collectResult(sctx *SearchContext, instr *proc.Instruction) {
	if list, ok := sctx.UserData.(*ResultList); ok {
		list.mu.Lock()
		list.results = append(list.results, Result{Addr: instr.Addr, Text: instr.Text()})
		list.mu.Unlock()
	}
}

// Collect appends instr to the context's ResultList, if one is set. It is
// exported for predicates implemented outside this package.
func Collect(sctx *SearchContext, instr *proc.Instruction) {
	collectResult(sctx, instr)
}

// MatchAll matches every decoded instruction.
func MatchAll() Predicate {
	return func(instr *proc.Instruction, sctx *SearchContext) bool {
		if instr == nil {
			resetResults(sctx)
			return false
		}
		collectResult(sctx, instr)
		return true
	}
}

// ReferencesRange matches instructions with an operand pointing into
// [base, base+size): branch destinations, statically resolvable memory
// operands and immediates.
func ReferencesRange(base, size uint64) Predicate {
	inRange := func(v uint64) bool { return v >= base && v-base < size }
	return func(instr *proc.Instruction, sctx *SearchContext) bool {
		if instr == nil {
			resetResults(sctx)
			return false
		}
		match := false
		if instr.HasDest && inRange(instr.DestAddr) {
			match = true
		}
		if instr.HasMem && inRange(instr.MemAddr) {
			match = true
		}
		for _, imm := range instr.Imms {
			if inRange(imm) {
				match = true
			}
		}
		if match {
			collectResult(sctx, instr)
		}
		return match
	}
}

// CallsTo matches call and jump instructions whose destination falls in
// [base, base+size).
func CallsTo(base, size uint64) Predicate {
	return func(instr *proc.Instruction, sctx *SearchContext) bool {
		if instr == nil {
			resetResults(sctx)
			return false
		}
		if !instr.IsCall() && !instr.IsJmp() {
			return false
		}
		if !instr.HasDest || instr.DestAddr < base || instr.DestAddr-base >= size {
			return false
		}
		collectResult(sctx, instr)
		return true
	}
}

// UsesConstant matches instructions with an immediate operand or a
// statically resolvable memory operand equal to value.
func UsesConstant(value uint64) Predicate {
	return func(instr *proc.Instruction, sctx *SearchContext) bool {
		if instr == nil {
			resetResults(sctx)
			return false
		}
		match := instr.HasMem && instr.MemAddr == value
		for _, imm := range instr.Imms {
			if imm == value {
				match = true
			}
		}
		if match {
			collectResult(sctx, instr)
		}
		return match
	}
}
