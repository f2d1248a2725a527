package starbind

import (
	"fmt"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/refscan/refscan/pkg/logflags"
	"github.com/refscan/refscan/pkg/proc"
	"github.com/refscan/refscan/pkg/refsearch"
)

const matchFuncName = "match"

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Env evaluates a starlark script that defines a match predicate. The
// script must define a function match(instr) returning a truth value;
// instr is a struct with the fields addr, size, kind, text, dest, mem and
// imms.
type Env struct {
	thread  *starlark.Thread
	matchFn starlark.Callable
}

// New loads and executes the script at path.
func New(path string) (*Env, error) {
	thread := &starlark.Thread{Name: "refscan"}
	globals, err := starlark.ExecFile(thread, path, nil, starlark.StringDict{})
	if err != nil {
		return nil, err
	}
	fn, ok := globals[matchFuncName].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s does not define a function %s", path, matchFuncName)
	}
	return &Env{thread: thread, matchFn: fn}, nil
}

// Predicate adapts the script's match function to the search engine.
// Script errors count as non-matches and are logged when starbind logging
// is enabled. The returned predicate holds the script thread and must not
// be used by parallel scans.
func (env *Env) Predicate() refsearch.Predicate {
	return func(instr *proc.Instruction, sctx *refsearch.SearchContext) bool {
		if instr == nil {
			return false
		}
		v, err := starlark.Call(env.thread, env.matchFn, starlark.Tuple{instructionValue(instr)}, nil)
		if err != nil {
			logflags.StarbindLogger().Errorf("match at %#x: %v", instr.Addr, err)
			return false
		}
		if !bool(v.Truth()) {
			return false
		}
		refsearch.Collect(sctx, instr)
		return true
	}
}

func instructionValue(instr *proc.Instruction) starlark.Value {
	imms := make([]starlark.Value, len(instr.Imms))
	for i, imm := range instr.Imms {
		imms[i] = starlark.MakeUint64(imm)
	}

	dest := starlark.Value(starlark.None)
	if instr.HasDest {
		dest = starlark.MakeUint64(instr.DestAddr)
	}
	mem := starlark.Value(starlark.None)
	if instr.HasMem {
		mem = starlark.MakeUint64(instr.MemAddr)
	}

	return starlarkstruct.FromStringDict(starlark.String("instruction"), starlark.StringDict{
		"addr": starlark.MakeUint64(instr.Addr),
		"size": starlark.MakeInt(instr.Size),
		"kind": starlark.String(kindString(instr.Kind)),
		"text": starlark.String(instr.Text()),
		"dest": dest,
		"mem":  mem,
		"imms": starlark.NewList(imms),
	})
}

func kindString(kind proc.InstructionKind) string {
	switch kind {
	case proc.CallInstruction:
		return "call"
	case proc.JmpInstruction:
		return "jmp"
	case proc.RetInstruction:
		return "ret"
	}
	return "other"
}
