package starbind

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/refscan/refscan/pkg/proc"
	"github.com/refscan/refscan/pkg/refsearch"
)

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pred.star")
	if err := ioutil.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScriptPredicate(t *testing.T) {
	path := writeScript(t, `
def match(instr):
	return instr.kind == "call" and instr.dest == 0x401000
`)
	env, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pred := env.Predicate()
	sctx := &refsearch.SearchContext{}

	call := &proc.Instruction{Addr: 0x1000, Size: 5, Kind: proc.CallInstruction, HasDest: true, DestAddr: 0x401000}
	if !pred(call, sctx) {
		t.Errorf("matching call rejected")
	}
	other := &proc.Instruction{Addr: 0x1005, Size: 1}
	if pred(other, sctx) {
		t.Errorf("non-call matched")
	}
	if pred(nil, sctx) {
		t.Errorf("initialization call counted as a match")
	}
}

func TestScriptImms(t *testing.T) {
	path := writeScript(t, `
def match(instr):
	return 0xdeadbeef in instr.imms
`)
	env, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pred := env.Predicate()
	sctx := &refsearch.SearchContext{}

	if !pred(&proc.Instruction{Size: 5, Imms: []uint64{1, 0xdeadbeef}}, sctx) {
		t.Errorf("immediate not visible to script")
	}
	if pred(&proc.Instruction{Size: 5, Imms: []uint64{1}}, sctx) {
		t.Errorf("wrong immediate matched")
	}
}

func TestScriptErrors(t *testing.T) {
	if _, err := New(writeScript(t, `x = 1`)); err == nil {
		t.Errorf("expected error for script without a match function")
	}
	if _, err := New(writeScript(t, `def match(`)); err == nil {
		t.Errorf("expected error for unparsable script")
	}

	// A runtime error in the script counts as a non-match.
	env, err := New(writeScript(t, `
def match(instr):
	return instr.nosuchfield
`))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if env.Predicate()(&proc.Instruction{Size: 1}, &refsearch.SearchContext{}) {
		t.Errorf("failing script counted as a match")
	}
}
