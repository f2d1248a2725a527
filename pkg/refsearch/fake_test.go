package refsearch

import (
	"fmt"
	"sync"

	"github.com/refscan/refscan/pkg/proc"
)

// fakeTarget maps a single blob of bytes at base and serves regions and
// modules from static tables.
type fakeTarget struct {
	base    uint64
	data    []byte
	regions []proc.MemRegion
	mods    *proc.ModuleTable

	reads int
}

func (t *fakeTarget) ReadMemory(buf []byte, addr uint64) (int, error) {
	t.reads++
	if addr < t.base || addr-t.base+uint64(len(buf)) > uint64(len(t.data)) {
		return 0, fmt.Errorf("unmapped read at %#x", addr)
	}
	copy(buf, t.data[addr-t.base:])
	return len(buf), nil
}

func (t *fakeTarget) FindRegion(addr uint64) (proc.MemRegion, bool) {
	for _, region := range t.regions {
		if addr >= region.Addr && addr < region.Addr+region.Size {
			return region, true
		}
	}
	return proc.MemRegion{}, false
}

func (t *fakeTarget) FindModule(addr uint64) (*proc.Module, bool) {
	if t.mods == nil {
		return nil, false
	}
	return t.mods.FindModule(addr)
}

func (t *fakeTarget) Modules() []proc.Module {
	if t.mods == nil {
		return nil
	}
	return t.mods.Modules()
}

func (t *fakeTarget) ModuleName(addr uint64) (string, bool) {
	if t.mods == nil {
		return "", false
	}
	return t.mods.ModuleName(addr)
}

func (t *fakeTarget) ModuleTable() *proc.ModuleTable {
	return t.mods
}

// Toy instruction set used by the engine tests:
//
//	0x01       one byte instruction
//	0x02 xx    two byte instruction
//	0xCA xx    two byte call, destination is the second byte
//	anything else fails to decode
const (
	opNop1 = 0x01
	opNop2 = 0x02
	opCall = 0xCA
	opBad  = 0xFF
	maxToy = 4
)

type toyDecoder struct{}

func (d *toyDecoder) MaxInstructionLength() int { return maxToy }

func (d *toyDecoder) Decode(pc uint64, mem []byte) (*proc.Instruction, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("truncated")
	}
	switch mem[0] {
	case opNop1:
		return &proc.Instruction{Addr: pc, Size: 1, Bytes: mem[:1]}, nil
	case opNop2:
		if len(mem) < 2 {
			return nil, fmt.Errorf("truncated")
		}
		return &proc.Instruction{Addr: pc, Size: 2, Bytes: mem[:2]}, nil
	case opCall:
		if len(mem) < 2 {
			return nil, fmt.Errorf("truncated")
		}
		return &proc.Instruction{
			Addr:     pc,
			Size:     2,
			Bytes:    mem[:2],
			Kind:     proc.CallInstruction,
			DestAddr: uint64(mem[1]),
			HasDest:  true,
		}, nil
	}
	return nil, fmt.Errorf("invalid opcode %#x", mem[0])
}

// recordSink records every report it receives.
type recordSink struct {
	mu            sync.Mutex
	rangePercents []int
	rangeLabels   []string
	overall       []int
	refreshes     int
}

func (s *recordSink) RangeProgress(percent int, label string) {
	s.mu.Lock()
	s.rangePercents = append(s.rangePercents, percent)
	s.rangeLabels = append(s.rangeLabels, label)
	s.mu.Unlock()
}

func (s *recordSink) OverallProgress(percent int) {
	s.mu.Lock()
	s.overall = append(s.overall, percent)
	s.mu.Unlock()
}

func (s *recordSink) ResultsChanged() {
	s.mu.Lock()
	s.refreshes++
	s.mu.Unlock()
}

func (s *recordSink) lastOverall() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.overall) == 0 {
		return -1
	}
	return s.overall[len(s.overall)-1]
}

func bytesOf(b byte, n int) []byte {
	r := make([]byte, n)
	for i := range r {
		r[i] = b
	}
	return r
}
