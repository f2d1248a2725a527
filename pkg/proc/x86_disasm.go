package proc

import (
	"golang.org/x/arch/x86/x86asm"
)

// AMD64Decoder decodes x86-64 instructions.
type AMD64Decoder struct{}

var _ Decoder = &AMD64Decoder{}

func (d *AMD64Decoder) MaxInstructionLength() int {
	return 15
}

// Decode decodes the x86-64 instruction at the beginning of mem.
func (d *AMD64Decoder) Decode(pc uint64, mem []byte) (*Instruction, error) {
	inst, err := x86asm.Decode(mem, 64)
	if err != nil {
		return nil, err
	}

	r := &Instruction{
		Addr:  pc,
		Size:  inst.Len,
		Bytes: mem[:inst.Len],
		Kind:  OtherInstruction,
	}

	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP:
		r.Kind = JmpInstruction
	case x86asm.CALL, x86asm.LCALL:
		r.Kind = CallInstruction
	case x86asm.RET, x86asm.LRET:
		r.Kind = RetInstruction
	}

	patchPCRelX86(pc, &inst)

	for _, arg := range inst.Args {
		switch arg := arg.(type) {
		case x86asm.Imm:
			r.Imms = append(r.Imms, uint64(arg))
		case x86asm.Mem:
			if addr, ok := resolveMemArgX86(pc, inst.Len, arg); ok {
				r.MemAddr = addr
				r.HasMem = true
			}
		}
	}

	if r.Kind == CallInstruction || r.Kind == JmpInstruction {
		if imm, ok := inst.Args[0].(x86asm.Imm); ok {
			r.DestAddr = uint64(imm)
			r.HasDest = true
		}
	}

	r.inst = (*x86Inst)(&inst)
	return r, nil
}

// converts PC relative arguments to absolute addresses
func patchPCRelX86(pc uint64, inst *x86asm.Inst) {
	for i := range inst.Args {
		rel, isrel := inst.Args[i].(x86asm.Rel)
		if isrel {
			inst.Args[i] = x86asm.Imm(int64(pc) + int64(rel) + int64(inst.Len))
		}
	}
}

// resolveMemArgX86 computes the absolute address of a memory operand when
// it does not depend on register state: rip-relative operands and
// displacement-only operands.
func resolveMemArgX86(pc uint64, instLen int, arg x86asm.Mem) (uint64, bool) {
	if arg.Segment != 0 {
		return 0, false
	}
	switch {
	case arg.Base == x86asm.RIP && arg.Index == 0:
		return uint64(int64(pc) + int64(instLen) + arg.Disp), true
	case arg.Base == 0 && arg.Index == 0:
		return uint64(arg.Disp), true
	}
	return 0, false
}

type x86Inst x86asm.Inst

func (inst *x86Inst) Text(pc uint64) string {
	if inst == nil {
		return "?"
	}
	return x86asm.IntelSyntax(x86asm.Inst(*inst), pc, nil)
}
