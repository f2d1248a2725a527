package proc

// Instruction is the basic summary of one decoded machine instruction, as
// passed to reference search predicates. It is only valid for the duration
// of the predicate call.
type Instruction struct {
	Addr  uint64
	Bytes []byte

	Size int
	Kind InstructionKind

	// DestAddr is the resolved destination of a pc-relative call or jump.
	DestAddr uint64
	HasDest  bool

	// Imms holds the immediate operands, with pc-relative arguments already
	// converted to absolute addresses.
	Imms []uint64

	// MemAddr is the absolute address of a memory operand when it can be
	// computed statically (rip-relative or absolute displacement).
	MemAddr uint64
	HasMem  bool

	inst archInst
}

type InstructionKind uint8

const (
	OtherInstruction InstructionKind = iota
	CallInstruction
	JmpInstruction
	RetInstruction
)

func (instr *Instruction) IsCall() bool {
	return instr.Kind == CallInstruction
}

func (instr *Instruction) IsJmp() bool {
	return instr.Kind == JmpInstruction
}

func (instr *Instruction) IsRet() bool {
	return instr.Kind == RetInstruction
}

// Text returns the instruction in Intel syntax.
func (instr *Instruction) Text() string {
	if instr.inst == nil {
		return "?"
	}
	return instr.inst.Text(instr.Addr)
}

type archInst interface {
	Text(pc uint64) string
}

// Decoder decodes machine instructions for one architecture. A Decoder is
// reused for every instruction of a scan range and must be safe for use by
// concurrent range scans.
type Decoder interface {
	// MaxInstructionLength is the maximum size in bytes of one instruction.
	MaxInstructionLength() int
	// Decode decodes the instruction at the beginning of mem, assumed to be
	// loaded at pc. It returns an error if mem does not start with a valid
	// instruction.
	Decode(pc uint64, mem []byte) (*Instruction, error)
}
