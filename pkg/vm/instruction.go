package vm

import (
	"fmt"
	"math/big"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// Register selects which register an operand address is computed
// relative to.
type Register uint8

const (
	Ap Register = iota
	Fp
)

// Op1Src selects where op1's base address comes from (spec.md §3.4).
type Op1Src uint8

const (
	Op0 Op1Src = iota
	Imm
	FpPlusOffOp1
	ApPlusOffOp1
)

// ResLogic selects how the instruction's "result" is computed from
// op0 and op1 (spec.md §3.4, GLOSSARY "Res mode").
type ResLogic uint8

const (
	Op1 ResLogic = iota
	AddOperands
	MulOperands
	Unconstrained
)

type PcUpdate uint8

const (
	NextInstr PcUpdate = iota
	Jump
	JumpRel
	Jnz
)

type ApUpdate uint8

const (
	SameAp ApUpdate = iota
	AddImm
	Add1
	Add2
)

type FpUpdate uint8

const (
	SameFp FpUpdate = iota
	DstFp
	APPlus2
)

type OpCode uint8

const (
	NOp OpCode = iota
	AssertEq
	Call
	Ret
)

// Instruction is the decoded shape of one bytecode word (spec.md
// §3.4's DecodedInstruction). Decoding the raw bit layout is treated
// as an external concern (spec.md §1 Non-goals); DecodeInstruction
// below implements the public Cairo encoding so the VM has something
// concrete to run against, but nothing downstream depends on the bit
// layout itself — only on this struct's fields.
type Instruction struct {
	OffDest int16
	OffOp0  int16
	OffOp1  int16

	DstRegister Register
	Op0Register Register
	Op1Source   Op1Src

	Res ResLogic

	PcUpdate PcUpdate
	ApUpdate ApUpdate
	FpUpdate FpUpdate
	Opcode   OpCode
}

// Size returns the number of memory words this instruction occupies:
// 2 when op1 is an immediate (the immediate is the word at pc+1), 1
// otherwise.
func (instruction *Instruction) Size() uint64 {
	if instruction.Op1Source == Imm {
		return 2
	}
	return 1
}

func (instruction *Instruction) String() string {
	return fmt.Sprintf(
		"Instruction{off0: %d, off1: %d, off2: %d, dstReg: %d, op0Reg: %d, op1Src: %d, res: %d, pcUpdate: %d, apUpdate: %d, fpUpdate: %d, opcode: %d}",
		instruction.OffDest, instruction.OffOp0, instruction.OffOp1,
		instruction.DstRegister, instruction.Op0Register, instruction.Op1Source,
		instruction.Res, instruction.PcUpdate, instruction.ApUpdate, instruction.FpUpdate, instruction.Opcode,
	)
}

// flag bit positions within the high 16 bits of the instruction word.
const (
	flagDstRegBit uint64 = 1 << iota
	flagOp0RegBit
	flagOp1ImmBit
	flagOp1FpBit
	flagOp1ApBit
	flagResAddBit
	flagResMulBit
	flagPcJumpAbsBit
	flagPcJumpRelBit
	flagPcJnzBit
	flagApAddBit
	flagApAdd1Bit
	flagOpcodeCallBit
	flagOpcodeRetBit
	flagOpcodeAssertEqBit
)

const offsetBias = 1 << 15

// DecodeInstruction decodes a single field-element bytecode word into
// an Instruction, following the public Cairo instruction encoding:
// three biased 16-bit signed offsets (dst, op0, op1) packed in the low
// 48 bits, followed by a 15-bit flag field (spec.md §3.4, §6.1
// "Instruction decoder (external)").
func DecodeInstruction(encoded *f.Element) (*Instruction, error) {
	bigEncoded := encoded.BigInt(new(big.Int))
	if bigEncoded.BitLen() > 63 {
		return nil, fmt.Errorf("invalid instruction encoding: word does not fit in 63 bits: %s", encoded.Text(10))
	}
	raw := bigEncoded.Uint64()

	offDst := decodeOffset(raw)
	offOp0 := decodeOffset(raw >> 16)
	offOp1 := decodeOffset(raw >> 32)
	flags := raw >> 48

	if flags&(1<<15) != 0 {
		return nil, fmt.Errorf("invalid instruction encoding: reserved bit set")
	}

	instruction := &Instruction{
		OffDest: offDst,
		OffOp0:  offOp0,
		OffOp1:  offOp1,
	}

	if flags&flagDstRegBit != 0 {
		instruction.DstRegister = Fp
	} else {
		instruction.DstRegister = Ap
	}
	if flags&flagOp0RegBit != 0 {
		instruction.Op0Register = Fp
	} else {
		instruction.Op0Register = Ap
	}

	switch {
	case flags&flagOp1ImmBit != 0:
		instruction.Op1Source = Imm
	case flags&flagOp1FpBit != 0:
		instruction.Op1Source = FpPlusOffOp1
	case flags&flagOp1ApBit != 0:
		instruction.Op1Source = ApPlusOffOp1
	default:
		instruction.Op1Source = Op0
	}

	switch {
	case flags&flagResAddBit != 0:
		instruction.Res = AddOperands
	case flags&flagResMulBit != 0:
		instruction.Res = MulOperands
	case flags&flagPcJnzBit != 0:
		instruction.Res = Unconstrained
	default:
		instruction.Res = Op1
	}

	switch {
	case flags&flagPcJumpAbsBit != 0:
		instruction.PcUpdate = Jump
	case flags&flagPcJumpRelBit != 0:
		instruction.PcUpdate = JumpRel
	case flags&flagPcJnzBit != 0:
		instruction.PcUpdate = Jnz
	default:
		instruction.PcUpdate = NextInstr
	}

	switch {
	case flags&flagApAddBit != 0:
		instruction.ApUpdate = AddImm
	case flags&flagApAdd1Bit != 0:
		instruction.ApUpdate = Add1
	default:
		instruction.ApUpdate = SameAp
	}

	switch {
	case flags&flagOpcodeCallBit != 0:
		instruction.Opcode = Call
		instruction.ApUpdate = Add2
		instruction.FpUpdate = APPlus2
	case flags&flagOpcodeRetBit != 0:
		instruction.Opcode = Ret
		instruction.FpUpdate = DstFp
	case flags&flagOpcodeAssertEqBit != 0:
		instruction.Opcode = AssertEq
		instruction.FpUpdate = SameFp
	default:
		instruction.Opcode = NOp
		instruction.FpUpdate = SameFp
	}

	return instruction, nil
}

func decodeOffset(raw uint64) int16 {
	biased := int64(raw & 0xffff)
	return int16(biased - offsetBias)
}
