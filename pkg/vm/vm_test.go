package vm

import (
	"testing"

	"github.com/raefko/cairo-vm-go/pkg/vm/builtins"
	mem "github.com/raefko/cairo-vm-go/pkg/vm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScopes is the minimal vm.ScopeManager double used by EndRun tests.
type fakeScopes struct{ depth int }

func (f fakeScopes) Depth() int { return f.depth }

// fakeHints is a no-op vm.HintRunner double.
type fakeHints struct{}

func (fakeHints) RunHint(*VirtualMachine) error { return nil }

func newTestVM(t *testing.T, builtinRunners []builtins.BuiltinRunner) *VirtualMachine {
	t.Helper()
	memory := mem.InitializeEmptyMemory()
	memory.AllocateEmptySegment() // ProgramSegment
	memory.AllocateEmptySegment() // ExecutionSegment

	virtualMachine, err := NewVirtualMachine(Context{}, memory, VirtualMachineConfig{}, builtinRunners, nil)
	require.NoError(t, err)
	return virtualMachine
}

func write(t *testing.T, vm *VirtualMachine, segment int64, offset uint64, v mem.MemoryValue) {
	t.Helper()
	addr := mem.MemoryAddress{SegmentIndex: segment, Offset: offset}
	require.NoError(t, vm.Memory.WriteToAddress(&addr, &v))
}

func TestRunInstructionAssertEqAddOperandsWritesDst(t *testing.T) {
	virtualMachine := newTestVM(t, nil)

	write(t, virtualMachine, ExecutionSegment, 0, mem.MemoryValueFromUint[uint64](3)) // op0 at ap+0
	write(t, virtualMachine, ExecutionSegment, 1, mem.MemoryValueFromUint[uint64](4)) // op1 at ap+1

	instr := &Instruction{
		OffDest: 2, OffOp0: 0, OffOp1: 1,
		DstRegister: Ap, Op0Register: Ap, Op1Source: ApPlusOffOp1,
		Res: AddOperands, Opcode: AssertEq, PcUpdate: NextInstr, ApUpdate: SameAp, FpUpdate: SameFp,
	}

	require.NoError(t, virtualMachine.RunInstruction(instr))

	dst, err := virtualMachine.Memory.ReadFromAddress(&mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, "7", dst.String())
	assert.Equal(t, uint64(1), virtualMachine.Context.Pc.Offset, "NextInstr advances pc by instruction size")
}

func TestRunInstructionAssertEqDeducesMissingOp0(t *testing.T) {
	virtualMachine := newTestVM(t, nil)

	write(t, virtualMachine, ExecutionSegment, 1, mem.MemoryValueFromUint[uint64](4))  // op1
	write(t, virtualMachine, ExecutionSegment, 2, mem.MemoryValueFromUint[uint64](10)) // dst

	instr := &Instruction{
		OffDest: 2, OffOp0: 0, OffOp1: 1,
		DstRegister: Ap, Op0Register: Ap, Op1Source: ApPlusOffOp1,
		Res: AddOperands, Opcode: AssertEq, PcUpdate: NextInstr, ApUpdate: SameAp, FpUpdate: SameFp,
	}

	require.NoError(t, virtualMachine.RunInstruction(instr))

	op0, err := virtualMachine.Memory.ReadFromAddress(&mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: 0})
	require.NoError(t, err)
	assert.Equal(t, "6", op0.String(), "dst(10) = op0 + op1(4) implies op0 = 6")
}

func TestRunInstructionAssertEqRejectsMismatch(t *testing.T) {
	virtualMachine := newTestVM(t, nil)

	write(t, virtualMachine, ExecutionSegment, 0, mem.MemoryValueFromUint[uint64](3))
	write(t, virtualMachine, ExecutionSegment, 1, mem.MemoryValueFromUint[uint64](4))
	write(t, virtualMachine, ExecutionSegment, 2, mem.MemoryValueFromUint[uint64](100)) // wrong dst

	instr := &Instruction{
		OffDest: 2, OffOp0: 0, OffOp1: 1,
		DstRegister: Ap, Op0Register: Ap, Op1Source: ApPlusOffOp1,
		Res: AddOperands, Opcode: AssertEq, PcUpdate: NextInstr, ApUpdate: SameAp, FpUpdate: SameFp,
	}

	err := virtualMachine.RunInstruction(instr)
	assert.ErrorIs(t, err, ErrDiffAssertValues)
}

func TestRunInstructionCallWritesReturnFpAndPc(t *testing.T) {
	virtualMachine := newTestVM(t, nil)
	virtualMachine.Context.Ap = 5
	virtualMachine.Context.Fp = 5

	instr := &Instruction{
		OffDest: 0, OffOp0: 1, OffOp1: 1,
		DstRegister: Ap, Op0Register: Ap, Op1Source: Imm,
		Res: Op1, Opcode: Call, PcUpdate: NextInstr, ApUpdate: Add2, FpUpdate: APPlus2,
	}
	// op1 is the immediate at pc+1; give it some value so computeRes succeeds.
	write(t, virtualMachine, ProgramSegment, 1, mem.MemoryValueFromUint[uint64](99))

	require.NoError(t, virtualMachine.RunInstruction(instr))

	returnFp, err := virtualMachine.Memory.ReadFromAddress(&mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: 5})
	require.NoError(t, err)
	assert.True(t, returnFp.IsAddress())

	returnPc, err := virtualMachine.Memory.ReadFromAddress(&mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: 6})
	require.NoError(t, err)
	assert.True(t, returnPc.IsAddress())

	assert.Equal(t, uint64(7), virtualMachine.Context.Ap, "Add2 advances ap by 2")
	assert.Equal(t, uint64(7), virtualMachine.Context.Fp, "APPlus2 sets fp to ap+2 (pre-update ap was 5)")
}

func TestEndRunSucceedsWithConsistentBuiltinAndClosedScopes(t *testing.T) {
	bitwiseRunner := builtins.NewBitwiseRunner(8)
	virtualMachine := newTestVM(t, []builtins.BuiltinRunner{bitwiseRunner})
	builtinSegment := virtualMachine.Memory.AllocateEmptySegment()
	bitwiseRunner.SetBase(builtinSegment)

	write(t, virtualMachine, builtinSegment, 0, mem.MemoryValueFromUint[uint64](0b1010))
	write(t, virtualMachine, builtinSegment, 1, mem.MemoryValueFromUint[uint64](0b0110))
	write(t, virtualMachine, builtinSegment, 2, mem.MemoryValueFromUint[uint64](0b0010)) // correct x&y

	assert.NoError(t, virtualMachine.EndRun(fakeScopes{depth: 1}))
}

func TestEndRunFailsOnInconsistentBuiltinCell(t *testing.T) {
	bitwiseRunner := builtins.NewBitwiseRunner(8)
	virtualMachine := newTestVM(t, []builtins.BuiltinRunner{bitwiseRunner})
	builtinSegment := virtualMachine.Memory.AllocateEmptySegment()
	bitwiseRunner.SetBase(builtinSegment)

	write(t, virtualMachine, builtinSegment, 0, mem.MemoryValueFromUint[uint64](0b1010))
	write(t, virtualMachine, builtinSegment, 1, mem.MemoryValueFromUint[uint64](0b0110))
	write(t, virtualMachine, builtinSegment, 2, mem.MemoryValueFromUint[uint64](0xFF)) // wrong

	err := virtualMachine.EndRun(fakeScopes{depth: 1})
	assert.ErrorIs(t, err, builtins.ErrInconsistentAutoDeduction)
}

func TestEndRunFailsOnOpenScopes(t *testing.T) {
	virtualMachine := newTestVM(t, nil)
	err := virtualMachine.EndRun(fakeScopes{depth: 2})
	assert.ErrorIs(t, err, ErrScopeStackDepth)
}

func TestDeduceBuiltinCellFillsMissingOperand(t *testing.T) {
	bitwiseRunner := builtins.NewBitwiseRunner(8)
	virtualMachine := newTestVM(t, []builtins.BuiltinRunner{bitwiseRunner})
	builtinSegment := virtualMachine.Memory.AllocateEmptySegment()
	bitwiseRunner.SetBase(builtinSegment)

	write(t, virtualMachine, builtinSegment, 0, mem.MemoryValueFromUint[uint64](0b1010))
	write(t, virtualMachine, builtinSegment, 1, mem.MemoryValueFromUint[uint64](0b0110))

	addr := mem.MemoryAddress{SegmentIndex: builtinSegment, Offset: 2}
	deduced, err := virtualMachine.deduceBuiltinCell(&addr)
	require.NoError(t, err)
	require.NotNil(t, deduced)
	assert.Equal(t, "2", deduced.String())
}

func TestRunInstructionJnzTaken(t *testing.T) {
	virtualMachine := newTestVM(t, nil)

	write(t, virtualMachine, ExecutionSegment, 0, mem.MemoryValueFromUint[uint64](7)) // dst, nonzero
	write(t, virtualMachine, ExecutionSegment, 1, mem.MemoryValueFromUint[uint64](0)) // op0, unused by Jnz
	write(t, virtualMachine, ExecutionSegment, 2, mem.MemoryValueFromUint[uint64](5)) // op1, the jump amount

	instr := &Instruction{
		OffDest: 0, OffOp0: 1, OffOp1: 2,
		DstRegister: Ap, Op0Register: Ap, Op1Source: ApPlusOffOp1,
		Res: Unconstrained, Opcode: NOp, PcUpdate: Jnz, ApUpdate: SameAp, FpUpdate: SameFp,
	}

	require.NoError(t, virtualMachine.RunInstruction(instr))
	assert.Equal(t, uint64(5), virtualMachine.Context.Pc.Offset, "nonzero dst takes the jump: pc += op1")
}

func TestRunInstructionJnzNotTaken(t *testing.T) {
	virtualMachine := newTestVM(t, nil)

	write(t, virtualMachine, ExecutionSegment, 0, mem.MemoryValueFromUint[uint64](0)) // dst, zero
	write(t, virtualMachine, ExecutionSegment, 1, mem.MemoryValueFromUint[uint64](0)) // op0, unused by Jnz
	write(t, virtualMachine, ExecutionSegment, 2, mem.MemoryValueFromUint[uint64](5)) // op1, ignored when not taken

	instr := &Instruction{
		OffDest: 0, OffOp0: 1, OffOp1: 2,
		DstRegister: Ap, Op0Register: Ap, Op1Source: ApPlusOffOp1,
		Res: Unconstrained, Opcode: NOp, PcUpdate: Jnz, ApUpdate: SameAp, FpUpdate: SameFp,
	}

	require.NoError(t, virtualMachine.RunInstruction(instr))
	assert.Equal(t, uint64(1), virtualMachine.Context.Pc.Offset, "zero dst falls through: pc += instruction size")
}

func TestGetRangeCheckBuiltinFindsItAmongOthers(t *testing.T) {
	bitwiseRunner := builtins.NewBitwiseRunner(8)
	rangeCheckRunner := builtins.NewRangeCheckRunner(8)
	virtualMachine := newTestVM(t, []builtins.BuiltinRunner{bitwiseRunner, rangeCheckRunner})

	found, ok := virtualMachine.GetRangeCheckBuiltin()
	require.True(t, ok)
	assert.Same(t, rangeCheckRunner, found)
}

func TestGetSignatureBuiltinAbsent(t *testing.T) {
	virtualMachine := newTestVM(t, []builtins.BuiltinRunner{builtins.NewBitwiseRunner(8)})

	found, ok := virtualMachine.GetSignatureBuiltin()
	assert.False(t, ok)
	assert.Nil(t, found)
}

func TestRunStepRunsHintAndAdvancesStep(t *testing.T) {
	virtualMachine := newTestVM(t, nil)
	// with ap=fp=0 and no offsets, dst/op0/op1 all resolve to the same
	// execution cell; pre-writing it leaves nothing left to deduce.
	word := encode(0, 0, 0, flagOp1FpBit)
	instrAddr := mem.MemoryAddress{SegmentIndex: ProgramSegment, Offset: 0}
	wordValue := mem.MemoryValueFromFieldElement(word)
	require.NoError(t, virtualMachine.Memory.WriteToAddress(&instrAddr, &wordValue))

	cellValue := mem.MemoryValueFromUint[uint64](5)
	write(t, virtualMachine, ExecutionSegment, 0, cellValue)

	require.NoError(t, virtualMachine.RunStep(fakeHints{}))
	assert.Equal(t, uint64(1), virtualMachine.Step)
	assert.Equal(t, uint64(1), virtualMachine.Context.Pc.Offset)
}
