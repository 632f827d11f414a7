package builtins

import (
	"testing"

	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBitwiseSegment(t *testing.T) (*memory.Memory, int64) {
	t.Helper()
	mem := memory.InitializeEmptyMemory()
	segmentIndex := mem.AllocateEmptySegment()
	return mem, segmentIndex
}

func TestBitwiseDeduceOutputsFromInputs(t *testing.T) {
	mem, segmentIndex := newBitwiseSegment(t)
	runner := NewBitwiseRunner(8)
	runner.SetBase(segmentIndex)

	x := memory.MemoryValueFromUint[uint64](0b1010)
	y := memory.MemoryValueFromUint[uint64](0b0110)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 0}, &x))
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 1}, &y))

	and, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 2}, mem)
	require.NoError(t, err)
	require.NotNil(t, and)
	assert.Equal(t, "2", and.String()) // 0b1010 & 0b0110 = 0b0010

	xor, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 3}, mem)
	require.NoError(t, err)
	require.NotNil(t, xor)
	assert.Equal(t, "12", xor.String()) // 0b1010 ^ 0b0110 = 0b1100

	or, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 4}, mem)
	require.NoError(t, err)
	require.NotNil(t, or)
	assert.Equal(t, "14", or.String()) // 0b1010 | 0b0110 = 0b1110
}

func TestBitwiseInputCellsNeverDeduced(t *testing.T) {
	mem, segmentIndex := newBitwiseSegment(t)
	runner := NewBitwiseRunner(8)
	runner.SetBase(segmentIndex)

	deduced, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 0}, mem)
	require.NoError(t, err)
	assert.Nil(t, deduced)
}

func TestBitwiseDeduceBeforeInputsKnown(t *testing.T) {
	mem, segmentIndex := newBitwiseSegment(t)
	runner := NewBitwiseRunner(8)
	runner.SetBase(segmentIndex)

	x := memory.MemoryValueFromUint[uint64](1)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 0}, &x))

	deduced, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 2}, mem)
	require.NoError(t, err)
	assert.Nil(t, deduced, "cannot deduce an output while y is still unwritten")
}

func TestBitwiseRejectsOutOfRangeInputs(t *testing.T) {
	mem, segmentIndex := newBitwiseSegment(t)
	runner := NewBitwiseRunnerWithBits(8, 4) // values must fit in 4 bits

	x := memory.MemoryValueFromUint[uint64](1 << 10)
	y := memory.MemoryValueFromUint[uint64](1)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 0}, &x))
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 1}, &y))

	_, err := runner.DeduceMemoryCell(memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 2}, mem)
	assert.Error(t, err)
}

func TestBitwiseAllocatedMemoryUnits(t *testing.T) {
	runner := NewBitwiseRunner(8)
	units, err := runner.GetAllocatedMemoryUnits(24)
	require.NoError(t, err)
	assert.Equal(t, uint64(cellsPerBitwise*3), units) // 24/8 = 3 instances
}
