package builtins

import (
	"testing"

	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalStackReconcilesStopPointer(t *testing.T) {
	mem := memory.InitializeEmptyMemory()
	builtinSegment := mem.AllocateEmptySegment()
	execSegment := mem.AllocateEmptySegment()

	runner := NewRangeCheckRunner(8)
	runner.SetBase(builtinSegment)

	v := memory.MemoryValueFromUint[uint64](11)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: builtinSegment, Offset: 0}, &v))
	usedCells, err := runner.GetUsedCells(mem)
	require.NoError(t, err)
	require.Equal(t, uint64(1), usedCells)

	stopPointer := memory.MemoryValueFromSegmentAndOffset(builtinSegment, usedCells)
	stopPointerAddr := memory.MemoryAddress{SegmentIndex: execSegment, Offset: 1}
	require.NoError(t, mem.WriteToAddress(&stopPointerAddr, &stopPointer))

	newStackTop, stopOffset, err := runner.FinalStack(mem, memory.MemoryAddress{SegmentIndex: execSegment, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, stopPointerAddr, newStackTop)
	assert.Equal(t, usedCells, stopOffset)
}

func TestFinalStackRejectsMismatchedStopPointer(t *testing.T) {
	mem := memory.InitializeEmptyMemory()
	builtinSegment := mem.AllocateEmptySegment()
	execSegment := mem.AllocateEmptySegment()

	runner := NewRangeCheckRunner(8)
	runner.SetBase(builtinSegment)

	v := memory.MemoryValueFromUint[uint64](11)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: builtinSegment, Offset: 0}, &v))

	// stop pointer claims 5 used cells, but only 1 was actually written
	wrongStopPointer := memory.MemoryValueFromSegmentAndOffset(builtinSegment, 5)
	stopPointerAddr := memory.MemoryAddress{SegmentIndex: execSegment, Offset: 1}
	require.NoError(t, mem.WriteToAddress(&stopPointerAddr, &wrongStopPointer))

	_, _, err := runner.FinalStack(mem, memory.MemoryAddress{SegmentIndex: execSegment, Offset: 2})
	assert.ErrorIs(t, err, ErrInvalidStopPointer)
}

func TestGetAllocatedMemoryUnitsZeroRatio(t *testing.T) {
	runner := NewRangeCheckRunner(0)
	_, err := runner.GetAllocatedMemoryUnits(10)
	assert.Error(t, err)
}

func TestMemorySegmentAddressesBeforeAndAfterFinalStack(t *testing.T) {
	mem := memory.InitializeEmptyMemory()
	builtinSegment := mem.AllocateEmptySegment()
	execSegment := mem.AllocateEmptySegment()

	runner := NewRangeCheckRunner(8)
	runner.SetBase(builtinSegment)

	base, stopOffset := runner.MemorySegmentAddresses()
	assert.Equal(t, builtinSegment, base)
	assert.Nil(t, stopOffset, "stop offset is unknown before the segment's stack frame unwinds")

	v := memory.MemoryValueFromUint[uint64](11)
	require.NoError(t, mem.WriteToAddress(&memory.MemoryAddress{SegmentIndex: builtinSegment, Offset: 0}, &v))
	stopPointer := memory.MemoryValueFromSegmentAndOffset(builtinSegment, 1)
	stopPointerAddr := memory.MemoryAddress{SegmentIndex: execSegment, Offset: 1}
	require.NoError(t, mem.WriteToAddress(&stopPointerAddr, &stopPointer))

	_, _, err := runner.FinalStack(mem, memory.MemoryAddress{SegmentIndex: execSegment, Offset: 2})
	require.NoError(t, err)

	_, stopOffset = runner.MemorySegmentAddresses()
	require.NotNil(t, stopOffset)
	assert.Equal(t, uint64(1), *stopOffset)
}
