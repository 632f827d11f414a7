// Package builtins implements the pluggable co-processor contract of
// spec.md §4.4: each builtin owns one memory segment and can
// auto-deduce missing cells in that segment from cells already
// written, without needing to be invoked explicitly by the program.
package builtins

import (
	"errors"
	"fmt"

	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

var (
	// ErrInvalidStopPointer is returned by FinalStack when the stop
	// pointer left on the stack does not match the builtin's computed
	// used-cell count.
	ErrInvalidStopPointer = errors.New("invalid stop pointer")
	// ErrInconsistentAutoDeduction is returned by the VM's end-of-run
	// verifier (spec.md §4.5) when a builtin disagrees with what was
	// actually written to its segment.
	ErrInconsistentAutoDeduction = errors.New("inconsistent auto deduction")
)

// BuiltinRunner is the contract every builtin co-processor satisfies
// (spec.md §3.5, §4.4). The VM holds builtins as values of this
// interface and calls them through it: deduceBuiltinCell picks the one
// whose Base() matches an address's segment, and the VM's
// GetRangeCheckBuiltin/GetSignatureBuiltin select one by type
// assertion. There is no enumerated tag; Name() only identifies a
// builtin in errors and reports.
type BuiltinRunner interface {
	Name() string

	// Base returns the segment index this builtin owns. Set once,
	// when the segment is allocated during VM initialization.
	Base() int64
	SetBase(segmentIndex int64)

	CellsPerInstance() uint64
	NInputCells() uint64
	Ratio() uint64

	// DeduceMemoryCell attempts to compute the value that must reside
	// at addr (which lies in this builtin's segment) from the already
	// assigned input cells of that instance. Returns (nil, nil) when
	// the cell is not yet deducible (spec.md §4.4).
	DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error)

	// GetUsedCells returns how many cells of this builtin's segment
	// have actually been written.
	GetUsedCells(mem *memory.Memory) (uint64, error)

	// GetAllocatedMemoryUnits returns how many cells the builtin is
	// entitled to at the given step count, based on its ratio.
	GetAllocatedMemoryUnits(currentStep uint64) (uint64, error)

	// FinalStack reconciles the stop pointer the program left at
	// pointer-1 against the computed number of used cells, returning
	// the new stack pointer (pointer-1) and the stop offset.
	FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error)

	// MemorySegmentAddresses reports this builtin's segment base and,
	// once FinalStack has reconciled it, its stop offset (nil before
	// that). External provers read this per builtin to know which
	// cells of the relocated memory belong to it.
	MemorySegmentAddresses() (base int64, stopOffset *uint64)
}

// BaseRunner is embedded by concrete builtins to share the
// base-segment bookkeeping every implementation needs.
type BaseRunner struct {
	base       int64
	ratio      uint64
	hasBase    bool
	stopOffset *uint64
}

func (b *BaseRunner) MemorySegmentAddresses() (int64, *uint64) {
	return b.base, b.stopOffset
}

func (b *BaseRunner) Base() int64 {
	return b.base
}

func (b *BaseRunner) SetBase(segmentIndex int64) {
	b.base = segmentIndex
	b.hasBase = true
}

func (b *BaseRunner) Ratio() uint64 {
	return b.ratio
}

// getUsedCells is the shared GetUsedCells body: the effective length
// of the builtin's own segment.
func getUsedCells(b *BaseRunner, mem *memory.Memory) (uint64, error) {
	if !b.hasBase {
		return 0, fmt.Errorf("%w: builtin segment not yet allocated", memory.ErrMissingSegmentUsedSizes)
	}
	return mem.GetSegmentUsedSize(b.base)
}

// getAllocatedMemoryUnits is the shared GetAllocatedMemoryUnits body:
// cellsPerInstance * floor(currentStep / ratio), per spec.md §9 note 1.
func getAllocatedMemoryUnits(cellsPerInstance, ratio, currentStep uint64) (uint64, error) {
	if ratio == 0 {
		return 0, fmt.Errorf("builtin ratio must be non-zero")
	}
	instances := currentStep / ratio
	return cellsPerInstance * instances, nil
}

// finalStack is the shared FinalStack body (spec.md §4.4): the
// caller's calling convention leaves the stop pointer for this
// builtin's segment at pointer-1 on the stack.
func finalStack(runner BuiltinRunner, base *BaseRunner, mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	stopPtrAddr, err := pointer.SubOffset(1)
	if err != nil {
		return memory.UnknownAddress, 0, fmt.Errorf("final stack: %w", err)
	}
	stopPointer, err := mem.GetRelocatableFromAddress(&stopPtrAddr)
	if err != nil {
		return memory.UnknownAddress, 0, fmt.Errorf("%w: %s", ErrInvalidStopPointer, err)
	}
	if stopPointer.SegmentIndex != runner.Base() {
		return memory.UnknownAddress, 0, fmt.Errorf("%w: %s segment mismatch", ErrInvalidStopPointer, runner.Name())
	}
	usedCells, err := runner.GetUsedCells(mem)
	if err != nil {
		return memory.UnknownAddress, 0, fmt.Errorf("final stack: %w", err)
	}
	if stopPointer.Offset != usedCells {
		return memory.UnknownAddress, 0, fmt.Errorf(
			"%w: %s expected %d used cells, stack says %d", ErrInvalidStopPointer, runner.Name(), usedCells, stopPointer.Offset,
		)
	}
	base.stopOffset = &stopPointer.Offset
	return stopPtrAddr, stopPointer.Offset, nil
}
