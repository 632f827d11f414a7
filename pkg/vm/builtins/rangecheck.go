package builtins

import (
	"fmt"
	"math/big"

	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const cellsPerRangeCheck = 1

// RangeCheckRunner constrains every cell in its segment to be a felt
// strictly below 2^nBits (conventionally 128, the RC_BOUND used by
// cairo-zero). It has no output cells: every cell is an input, so
// DeduceMemoryCell's role here is purely a validator — it "deduces"
// exactly the value already written, confirming it is in range, or
// fails if it is not (spec.md §4.4's contract allows Ok(Some(v)) to
// simply echo back an already-known value).
type RangeCheckRunner struct {
	BaseRunner
	nBits uint
}

func NewRangeCheckRunner(ratio uint64) *RangeCheckRunner {
	return NewRangeCheckRunnerWithBits(ratio, 128)
}

func NewRangeCheckRunnerWithBits(ratio uint64, nBits uint) *RangeCheckRunner {
	r := &RangeCheckRunner{nBits: nBits}
	r.ratio = ratio
	return r
}

func (r *RangeCheckRunner) Name() string              { return "range_check" }
func (r *RangeCheckRunner) CellsPerInstance() uint64   { return cellsPerRangeCheck }
func (r *RangeCheckRunner) NInputCells() uint64        { return cellsPerRangeCheck }

func (r *RangeCheckRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&r.BaseRunner, mem)
}

func (r *RangeCheckRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerRangeCheck, r.ratio, currentStep)
}

func (r *RangeCheckRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(r, &r.BaseRunner, mem, pointer)
}

func (r *RangeCheckRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	value, err := mem.PeekFromAddress(&addr)
	if err != nil {
		return nil, err
	}
	if !value.Known() {
		return nil, nil
	}
	if !value.IsFelt() {
		return nil, fmt.Errorf("%w: range_check cell %s is not a felt", memory.ErrAddressNotRelocatable, addr.String())
	}

	felt, _ := value.ToFieldElement()
	bigVal := new(big.Int)
	felt.BigInt(bigVal)
	limit := new(big.Int).Lsh(big.NewInt(1), r.nBits)
	if bigVal.Cmp(limit) >= 0 {
		return nil, fmt.Errorf("%w: value %s at %s exceeds 2^%d", memory.ErrNumOutOfBounds, bigVal.String(), addr.String(), r.nBits)
	}
	return &value, nil
}
