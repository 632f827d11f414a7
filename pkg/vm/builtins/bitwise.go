package builtins

import (
	"fmt"
	"math/big"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const (
	cellsPerBitwise = 5
	inputCellsPerBitwise = 2
	// defaultTotalNBits matches the field size used by cairo-zero
	// programs (spec.md §4.6); a differently parameterized bitwise
	// instance can still be built with NewBitwiseRunner.
	defaultTotalNBits = 251
)

// BitwiseRunner is the worked-example builtin of spec.md §4.6. Each
// instance occupies 5 cells: x, y (inputs) followed by x&y, x^y, x|y
// (deduced outputs).
type BitwiseRunner struct {
	BaseRunner
	totalNBits uint
}

func NewBitwiseRunner(ratio uint64) *BitwiseRunner {
	return NewBitwiseRunnerWithBits(ratio, defaultTotalNBits)
}

func NewBitwiseRunnerWithBits(ratio uint64, totalNBits uint) *BitwiseRunner {
	runner := &BitwiseRunner{totalNBits: totalNBits}
	runner.ratio = ratio
	return runner
}

func (b *BitwiseRunner) Name() string { return "bitwise" }

func (b *BitwiseRunner) CellsPerInstance() uint64 { return cellsPerBitwise }
func (b *BitwiseRunner) NInputCells() uint64      { return inputCellsPerBitwise }

func (b *BitwiseRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&b.BaseRunner, mem)
}

func (b *BitwiseRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerBitwise, b.ratio, currentStep)
}

func (b *BitwiseRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(b, &b.BaseRunner, mem, pointer)
}

// DeduceMemoryCell implements spec.md §4.6's 5-step procedure: input
// cells (index 0, 1) are never deduced; the three output cells are
// computed from the instance's x, y inputs once both are known felts
// within range.
func (b *BitwiseRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	index := addr.Offset % cellsPerBitwise
	if index == 0 || index == 1 {
		return nil, nil
	}

	xAddr := memory.MemoryAddress{SegmentIndex: addr.SegmentIndex, Offset: addr.Offset - index}
	yAddr := xAddr.AddOffset(1)

	xValue, err := mem.PeekFromAddress(&xAddr)
	if err != nil {
		return nil, err
	}
	yValue, err := mem.PeekFromAddress(&yAddr)
	if err != nil {
		return nil, err
	}
	if !xValue.Known() || !yValue.Known() || !xValue.IsFelt() || !yValue.IsFelt() {
		return nil, nil
	}

	xFelt, _ := xValue.ToFieldElement()
	yFelt, _ := yValue.ToFieldElement()

	limit := new(big.Int).Lsh(big.NewInt(1), b.totalNBits)
	xBig := new(big.Int)
	xFelt.BigInt(xBig)
	yBig := new(big.Int)
	yFelt.BigInt(yBig)

	if xBig.Cmp(limit) >= 0 {
		return nil, fmt.Errorf("IntegerBiggerThanPowerOfTwo: %s at %s exceeds 2^%d", xBig.String(), xAddr.String(), b.totalNBits)
	}
	if yBig.Cmp(limit) >= 0 {
		return nil, fmt.Errorf("IntegerBiggerThanPowerOfTwo: %s at %s exceeds 2^%d", yBig.String(), yAddr.String(), b.totalNBits)
	}

	var result big.Int
	switch index {
	case 2:
		result.And(xBig, yBig)
	case 3:
		result.Xor(xBig, yBig)
	case 4:
		result.Or(xBig, yBig)
	default:
		return nil, nil
	}

	var felt f.Element
	felt.SetBigInt(&result)
	mv := memory.MemoryValueFromFieldElement(&felt)
	return &mv, nil
}
