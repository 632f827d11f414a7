package builtins

import (
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const (
	cellsPerPedersen = 3
	inputCellsPerPedersen = 2
)

// PedersenRunner is the hash builtin: each instance is x, y (inputs)
// followed by hash(x, y) (output). The real Cairo pedersen hash mixes
// four curve points derived from fixed constants; this is simplified
// to two scalar multiplications of the curve's generator — it shares
// the same "EC-combination of two field inputs" shape and the same
// gnark-crypto curve package as the ec-op builtin, but is not
// bit-for-bit compatible with the reference implementation (out of
// spec.md's scope, which only fixes the bitwise builtin in detail).
type PedersenRunner struct {
	BaseRunner
}

func NewPedersenRunner(ratio uint64) *PedersenRunner {
	p := &PedersenRunner{}
	p.ratio = ratio
	return p
}

func (p *PedersenRunner) Name() string            { return "pedersen" }
func (p *PedersenRunner) CellsPerInstance() uint64 { return cellsPerPedersen }
func (p *PedersenRunner) NInputCells() uint64      { return inputCellsPerPedersen }

func (p *PedersenRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&p.BaseRunner, mem)
}

func (p *PedersenRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerPedersen, p.ratio, currentStep)
}

func (p *PedersenRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(p, &p.BaseRunner, mem, pointer)
}

func (p *PedersenRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	index := addr.Offset % cellsPerPedersen
	if index != 2 {
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

	g1, _ := starkcurve.Generators()

	var xBig, yBig big.Int
	xFelt.BigInt(&xBig)
	yFelt.BigInt(&yBig)

	var px, py starkcurve.G1Jac
	px.ScalarMultiplication(&g1, &xBig)
	py.ScalarMultiplication(&g1, &yBig)
	px.AddAssign(&py)

	var affine starkcurve.G1Affine
	affine.FromJacobian(&px)

	var outFelt f.Element
	outFelt.Set(&affine.X)
	mv := memory.MemoryValueFromFieldElement(&outFelt)
	return &mv, nil
}
