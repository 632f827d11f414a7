package builtins

import (
	"math/big"

	starkcurve "github.com/consensys/gnark-crypto/ecc/stark-curve"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const (
	cellsPerEcOp = 7
	inputCellsPerEcOp = 5
)

// EcOpRunner computes R = P + m*Q over the curve: each instance is
// p_x, p_y, q_x, q_y, m (inputs) followed by r_x, r_y (outputs).
type EcOpRunner struct {
	BaseRunner
}

func NewEcOpRunner(ratio uint64) *EcOpRunner {
	e := &EcOpRunner{}
	e.ratio = ratio
	return e
}

func (e *EcOpRunner) Name() string            { return "ec_op" }
func (e *EcOpRunner) CellsPerInstance() uint64 { return cellsPerEcOp }
func (e *EcOpRunner) NInputCells() uint64      { return inputCellsPerEcOp }

func (e *EcOpRunner) GetUsedCells(mem *memory.Memory) (uint64, error) {
	return getUsedCells(&e.BaseRunner, mem)
}

func (e *EcOpRunner) GetAllocatedMemoryUnits(currentStep uint64) (uint64, error) {
	return getAllocatedMemoryUnits(cellsPerEcOp, e.ratio, currentStep)
}

func (e *EcOpRunner) FinalStack(mem *memory.Memory, pointer memory.MemoryAddress) (memory.MemoryAddress, uint64, error) {
	return finalStack(e, &e.BaseRunner, mem, pointer)
}

func (e *EcOpRunner) DeduceMemoryCell(addr memory.MemoryAddress, mem *memory.Memory) (*memory.MemoryValue, error) {
	index := addr.Offset % cellsPerEcOp
	if index != 5 && index != 6 {
		return nil, nil
	}

	instanceBase := addr.Offset - index
	cellAt := func(offset uint64) (*memory.MemoryValue, error) {
		a := memory.MemoryAddress{SegmentIndex: addr.SegmentIndex, Offset: instanceBase + offset}
		v, err := mem.PeekFromAddress(&a)
		if err != nil {
			return nil, err
		}
		return &v, nil
	}

	px, err := cellAt(0)
	if err != nil {
		return nil, err
	}
	py, err := cellAt(1)
	if err != nil {
		return nil, err
	}
	qx, err := cellAt(2)
	if err != nil {
		return nil, err
	}
	qy, err := cellAt(3)
	if err != nil {
		return nil, err
	}
	m, err := cellAt(4)
	if err != nil {
		return nil, err
	}

	for _, v := range []*memory.MemoryValue{px, py, qx, qy, m} {
		if !v.Known() || !v.IsFelt() {
			return nil, nil
		}
	}

	var p, q starkcurve.G1Affine
	pxFelt, _ := px.ToFieldElement()
	pyFelt, _ := py.ToFieldElement()
	qxFelt, _ := qx.ToFieldElement()
	qyFelt, _ := qy.ToFieldElement()
	p.X.Set(pxFelt)
	p.Y.Set(pyFelt)
	q.X.Set(qxFelt)
	q.Y.Set(qyFelt)

	mFelt, _ := m.ToFieldElement()
	var mBig big.Int
	mFelt.BigInt(&mBig)

	var qJac, rJac, pJac starkcurve.G1Jac
	qJac.FromAffine(&q)
	pJac.FromAffine(&p)
	rJac.ScalarMultiplication(&qJac, &mBig)
	rJac.AddAssign(&pJac)

	var r starkcurve.G1Affine
	r.FromJacobian(&rJac)

	if index == 5 {
		mv := memory.MemoryValueFromFieldElement(&r.X)
		return &mv, nil
	}
	mv := memory.MemoryValueFromFieldElement(&r.Y)
	return &mv, nil
}
