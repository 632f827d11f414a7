package memory

import (
	"testing"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryValueFeltArithmetic(t *testing.T) {
	a := MemoryValueFromUint[uint64](3)
	b := MemoryValueFromUint[uint64](4)

	var sum MemoryValue
	require.NoError(t, sum.Add(&a, &b))
	assert.True(t, sum.IsFelt())
	assert.Equal(t, "7", sum.String())

	var prod MemoryValue
	require.NoError(t, prod.Mul(&a, &b))
	assert.Equal(t, "12", prod.String())

	var quot MemoryValue
	require.NoError(t, quot.Div(&prod, &b))
	assert.True(t, quot.Equal(&a))
}

func TestMemoryValueAddressArithmetic(t *testing.T) {
	addr := MemoryAddress{SegmentIndex: 2, Offset: 5}
	addrValue := MemoryValueFromMemoryAddress(&addr)
	offset := MemoryValueFromUint[uint64](3)

	var shifted MemoryValue
	require.NoError(t, shifted.Add(&addrValue, &offset))
	got, err := shifted.ToMemoryAddress()
	require.NoError(t, err)
	assert.Equal(t, MemoryAddress{SegmentIndex: 2, Offset: 8}, *got)

	var back MemoryValue
	require.NoError(t, back.Sub(&shifted, &offset))
	assert.True(t, back.Equal(&addrValue))
}

func TestMemoryValueAddressDistance(t *testing.T) {
	a := MemoryValueFromMemoryAddress(&MemoryAddress{SegmentIndex: 1, Offset: 10})
	b := MemoryValueFromMemoryAddress(&MemoryAddress{SegmentIndex: 1, Offset: 4})

	var dist MemoryValue
	require.NoError(t, dist.Sub(&a, &b))
	assert.True(t, dist.IsFelt())
	assert.Equal(t, "6", dist.String())
}

func TestMemoryValuePureValueErrors(t *testing.T) {
	addrA := MemoryValueFromMemoryAddress(&MemoryAddress{SegmentIndex: 1, Offset: 0})
	addrB := MemoryValueFromMemoryAddress(&MemoryAddress{SegmentIndex: 2, Offset: 0})
	felt := MemoryValueFromUint[uint64](1)

	var out MemoryValue
	assert.Error(t, out.Add(&addrA, &addrB), "address + address is undefined")
	assert.Error(t, out.Mul(&addrA, &felt), "address * felt is undefined")
	assert.Error(t, out.Sub(&addrA, &addrB), "address - address across segments is undefined")
}

func TestMemoryValueDivByZero(t *testing.T) {
	a := MemoryValueFromUint[uint64](1)
	zero := MemoryValueFromUint[uint64](0)
	var out MemoryValue
	assert.Error(t, out.Div(&a, &zero))
}

func TestMemoryValueKnownness(t *testing.T) {
	assert.False(t, UnknownValue.Known())
	v := MemoryValueFromUint[uint64](0)
	assert.True(t, v.Known())
	assert.True(t, v.IsZero())
}

func TestMemoryValueFromInt(t *testing.T) {
	neg := MemoryValueFromInt(-1)
	felt, err := neg.ToFieldElement()
	require.NoError(t, err)
	var expected f.Element
	expected.SetUint64(1)
	expected.Neg(&expected)
	assert.True(t, felt.Equal(&expected))
}
