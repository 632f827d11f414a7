package memory

import (
	"fmt"
	"math/big"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// MemoryValue is a tagged union of the two things a memory cell may
// hold: a field element ("felt") or a relocatable address. Exactly one
// of the two pointers is non-nil once the value is known; both are nil
// for an unknown (unwritten) cell.
type MemoryValue struct {
	felt    *f.Element
	address *MemoryAddress
}

// UnknownValue is the zero MemoryValue: neither variant is populated.
var UnknownValue = MemoryValue{}

func EmptyMemoryValueAsFelt() MemoryValue {
	return MemoryValue{felt: new(f.Element)}
}

func EmptyMemoryValueAsAddress() MemoryValue {
	return MemoryValue{address: &MemoryAddress{}}
}

// EmptyMemoryValueAs returns a scratch value of the address variant
// when isAddress is true, or the felt variant otherwise. Used by the
// operand resolver when the shape of a deduced value (felt vs address)
// is determined by its sibling operand (spec.md §4.3).
func EmptyMemoryValueAs(isAddress bool) MemoryValue {
	if isAddress {
		return EmptyMemoryValueAsAddress()
	}
	return EmptyMemoryValueAsFelt()
}

func MemoryValueFromFieldElement(felt *f.Element) MemoryValue {
	v := *felt
	return MemoryValue{felt: &v}
}

func MemoryValueFromMemoryAddress(address *MemoryAddress) MemoryValue {
	v := *address
	return MemoryValue{address: &v}
}

func MemoryValueFromSegmentAndOffset(segmentIndex int64, offset uint64) MemoryValue {
	return MemoryValueFromMemoryAddress(&MemoryAddress{SegmentIndex: segmentIndex, Offset: offset})
}

// MemoryValueFromUint builds a felt-valued MemoryValue from any
// unsigned or signed integer type, mirroring the teacher's generic
// constructor used when seeding dummy stack cells.
func MemoryValueFromUint[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int | ~int8 | ~int16 | ~int32 | ~int64](v T) MemoryValue {
	var felt f.Element
	felt.SetUint64(uint64(v))
	return MemoryValue{felt: &felt}
}

func MemoryValueFromInt(v int64) MemoryValue {
	var felt f.Element
	if v < 0 {
		bigV := big.NewInt(v)
		bigV.Mod(bigV, f.Modulus())
		felt.SetBigInt(bigV)
	} else {
		felt.SetUint64(uint64(v))
	}
	return MemoryValue{felt: &felt}
}

// Known reports whether this cell has been assigned a value (felt or address).
func (mv *MemoryValue) Known() bool {
	return mv.felt != nil || mv.address != nil
}

func (mv *MemoryValue) IsAddress() bool {
	return mv.address != nil
}

func (mv *MemoryValue) IsFelt() bool {
	return mv.felt != nil
}

func (mv *MemoryValue) ToFieldElement() (*f.Element, error) {
	if mv.felt == nil {
		return nil, fmt.Errorf("memory value is not a field element: %s", mv.String())
	}
	return mv.felt, nil
}

func (mv *MemoryValue) ToMemoryAddress() (*MemoryAddress, error) {
	if mv.address == nil {
		return nil, fmt.Errorf("memory value is not a relocatable: %s", mv.String())
	}
	return mv.address, nil
}

// Uint64 extracts a felt value as a uint64, failing if it does not fit
// (used when a felt needs to act as a plain cell offset).
func (mv *MemoryValue) Uint64() (uint64, error) {
	felt, err := mv.ToFieldElement()
	if err != nil {
		return 0, err
	}
	bigVal := new(big.Int)
	felt.BigInt(bigVal)
	if !bigVal.IsUint64() {
		return 0, fmt.Errorf("felt %s does not fit in a uint64", felt.Text(10))
	}
	return bigVal.Uint64(), nil
}

func (mv *MemoryValue) IsZero() bool {
	if mv.felt != nil {
		return mv.felt.IsZero()
	}
	return false
}

func (mv *MemoryValue) Equal(other *MemoryValue) bool {
	if mv.felt != nil && other.felt != nil {
		return mv.felt.Equal(other.felt)
	}
	if mv.address != nil && other.address != nil {
		return mv.address.Equal(other.address)
	}
	return false
}

func (mv MemoryValue) String() string {
	if mv.felt != nil {
		return mv.felt.Text(10)
	}
	if mv.address != nil {
		return mv.address.String()
	}
	return "<unknown>"
}

// errPureValue is returned whenever an arithmetic combination of
// Int/Addr variants has no defined meaning (spec.md §3.1): Addr+Addr,
// Addr*anything, Int/Addr, and cross-segment Addr-Addr.
func errPureValue(op string, a, b *MemoryValue) error {
	return fmt.Errorf("PureValue: cannot %s %s and %s", op, a.String(), b.String())
}

// Add sets the receiver to a + b following the relocatable arithmetic
// rules: Int+Int is field addition, Addr+Int shifts the address
// offset (no modular reduction), Addr+Addr fails.
func (mv *MemoryValue) Add(a, b *MemoryValue) error {
	switch {
	case a.IsFelt() && b.IsFelt():
		var res f.Element
		res.Add(a.felt, b.felt)
		mv.felt, mv.address = &res, nil
		return nil
	case a.IsAddress() && b.IsFelt():
		n, err := b.Uint64()
		if err != nil {
			return fmt.Errorf("address + felt: %w", err)
		}
		addr := a.address.AddOffset(n)
		mv.address, mv.felt = &addr, nil
		return nil
	case a.IsFelt() && b.IsAddress():
		return mv.Add(b, a)
	default:
		return errPureValue("add", a, b)
	}
}

// Sub sets the receiver to a - b: Int-Int is field subtraction,
// Addr-Int shifts the offset back, Addr-Addr (same segment) yields the
// felt distance, Addr-Addr (different segments) fails.
func (mv *MemoryValue) Sub(a, b *MemoryValue) error {
	switch {
	case a.IsFelt() && b.IsFelt():
		var res f.Element
		res.Sub(a.felt, b.felt)
		mv.felt, mv.address = &res, nil
		return nil
	case a.IsAddress() && b.IsFelt():
		n, err := b.Uint64()
		if err != nil {
			return fmt.Errorf("address - felt: %w", err)
		}
		addr, err := a.address.SubOffset(n)
		if err != nil {
			return err
		}
		mv.address, mv.felt = &addr, nil
		return nil
	case a.IsAddress() && b.IsAddress():
		diff, err := a.address.SubAddress(b.address)
		if err != nil {
			return fmt.Errorf("PureValue: %w", err)
		}
		*mv = MemoryValueFromInt(diff)
		return nil
	default:
		return errPureValue("subtract", a, b)
	}
}

// Mul sets the receiver to a * b. Only Int*Int is defined.
func (mv *MemoryValue) Mul(a, b *MemoryValue) error {
	if !a.IsFelt() || !b.IsFelt() {
		return errPureValue("multiply", a, b)
	}
	var res f.Element
	res.Mul(a.felt, b.felt)
	mv.felt, mv.address = &res, nil
	return nil
}

// Div sets the receiver to a / b (field division, via modular
// inverse). Only Int/Int is defined; b must be non-zero.
func (mv *MemoryValue) Div(a, b *MemoryValue) error {
	if !a.IsFelt() || !b.IsFelt() {
		return errPureValue("divide", a, b)
	}
	if b.felt.IsZero() {
		return fmt.Errorf("division by zero felt")
	}
	var res f.Element
	res.Div(a.felt, b.felt)
	mv.felt, mv.address = &res, nil
	return nil
}
