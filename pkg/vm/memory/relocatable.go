package memory

import "fmt"

// MemoryAddress is a relocatable value: a reference into a specific
// memory segment at a given offset. SegmentIndex is signed because
// temporary segments (allocated before their final home is known) use
// negative indices; normal segments start at 0.
type MemoryAddress struct {
	SegmentIndex int64
	Offset       uint64
}

// UnknownAddress is returned by helpers that fail before producing a
// meaningful address; callers must check the accompanying error.
var UnknownAddress = MemoryAddress{SegmentIndex: -1, Offset: 0}

func (address *MemoryAddress) Equal(other *MemoryAddress) bool {
	if address == nil || other == nil {
		return address == other
	}
	return address.SegmentIndex == other.SegmentIndex && address.Offset == other.Offset
}

func (address MemoryAddress) String() string {
	return fmt.Sprintf("%d:%d", address.SegmentIndex, address.Offset)
}

// AddOffset returns a new address in the same segment, offset by n.
func (address *MemoryAddress) AddOffset(n uint64) MemoryAddress {
	return MemoryAddress{SegmentIndex: address.SegmentIndex, Offset: address.Offset + n}
}

// SubOffset returns a new address in the same segment, offset back by n.
// Fails if n is larger than the current offset.
func (address *MemoryAddress) SubOffset(n uint64) (MemoryAddress, error) {
	if n > address.Offset {
		return UnknownAddress, fmt.Errorf("relocatable: offset underflow %d - %d", address.Offset, n)
	}
	return MemoryAddress{SegmentIndex: address.SegmentIndex, Offset: address.Offset - n}, nil
}

// SubAddress returns the (field) distance between two addresses of the
// same segment. Fails across segments: relocatable subtraction is only
// meaningful within one segment (spec.md §3.1).
func (address *MemoryAddress) SubAddress(other *MemoryAddress) (int64, error) {
	if address.SegmentIndex != other.SegmentIndex {
		return 0, fmt.Errorf("relocatable: cannot subtract addresses of different segments (%d, %d)", address.SegmentIndex, other.SegmentIndex)
	}
	return int64(address.Offset) - int64(other.Offset), nil
}

// IsTemporary reports whether this address belongs to a temporary
// (negative-indexed) segment awaiting a relocation rule.
func (address *MemoryAddress) IsTemporary() bool {
	return address.SegmentIndex < 0
}
