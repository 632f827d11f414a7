package memory

import (
	"errors"
	"fmt"
)

// Sentinel errors for the memory layer (spec.md §7 "Memory"). Wrapped
// with context via fmt.Errorf("...: %w", ...) so callers can still
// errors.Is against the sentinel.
var (
	ErrAddressNotRelocatable      = errors.New("address not relocatable")
	ErrNumOutOfBounds             = errors.New("number out of bounds")
	ErrGetRangeMemoryGap          = errors.New("memory gap in continuous range")
	ErrAddressNotInTemporary      = errors.New("address is not in a temporary segment")
	ErrNonZeroOffset              = errors.New("relocation rule source must have zero offset")
	ErrDuplicatedRelocation       = errors.New("relocation rule already exists for segment")
	ErrMissingSegmentUsedSizes    = errors.New("segment used sizes have not been computed")
	ErrUnallocatedSegment         = errors.New("unallocated segment")
)

// InconsistentMemoryError reports a write-once violation: addr already
// held `Previous` and a conflicting `New` value was inserted.
type InconsistentMemoryError struct {
	Addr     MemoryAddress
	Previous MemoryValue
	New      MemoryValue
}

func (e *InconsistentMemoryError) Error() string {
	return fmt.Sprintf(
		"inconsistent memory assignment at address %s: %s != %s",
		e.Addr.String(), e.Previous.String(), e.New.String(),
	)
}

func NewInconsistentMemoryError(addr MemoryAddress, previous, new MemoryValue) error {
	return &InconsistentMemoryError{Addr: addr, Previous: previous, New: new}
}
