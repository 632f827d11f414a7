package memory

import f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"

// MemoryManager is the segment manager of spec.md §2: it owns the
// Memory and adds whole-memory operations over it (relocation,
// used-size queries). Segments are allocated through Memory's own
// AllocateSegment/AllocateEmptySegment/AllocateTemporarySegment.
type MemoryManager struct {
	Memory *Memory
}

func CreateMemoryManager() *MemoryManager {
	return &MemoryManager{Memory: InitializeEmptyMemory()}
}

// RelocateMemory flattens every segment (program, execution, and any
// builtin segments) into one contiguous array of field elements,
// numbered starting at 1 (index 0 is reserved so that a nil/unused
// address relocates to the sentinel 0), in segment allocation order.
// Unwritten cells relocate to nil.
func (manager *MemoryManager) RelocateMemory() []*f.Element {
	total := 1
	for _, segment := range manager.Memory.Segments {
		total += int(segment.Len())
	}
	relocated := make([]*f.Element, total)

	index := 1
	for _, segment := range manager.Memory.Segments {
		for i := uint64(0); i < segment.Len(); i++ {
			cell := segment.Data[i]
			if cell.Known() {
				relocated[index] = relocatedFeltFor(manager, &cell)
			}
			index++
		}
	}
	return relocated
}

// relocatedFeltFor converts a memory cell to its relocated felt
// representation: field elements pass through unchanged, addresses
// become `segmentBase(segment) + offset` where segmentBase is the
// cumulative size of every earlier segment plus 1.
func relocatedFeltFor(manager *MemoryManager, cell *MemoryValue) *f.Element {
	if cell.IsFelt() {
		felt, _ := cell.ToFieldElement()
		v := *felt
		return &v
	}
	addr, _ := cell.ToMemoryAddress()
	base := uint64(1)
	for i := int64(0); i < addr.SegmentIndex; i++ {
		base += manager.Memory.Segments[i].Len()
	}
	var felt f.Element
	felt.SetUint64(base + addr.Offset)
	return &felt
}

// GetSegmentUsedSize forwards to Memory, matching the teacher's
// convention of letting builtins query sizes through the manager.
func (manager *MemoryManager) GetSegmentUsedSize(segmentIndex int64) (uint64, error) {
	return manager.Memory.GetSegmentUsedSize(segmentIndex)
}
