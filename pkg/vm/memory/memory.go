package memory

import (
	"fmt"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/raefko/cairo-vm-go/pkg/safemath"
)

// Segment is a write-once, dense vector of optional memory values.
// Unwritten cells are the zero MemoryValue (Known() == false), which
// allows holes. Builtin auto-deduction (spec.md §4.4) is not a
// per-segment concern: it is dispatched at the VM level, over the
// full VirtualMachine.Builtins list, since a builtin's deduction
// generally needs the whole Memory (to peek at sibling cells of the
// same instance), not just its own segment.
type Segment struct {
	Data      []MemoryValue
	LastIndex int
}

func EmptySegment() *Segment {
	return &Segment{
		Data:      make([]MemoryValue, 0, 100),
		LastIndex: -1,
	}
}

func EmptySegmentWithCapacity(capacity int) *Segment {
	return &Segment{
		Data:      make([]MemoryValue, 0, capacity),
		LastIndex: -1,
	}
}

func EmptySegmentWithLength(length int) *Segment {
	return &Segment{
		Data:      make([]MemoryValue, length),
		LastIndex: length - 1,
	}
}

// Len returns the effective size of the segment: the rightmost written
// index + 1.
func (segment *Segment) Len() uint64 {
	return uint64(segment.LastIndex + 1)
}

func (segment *Segment) RealLen() uint64 {
	return uint64(len(segment.Data))
}

// Write assigns a value to offset, enforcing write-once: writing the
// same value twice is a no-op, writing a different value fails.
func (segment *Segment) Write(offset uint64, value *MemoryValue) error {
	if offset >= segment.RealLen() {
		segment.IncreaseSegmentSize(offset + 1)
	}
	if offset >= segment.Len() {
		segment.LastIndex = int(offset)
	}

	cell := &segment.Data[offset]
	if cell.Known() && !cell.Equal(value) {
		return NewInconsistentMemoryError(MemoryAddress{Offset: offset}, *cell, *value)
	}
	segment.Data[offset] = *value
	return nil
}

// Read returns the value at offset. It does not attempt builtin
// auto-deduction itself: that is the VM's job (VirtualMachine.deduceBuiltinCell),
// since deducing a cell generally requires reading sibling cells
// elsewhere in the same segment via the full Memory, not just this
// Segment.
func (segment *Segment) Read(offset uint64) (MemoryValue, error) {
	if offset >= segment.RealLen() {
		segment.IncreaseSegmentSize(offset + 1)
	}
	if offset >= segment.Len() {
		segment.LastIndex = int(offset)
	}
	return segment.Data[offset], nil
}

// Peek returns the value at offset without triggering auto-deduction;
// used by the operand resolver to check "is this already known".
func (segment *Segment) Peek(offset uint64) MemoryValue {
	if offset >= segment.RealLen() {
		segment.IncreaseSegmentSize(offset + 1)
	}
	if offset >= segment.Len() {
		segment.LastIndex = int(offset)
	}
	return segment.Data[offset]
}

// IncreaseSegmentSize grows the backing array, doubling capacity like
// a typical amortized append. Panics on an attempted shrink: this
// should be unreachable given the call sites above.
func (segment *Segment) IncreaseSegmentSize(newSize uint64) {
	segmentData := segment.Data
	if len(segmentData) > int(newSize) {
		panic(fmt.Sprintf("cannot decrease segment size: %d -> %d", len(segmentData), newSize))
	}

	var newSegmentData []MemoryValue
	if cap(segmentData) > int(newSize) {
		newSegmentData = segmentData[:cap(segmentData)]
	} else {
		newSegmentData = make([]MemoryValue, safemath.Max(newSize, uint64(len(segmentData)*2)))
		copy(newSegmentData, segmentData)
	}
	segment.Data = newSegmentData
}

func (segment *Segment) String() string {
	header := fmt.Sprintf(
		"real len: %d real cap: %d len: %d\n",
		len(segment.Data), cap(segment.Data), segment.Len(),
	)
	for i := range segment.Data {
		if i < int(segment.Len())-5 {
			continue
		}
		if segment.Data[i].Known() {
			header += fmt.Sprintf("[%d]-> %s\n", i, segment.Data[i].String())
		}
	}
	return header
}

// relocationRule records that reads/writes against a temporary
// segment's cell zero should be redirected to a concrete segment.
type relocationRule struct {
	target MemoryAddress
}

// Memory is the whole VM address space: a growable list of normal
// segments (index >= 0) and, separately, temporary segments (index <
// 0, stored by their positive magnitude) together with any relocation
// rules that have been registered for them.
type Memory struct {
	Segments          []*Segment
	TemporarySegments []*Segment
	relocationRules   map[int64]relocationRule
}

func InitializeEmptyMemory() *Memory {
	return &Memory{
		Segments:          make([]*Segment, 0, 4),
		TemporarySegments: make([]*Segment, 0),
		relocationRules:   make(map[int64]relocationRule),
	}
}

func (memory *Memory) AllocateEmptySegment() int64 {
	memory.Segments = append(memory.Segments, EmptySegment())
	return int64(len(memory.Segments) - 1)
}

// AllocateSegment creates a new segment pre-populated with data (used
// to load the program's bytecode as the program segment) and returns
// its index.
func (memory *Memory) AllocateSegment(data []*f.Element) (int64, error) {
	newSegment := EmptySegmentWithLength(len(data))
	for i := range data {
		memVal := MemoryValueFromFieldElement(data[i])
		if err := newSegment.Write(uint64(i), &memVal); err != nil {
			return 0, err
		}
	}
	memory.Segments = append(memory.Segments, newSegment)
	return int64(len(memory.Segments) - 1), nil
}

// AllocateTemporarySegment allocates a segment with a negative index,
// contiguous starting at -1 (spec.md §3.2).
func (memory *Memory) AllocateTemporarySegment() MemoryAddress {
	memory.TemporarySegments = append(memory.TemporarySegments, EmptySegment())
	index := -int64(len(memory.TemporarySegments))
	return MemoryAddress{SegmentIndex: index, Offset: 0}
}

// AddRelocationRule registers that reads/writes to `src` (a temporary
// segment's cell zero) should be redirected to `dst`. Permitted only
// once per temporary segment, and only from its offset-0 cell (spec.md §4.1).
func (memory *Memory) AddRelocationRule(src, dst MemoryAddress) error {
	if !src.IsTemporary() {
		return fmt.Errorf("add relocation rule: %w: %d", ErrAddressNotInTemporary, src.SegmentIndex)
	}
	if src.Offset != 0 {
		return fmt.Errorf("add relocation rule: %w: segment %d", ErrNonZeroOffset, src.SegmentIndex)
	}
	if _, ok := memory.relocationRules[src.SegmentIndex]; ok {
		return fmt.Errorf("add relocation rule: %w: segment %d", ErrDuplicatedRelocation, src.SegmentIndex)
	}
	memory.relocationRules[src.SegmentIndex] = relocationRule{target: dst}
	return nil
}

// resolve dereferences a temporary-segment address through its
// relocation rule, if one has been registered. Addresses in normal
// segments, or in temporary segments without a rule yet, pass through
// unchanged.
func (memory *Memory) resolve(address *MemoryAddress) MemoryAddress {
	if !address.IsTemporary() {
		return *address
	}
	rule, ok := memory.relocationRules[address.SegmentIndex]
	if !ok {
		return *address
	}
	return MemoryAddress{SegmentIndex: rule.target.SegmentIndex, Offset: rule.target.Offset + address.Offset}
}

func (memory *Memory) segmentFor(segmentIndex int64) (*Segment, error) {
	if segmentIndex >= 0 {
		if segmentIndex >= int64(len(memory.Segments)) {
			return nil, fmt.Errorf("%w: index %d (have %d)", ErrUnallocatedSegment, segmentIndex, len(memory.Segments))
		}
		return memory.Segments[segmentIndex], nil
	}
	tempIndex := -segmentIndex - 1
	if tempIndex >= int64(len(memory.TemporarySegments)) {
		return nil, fmt.Errorf("%w: temporary index %d (have %d)", ErrUnallocatedSegment, segmentIndex, len(memory.TemporarySegments))
	}
	return memory.TemporarySegments[tempIndex], nil
}

// Write inserts value at address, dereferencing any relocation rule
// first, and enforcing write-once.
func (memory *Memory) Write(address MemoryAddress, value *MemoryValue) error {
	resolved := memory.resolve(&address)
	segment, err := memory.segmentFor(resolved.SegmentIndex)
	if err != nil {
		return err
	}
	if err := segment.Write(resolved.Offset, value); err != nil {
		var inconsistent *InconsistentMemoryError
		if ok := asInconsistent(err, &inconsistent); ok {
			inconsistent.Addr = resolved
			return inconsistent
		}
		return err
	}
	return nil
}

func (memory *Memory) WriteToAddress(address *MemoryAddress, value *MemoryValue) error {
	return memory.Write(*address, value)
}

func asInconsistent(err error, target **InconsistentMemoryError) bool {
	if e, ok := err.(*InconsistentMemoryError); ok {
		*target = e
		return true
	}
	return false
}

// ReadFromAddress reads the value at address, dereferencing relocation
// rules. Builtin auto-deduction is the VM's responsibility (see
// VirtualMachine.deduceBuiltinCell), not performed here.
func (memory *Memory) ReadFromAddress(address *MemoryAddress) (MemoryValue, error) {
	resolved := memory.resolve(address)
	segment, err := memory.segmentFor(resolved.SegmentIndex)
	if err != nil {
		return UnknownValue, err
	}
	return segment.Read(resolved.Offset)
}

// PeekFromAddress reads the value at address without triggering
// builtin auto-deduction.
func (memory *Memory) PeekFromAddress(address *MemoryAddress) (MemoryValue, error) {
	resolved := memory.resolve(address)
	segment, err := memory.segmentFor(resolved.SegmentIndex)
	if err != nil {
		return UnknownValue, err
	}
	return segment.Peek(resolved.Offset), nil
}

// GetIntegerFromAddress reads a felt at address, failing if the cell
// is unwritten or holds an address instead.
func (memory *Memory) GetIntegerFromAddress(address *MemoryAddress) (MemoryValue, error) {
	mv, err := memory.ReadFromAddress(address)
	if err != nil {
		return UnknownValue, err
	}
	if !mv.IsFelt() {
		return UnknownValue, fmt.Errorf("%w: expected felt at %s, got %s", ErrAddressNotRelocatable, address.String(), mv.String())
	}
	return mv, nil
}

// GetRelocatableFromAddress reads an address at address, failing if
// the cell is unwritten or holds a felt instead.
func (memory *Memory) GetRelocatableFromAddress(address *MemoryAddress) (MemoryAddress, error) {
	mv, err := memory.ReadFromAddress(address)
	if err != nil {
		return UnknownAddress, err
	}
	addr, err := mv.ToMemoryAddress()
	if err != nil {
		return UnknownAddress, fmt.Errorf("%w: %s", ErrAddressNotRelocatable, err)
	}
	return *addr, nil
}

// GetRange returns n consecutive values starting at address, allowing
// holes (unwritten cells come back as the zero MemoryValue).
func (memory *Memory) GetRange(address MemoryAddress, n uint64) ([]MemoryValue, error) {
	values := make([]MemoryValue, n)
	for i := uint64(0); i < n; i++ {
		addr := address.AddOffset(i)
		mv, err := memory.PeekFromAddress(&addr)
		if err != nil {
			return nil, err
		}
		values[i] = mv
	}
	return values, nil
}

// GetContinuousRange is like GetRange but fails on the first hole.
func (memory *Memory) GetContinuousRange(address MemoryAddress, n uint64) ([]MemoryValue, error) {
	values, err := memory.GetRange(address, n)
	if err != nil {
		return nil, err
	}
	for i, mv := range values {
		if !mv.Known() {
			return nil, fmt.Errorf("%w: at offset %d from %s", ErrGetRangeMemoryGap, i, address.String())
		}
	}
	return values, nil
}

// GetSegmentUsedSize returns the effective size (Len()) of a segment,
// used by builtins to compute how many instances have been used.
func (memory *Memory) GetSegmentUsedSize(segmentIndex int64) (uint64, error) {
	segment, err := memory.segmentFor(segmentIndex)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingSegmentUsedSizes, err)
	}
	return segment.Len(), nil
}
