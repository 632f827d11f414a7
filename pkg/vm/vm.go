package vm

import (
	"fmt"
	"math/big"

	"github.com/raefko/cairo-vm-go/pkg/safemath"
	"github.com/raefko/cairo-vm-go/pkg/vm/builtins"
	mem "github.com/raefko/cairo-vm-go/pkg/vm/memory"
)

const (
	ProgramSegment int64 = iota
	ExecutionSegment
)

// Required by the VM to run hints.
//
// HintRunner is defined as an external component of the VM so any user
// could define its own, allowing the use of custom hints
type HintRunner interface {
	RunHint(vm *VirtualMachine) error
}

// ScopeManager is the small surface the VM needs from whatever scope
// stack a HintRunner keeps: only its current depth, checked once at
// end_run.
type ScopeManager interface {
	Depth() int
}

// Represents the current execution context of the vm
type Context struct {
	Pc mem.MemoryAddress
	Fp uint64
	Ap uint64
}

func (ctx *Context) String() string {
	return fmt.Sprintf(
		"Context {pc: %d:%d, fp: %d, ap: %d}",
		ctx.Pc.SegmentIndex,
		ctx.Pc.Offset,
		ctx.Fp,
		ctx.Ap,
	)
}

func (ctx *Context) AddressAp() mem.MemoryAddress {
	return mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: ctx.Ap}
}

func (ctx *Context) AddressFp() mem.MemoryAddress {
	return mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: ctx.Fp}
}

func (ctx *Context) AddressPc() mem.MemoryAddress {
	return mem.MemoryAddress{SegmentIndex: ctx.Pc.SegmentIndex, Offset: ctx.Pc.Offset}
}

// relocates pc, ap and fp to be their real address value
// that is, pc + 1, ap + executionSegmentOffset, fp + executionSegmentOffset
func (ctx *Context) Relocate(executionSegmentOffset uint64) Trace {
	return Trace{
		Pc: ctx.Pc.Offset + 1,
		Ap: ctx.Ap + executionSegmentOffset,
		Fp: ctx.Fp + executionSegmentOffset,
	}
}

type Trace struct {
	Pc uint64
	Fp uint64
	Ap uint64
}

// VirtualMachineConfig carries the knobs a caller sets once, before
// the run starts.
type VirtualMachineConfig struct {
	// If true, the vm records a trace entry on every step, which ExecutionTrace returns relocated
	ProofMode bool
}

type VirtualMachine struct {
	Context Context
	Memory  *mem.Memory
	Step    uint64
	Trace   []Context

	// Builtins is consulted, in order, whenever operand resolution
	// misses a cell (spec.md §4.3 steps 3/4, §4.4): the first builtin
	// whose Base() owns the missing address's segment gets to deduce
	// it. Only one builtin ever owns a given segment.
	Builtins []builtins.BuiltinRunner

	// AccessedAddresses is every relocatable read or written by a
	// step, in order, duplicates included (spec.md §9 "Accessed-address
	// tracking" — the set is for external provers and must not be
	// deduplicated prematurely).
	AccessedAddresses []mem.MemoryAddress

	// ErrorMessageAttributes are [start_pc, end_pc] spans with a
	// human-readable message; a step error at a pc within a span is
	// wrapped with that message (spec.md §7, §9).
	ErrorMessageAttributes []ErrorMessageAttribute

	config VirtualMachineConfig
	// instructions cache
	instructions map[uint64]*Instruction
}

// NewVirtualMachine creates a VM over the given memory using a
// specified config, builtin set, and error-message attributes (spec.md
// §6.2 "new(prime, trace_enabled, error_attributes)": the prime is
// implicit in fp.Element, so it is not a parameter here).
func NewVirtualMachine(
	initialContext Context,
	memory *mem.Memory,
	config VirtualMachineConfig,
	builtinRunners []builtins.BuiltinRunner,
	errorMessageAttributes []ErrorMessageAttribute,
) (*VirtualMachine, error) {
	var trace []Context
	if config.ProofMode {
		trace = make([]Context, 0)
	}

	return &VirtualMachine{
		Context:                initialContext,
		Memory:                 memory,
		Trace:                  trace,
		Builtins:               builtinRunners,
		ErrorMessageAttributes: errorMessageAttributes,
		config:                 config,
		instructions:           make(map[uint64]*Instruction),
	}, nil
}

// RunStep executes one VM step (spec.md §4.2): runs any hints
// registered at the current pc, decodes the instruction there, resolves
// operands, applies opcode assertions, updates the registers, and
// advances the step counter.
func (vm *VirtualMachine) RunStep(hintRunner HintRunner) error {
	if err := hintRunner.RunHint(vm); err != nil {
		return vm.wrapStepError(fmt.Errorf("running hint: %w", err))
	}

	instruction, err := vm.fetchInstruction()
	if err != nil {
		return vm.wrapStepError(err)
	}

	if err := vm.RunInstruction(instruction); err != nil {
		return vm.wrapStepError(fmt.Errorf("running instruction: %w", err))
	}

	vm.Step++
	return nil
}

func (vm *VirtualMachine) wrapStepError(err error) error {
	return wrapWithAttributes(err, vm.Context.Pc.Offset, vm.ErrorMessageAttributes)
}

// fetchInstruction decodes (and caches) the instruction word at the
// current pc.
func (vm *VirtualMachine) fetchInstruction() (*Instruction, error) {
	if instruction, ok := vm.instructions[vm.Context.Pc.Offset]; ok {
		return instruction, nil
	}

	memoryValue, err := vm.Memory.ReadFromAddress(&vm.Context.Pc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstructionEncoding, err)
	}

	bytecodeInstruction, err := memoryValue.ToFieldElement()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInstructionEncoding, err)
	}

	instruction, err := DecodeInstruction(bytecodeInstruction)
	if err != nil {
		return nil, fmt.Errorf("decoding instruction: %w", err)
	}
	vm.instructions[vm.Context.Pc.Offset] = instruction
	return instruction, nil
}

func (vm *VirtualMachine) RunInstruction(instruction *Instruction) error {
	dstAddr, err := vm.getDstAddr(instruction)
	if err != nil {
		return fmt.Errorf("dst cell: %w", err)
	}

	op0Addr, err := vm.getOp0Addr(instruction)
	if err != nil {
		return fmt.Errorf("op0 cell: %w", err)
	}

	op1Addr, err := vm.getOp1Addr(instruction, &op0Addr)
	if err != nil {
		return fmt.Errorf("op1 cell: %w", err)
	}

	dstValue, op0Value, op1Value, res, err := vm.computeOperands(instruction, &dstAddr, &op0Addr, &op1Addr)
	if err != nil {
		return err
	}

	if err := vm.opcodeAssertions(instruction, &dstAddr, &op0Addr, &dstValue, &res); err != nil {
		return fmt.Errorf("opcode assertions: %w", err)
	}

	if vm.config.ProofMode {
		vm.Trace = append(vm.Trace, vm.Context)
	}
	vm.AccessedAddresses = append(vm.AccessedAddresses, dstAddr, op0Addr, op1Addr, vm.Context.Pc)

	nextFp, err := vm.updateFp(instruction, &dstValue)
	if err != nil {
		return fmt.Errorf("fp update: %w", err)
	}

	nextAp, err := vm.updateAp(instruction, &res)
	if err != nil {
		return fmt.Errorf("ap update: %w", err)
	}

	nextPc, err := vm.updatePc(instruction, &dstValue, &op1Value, &res)
	if err != nil {
		return fmt.Errorf("pc update: %w", err)
	}

	vm.Context.Fp = nextFp
	vm.Context.Ap = nextAp
	vm.Context.Pc = nextPc

	return nil
}

// EndRun concludes the run (spec.md §6.2 "end_run"): every builtin's
// written cells must agree with what the builtin would deduce, and the
// hint scope stack must have unwound back to its single outer scope.
func (vm *VirtualMachine) EndRun(scopes ScopeManager) error {
	if err := vm.VerifyAutoDeductions(); err != nil {
		return err
	}
	if scopes.Depth() != 1 {
		return fmt.Errorf("%w: depth %d", ErrScopeStackDepth, scopes.Depth())
	}
	return nil
}

// VerifyAutoDeductions is the auto-deduction consistency check
// (spec.md §4.5): for every written cell of every builtin's segment,
// recomputing deduce_memory_cell must either agree with what is stored
// or decline to decide.
func (vm *VirtualMachine) VerifyAutoDeductions() error {
	for _, builtin := range vm.Builtins {
		usedSize, err := vm.Memory.GetSegmentUsedSize(builtin.Base())
		if err != nil {
			return fmt.Errorf("verify auto deductions: %w", err)
		}
		for offset := uint64(0); offset < usedSize; offset++ {
			addr := mem.MemoryAddress{SegmentIndex: builtin.Base(), Offset: offset}
			actual, err := vm.Memory.PeekFromAddress(&addr)
			if err != nil {
				return fmt.Errorf("verify auto deductions: %w", err)
			}
			if !actual.Known() {
				continue
			}
			deduced, err := builtin.DeduceMemoryCell(addr, vm.Memory)
			if err != nil {
				return fmt.Errorf("verify auto deductions: %w", err)
			}
			if deduced != nil && !deduced.Equal(&actual) {
				return fmt.Errorf(
					"%w: %s at %s: deduced %s, stored %s",
					builtins.ErrInconsistentAutoDeduction, builtin.Name(), addr.String(), deduced.String(), actual.String(),
				)
			}
		}
	}
	return nil
}

// ExecutionTrace returns the recorded trace, relocated, or an error when proof mode is off
func (vm *VirtualMachine) ExecutionTrace() ([]Trace, error) {
	if !vm.config.ProofMode {
		return nil, fmt.Errorf("proof mode is off")
	}

	return vm.relocateTrace(), nil
}

func (vm *VirtualMachine) getDstAddr(instruction *Instruction) (mem.MemoryAddress, error) {
	var dstRegister uint64
	if instruction.DstRegister == Ap {
		dstRegister = vm.Context.Ap
	} else {
		dstRegister = vm.Context.Fp
	}

	addr, isOverflow := safemath.SafeOffset(dstRegister, instruction.OffDest)
	if isOverflow {
		return mem.UnknownAddress, fmt.Errorf("offset overflow: %d + %d", dstRegister, instruction.OffDest)
	}
	return mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: addr}, nil
}

func (vm *VirtualMachine) getOp0Addr(instruction *Instruction) (mem.MemoryAddress, error) {
	var op0Register uint64
	if instruction.Op0Register == Ap {
		op0Register = vm.Context.Ap
	} else {
		op0Register = vm.Context.Fp
	}

	addr, isOverflow := safemath.SafeOffset(op0Register, instruction.OffOp0)
	if isOverflow {
		return mem.UnknownAddress, fmt.Errorf("offset overflow: %d + %d", op0Register, instruction.OffOp0)
	}
	return mem.MemoryAddress{SegmentIndex: ExecutionSegment, Offset: addr}, nil
}

func (vm *VirtualMachine) getOp1Addr(instruction *Instruction, op0Addr *mem.MemoryAddress) (mem.MemoryAddress, error) {
	var op1Address mem.MemoryAddress
	switch instruction.Op1Source {
	case Op0:
		// op0 must already hold an address: this mode is only valid
		// once op0 is known, never deduced (spec.md §4.3).
		op0Value, err := vm.Memory.PeekFromAddress(op0Addr)
		if err != nil {
			return mem.UnknownAddress, fmt.Errorf("cannot read op0: %w", err)
		}
		if !op0Value.Known() {
			return mem.UnknownAddress, fmt.Errorf("%w: op0 not yet known", ErrFailedToComputeOperands)
		}

		op0Address, err := op0Value.ToMemoryAddress()
		if err != nil {
			return mem.UnknownAddress, fmt.Errorf("%w: op0 is not an address", ErrPureValue)
		}
		op1Address = mem.MemoryAddress{SegmentIndex: op0Address.SegmentIndex, Offset: op0Address.Offset}
	case Imm:
		op1Address = vm.Context.AddressPc()
	case FpPlusOffOp1:
		op1Address = vm.Context.AddressFp()
	case ApPlusOffOp1:
		op1Address = vm.Context.AddressAp()
	}

	addr, isOverflow := safemath.SafeOffset(op1Address.Offset, instruction.OffOp1)
	if isOverflow {
		return mem.UnknownAddress, fmt.Errorf("offset overflow: %d + %d", op1Address.Offset, instruction.OffOp1)
	}
	op1Address.Offset = addr
	return op1Address, nil
}

// computeOperands is the operand resolver (spec.md §4.3): it fills in
// dst, op0, op1 and res, trying builtin auto-deduction before the
// instruction-shape deduction tables, and fails only once every avenue
// is exhausted.
func (vm *VirtualMachine) computeOperands(
	instruction *Instruction, dstAddr, op0Addr, op1Addr *mem.MemoryAddress,
) (dstValue, op0Value, op1Value, res mem.MemoryValue, err error) {
	dstOpt, err := vm.Memory.PeekFromAddress(dstAddr)
	if err != nil {
		return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("peek dst: %w", err)
	}
	op0Opt, err := vm.Memory.PeekFromAddress(op0Addr)
	if err != nil {
		return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("peek op0: %w", err)
	}
	op1Opt, err := vm.Memory.PeekFromAddress(op1Addr)
	if err != nil {
		return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("peek op1: %w", err)
	}

	op0Value = op0Opt
	if !op0Value.Known() {
		deduced, derr := vm.deduceBuiltinCell(op0Addr)
		if derr != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("op0 builtin deduction: %w", derr)
		}
		if deduced != nil {
			op0Value = *deduced
		} else {
			var deducedRes mem.MemoryValue
			op0Value, deducedRes, err = vm.deduceOp0(instruction, &dstOpt, &op1Opt)
			if err != nil {
				return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("deduce op0: %w", err)
			}
			if deducedRes.Known() {
				res = deducedRes
			}
		}
		if !op0Value.Known() {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, ErrFailedToComputeOperands
		}
		if err := vm.Memory.WriteToAddress(op0Addr, &op0Value); err != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("write op0: %w", err)
		}
	}

	op1Value = op1Opt
	if !op1Value.Known() {
		deduced, derr := vm.deduceBuiltinCell(op1Addr)
		if derr != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("op1 builtin deduction: %w", derr)
		}
		if deduced != nil {
			op1Value = *deduced
		} else {
			var deducedRes mem.MemoryValue
			op1Value, deducedRes, err = vm.deduceOp1(instruction, &dstOpt, &op0Value)
			if err != nil {
				return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("deduce op1: %w", err)
			}
			if !res.Known() && deducedRes.Known() {
				res = deducedRes
			}
		}
		if !op1Value.Known() {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, ErrFailedToComputeOperands
		}
		if err := vm.Memory.WriteToAddress(op1Addr, &op1Value); err != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("write op1: %w", err)
		}
	}

	if !res.Known() {
		res, err = vm.computeRes(instruction, &op0Value, &op1Value)
		if err != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("compute res: %w", err)
		}
	}

	dstValue = dstOpt
	if !dstValue.Known() {
		dstValue = vm.deduceDst(instruction, &res)
		if !dstValue.Known() {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, ErrNoDst
		}
		if err := vm.Memory.WriteToAddress(dstAddr, &dstValue); err != nil {
			return mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, mem.UnknownValue, fmt.Errorf("write dst: %w", err)
		}
	}

	return dstValue, op0Value, op1Value, res, nil
}

// deduceBuiltinCell is the VM's auto-deduction entry point (spec.md
// §4.4): it asks whichever builtin owns addr's segment to deduce it.
// Addresses outside every builtin's segment simply return (nil, nil).
func (vm *VirtualMachine) deduceBuiltinCell(addr *mem.MemoryAddress) (*mem.MemoryValue, error) {
	for _, builtin := range vm.Builtins {
		if builtin.Base() == addr.SegmentIndex {
			return builtin.DeduceMemoryCell(*addr, vm.Memory)
		}
	}
	return nil, nil
}

// GetRangeCheckBuiltin returns the program's range-check builtin, if
// it was included in the run (spec.md §6.2 "get_range_check_builtin").
func (vm *VirtualMachine) GetRangeCheckBuiltin() (*builtins.RangeCheckRunner, bool) {
	for _, builtin := range vm.Builtins {
		if rc, ok := builtin.(*builtins.RangeCheckRunner); ok {
			return rc, true
		}
	}
	return nil, false
}

// GetSignatureBuiltin returns the program's ECDSA builtin, if it was
// included in the run (spec.md §6.2 "get_signature_builtin").
func (vm *VirtualMachine) GetSignatureBuiltin() (*builtins.SignatureRunner, bool) {
	for _, builtin := range vm.Builtins {
		if sig, ok := builtin.(*builtins.SignatureRunner); ok {
			return sig, true
		}
	}
	return nil, false
}

// deduceOp0 is the first deduction table of spec.md §4.3.
func (vm *VirtualMachine) deduceOp0(
	instruction *Instruction, dstOpt, op1Opt *mem.MemoryValue,
) (op0, res mem.MemoryValue, err error) {
	switch instruction.Opcode {
	case Call:
		return mem.MemoryValueFromSegmentAndOffset(vm.Context.Pc.SegmentIndex, vm.Context.Pc.Offset+instruction.Size()),
			mem.UnknownValue, nil
	case AssertEq:
		switch instruction.Res {
		case AddOperands:
			if !dstOpt.Known() || !op1Opt.Known() {
				return mem.UnknownValue, mem.UnknownValue, nil
			}
			op0 = mem.EmptyMemoryValueAs(dstOpt.IsAddress())
			if err := op0.Sub(dstOpt, op1Opt); err != nil {
				return mem.UnknownValue, mem.UnknownValue, err
			}
			return op0, *dstOpt, nil
		case MulOperands:
			if !dstOpt.Known() || !op1Opt.Known() || !op1Opt.IsFelt() || op1Opt.IsZero() {
				return mem.UnknownValue, mem.UnknownValue, nil
			}
			op0 = mem.EmptyMemoryValueAsFelt()
			if err := op0.Div(dstOpt, op1Opt); err != nil {
				return mem.UnknownValue, mem.UnknownValue, err
			}
			return op0, *dstOpt, nil
		}
	}
	return mem.UnknownValue, mem.UnknownValue, nil
}

// deduceOp1 is the second deduction table of spec.md §4.3.
func (vm *VirtualMachine) deduceOp1(
	instruction *Instruction, dstOpt, op0Value *mem.MemoryValue,
) (op1, res mem.MemoryValue, err error) {
	if instruction.Opcode != AssertEq {
		return mem.UnknownValue, mem.UnknownValue, nil
	}
	switch instruction.Res {
	case Op1:
		if !dstOpt.Known() {
			return mem.UnknownValue, mem.UnknownValue, nil
		}
		return *dstOpt, *dstOpt, nil
	case AddOperands:
		if !dstOpt.Known() || !op0Value.Known() {
			return mem.UnknownValue, mem.UnknownValue, nil
		}
		op1 = mem.EmptyMemoryValueAs(dstOpt.IsAddress())
		if err := op1.Sub(dstOpt, op0Value); err != nil {
			return mem.UnknownValue, mem.UnknownValue, err
		}
		return op1, *dstOpt, nil
	case MulOperands:
		if !dstOpt.Known() || !op0Value.Known() || !op0Value.IsFelt() || op0Value.IsZero() {
			return mem.UnknownValue, mem.UnknownValue, nil
		}
		op1 = mem.EmptyMemoryValueAsFelt()
		if err := op1.Div(dstOpt, op0Value); err != nil {
			return mem.UnknownValue, mem.UnknownValue, err
		}
		return op1, *dstOpt, nil
	}
	return mem.UnknownValue, mem.UnknownValue, nil
}

// deduceDst fills in an absent dst cell (spec.md §4.3 step 6).
func (vm *VirtualMachine) deduceDst(instruction *Instruction, res *mem.MemoryValue) mem.MemoryValue {
	switch instruction.Opcode {
	case AssertEq:
		if res.Known() {
			return *res
		}
	case Call:
		fpAddr := vm.Context.AddressFp()
		return mem.MemoryValueFromMemoryAddress(&fpAddr)
	}
	return mem.UnknownValue
}

func (vm *VirtualMachine) computeRes(
	instruction *Instruction, op0Value *mem.MemoryValue, op1Value *mem.MemoryValue,
) (mem.MemoryValue, error) {
	switch instruction.Res {
	case Unconstrained:
		return mem.UnknownValue, nil
	case Op1:
		return *op1Value, nil
	default:
		res := mem.EmptyMemoryValueAs(op0Value.IsAddress() || op1Value.IsAddress())
		var err error
		switch instruction.Res {
		case AddOperands:
			err = res.Add(op0Value, op1Value)
		case MulOperands:
			err = res.Mul(op0Value, op1Value)
		default:
			return mem.UnknownValue, fmt.Errorf("invalid res flag value: %d", instruction.Res)
		}
		return res, err
	}
}

// opcodeAssertions applies spec.md §4.2.1.
func (vm *VirtualMachine) opcodeAssertions(
	instruction *Instruction,
	dstAddr *mem.MemoryAddress,
	op0Addr *mem.MemoryAddress,
	dstValue *mem.MemoryValue,
	res *mem.MemoryValue,
) error {
	switch instruction.Opcode {
	case Call:
		fpAddr := vm.Context.AddressFp()
		fpMv := mem.MemoryValueFromMemoryAddress(&fpAddr)
		if err := vm.Memory.WriteToAddress(dstAddr, &fpMv); err != nil {
			return fmt.Errorf("%w: %v", ErrCantWriteReturnFp, err)
		}

		retPcMv := mem.MemoryValueFromSegmentAndOffset(
			vm.Context.Pc.SegmentIndex,
			vm.Context.Pc.Offset+instruction.Size(),
		)
		if err := vm.Memory.WriteToAddress(op0Addr, &retPcMv); err != nil {
			return fmt.Errorf("%w: %v", ErrCantWriteReturnPc, err)
		}
	case AssertEq:
		if !res.Known() {
			return ErrUnconstrainedResAssertEq
		}
		if dstValue.Known() && dstValue.IsFelt() && res.IsFelt() && !dstValue.Equal(res) {
			return fmt.Errorf("%w: dst=%s res=%s", ErrDiffAssertValues, dstValue.String(), res.String())
		}
		if err := vm.Memory.WriteToAddress(dstAddr, res); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VirtualMachine) updateFp(instruction *Instruction, dstValue *mem.MemoryValue) (uint64, error) {
	switch instruction.FpUpdate {
	case SameFp:
		return vm.Context.Fp, nil
	case DstFp:
		if dstValue.IsFelt() {
			return vm.feltToUsize(dstValue)
		}
		addr, err := dstValue.ToMemoryAddress()
		if err != nil {
			return 0, fmt.Errorf("fp from dst: %w", err)
		}
		return addr.Offset, nil
	case APPlus2:
		return vm.Context.Ap + 2, nil
	}
	return 0, fmt.Errorf("unknown FpUpdate flag: %d", instruction.FpUpdate)
}

func (vm *VirtualMachine) updateAp(instruction *Instruction, res *mem.MemoryValue) (uint64, error) {
	switch instruction.ApUpdate {
	case SameAp:
		return vm.Context.Ap, nil
	case Add1:
		return vm.Context.Ap + 1, nil
	case Add2:
		return vm.Context.Ap + 2, nil
	case AddImm:
		if !res.Known() {
			return 0, ErrUnconstrainedResAdd
		}
		apAddr := vm.Context.AddressAp()
		apValue := mem.MemoryValueFromMemoryAddress(&apAddr)
		var newAp mem.MemoryValue
		if err := newAp.Add(&apValue, res); err != nil {
			return 0, err
		}
		addr, err := newAp.ToMemoryAddress()
		if err != nil {
			return 0, err
		}
		return addr.Offset, nil
	}
	return 0, fmt.Errorf("unknown ApUpdate flag: %d", instruction.ApUpdate)
}

func (vm *VirtualMachine) updatePc(
	instruction *Instruction,
	dstValue *mem.MemoryValue,
	op1Value *mem.MemoryValue,
	res *mem.MemoryValue,
) (mem.MemoryAddress, error) {
	switch instruction.PcUpdate {
	case NextInstr:
		return mem.MemoryAddress{
			SegmentIndex: vm.Context.Pc.SegmentIndex,
			Offset:       vm.Context.Pc.Offset + instruction.Size(),
		}, nil
	case Jump:
		if !res.Known() {
			return mem.UnknownAddress, ErrUnconstrainedResJump
		}
		addr, err := res.ToMemoryAddress()
		if err != nil {
			return mem.UnknownAddress, fmt.Errorf("%w: absolute jump needs an address", ErrPureValue)
		}
		return *addr, nil
	case JumpRel:
		if !res.Known() {
			return mem.UnknownAddress, ErrUnconstrainedResJumpRel
		}
		if res.IsAddress() {
			return mem.UnknownAddress, fmt.Errorf("%w: relative jump needs a felt", ErrPureValue)
		}
		pcMv := mem.MemoryValueFromMemoryAddress(&vm.Context.Pc)
		var newPcMv mem.MemoryValue
		if err := newPcMv.Add(&pcMv, res); err != nil {
			return mem.UnknownAddress, err
		}
		addr, err := newPcMv.ToMemoryAddress()
		if err != nil {
			return mem.UnknownAddress, err
		}
		return *addr, nil
	case Jnz:
		if dstValue.IsAddress() {
			return mem.UnknownAddress, fmt.Errorf("%w: jnz dst must be a felt", ErrPureValue)
		}
		dstFelt, err := dstValue.ToFieldElement()
		if err != nil {
			return mem.UnknownAddress, err
		}
		if dstFelt.IsZero() {
			return mem.MemoryAddress{
				SegmentIndex: vm.Context.Pc.SegmentIndex,
				Offset:       vm.Context.Pc.Offset + instruction.Size(),
			}, nil
		}
		pcMv := mem.MemoryValueFromMemoryAddress(&vm.Context.Pc)
		var newPcMv mem.MemoryValue
		if err := newPcMv.Add(&pcMv, op1Value); err != nil {
			return mem.UnknownAddress, err
		}
		addr, err := newPcMv.ToMemoryAddress()
		if err != nil {
			return mem.UnknownAddress, err
		}
		return *addr, nil
	}
	return mem.UnknownAddress, fmt.Errorf("unknown PcUpdate flag: %d", instruction.PcUpdate)
}

// feltToUsize converts a felt to a uint64, failing per spec.md §9's
// open-question resolution: values that do not fit in 63 bits cannot
// plausibly be a cell offset, so they are rejected as BigintToUsize
// rather than silently truncated.
func (vm *VirtualMachine) feltToUsize(mv *mem.MemoryValue) (uint64, error) {
	felt, err := mv.ToFieldElement()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBigintToUsize, err)
	}
	asBig := felt.BigInt(new(big.Int))
	if asBig.BitLen() > 63 {
		return 0, fmt.Errorf("%w: %s does not fit in 63 bits", ErrBigintToUsize, asBig.String())
	}
	return asBig.Uint64(), nil
}

func (vm *VirtualMachine) relocateTrace() []Trace {
	// one is added, because prover expect that the first element to be on
	// indexed on 1 instead of 0
	relocatedTrace := make([]Trace, len(vm.Trace))
	totalBytecode, err := vm.Memory.GetSegmentUsedSize(ProgramSegment)
	if err != nil {
		totalBytecode = 0
	}
	totalBytecode++
	for i := range vm.Trace {
		relocatedTrace[i] = vm.Trace[i].Relocate(totalBytecode)
	}
	return relocatedTrace
}
