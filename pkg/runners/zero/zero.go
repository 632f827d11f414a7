package zero

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/raefko/cairo-vm-go/pkg/hintrunner"
	zeroparser "github.com/raefko/cairo-vm-go/pkg/parsers/zero"
	"github.com/raefko/cairo-vm-go/pkg/safemath"
	VM "github.com/raefko/cairo-vm-go/pkg/vm"
	"github.com/raefko/cairo-vm-go/pkg/vm/builtins"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// defaultRatio is the steps-per-instance budget used when the compiled
// program does not pin one explicitly (real cairo-zero layouts specify
// this per builtin; the core VM in spec.md treats it as an opaque
// static parameter of each instance, §3.5).
const defaultRatio = 8

// builtinFactories lists every builtin this runner knows how to
// instantiate from a program's `builtins` list (spec.md §3 supplement
// note 6: "multiple builtin instance layouts behind one contract").
var builtinFactories = map[string]func() builtins.BuiltinRunner{
	"bitwise":     func() builtins.BuiltinRunner { return builtins.NewBitwiseRunner(defaultRatio) },
	"range_check": func() builtins.BuiltinRunner { return builtins.NewRangeCheckRunner(defaultRatio) },
	"pedersen":    func() builtins.BuiltinRunner { return builtins.NewPedersenRunner(defaultRatio) },
	"ec_op":       func() builtins.BuiltinRunner { return builtins.NewEcOpRunner(defaultRatio) },
	"ecdsa":       func() builtins.BuiltinRunner { return builtins.NewSignatureRunner(defaultRatio) },
	"keccak":      func() builtins.BuiltinRunner { return builtins.NewKeccakRunner(defaultRatio) },
}

type ZeroRunner struct {
	memoryManager *memory.MemoryManager
	// core components
	program    *zeroparser.Program
	vm         *VM.VirtualMachine
	hintrunner *hintrunner.HintRunner
	// config
	proofmode bool
	maxsteps  uint64
	// auxiliar
	runFinished bool
}

// NewRunner builds a Runner for a compiled cairo-zero program: it
// allocates the program and execution segments, one segment per
// builtin named in the program, and wires all builtins into the VM's
// auto-deduction list (spec.md §4.4).
func NewRunner(program *zeroparser.Program, proofmode bool, maxsteps uint64) (*ZeroRunner, error) {
	memoryManager := memory.CreateMemoryManager()
	if _, err := memoryManager.Memory.AllocateSegment(program.Bytecode); err != nil { // ProgramSegment
		return nil, err
	}
	memoryManager.Memory.AllocateEmptySegment() // ExecutionSegment

	builtinRunners := make([]builtins.BuiltinRunner, 0, len(program.Builtins))
	for _, name := range program.Builtins {
		factory, ok := builtinFactories[name]
		if !ok {
			return nil, fmt.Errorf("unknown builtin in program: %s", name)
		}
		runner := factory()
		segmentIndex := memoryManager.Memory.AllocateEmptySegment()
		runner.SetBase(segmentIndex)
		builtinRunners = append(builtinRunners, runner)
	}

	virtualMachine, err := VM.NewVirtualMachine(
		VM.Context{},
		memoryManager.Memory,
		VM.VirtualMachineConfig{ProofMode: proofmode},
		builtinRunners,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("runner error: %w", err)
	}

	hints := make(map[uint64][]hintrunner.Hinter)
	hr := hintrunner.NewHintRunner(hints, nil)

	return &ZeroRunner{
		memoryManager: memoryManager,
		program:       program,
		vm:            virtualMachine,
		hintrunner:    hr,
		proofmode:     proofmode,
		maxsteps:      maxsteps,
	}, nil
}

func (runner *ZeroRunner) Run() error {
	if runner.runFinished {
		return errors.New("cannot re-run using the same runner")
	}

	end, err := runner.InitializeMainEntrypoint()
	if err != nil {
		return fmt.Errorf("initializing main entry point: %w", err)
	}

	if err := runner.RunUntilPc(&end); err != nil {
		return err
	}

	if runner.proofmode {
		// proof mode require an extra instruction run
		if err := runner.RunFor(runner.vm.Step + 1); err != nil {
			return err
		}

		// proof mode also requires that the trace is a power of two
		pow2Steps := safemath.NextPowerOfTwo(runner.vm.Step)
		if err := runner.RunFor(pow2Steps); err != nil {
			return err
		}
	}

	runner.runFinished = true
	if err := runner.vm.EndRun(runner.hintrunner.Scopes()); err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

func (runner *ZeroRunner) InitializeMainEntrypoint() (memory.MemoryAddress, error) {
	if runner.proofmode {
		startPc, ok := runner.program.Labels["__start__"]
		if !ok {
			return memory.UnknownAddress, errors.New("start label not found. Try compiling with `--proof_mode`")
		}
		endPc, ok := runner.program.Labels["__end__"]
		if !ok {
			return memory.UnknownAddress, errors.New("end label not found. Try compiling with `--proof_mode`")
		}

		offset := runner.segments()[VM.ExecutionSegment].Len()

		programLen, err := runner.memory().GetSegmentUsedSize(VM.ProgramSegment)
		if err != nil {
			return memory.UnknownAddress, err
		}
		dummyFPValue := memory.MemoryValueFromSegmentAndOffset(VM.ProgramSegment, programLen+offset+2)
		if err := runner.writeExecution(offset, &dummyFPValue); err != nil {
			return memory.UnknownAddress, err
		}

		dummyPCValue := memory.MemoryValueFromUint[uint64](0)
		if err := runner.writeExecution(offset+1, &dummyPCValue); err != nil {
			return memory.UnknownAddress, err
		}

		runner.vm.Context.Pc = memory.MemoryAddress{SegmentIndex: VM.ProgramSegment, Offset: startPc}
		runner.vm.Context.Ap = offset + 2
		runner.vm.Context.Fp = runner.vm.Context.Ap
		return memory.MemoryAddress{SegmentIndex: VM.ProgramSegment, Offset: endPc}, nil
	}

	returnFpSegment := runner.memory().AllocateEmptySegment()
	returnFp := memory.MemoryValueFromSegmentAndOffset(returnFpSegment, 0)
	return runner.InitializeEntrypoint("main", nil, &returnFp)
}

func (runner *ZeroRunner) InitializeEntrypoint(
	funcName string, arguments []*f.Element, returnFp *memory.MemoryValue,
) (memory.MemoryAddress, error) {
	segmentIndex := runner.memory().AllocateEmptySegment()
	end := memory.MemoryAddress{SegmentIndex: segmentIndex, Offset: 0}

	for i := range arguments {
		v := memory.MemoryValueFromFieldElement(arguments[i])
		if err := runner.writeExecution(uint64(i), &v); err != nil {
			return memory.UnknownAddress, err
		}
	}
	offset := runner.segments()[VM.ExecutionSegment].Len()
	if err := runner.writeExecution(offset, returnFp); err != nil {
		return memory.UnknownAddress, err
	}
	endMV := memory.MemoryValueFromMemoryAddress(&end)
	if err := runner.writeExecution(offset+1, &endMV); err != nil {
		return memory.UnknownAddress, err
	}

	pc, ok := runner.program.Entrypoints[funcName]
	if !ok {
		return memory.UnknownAddress, fmt.Errorf("unknwon entrypoint: %s", funcName)
	}

	runner.vm.Context.Pc = memory.MemoryAddress{SegmentIndex: VM.ProgramSegment, Offset: pc}
	runner.vm.Context.Ap = offset + 2
	runner.vm.Context.Fp = runner.vm.Context.Ap

	return end, nil
}

func (runner *ZeroRunner) RunUntilPc(pc *memory.MemoryAddress) error {
	for !runner.vm.Context.Pc.Equal(pc) {
		if runner.steps() >= runner.maxsteps {
			return fmt.Errorf(
				"pc %s step %d: max step limit exceeded (%d)",
				runner.pc().String(),
				runner.steps(),
				runner.maxsteps,
			)
		}

		if err := runner.vm.RunStep(runner.hintrunner); err != nil {
			return fmt.Errorf("pc %s step %d: %w", runner.pc().String(), runner.steps(), err)
		}
	}
	return nil
}

func (runner *ZeroRunner) RunFor(steps uint64) error {
	for runner.steps() < steps {
		if runner.steps() >= runner.maxsteps {
			return fmt.Errorf(
				"pc %s step %d: max step limit exceeded (%d)",
				runner.pc().String(),
				runner.steps(),
				runner.maxsteps,
			)
		}

		if err := runner.vm.RunStep(runner.hintrunner); err != nil {
			return fmt.Errorf("pc %s step %d: %w", runner.pc().String(), runner.steps(), err)
		}
	}
	return nil
}

func (runner *ZeroRunner) BuildProof() ([]byte, []byte, error) {
	relocatedTrace, err := runner.vm.ExecutionTrace()
	if err != nil {
		return nil, nil, err
	}

	return EncodeTrace(relocatedTrace), EncodeMemory(runner.memoryManager.RelocateMemory()), nil
}

func (runner *ZeroRunner) writeExecution(offset uint64, value *memory.MemoryValue) error {
	addr := memory.MemoryAddress{SegmentIndex: VM.ExecutionSegment, Offset: offset}
	return runner.memory().WriteToAddress(&addr, value)
}

func (runner *ZeroRunner) memory() *memory.Memory {
	return runner.memoryManager.Memory
}

func (runner *ZeroRunner) segments() []*memory.Segment {
	return runner.memoryManager.Memory.Segments
}

func (runner *ZeroRunner) pc() memory.MemoryAddress {
	return runner.vm.Context.Pc
}

func (runner *ZeroRunner) steps() uint64 {
	return runner.vm.Step
}

const ctxSize = 3 * 8

func EncodeTrace(trace []VM.Trace) []byte {
	content := make([]byte, 0, len(trace)*ctxSize)
	for i := range trace {
		content = binary.LittleEndian.AppendUint64(content, trace[i].Ap)
		content = binary.LittleEndian.AppendUint64(content, trace[i].Fp)
		content = binary.LittleEndian.AppendUint64(content, trace[i].Pc)
	}
	return content
}

func DecodeTrace(content []byte) []VM.Trace {
	trace := make([]VM.Trace, 0, len(content)/ctxSize)
	for i := 0; i < len(content); i += ctxSize {
		trace = append(
			trace,
			VM.Trace{
				Ap: binary.LittleEndian.Uint64(content[i : i+8]),
				Fp: binary.LittleEndian.Uint64(content[i+8 : i+16]),
				Pc: binary.LittleEndian.Uint64(content[i+16 : i+24]),
			},
		)
	}
	return trace
}

const addrSize = 8
const feltSize = 32

// EncodeMemory encodes the relocated memory in (address, value) pairs,
// consecutively, skipping unwritten cells.
func EncodeMemory(relocated []*f.Element) []byte {
	nonNilElms := 0
	for i := range relocated {
		if relocated[i] != nil {
			nonNilElms++
		}
	}
	content := make([]byte, nonNilElms*(addrSize+feltSize))

	count := 0
	for i := range relocated {
		if relocated[i] == nil {
			continue
		}
		j := count * (addrSize + feltSize)
		binary.LittleEndian.PutUint64(content[j:j+addrSize], uint64(i))
		f.LittleEndian.PutElement(
			(*[32]byte)(content[j+addrSize:j+addrSize+feltSize]),
			*relocated[i],
		)
		count++
	}
	return content
}

func DecodeMemory(content []byte) []*f.Element {
	if len(content) == 0 {
		return nil
	}
	lastContentInd := len(content) - (addrSize + feltSize)
	lastMemIndex := binary.LittleEndian.Uint64(content[lastContentInd : lastContentInd+addrSize])

	relocated := make([]*f.Element, lastMemIndex+1)

	for i := 0; i < len(content); i += addrSize + feltSize {
		memIndex := binary.LittleEndian.Uint64(content[i : i+addrSize])
		felt, err := f.LittleEndian.Element((*[32]byte)(content[i+addrSize : i+addrSize+feltSize]))
		if err != nil {
			panic(err)
		}
		relocated[memIndex] = &felt
	}
	return relocated
}
