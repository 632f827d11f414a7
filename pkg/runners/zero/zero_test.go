package zero

import (
	"testing"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	zeroparser "github.com/raefko/cairo-vm-go/pkg/parsers/zero"
	VM "github.com/raefko/cairo-vm-go/pkg/vm"
	"github.com/raefko/cairo-vm-go/pkg/vm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTraceRoundtrip(t *testing.T) {
	trace := []VM.Trace{
		{Ap: 10, Fp: 10, Pc: 0},
		{Ap: 12, Fp: 10, Pc: 3},
	}

	content := EncodeTrace(trace)
	decoded := DecodeTrace(content)
	assert.Equal(t, trace, decoded)
}

func TestEncodeDecodeMemoryRoundtrip(t *testing.T) {
	var five, nine f.Element
	five.SetUint64(5)
	nine.SetUint64(9)

	relocated := []*f.Element{nil, &five, nil, &nine}
	content := EncodeMemory(relocated)
	decoded := DecodeMemory(content)

	require.Len(t, decoded, 4)
	assert.Nil(t, decoded[0])
	assert.True(t, decoded[1].Equal(&five))
	assert.Nil(t, decoded[2])
	assert.True(t, decoded[3].Equal(&nine))
}

func TestDecodeEmptyMemoryIsNil(t *testing.T) {
	assert.Nil(t, DecodeMemory(nil))
}

func trivialProgram() *zeroparser.Program {
	var word f.Element
	word.SetUint64(0)
	return &zeroparser.Program{
		Bytecode:    []*f.Element{&word},
		Labels:      map[string]uint64{"__start__": 0, "__end__": 0},
		Entrypoints: map[string]uint64{"main": 0},
		Builtins:    nil,
		Hints:       map[uint64][]zeroparser.HintJSON{},
	}
}

func TestNewRunnerWithNoBuiltins(t *testing.T) {
	runner, err := NewRunner(trivialProgram(), false, 1000)
	require.NoError(t, err)
	assert.NotNil(t, runner.vm)
	assert.Empty(t, runner.vm.Builtins)
}

func TestNewRunnerAllocatesOneSegmentPerBuiltin(t *testing.T) {
	program := trivialProgram()
	program.Builtins = []string{"range_check", "bitwise"}

	runner, err := NewRunner(program, false, 1000)
	require.NoError(t, err)
	require.Len(t, runner.vm.Builtins, 2)
	assert.Equal(t, "range_check", runner.vm.Builtins[0].Name())
	assert.Equal(t, "bitwise", runner.vm.Builtins[1].Name())
	assert.NotEqual(t, runner.vm.Builtins[0].Base(), runner.vm.Builtins[1].Base(), "each builtin owns its own segment")
}

func TestNewRunnerRejectsUnknownBuiltin(t *testing.T) {
	program := trivialProgram()
	program.Builtins = []string{"not_a_real_builtin"}

	_, err := NewRunner(program, false, 1000)
	assert.Error(t, err)
}

func TestRunUntilPcRespectsMaxSteps(t *testing.T) {
	// "jmp rel 0": op1 is the immediate 0 at pc+1, so pc never moves.
	var jmpRel0, zeroWord f.Element
	jmpRel0.SetUint64(0x0104_8001_8000_8000)
	program := trivialProgram()
	program.Bytecode = []*f.Element{&jmpRel0, &zeroWord}
	runner, err := NewRunner(program, false, 2)
	require.NoError(t, err)
	// dst and op0 both resolve to ap+0; give that cell a value.
	cell := memory.MemoryValueFromUint[uint64](0)
	require.NoError(t, runner.writeExecution(0, &cell))

	// pc 500 is never reached by a program that jumps in place:
	// RunUntilPc must surface an error rather than loop forever.
	unreachable := memory.MemoryAddress{SegmentIndex: VM.ProgramSegment, Offset: 500}
	err = runner.RunUntilPc(&unreachable)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max step limit exceeded")
	assert.Equal(t, uint64(2), runner.vm.Step)
}
