package zero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProgram = `{
	"data": ["0x480680017fff8000", "0x2a", "0x208b7fff7fff7ffe"],
	"hints": {
		"0": [{"code": "memory[ap] = 5", "accessible_scopes": ["__main__"]}]
	},
	"identifiers": {
		"__main__.main": {"type": "function", "pc": 0},
		"__main__.__start__": {"type": "label", "pc": 0},
		"__main__.__end__": {"type": "label", "pc": 2},
		"__main__.main.SIZEOF_LOCALS": {"type": "const", "pc": null}
	},
	"builtins": ["range_check", "bitwise"],
	"main_scope": "__main__"
}`

func TestProgramFromJSONDecodesBytecode(t *testing.T) {
	program, err := ProgramFromJSON([]byte(sampleProgram))
	require.NoError(t, err)
	require.Len(t, program.Bytecode, 3)
	assert.Equal(t, "42", program.Bytecode[1].Text(10))
}

func TestProgramFromJSONSplitsLabelsAndFunctions(t *testing.T) {
	program, err := ProgramFromJSON([]byte(sampleProgram))
	require.NoError(t, err)

	assert.Equal(t, uint64(0), program.Entrypoints["main"])
	assert.Equal(t, uint64(0), program.Labels["__start__"])
	assert.Equal(t, uint64(2), program.Labels["__end__"])
	_, hasConst := program.Labels["SIZEOF_LOCALS"]
	assert.False(t, hasConst, "identifiers without a pc are skipped")
}

func TestProgramFromJSONKeepsBuiltinsAndHints(t *testing.T) {
	program, err := ProgramFromJSON([]byte(sampleProgram))
	require.NoError(t, err)

	assert.Equal(t, []string{"range_check", "bitwise"}, program.Builtins)
	require.Contains(t, program.Hints, uint64(0))
	assert.Equal(t, "memory[ap] = 5", program.Hints[0][0].Code)
}

func TestProgramFromJSONRejectsMalformedInput(t *testing.T) {
	_, err := ProgramFromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestShortIdentifierName(t *testing.T) {
	assert.Equal(t, "__start__", shortIdentifierName("__main__.__start__"))
	assert.Equal(t, "main", shortIdentifierName("main"))
}
