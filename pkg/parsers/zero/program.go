// Package zero decodes the compiled-program JSON produced by the
// cairo-zero compiler (spec.md §6.1 "Program loader"). Only the fields
// a VM run needs are parsed: bytecode, label/function program counters,
// and the builtin list; scope/variable resolution inside hints stays
// out of scope (spec.md §1).
package zero

import (
	"encoding/json"
	"fmt"
	"strings"

	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
)

// Program is the VM-facing view of a compiled cairo-zero program.
type Program struct {
	Bytecode    []*f.Element
	Labels      map[string]uint64
	Entrypoints map[string]uint64
	Builtins    []string
	Hints       map[uint64][]HintJSON
}

// HintJSON is the raw hint body attached to one pc, left unparsed: the
// hint language itself is a collaborator contract, not part of this
// loader (spec.md §1).
type HintJSON struct {
	Code             string   `json:"code"`
	AccessibleScopes []string `json:"accessible_scopes"`
}

type compiledProgramJSON struct {
	Data        []string              `json:"data"`
	Hints       map[string][]HintJSON `json:"hints"`
	Identifiers map[string]identifier `json:"identifiers"`
	Builtins    []string              `json:"builtins"`
	MainScope   string                `json:"main_scope"`
}

type identifier struct {
	Type string `json:"type"`
	PC   *int64 `json:"pc"`
}

// ProgramFromJSON parses a compiled cairo-zero program, following the
// upstream compiler's output schema (`data`, `hints`, `identifiers`,
// `builtins`, `main_scope`).
func ProgramFromJSON(content []byte) (*Program, error) {
	var raw compiledProgramJSON
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("decoding compiled program: %w", err)
	}

	bytecode := make([]*f.Element, len(raw.Data))
	for i, word := range raw.Data {
		var felt f.Element
		trimmed := strings.TrimPrefix(word, "0x")
		if _, err := felt.SetString("0x" + trimmed); err != nil {
			return nil, fmt.Errorf("decoding bytecode word %d (%q): %w", i, word, err)
		}
		v := felt
		bytecode[i] = &v
	}

	labels := make(map[string]uint64)
	entrypoints := make(map[string]uint64)
	hints := make(map[uint64][]HintJSON)

	for fullName, id := range raw.Identifiers {
		if id.PC == nil {
			continue
		}
		shortName := shortIdentifierName(fullName)
		switch id.Type {
		case "label":
			labels[shortName] = uint64(*id.PC)
		case "function":
			entrypoints[shortName] = uint64(*id.PC)
		}
	}

	for pcStr, hs := range raw.Hints {
		var pc uint64
		if _, err := fmt.Sscanf(pcStr, "%d", &pc); err != nil {
			return nil, fmt.Errorf("decoding hint pc %q: %w", pcStr, err)
		}
		hints[pc] = hs
	}

	return &Program{
		Bytecode:    bytecode,
		Labels:      labels,
		Entrypoints: entrypoints,
		Builtins:    raw.Builtins,
		Hints:       hints,
	}, nil
}

// shortIdentifierName returns the last dotted component of a fully
// scoped identifier name, e.g. "__main__.__start__" -> "__start__".
func shortIdentifierName(fullName string) string {
	parts := strings.Split(fullName, ".")
	return parts[len(parts)-1]
}
