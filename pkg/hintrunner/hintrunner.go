// Package hintrunner is the collaborator named (but not specified) by
// spec.md §6.1: "Hint processor: execute_hint(vm_mut, scope_mut,
// hint_data, constants)". The VM only depends on the small
// vm.HintRunner/vm.ScopeManager interfaces (see pkg/vm/vm.go); this
// package is one concrete implementation of them. Hint language
// semantics, identifier/scope resolution inside a hint body, and the
// program loader that would populate the hint table are explicitly
// out of scope (spec.md §1) — Hinter.Execute is left to be supplied by
// callers (e.g. a cairo-zero hint interpreter), not implemented here.
package hintrunner

import (
	f "github.com/consensys/gnark-crypto/ecc/stark-curve/fp"
	"github.com/raefko/cairo-vm-go/pkg/vm"
)

// Hinter is one hint attached to a program counter.
type Hinter interface {
	Execute(vm *vm.VirtualMachine, scopes *ScopeManager, constants map[string]*f.Element) error
	String() string
}

// ScopeManager is a stack of named-variable scopes a hint may read
// from or push/pop. Hint bodies may introduce new Python-like scopes;
// the VM only cares that the stack returns to depth 1 by the end of
// the run (spec.md §6.2 "end_run").
type ScopeManager struct {
	scopes []map[string]any
}

func NewScopeManager() *ScopeManager {
	return &ScopeManager{scopes: []map[string]any{make(map[string]any)}}
}

func (s *ScopeManager) Depth() int {
	return len(s.scopes)
}

func (s *ScopeManager) EnterScope(vars map[string]any) {
	if vars == nil {
		vars = make(map[string]any)
	}
	s.scopes = append(s.scopes, vars)
}

func (s *ScopeManager) ExitScope() error {
	if len(s.scopes) <= 1 {
		return errTooFewScopes
	}
	s.scopes = s.scopes[:len(s.scopes)-1]
	return nil
}

func (s *ScopeManager) Get(name string) (any, bool) {
	top := s.scopes[len(s.scopes)-1]
	v, ok := top[name]
	return v, ok
}

func (s *ScopeManager) Set(name string, value any) {
	top := s.scopes[len(s.scopes)-1]
	top[name] = value
}

var errTooFewScopes = scopeError("cannot exit the outermost scope")

type scopeError string

func (e scopeError) Error() string { return string(e) }

// HintRunner is the default vm.HintRunner implementation: a table
// mapping a program-counter offset to the hints registered there, run
// in order each time the VM's pc reaches that offset.
type HintRunner struct {
	hints     map[uint64][]Hinter
	scopes    *ScopeManager
	constants map[string]*f.Element
}

func NewHintRunner(hints map[uint64][]Hinter, constants map[string]*f.Element) *HintRunner {
	return &HintRunner{
		hints:     hints,
		scopes:    NewScopeManager(),
		constants: constants,
	}
}

func (hr *HintRunner) Scopes() *ScopeManager {
	return hr.scopes
}

// RunHint implements vm.HintRunner: it executes, in registration
// order, every hint attached to the VM's current pc offset.
func (hr *HintRunner) RunHint(virtualMachine *vm.VirtualMachine) error {
	hints, ok := hr.hints[virtualMachine.Context.Pc.Offset]
	if !ok {
		return nil
	}
	for _, hint := range hints {
		if err := hint.Execute(virtualMachine, hr.scopes, hr.constants); err != nil {
			return err
		}
	}
	return nil
}
