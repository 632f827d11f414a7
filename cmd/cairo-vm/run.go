package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	zeroparser "github.com/raefko/cairo-vm-go/pkg/parsers/zero"
	"github.com/raefko/cairo-vm-go/pkg/runners/zero"
)

func newRunCmd() *cobra.Command {
	var (
		proofmode  bool
		tracefile  string
		memoryfile string
		maxsteps   uint64
	)

	cmd := &cobra.Command{
		Use:   "run [compiled.json]",
		Short: "executes a compiled cairo-zero program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(args[0], proofmode, tracefile, memoryfile, maxsteps)
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&proofmode, "proofmode", "p", false, "pad the execution trace to a power of two and emit proof artifacts")
	flags.StringVarP(&tracefile, "tracefile", "t", "", "where to write the encoded execution trace")
	flags.StringVarP(&memoryfile, "memoryfile", "m", "", "where to write the encoded relocated memory")
	flags.Uint64Var(&maxsteps, "maxsteps", 1_000_000, "abort the run after this many steps")
	flags.SortFlags = false

	return cmd
}

func runProgram(path string, proofmode bool, tracefile, memoryfile string, maxsteps uint64) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading program: %w", err)
	}

	program, err := zeroparser.ProgramFromJSON(content)
	if err != nil {
		return fmt.Errorf("parsing program: %w", err)
	}

	runner, err := zero.NewRunner(program, proofmode, maxsteps)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	if err := runner.Run(); err != nil {
		log.Error().Str("program", path).Err(err).Msg("run failed")
		return err
	}
	log.Info().Str("program", path).Msg("run finished")

	if !proofmode {
		return nil
	}

	trace, memory, err := runner.BuildProof()
	if err != nil {
		return fmt.Errorf("building proof: %w", err)
	}

	if tracefile != "" {
		if err := os.WriteFile(tracefile, trace, 0o644); err != nil {
			return fmt.Errorf("writing trace file: %w", err)
		}
	}
	if memoryfile != "" {
		if err := os.WriteFile(memoryfile, memory, 0o644); err != nil {
			return fmt.Errorf("writing memory file: %w", err)
		}
	}
	return nil
}
