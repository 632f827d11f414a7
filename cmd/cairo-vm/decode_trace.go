package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raefko/cairo-vm-go/pkg/runners/zero"
)

func newDecodeTraceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode-trace [tracefile]",
		Short: "prints the {pc, ap, fp} triples of an encoded execution trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decodeTrace(args[0])
		},
	}
	return cmd
}

func decodeTrace(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading trace file: %w", err)
	}
	for i, entry := range zero.DecodeTrace(content) {
		fmt.Printf("%d: pc=%d ap=%d fp=%d\n", i, entry.Pc, entry.Ap, entry.Fp)
	}
	return nil
}
