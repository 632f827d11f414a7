package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	root := &cobra.Command{
		Use:   "cairo-vm",
		Short: "runs and inspects compiled cairo-zero programs",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newDecodeTraceCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("cairo-vm failed")
		os.Exit(1)
	}
}
