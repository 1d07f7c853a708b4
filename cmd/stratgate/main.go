package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logLevel string

// rootCmd is the base command for the stratgate CLI
var rootCmd = &cobra.Command{
	Use:   "stratgate",
	Short: "Parameter search validation and promotion gates",
	Long: `stratgate runs randomized strategy parameter searches behind a
three-stage promotion pipeline: top-N screening with guardrails, walk-forward
stability confirmation, and a final sealed held-out evaluation. Every attempt
is recorded in a write-once manifest that can be replayed bit for bit.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := zerolog.ParseLevel(logLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
