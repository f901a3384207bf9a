package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/recinq/quill/cmd/quill/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "quill",
	Short: "Quill runbook execution engine",
	Long: `
  ╔═╗ ╦ ╦╦╦  ╦
  ║═╬╗║ ║║║  ║
  ╚═╝╚╚═╝╩╩═╝╩═╝
  Runbook Execution Engine

  Quill drives declarative runbooks against EVM-family chains: it
  evaluates the construct graph, supervises signing through external
  wallets, and replays prior runs from snapshots.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.SetVersionTemplate("quill version {{.Version}}\n")

	rootCmd.AddCommand(commands.NewRunCmd())
	rootCmd.AddCommand(commands.NewCheckCmd())
	rootCmd.AddCommand(commands.NewListCmd())
	rootCmd.AddCommand(commands.NewSnapshotCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
