package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scriptbox",
	Short: "Secure execution sandbox for untrusted JavaScript snippets",
	Long: `Scriptbox runs untrusted JavaScript snippets behind three cooperating
safety layers: static analysis, a restricted execution environment, and a
preemptive timeout guard. It serves executions over the Model Context
Protocol and can also run single snippets locally.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
