package main

import (
	"fmt"
	"os"

	"github.com/mlbrnm/incidentgpt/internal/cli"
	"github.com/mlbrnm/incidentgpt/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "opsassist",
	Short:         "Tracks incidents and monitoring problems and drafts solutions for them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cli.SetupCLI(rootCmd, config.New())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
