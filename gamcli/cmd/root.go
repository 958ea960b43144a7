// Package cmd provides the command-line interface for the graph memory
// toolkit.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "gam",
	Short: "Tools for running and inspecting graph memory engines.",
	Long: `The gam CLI runs synthetic sequences through a graph memory engine ` +
		`(demo) and inspects recorded step traces (report). Defaults can be ` +
		`placed in a .env file (GAM_MONITOR_PORT, GAM_TRACE_DB).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A missing .env file is fine; flags and built-in defaults apply.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
