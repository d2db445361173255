package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scribe",
	Short: "Scribe - a collaborative document sync server",
	Long:  `Scribe reconciles concurrent document edits from connected clients and fans out the result so every participant converges on the same state.`,
}

func Execute() error {
	return rootCmd.Execute()
}
