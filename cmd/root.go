// Package cmd implements the forgectl command-line interface.
package cmd

import "github.com/spf13/cobra"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "forgectl manages the content-addressed container registry",
	Long:  `forgectl starts the registry server and drives administrative operations against it: issuing tokens, triggering syncs, and managing repositories.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a registry.toml config file")
}
