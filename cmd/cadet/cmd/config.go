package cmd

import (
	"github.com/spf13/cobra"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage the repository configuration",
	Long:  `The namespace for managing the .cadet.yaml repository configuration`,
}

func init() {
	rootCmd.AddCommand(configCmd)
}
