package cmd

import (
	"context"
	"path/filepath"

	"github.com/cadops/cadet/pkg/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var configWrite bool

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a sample .cadet.yaml with the defaults filled in",
	Long: `Prints a sample repository configuration with every field set to its
documented default. With --write the file is created at the repository
root instead, refusing to overwrite an existing one.`,
	Run: func(cmd *cobra.Command, args []string) {
		if !configWrite {
			logStdOut(config.Example())
			return
		}
		ctx := context.Background()
		env, err := newRunEnv(ctx, true)
		if err != nil {
			wrapFatalln("resolve repository", err)
			return
		}
		target := filepath.Join(env.root, config.ConfigFileName)
		if _, err := env.fs.Stat(target); err == nil {
			wrapFatalWithCodef(1, "%s already exists", target)
			return
		}
		if err := afero.WriteFile(env.fs, target, []byte(config.Example()), 0644); err != nil {
			wrapFatalln("write configuration", err)
			return
		}
		infoLogger.Printf("wrote %s", target)
	},
}

func init() {
	configGenerateCmd.Flags().BoolVar(&configWrite, "write", false,
		"Write the sample configuration to the repository root instead of printing it")
	configCmd.AddCommand(configGenerateCmd)
}
