// Copyright © 2018 One Concern

package cmd

import (
	"os"
	"path/filepath"

	"github.com/oneconcern/refdb/pkg/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to manage the configuration",
	Long: `Commands to manage the refdb configuration.

The configuration holds the locations of the object store and of the ref database, and the settings
of retries, caches and change listeners.`,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a config file with default settings",
	Example: `% refdb config generate --file $HOME/.refdb/refdb.yaml
% refdb config generate --file - > refdb.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		content, err := config.Default().Marshal()
		if err != nil {
			wrapFatalln("serialize config to yaml", err)
			return
		}
		target := refdbFlags.config.file
		if target == "-" {
			_, _ = cmd.OutOrStdout().Write(content)
			return
		}
		if dir := filepath.Dir(target); dir != "" {
			if err = os.MkdirAll(dir, 0700); err != nil {
				wrapFatalln("create config directory", err)
				return
			}
		}
		if err = os.WriteFile(target, content, 0600); err != nil {
			wrapFatalln("write config file", err)
			return
		}
		cmd.Printf("config written to %s\n", target)
	},
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the config used",
	Long:  "Print the config used by the invocation of the refdb command, with environment overrides applied.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		content, err := cfg.Marshal()
		if err != nil {
			wrapFatalln("serialize config to yaml", err)
			return
		}
		_, _ = cmd.OutOrStdout().Write(content)
	},
}

func init() {
	addConfigFileFlag(configGenerateCmd)
	configCmd.AddCommand(configGenerateCmd, configDumpCmd)
	rootCmd.AddCommand(configCmd)
}
