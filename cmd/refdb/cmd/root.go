// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/oneconcern/refdb/pkg/config"
	"github.com/oneconcern/refdb/pkg/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "refdb",
	Short: "refdb keeps accounts and groups in a versioned repository",
	Long: `refdb keeps accounts and groups in a versioned repository.

Every entity owns a ref, and every change is committed as a new revision: the history of an entity is
its audit log. Changes to several entities, and to the secondary indexes they touch, are committed
atomically.

The repository is configured by refdb.yaml, looked up in ., $HOME/.refdb and /etc/refdb, or by the file
pointed to by $REFDB_CONFIG. REFDB_* environment variables override the config file.
`,
	SilenceUsage: true,
}

var cfg *config.Config

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)

	addRepositoryFlag(rootCmd)
	addLogLevelFlag(rootCmd)
	addActorFlags(rootCmd)
	addOutputFlag(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		wrapFatalln("load config", err)
		return
	}
}

// openEngine builds the engine from the loaded configuration. Callers close it.
func openEngine(ctx context.Context) *engine.Engine {
	e, err := engine.New(ctx, *cfg)
	if err != nil {
		wrapFatalln("open repository", err)
		return nil
	}
	return e
}
