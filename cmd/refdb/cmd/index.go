// Copyright © 2018 One Concern

package cmd

import (
	"context"

	"github.com/oneconcern/refdb/pkg/model"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Commands to query secondary indexes",
}

var indexGetCmd = &cobra.Command{
	Use:   "get <index> <key>",
	Short: "Get the owner of an index key",
	Long: `Get the entity owning a key of a secondary index.

Indexes: "` + model.ExternalIDs.String() + `" maps external ids to accounts, "` + model.GroupNames.String() + `" maps names to groups.`,
	Example: `% refdb index get external-ids username:jane`,
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		name := model.IndexName(args[0])
		if name != model.ExternalIDs && name != model.GroupNames {
			wrapFatalln("unknown index "+args[0], nil)
			return
		}

		e := openEngine(ctx)
		defer func() { _ = e.Close() }()

		owner, err := e.LookupIndex(ctx, name, args[1])
		if err != nil {
			wrapFatalln("lookup index", err)
			return
		}
		printOrFatal(cmd, ownerView{Index: name.String(), Key: args[1], Owner: owner})
	},
}

func init() {
	indexCmd.AddCommand(indexGetCmd)
	rootCmd.AddCommand(indexCmd)
}
