// Copyright © 2018 One Concern

package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Commands to read the change journal",
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List change events",
	Long: `List change events, oldest first: which refs moved, when and by whom.

Listings are paginated: pass the token printed as "next" with --from to resume.`,
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		e := openEngine(ctx)
		defer func() { _ = e.Close() }()

		if e.Journal() == nil {
			wrapFatalln("the journal is disabled", nil)
			return
		}
		events, next, err := e.Journal().List(ctx, refdbFlags.journal.from, refdbFlags.journal.max)
		if err != nil {
			wrapFatalln("list journal", err)
			return
		}
		printOrFatal(cmd, journalView{Events: events, Next: next})
	},
}

func init() {
	addJournalFlags(journalListCmd)
	journalCmd.AddCommand(journalListCmd)
	rootCmd.AddCommand(journalCmd)
}
