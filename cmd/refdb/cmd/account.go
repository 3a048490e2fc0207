// Copyright © 2018 One Concern

package cmd

import (
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/spf13/cobra"
)

var accounts = entityCommands{class: model.Accounts}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Commands to manage accounts",
	Long: `Commands to manage accounts.

An account is identified by a positive number. It has a name, an email, an inactive flag and
external ids (scheme:value), each of which belongs to at most one account.`,
}

var accountCreateCmd = &cobra.Command{
	Use:     "create <id>",
	Short:   "Create an account",
	Example: `% refdb account create 1000042 --name "Jane Doe" --add-external-id username:jane`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		accounts.create(cmd, model.AccountKey(args[0]))
	},
}

func init() {
	addAccountFlags(accountCreateCmd)

	update := accounts.updateCmd()
	addAccountFlags(update)
	addAccountRemovalFlags(update)

	accountCmd.AddCommand(accountCreateCmd, update, accounts.getCmd(), accounts.logCmd(), accounts.deleteCmd(), accounts.listCmd())
	rootCmd.AddCommand(accountCmd)
}
