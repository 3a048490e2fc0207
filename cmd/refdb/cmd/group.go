// Copyright © 2018 One Concern

package cmd

import (
	"github.com/oneconcern/refdb/pkg/model"
	"github.com/spf13/cobra"
)

var groups = entityCommands{class: model.Groups}

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Commands to manage groups",
	Long: `Commands to manage groups.

A group has a name, unique among groups, a description, an owner group, members (account ids)
and subgroups (group ids).`,
}

var groupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a group",
	Long:  "Create a group. Without --id, the group is given a new random id.",
	Example: `% refdb group create --name platform --add-member 1000042 --add-member 1000043
Key:         groups/0b4c2f3a-7d1e-4c1f-9e0d-3e6f1b7a9c21
...`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		groups.create(cmd, model.GroupKey(refdbFlags.entity.ID))
	},
}

func init() {
	addIDFlag(groupCreateCmd, "The id (UUID) of the group. Defaults to a new random id")
	addGroupFlags(groupCreateCmd)

	update := groups.updateCmd()
	addGroupFlags(update)
	addGroupRemovalFlags(update)

	groupCmd.AddCommand(groupCreateCmd, update, groups.getCmd(), groups.logCmd(), groups.deleteCmd(), groups.listCmd())
	rootCmd.AddCommand(groupCmd)
}
