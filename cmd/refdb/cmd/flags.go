// Copyright © 2018 One Concern

package cmd

import (
	"log"

	"github.com/oneconcern/refdb/pkg/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type flagsT struct {
	root struct {
		output string
	}
	entity struct {
		ID               string
		Name             string
		Description      string
		Owner            string
		Email            string
		Inactive         bool
		AddMembers       []string
		RemoveMembers    []string
		AddSubgroups     []string
		RemoveSubgroups  []string
		AddExternalIDs   []string
		RemoveExternalID []string
	}
	history struct {
		limit int
	}
	journal struct {
		from string
		max  int
	}
	config struct {
		file string
	}
}

var refdbFlags = flagsT{}

const (
	flagName             = "name"
	flagDescription      = "description"
	flagOwner            = "owner"
	flagEmail            = "email"
	flagInactive         = "inactive"
	flagAddMember        = "add-member"
	flagRemoveMember     = "remove-member"
	flagAddSubgroup      = "add-subgroup"
	flagRemoveSubgroup   = "remove-subgroup"
	flagAddExternalID    = "add-external-id"
	flagRemoveExternalID = "remove-external-id"
)

func bindFlag(cmd *cobra.Command, key, name string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		log.Fatalln(err)
	}
}

func addRepositoryFlag(cmd *cobra.Command) {
	const repository = "repository"
	cmd.PersistentFlags().String(repository, "", "The name of the repository, reported in change events")
	bindFlag(cmd, "repository", repository)
}

func addLogLevelFlag(cmd *cobra.Command) {
	const loglevel = "loglevel"
	cmd.PersistentFlags().String(loglevel, "", "The logging level: none, debug, info, warn or error")
	bindFlag(cmd, "loglevel", loglevel)
}

func addActorFlags(cmd *cobra.Command) {
	const (
		actorName  = "actor-name"
		actorEmail = "actor-email"
	)
	cmd.PersistentFlags().String(actorName, "", "The name of the author of changes")
	cmd.PersistentFlags().String(actorEmail, "", "The email of the author of changes")
	bindFlag(cmd, "actor.name", actorName)
	bindFlag(cmd, "actor.email", actorEmail)
}

func addOutputFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&refdbFlags.root.output, "output", "o", outputTable, "The output format: table, yaml or json")
}

func addIDFlag(cmd *cobra.Command, usage string) string {
	const id = "id"
	cmd.Flags().StringVar(&refdbFlags.entity.ID, id, "", usage)
	return id
}

func addGroupFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&refdbFlags.entity.Name, flagName, "", "The name of the group, unique among groups. An empty value unsets it")
	cmd.Flags().StringVar(&refdbFlags.entity.Description, flagDescription, "", "The description of the group. An empty value unsets it")
	cmd.Flags().StringVar(&refdbFlags.entity.Owner, flagOwner, "", "The id of the group owning this group. An empty value unsets it")
	cmd.Flags().StringSliceVar(&refdbFlags.entity.AddMembers, flagAddMember, nil, "Account ids to add as members")
	cmd.Flags().StringSliceVar(&refdbFlags.entity.AddSubgroups, flagAddSubgroup, nil, "Group ids to add as subgroups")
}

func addGroupRemovalFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&refdbFlags.entity.RemoveMembers, flagRemoveMember, nil, "Account ids to remove from members")
	cmd.Flags().StringSliceVar(&refdbFlags.entity.RemoveSubgroups, flagRemoveSubgroup, nil, "Group ids to remove from subgroups")
}

func addAccountFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&refdbFlags.entity.Name, flagName, "", "The full name of the account. An empty value unsets it")
	cmd.Flags().StringVar(&refdbFlags.entity.Email, flagEmail, "", "The email of the account. An empty value unsets it")
	cmd.Flags().BoolVar(&refdbFlags.entity.Inactive, flagInactive, false, "Deactivates the account")
	cmd.Flags().StringSliceVar(&refdbFlags.entity.AddExternalIDs, flagAddExternalID, nil, "External ids (scheme:value) to add")
}

func addAccountRemovalFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&refdbFlags.entity.RemoveExternalID, flagRemoveExternalID, nil, "External ids (scheme:value) to remove")
}

func addLimitFlag(cmd *cobra.Command) {
	cmd.Flags().IntVar(&refdbFlags.history.limit, "limit", 0, "The maximum number of revisions to display. 0 displays all revisions")
}

func addJournalFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&refdbFlags.journal.from, "from", "", "List events after this token")
	cmd.Flags().IntVar(&refdbFlags.journal.max, "max", 100, "The maximum number of events to list")
}

func addConfigFileFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&refdbFlags.config.file, "file", "refdb.yaml", "The file to write the configuration to. \"-\" writes to stdout")
}

// deltaFromFlags builds a delta from the flags set on the command line
func deltaFromFlags(cmd *cobra.Command) model.Delta {
	var delta model.Delta
	flags := cmd.Flags()
	f := refdbFlags.entity

	stringFlag := func(name, value string) *string {
		if !flags.Changed(name) {
			return nil
		}
		if value == "" {
			return model.Unset()
		}
		return model.SetString(value)
	}
	delta.Name = stringFlag(flagName, f.Name)
	delta.Description = stringFlag(flagDescription, f.Description)
	delta.Owner = stringFlag(flagOwner, f.Owner)
	delta.Email = stringFlag(flagEmail, f.Email)
	if flags.Changed(flagInactive) {
		delta.Inactive = model.SetBool(f.Inactive)
	}

	delta.Members = listModification(f.AddMembers, f.RemoveMembers)
	delta.Subgroups = listModification(f.AddSubgroups, f.RemoveSubgroups)
	delta.ExternalIDs = listModification(f.AddExternalIDs, f.RemoveExternalID)
	return delta
}

func listModification(add, remove []string) model.ListModification {
	switch {
	case len(add) == 0 && len(remove) == 0:
		return nil
	case len(remove) == 0:
		return model.AddTo(add...)
	case len(add) == 0:
		return model.RemoveFrom(remove...)
	default:
		return model.Compose(model.RemoveFrom(remove...), model.AddTo(add...))
	}
}
