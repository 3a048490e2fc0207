// Copyright © 2018 One Concern

package cmd

import (
	"context"

	"github.com/oneconcern/refdb/pkg/model"
	"github.com/spf13/cobra"
)

// entityCommands builds the commands shared by all entity classes
type entityCommands struct {
	class model.Class
}

func (c entityCommands) key(id string) model.Key {
	return model.Key{Class: c.class, ID: id}
}

func (c entityCommands) create(cmd *cobra.Command, key model.Key) {
	ctx := context.Background()
	e := openEngine(ctx)
	defer func() { _ = e.Close() }()

	delta := deltaFromFlags(cmd)
	entity, err := e.Create(ctx, key, model.Static(delta))
	if err != nil {
		wrapFatalln("create "+c.class.Singular(), err)
		return
	}
	printOrFatal(cmd, entityView{Entity: *entity})
}

func (c entityCommands) updateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <id>",
		Short: "Update a " + c.class.Singular(),
		Long: `Update a ` + c.class.Singular() + ` with the values passed as flags. Flags not passed leave properties untouched.

Concurrent updates are retried on fresh reads of the ` + c.class.Singular() + `: no update is lost.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			e := openEngine(ctx)
			defer func() { _ = e.Close() }()

			delta := deltaFromFlags(cmd)
			entity, err := e.Update(ctx, c.key(args[0]), model.Static(delta))
			if err != nil {
				wrapFatalln("update "+c.class.Singular(), err)
				return
			}
			printOrFatal(cmd, entityView{Entity: *entity})
		},
	}
}

func (c entityCommands) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get the current state of a " + c.class.Singular(),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			e := openEngine(ctx)
			defer func() { _ = e.Close() }()

			entity, err := e.Get(ctx, c.key(args[0]))
			if err != nil {
				wrapFatalln("get "+c.class.Singular(), err)
				return
			}
			printOrFatal(cmd, entityView{Entity: *entity})
		},
	}
}

func (c entityCommands) logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Display the history of a " + c.class.Singular(),
		Long:  "Display the revisions of a " + c.class.Singular() + ", latest first, with their author and message.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			e := openEngine(ctx)
			defer func() { _ = e.Close() }()

			history, err := e.History(ctx, c.key(args[0]), refdbFlags.history.limit)
			if err != nil {
				wrapFatalln("history of "+c.class.Singular(), err)
				return
			}
			printOrFatal(cmd, historyView(history))
		},
	}
	addLimitFlag(cmd)
	return cmd
}

func (c entityCommands) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a " + c.class.Singular(),
		Long:  "Delete a " + c.class.Singular() + " and release its index keys. Its history remains in the object store.",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			e := openEngine(ctx)
			defer func() { _ = e.Close() }()

			key := c.key(args[0])
			if err := e.Delete(ctx, key); err != nil {
				wrapFatalln("delete "+c.class.Singular(), err)
				return
			}
			cmd.Printf("deleted %s\n", key)
		},
	}
}

func (c entityCommands) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List all " + string(c.class),
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			e := openEngine(ctx)
			defer func() { _ = e.Close() }()

			keys, err := e.List(ctx, c.class)
			if err != nil {
				wrapFatalln("list "+string(c.class), err)
				return
			}
			printOrFatal(cmd, keysView(keys))
		},
	}
}

func printOrFatal(cmd *cobra.Command, data interface{}) {
	if err := printData(cmd.OutOrStdout(), data); err != nil {
		wrapFatalln("print", err)
	}
}
