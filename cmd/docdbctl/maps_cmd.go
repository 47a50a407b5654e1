package main

import (
	"sort"

	"github.com/spf13/cobra"
)

var mapsCmd = &cobra.Command{
	Use:   "maps",
	Short: "list every backend map (collection primary/secondary/spatial maps and raw maps)",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		tx, err := store.Begin(false)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		names := tx.Maps()
		sort.Strings(names)
		for _, name := range names {
			cmd.Println(name)
		}
		return nil
	},
}

var delmapCmd = &cobra.Command{
	Use:   "delmap [name]",
	Short: "delete one backend map by its exact name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteMap(args[0]); err != nil {
			return err
		}
		cmd.Println("deleted", args[0])
		return nil
	},
}
