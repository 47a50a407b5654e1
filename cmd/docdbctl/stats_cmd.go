package main

import (
	"github.com/spf13/cobra"

	"github.com/kvdoc/docdb"
)

var statsCmd = &cobra.Command{
	Use:   "stats [map]",
	Short: "report key count and page usage for a backend map",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return store.View(func(tx *docdb.Tx) error {
			m, err := tx.RawMap(args[0])
			if err != nil {
				return err
			}
			st := m.Stats()
			cmd.Printf("keys:          %d\n", st.KeyN)
			cmd.Printf("leaf inuse:    %d\n", st.LeafInuse)
			cmd.Printf("leaf alloc:    %d\n", st.LeafAlloc)
			cmd.Printf("branch alloc:  %d\n", st.BranchAlloc)
			cmd.Printf("total alloc:   %d\n", st.TotalAlloc())
			return nil
		})
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "dump every docdb_* counter/histogram in Prometheus exposition format",
	RunE: func(cmd *cobra.Command, args []string) error {
		docdb.WriteMetrics(cmd.OutOrStdout())
		return nil
	},
}
