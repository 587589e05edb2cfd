package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var checkIndexedCmd = &cobra.Command{
	Use:   "check-indexed",
	Short: "Scroll the live index and delete any document with no backing record",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		removed, err := a.coord.CheckIndexedRecords(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d orphaned document(s)\n", removed)
		return nil
	},
}
