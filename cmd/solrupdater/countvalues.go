package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	flagCountField  string
	flagCountSource string
)

var countValuesCmd = &cobra.Command{
	Use:   "count-values",
	Short: "Tally occurrences of a built field's values across matching records",
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagCountField == "" {
			return fmt.Errorf("count-values: --field is required")
		}
		ctx := context.Background()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		sel, err := parseSourceFlag(flagCountSource)
		if err != nil {
			return err
		}

		counts, err := a.coord.CountValues(ctx, flagCountField, sel.resolve(a.cfg))
		if err != nil {
			return err
		}

		values := make([]string, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool { return counts[values[i]] > counts[values[j]] })
		for _, v := range values {
			fmt.Printf("%d\t%s\n", counts[v], v)
		}
		return nil
	},
}

func init() {
	countValuesCmd.Flags().StringVar(&flagCountField, "field", "", "built document field to tally (required)")
	countValuesCmd.Flags().StringVar(&flagCountSource, "source", "", "comma-separated source ids; prefix - to exclude, -/regex/ to exclude by pattern")
}
