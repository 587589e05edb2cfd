package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/indexcore/solrupdater/internal/coordinator"
)

var (
	flagFrom          string
	flagSource        string
	flagSingle        string
	flagNoCommit      bool
	flagDelete        bool
	flagCompare       string
	flagDumpPrefix    string
	flagDatePerServer bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Stream records and dedup groups into the configured Solr index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close()

		from, err := parseFromFlag(flagFrom)
		if err != nil {
			return err
		}
		sel, err := parseSourceFlag(flagSource)
		if err != nil {
			return err
		}

		opts := coordinator.Options{
			FromDate:      from,
			Sources:       sel.resolve(a.cfg),
			SingleID:      flagSingle,
			NoCommit:      flagNoCommit,
			Delete:        flagDelete,
			Compare:       flagCompare,
			DumpPrefix:    flagDumpPrefix,
			DatePerServer: flagDatePerServer,
		}
		return a.coord.UpdateRecords(ctx, opts)
	},
}

func init() {
	indexCmd.Flags().StringVar(&flagFrom, "from", "", "only records updated at or after this RFC3339 timestamp")
	indexCmd.Flags().StringVar(&flagSource, "source", "", "comma-separated source ids; prefix - to exclude, -/regex/ to exclude by pattern")
	indexCmd.Flags().StringVar(&flagSingle, "single", "", "index a single record id")
	indexCmd.Flags().BoolVar(&flagNoCommit, "no-commit", false, "skip interval and final commits")
	indexCmd.Flags().BoolVar(&flagDelete, "delete", false, "delete-source mode (requires a single --source) or mark matching members deleted within dedup groups")
	indexCmd.Flags().StringVar(&flagCompare, "compare", "", "compare built documents against the live Solr record instead of indexing (path or - for stdout)")
	indexCmd.Flags().StringVar(&flagDumpPrefix, "dump-prefix", "", "write batches to numbered dump files under this prefix instead of posting to Solr")
	indexCmd.Flags().BoolVar(&flagDatePerServer, "date-per-server", false, "track the last-indexed checkpoint per update URL")
}
