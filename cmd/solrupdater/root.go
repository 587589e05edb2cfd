package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "solrupdater",
	Short: "solrupdater projects bibliographic records into a Solr index",
	Long: `solrupdater streams normalized records from a document store into a
Solr-compatible search index, folding deduplication groups into merged
records along the way.`,
}

// Execute runs the root command, translating a returned error into the
// process exit code (spec.md §6: 0 success, 1 interrupted/partial, 2
// fatal error).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "solrupdater:", err)
		os.Exit(exitCodeFor(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to config.yaml")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(countValuesCmd)
	rootCmd.AddCommand(checkIndexedCmd)
}

func initConfig() {
	viper.SetEnvPrefix("SOLRUPDATER")
	viper.AutomaticEnv()
	if v := viper.GetString("config"); v != "" {
		cfgFile = v
	}
}
