package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iati-pipeline/core/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Ingest IATI activity files into the clean lake and search index",
	Long: `pipeline runs the stages that take publisher-submitted IATI XML
from the Bulk Data Service through to a queryable search index:
refresh, download, validate, clean, flatten, lakify and solrize.

Most stages have a one-shot command and a *loop variant that repeats it
on a fixed interval, exposing /healthz and /metrics while it runs;
copy_valid and clean_invalid share cleanloop, and reload and
safety_check have no loop variant.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(
		refreshCmd,
		refreshLoopCmd,
		reloadCmd,
		safetyCheckCmd,
		validateCmd,
		validateLoopCmd,
		copyValidCmd,
		cleanInvalidCmd,
		cleanLoopCmd,
		flattenCmd,
		flattenLoopCmd,
		lakifyCmd,
		lakifyLoopCmd,
		solrizeCmd,
		solrizeLoopCmd,
	)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
