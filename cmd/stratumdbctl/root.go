// Package main is stratumdbctl, the CLI front end spec.md §9's
// "session workers" collaborator is driven from: init/recover/
// checkpoint the on-disk engine, or run SQL interactively or from a
// file.
//
// Grounded on leftmike-maho.v1/cmd/maho.go's root-command shape
// (persistent flags, logrus setup in PersistentPreRunE), trimmed to
// the single --data-dir/--log-level flag pair this engine needs (no
// HCL config file or network listener, unlike maho's PostgreSQL wire
// server).
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:               "stratumdbctl",
		Short:             "stratumdb command-line interface",
		Long:              "stratumdbctl drives the stratumdb storage engine: initialize a data directory, force crash recovery, checkpoint, or run SQL.",
		PersistentPreRunE: rootPreRun,
	}

	dataDir  = "stratumdb-data"
	logLevel = "info"
)

func init() {
	log.SetFormatter(&log.TextFormatter{DisableLevelTruncation: true})

	fs := rootCmd.PersistentFlags()
	fs.StringVar(&dataDir, "data-dir", dataDir, "`directory` holding the catalog, WAL, and table/index files")
	fs.StringVar(&logLevel, "log-level", logLevel, "log level: trace, debug, info, warn, error, fatal, or panic")
}

func rootPreRun(cmd *cobra.Command, args []string) error {
	ll, err := log.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("stratumdbctl: %w", err)
	}
	log.SetLevel(ll)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("stratumdbctl: command failed")
		os.Exit(1)
	}
}
