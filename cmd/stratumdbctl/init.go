package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shivang/stratumdb/storageengine"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fresh data directory",
	RunE:  initRun,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initRun(cmd *cobra.Command, args []string) error {
	eng, err := storageengine.Open(storageengine.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	log.WithField("data_dir", dataDir).Info("stratumdbctl: data directory initialized")
	return eng.Close()
}
