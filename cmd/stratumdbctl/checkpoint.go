package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shivang/stratumdb/storageengine"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Flush dirty pages and sync every open file",
	RunE:  checkpointRun,
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
}

func checkpointRun(cmd *cobra.Command, args []string) error {
	eng, err := storageengine.Open(storageengine.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Checkpoint(); err != nil {
		return err
	}
	log.WithField("data_dir", dataDir).Info("stratumdbctl: checkpoint complete")
	return nil
}
