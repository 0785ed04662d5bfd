package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shivang/stratumdb/storageengine"
)

// recoverCmd forces crash recovery: Open already runs analyze/redo/
// undo before returning, per spec.md §9's init order, so this command
// is just a standalone way to trigger it without also starting a
// session.
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Run crash recovery against the data directory and exit",
	RunE:  recoverRun,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func recoverRun(cmd *cobra.Command, args []string) error {
	eng, err := storageengine.Open(storageengine.Config{DataDir: dataDir})
	if err != nil {
		return err
	}
	log.WithField("data_dir", dataDir).Info("stratumdbctl: recovery complete")
	return eng.Close()
}
