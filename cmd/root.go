// Package cmd holds the labkeys command line.
package cmd

import (
	"fmt"
	"os"

	"lab_key_tracker/app"
	"lab_key_tracker/config"
	"lab_key_tracker/db"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "labkeys",
		Short:         "Lab key checkout tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config yaml (default ./config.yaml if present)")
	root.AddCommand(newServeCmd(), newMigrateCmd(), newImportCmd(), newExportCmd())
	return root
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads config and a logger; every subcommand starts here.
func setup() (config.Config, *zap.Logger, error) {
	config.LoadEnv()
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, nil, err
	}
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, log, nil
}

// openRepo connects and migrates the store without Redis; used by offline commands.
func openRepo(cfg config.Config) (*db.Repo, func(), error) {
	gdb, err := db.Open(cfg.DB)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db.NewRepo(gdb), closeFn, nil
}
