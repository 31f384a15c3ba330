package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			_, closeFn, err := openRepo(cfg)
			if err != nil {
				return err
			}
			closeFn()
			log.Info("migrated", zap.String("driver", cfg.DB.Driver))
			return nil
		},
	}
}
