package wire

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/config"
)

// newMigrateCmd opens the configured SQL store, which runs sqlstore's
// one-time CREATE TABLE IF NOT EXISTS migration as a side effect of Open
// (see sqlstore/uow.go), then closes it. It exists so an operator can
// provision a database ahead of the first serve without starting the
// processor.
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the primary store's tables if they don't already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StorageMode != config.StorageSQL {
				fmt.Fprintln(cmd.OutOrStdout(), "wtbd: storage_mode=inmemory has no tables to migrate")
				return nil
			}

			app, err := Build(cmd.Context(), cfg, nil)
			if err != nil {
				return fmt.Errorf("wtbd: migrate: %w", err)
			}
			defer func() { _ = app.Close() }()

			fmt.Fprintln(cmd.OutOrStdout(), "wtbd: schema up to date")
			return nil
		},
	}
}
