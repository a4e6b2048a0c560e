package wire

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/config"
)

var envFile string

// NewRootCmd builds the wtbd cobra command tree: serve, integrity-check,
// migrate. Grounded on mrz1836-atlas's cobra root/subcommand layout from
// the rest of the pack (the teacher itself ships no cmd/ binary).
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wtbd",
		Short: "Demonstration binary wiring the outbox, coordinator, and integrity checker",
		Long: "wtbd is not a product surface: it exists to show how a process " +
			"assembles config.Config into a running outbox processor and " +
			"integrity checker (spec.md section 1 places the real HTTP/CLI " +
			"surface out of scope).",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file to load before reading WTB_* environment variables")

	root.AddCommand(newServeCmd())
	root.AddCommand(newIntegrityCheckCmd())
	root.AddCommand(newMigrateCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("wtbd: %w", err)
	}
	return cfg, nil
}
