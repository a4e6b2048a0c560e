package wire

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/integrity"
)

// newIntegrityCheckCmd runs the fixed six-step integrity scan (C11,
// spec.md section 4.8) and optionally applies the auto-repairable findings.
func newIntegrityCheckCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "integrity-check",
		Short: "Scan the three stores for dangling references, orphans, and stuck events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			ctx := cmd.Context()

			app, err := Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			checker := app.NewChecker()
			report, err := checker.Check(ctx)
			if err != nil {
				return fmt.Errorf("wtbd: integrity check: %w", err)
			}
			printReport(cmd, report)

			if repair && len(report.Issues) > 0 {
				repaired, err := checker.Repair(ctx, report)
				if err != nil {
					return fmt.Errorf("wtbd: integrity repair: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "\nafter repair:")
				printReport(cmd, repaired)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "apply auto-repairable findings after reporting them")
	return cmd
}

func printReport(cmd *cobra.Command, report integrity.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "checked in %s: %d critical, %d warning, %d info (%d issues total)\n",
		report.Duration, report.CriticalCount, report.WarningCount, report.InfoCount, len(report.Issues))
	if report.SkippedStep2 {
		fmt.Fprintln(out, "  (step 2, orphan-checkpoint scan, skipped: external store has no CheckpointEnumerator)")
	}
	for _, issue := range report.Issues {
		repairable := ""
		if issue.AutoRepairable {
			repairable = " [auto-repairable]"
		}
		fmt.Fprintf(out, "  - [%s] %s: %s%s\n", issue.Severity, issue.Type, issue.Message, repairable)
	}
}
