package integrity

import (
	"context"
	"fmt"
	"time"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
)

// Repair applies every AutoRepairable finding in report within one
// transaction and returns a Report of the findings it did not repair:
// those that are not AutoRepairable are carried over unchanged for manual
// follow-up. Repair never invents repairs Check didn't already flag.
func (c *Checker) Repair(ctx context.Context, report Report) (Report, error) {
	tx, err := c.uowFac().Begin(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("integrity: repair begin: %w", err)
	}
	defer tx.Rollback()

	var fixed Report
	danglingLinks := make(map[string]bool)
	repairStuck := false

	for _, issue := range report.Issues {
		if !issue.AutoRepairable {
			fixed.add(issue)
			continue
		}
		switch issue.Type {
		case domain.IssueDanglingReference:
			danglingLinks[issue.SourceID] = true
		case domain.IssueOutboxStuck:
			repairStuck = true
		default:
			// No other issue type is ever marked AutoRepairable by Check;
			// carry it forward untouched rather than silently dropping it.
			fixed.add(issue)
		}
	}

	for checkpointID := range danglingLinks {
		if err := tx.CheckpointFiles().Delete(ctx, checkpointID); err != nil {
			return Report{}, fmt.Errorf("integrity: repair dangling link for checkpoint %s: %w", checkpointID, err)
		}
		if c.metrics != nil {
			c.metrics.RepairsRun.WithLabelValues(string(domain.IssueDanglingReference)).Inc()
		}
	}

	if repairStuck {
		n, err := tx.Outbox().ReclaimStuckProcessing(ctx, time.Now().Add(-c.stuckGrace))
		if err != nil {
			return Report{}, fmt.Errorf("integrity: repair stuck outbox events: %w", err)
		}
		if c.metrics != nil {
			c.metrics.RepairsRun.WithLabelValues(string(domain.IssueOutboxStuck)).Add(float64(n))
		}
	}

	if err := tx.Commit(); err != nil {
		return Report{}, fmt.Errorf("integrity: repair commit: %w", err)
	}
	return fixed, nil
}
