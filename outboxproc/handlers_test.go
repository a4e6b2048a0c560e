package outboxproc

import (
	"testing"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/outbox"
)

// allEventTypes lists every outbox.EventType constant so this test can
// assert Handlers' coverage is exhaustive without outboxproc importing an
// unexported map from outbox.
var allEventTypes = []outbox.EventType{
	outbox.EventCheckpointCreate,
	outbox.EventCheckpointVerify,
	outbox.EventNodeBoundarySync,
	outbox.EventFileCommitLink,
	outbox.EventFileCommitVerify,
	outbox.EventFileBlobVerify,
	outbox.EventCheckpointFileLinkVerify,
	outbox.EventRollbackFileRestore,
	outbox.EventRollbackVerify,
	outbox.EventExecutionPaused,
	outbox.EventExecutionResumed,
	outbox.EventExecutionStopped,
	outbox.EventStateModified,
	outbox.EventWorkflowCreated,
	outbox.EventBatchTestCreated,
	outbox.EventBatchTestCancelled,
	outbox.EventExecutionForked,
	outbox.EventRollbackPerformed,
	outbox.EventCheckpointSaved,
	outbox.EventFileTracked,
	outbox.EventRayEvent,
}

// TestHandlers_CoverAuditTypes pins auditEventTypes to outbox.IsAuditType
// and asserts every known EventType (cross-store or audit) has a handler
// in the table Handlers builds -- the closed-dispatch-table invariant
// spec.md section 9 names ("adding a new EventType requires adding both
// the enum value and a handler").
func TestHandlers_CoverAuditTypes(t *testing.T) {
	for t2, want := range auditEventTypes {
		if got := outbox.IsAuditType(t2); got != want {
			t.Errorf("auditEventTypes[%s] = %v, but outbox.IsAuditType = %v", t2, want, got)
		}
	}

	h := Handlers(Deps{})
	for _, et := range allEventTypes {
		if _, ok := h[et]; !ok {
			t.Errorf("Handlers table has no entry for %s", et)
		}
		wantAudit := outbox.IsAuditType(et)
		_, isAudit := auditEventTypes[et]
		if wantAudit != isAudit {
			t.Errorf("%s: outbox.IsAuditType=%v but auditEventTypes=%v", et, wantAudit, isAudit)
		}
	}
}
