package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

type executionRepo struct{ tx *tx }

func (r *executionRepo) Add(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	stateJSON, err := json.Marshal(e.State)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("sqlstore: marshal execution state: %w", err)
	}
	e.Version = 1
	q := fmt.Sprintf(`INSERT INTO executions (execution_id, workflow_id, status, session_id, state, version)
		VALUES (%s, %s, %s, %s, %s, %s)`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5), r.tx.ph(6))
	if _, err := r.tx.sqlTx.ExecContext(ctx, q, e.ID, e.WorkflowID, string(e.Status), e.SessionID, string(stateJSON), e.Version); err != nil {
		return domain.Execution{}, fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	return e, nil
}

func (r *executionRepo) scanOne(row *sql.Row) (domain.Execution, error) {
	var e domain.Execution
	var status string
	var stateJSON string
	if err := row.Scan(&e.ID, &e.WorkflowID, &status, &e.SessionID, &stateJSON, &e.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Execution{}, wtberrors.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("sqlstore: scan execution: %w", err)
	}
	e.Status = domain.ExecutionStatus(status)
	if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
		return domain.Execution{}, fmt.Errorf("sqlstore: unmarshal execution state: %w", err)
	}
	return e, nil
}

func (r *executionRepo) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	q := fmt.Sprintf(`SELECT execution_id, workflow_id, status, session_id, state, version
		FROM executions WHERE execution_id = %s`, r.tx.ph(1))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, id)
	return r.scanOne(row)
}

func (r *executionRepo) Update(ctx context.Context, e domain.Execution) (domain.Execution, error) {
	stateJSON, err := json.Marshal(e.State)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("sqlstore: marshal execution state: %w", err)
	}
	newVersion := e.Version + 1
	q := fmt.Sprintf(`UPDATE executions SET status = %s, session_id = %s, state = %s, version = %s
		WHERE execution_id = %s AND version = %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5), r.tx.ph(6))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, string(e.Status), e.SessionID, string(stateJSON), newVersion, e.ID, e.Version)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("sqlstore: update execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Execution{}, fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		// Either the row doesn't exist, or the version didn't match. A
		// cheap follow-up read distinguishes the two for the caller.
		if _, getErr := r.GetByID(ctx, e.ID); errors.Is(getErr, wtberrors.ErrNotFound) {
			return domain.Execution{}, wtberrors.ErrNotFound
		}
		return domain.Execution{}, wtberrors.ErrStaleState
	}
	e.Version = newVersion
	return e, nil
}

func (r *executionRepo) ListByWorkflow(ctx context.Context, workflowID string) ([]domain.Execution, error) {
	q := fmt.Sprintf(`SELECT execution_id, workflow_id, status, session_id, state, version
		FROM executions WHERE workflow_id = %s ORDER BY execution_id`, r.tx.ph(1))
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, workflowID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		var status, stateJSON string
		if err := rows.Scan(&e.ID, &e.WorkflowID, &status, &e.SessionID, &stateJSON, &e.Version); err != nil {
			return nil, fmt.Errorf("sqlstore: scan execution row: %w", err)
		}
		e.Status = domain.ExecutionStatus(status)
		if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal execution state: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *executionRepo) ListByStatus(ctx context.Context, status domain.ExecutionStatus) ([]domain.Execution, error) {
	q := fmt.Sprintf(`SELECT execution_id, workflow_id, status, session_id, state, version
		FROM executions WHERE status = %s ORDER BY execution_id`, r.tx.ph(1))
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, string(status))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list executions by status: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		var e domain.Execution
		var st, stateJSON string
		if err := rows.Scan(&e.ID, &e.WorkflowID, &st, &e.SessionID, &stateJSON, &e.Version); err != nil {
			return nil, fmt.Errorf("sqlstore: scan execution row: %w", err)
		}
		e.Status = domain.ExecutionStatus(st)
		if err := json.Unmarshal([]byte(stateJSON), &e.State); err != nil {
			return nil, fmt.Errorf("sqlstore: unmarshal execution state: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
