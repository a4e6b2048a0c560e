package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/domain"
	"github.com/KataDavidXD/WTB-AgenticWorkflowTestBench/wtberrors"
)

type workflowRepo struct{ tx *tx }

func (r *workflowRepo) Add(ctx context.Context, w domain.Workflow) (domain.Workflow, error) {
	q := fmt.Sprintf(`INSERT INTO workflows (workflow_id, name, version) VALUES (%s, %s, %s)`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3))
	if _, err := r.tx.sqlTx.ExecContext(ctx, q, w.ID, w.Name, w.Version); err != nil {
		return domain.Workflow{}, fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	return w, nil
}

func (r *workflowRepo) scanOne(row *sql.Row) (domain.Workflow, error) {
	var w domain.Workflow
	if err := row.Scan(&w.ID, &w.Name, &w.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Workflow{}, wtberrors.ErrNotFound
		}
		return domain.Workflow{}, fmt.Errorf("sqlstore: scan workflow: %w", err)
	}
	return w, nil
}

func (r *workflowRepo) GetByID(ctx context.Context, id string) (domain.Workflow, error) {
	q := fmt.Sprintf(`SELECT workflow_id, name, version FROM workflows WHERE workflow_id = %s`, r.tx.ph(1))
	return r.scanOne(r.tx.sqlTx.QueryRowContext(ctx, q, id))
}

func (r *workflowRepo) GetByNameVersion(ctx context.Context, name, version string) (domain.Workflow, error) {
	q := fmt.Sprintf(`SELECT workflow_id, name, version FROM workflows WHERE name = %s AND version = %s`,
		r.tx.ph(1), r.tx.ph(2))
	return r.scanOne(r.tx.sqlTx.QueryRowContext(ctx, q, name, version))
}

type variantRepo struct{ tx *tx }

func (r *variantRepo) Add(ctx context.Context, v domain.NodeVariant) (domain.NodeVariant, error) {
	contentJSON, err := marshalContent(v.Content)
	if err != nil {
		return domain.NodeVariant{}, err
	}
	if v.IsActive {
		deactivate := fmt.Sprintf(`UPDATE node_variants SET is_active = 0 WHERE workflow_id = %s AND node_id = %s`,
			r.tx.ph(1), r.tx.ph(2))
		if _, err := r.tx.sqlTx.ExecContext(ctx, deactivate, v.WorkflowID, v.NodeID); err != nil {
			return domain.NodeVariant{}, fmt.Errorf("sqlstore: deactivate variants: %w", err)
		}
	}
	q := fmt.Sprintf(`INSERT INTO node_variants (variant_id, workflow_id, node_id, is_active, content)
		VALUES (%s, %s, %s, %s, %s)`, r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5))
	if _, err := r.tx.sqlTx.ExecContext(ctx, q, v.ID, v.WorkflowID, v.NodeID, v.IsActive, contentJSON); err != nil {
		return domain.NodeVariant{}, fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	return v, nil
}

func (r *variantRepo) GetActive(ctx context.Context, workflowID, nodeID string) (domain.NodeVariant, error) {
	q := fmt.Sprintf(`SELECT variant_id, workflow_id, node_id, is_active, content FROM node_variants
		WHERE workflow_id = %s AND node_id = %s AND is_active = 1`, r.tx.ph(1), r.tx.ph(2))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, workflowID, nodeID)
	return scanVariant(row)
}

func (r *variantRepo) SetActive(ctx context.Context, variantID string) error {
	var workflowID, nodeID string
	q := fmt.Sprintf(`SELECT workflow_id, node_id FROM node_variants WHERE variant_id = %s`, r.tx.ph(1))
	if err := r.tx.sqlTx.QueryRowContext(ctx, q, variantID).Scan(&workflowID, &nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wtberrors.ErrNotFound
		}
		return fmt.Errorf("sqlstore: lookup variant: %w", err)
	}
	deactivate := fmt.Sprintf(`UPDATE node_variants SET is_active = 0 WHERE workflow_id = %s AND node_id = %s`,
		r.tx.ph(1), r.tx.ph(2))
	if _, err := r.tx.sqlTx.ExecContext(ctx, deactivate, workflowID, nodeID); err != nil {
		return fmt.Errorf("sqlstore: deactivate variants: %w", err)
	}
	activate := fmt.Sprintf(`UPDATE node_variants SET is_active = 1 WHERE variant_id = %s`, r.tx.ph(1))
	_, err := r.tx.sqlTx.ExecContext(ctx, activate, variantID)
	return err
}

func (r *variantRepo) ListByNode(ctx context.Context, workflowID, nodeID string) ([]domain.NodeVariant, error) {
	q := fmt.Sprintf(`SELECT variant_id, workflow_id, node_id, is_active, content FROM node_variants
		WHERE workflow_id = %s AND node_id = %s ORDER BY variant_id`, r.tx.ph(1), r.tx.ph(2))
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, workflowID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list variants: %w", err)
	}
	defer rows.Close()

	var out []domain.NodeVariant
	for rows.Next() {
		var v domain.NodeVariant
		var contentJSON string
		if err := rows.Scan(&v.ID, &v.WorkflowID, &v.NodeID, &v.IsActive, &contentJSON); err != nil {
			return nil, fmt.Errorf("sqlstore: scan variant row: %w", err)
		}
		v.Content = contentJSON
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVariant(row *sql.Row) (domain.NodeVariant, error) {
	var v domain.NodeVariant
	var contentJSON string
	if err := row.Scan(&v.ID, &v.WorkflowID, &v.NodeID, &v.IsActive, &contentJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NodeVariant{}, wtberrors.ErrNotFound
		}
		return domain.NodeVariant{}, fmt.Errorf("sqlstore: scan variant: %w", err)
	}
	v.Content = contentJSON
	return v, nil
}

// marshalContent stores NodeVariant.Content as opaque text: callers decide
// its shape (spec.md section 3 leaves node content implementation-defined,
// delegated to the workflow graph compiler this system treats as external).
func marshalContent(content any) (string, error) {
	switch c := content.(type) {
	case nil:
		return "", nil
	case string:
		return c, nil
	default:
		return fmt.Sprintf("%v", c), nil
	}
}
