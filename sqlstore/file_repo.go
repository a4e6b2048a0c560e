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

type linkRepo struct{ tx *tx }

func (r *linkRepo) Add(ctx context.Context, link domain.CheckpointFileLink) error {
	q := fmt.Sprintf(`INSERT INTO checkpoint_file_links (checkpoint_id, file_commit_id, file_count, total_size)
		VALUES (%s, %s, %s, %s)`, r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4))
	_, err := r.tx.sqlTx.ExecContext(ctx, q, link.CheckpointID, link.FileCommitID, link.FileCount, link.TotalSize)
	if err != nil {
		return fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	return nil
}

func (r *linkRepo) GetByCheckpoint(ctx context.Context, checkpointID string) (domain.CheckpointFileLink, error) {
	q := fmt.Sprintf(`SELECT checkpoint_id, file_commit_id, file_count, total_size
		FROM checkpoint_file_links WHERE checkpoint_id = %s`, r.tx.ph(1))
	var l domain.CheckpointFileLink
	err := r.tx.sqlTx.QueryRowContext(ctx, q, checkpointID).Scan(&l.CheckpointID, &l.FileCommitID, &l.FileCount, &l.TotalSize)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CheckpointFileLink{}, wtberrors.ErrNotFound
	}
	if err != nil {
		return domain.CheckpointFileLink{}, fmt.Errorf("sqlstore: scan link: %w", err)
	}
	return l, nil
}

func (r *linkRepo) Delete(ctx context.Context, checkpointID string) error {
	q := fmt.Sprintf(`DELETE FROM checkpoint_file_links WHERE checkpoint_id = %s`, r.tx.ph(1))
	_, err := r.tx.sqlTx.ExecContext(ctx, q, checkpointID)
	return err
}

func (r *linkRepo) ListAll(ctx context.Context) ([]domain.CheckpointFileLink, error) {
	rows, err := r.tx.sqlTx.QueryContext(ctx, `SELECT checkpoint_id, file_commit_id, file_count, total_size
		FROM checkpoint_file_links ORDER BY checkpoint_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list links: %w", err)
	}
	defer rows.Close()
	var out []domain.CheckpointFileLink
	for rows.Next() {
		var l domain.CheckpointFileLink
		if err := rows.Scan(&l.CheckpointID, &l.FileCommitID, &l.FileCount, &l.TotalSize); err != nil {
			return nil, fmt.Errorf("sqlstore: scan link row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type commitRepo struct{ tx *tx }

func (r *commitRepo) Add(ctx context.Context, commit domain.FileCommit) (domain.FileCommit, error) {
	filesJSON, err := json.Marshal(commit.Files)
	if err != nil {
		return domain.FileCommit{}, fmt.Errorf("sqlstore: marshal files: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO file_commits (commit_id, files, created_at, message)
		VALUES (%s, %s, %s, %s)`, r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4))
	_, err = r.tx.sqlTx.ExecContext(ctx, q, commit.ID, string(filesJSON), commit.CreatedAt, commit.Message)
	if err != nil {
		return domain.FileCommit{}, fmt.Errorf("%w: %v", wtberrors.ErrConflict, err)
	}
	return commit, nil
}

func (r *commitRepo) scan(row interface {
	Scan(dest ...any) error
}) (domain.FileCommit, error) {
	var c domain.FileCommit
	var filesJSON string
	if err := row.Scan(&c.ID, &filesJSON, &c.CreatedAt, &c.Message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FileCommit{}, wtberrors.ErrNotFound
		}
		return domain.FileCommit{}, fmt.Errorf("sqlstore: scan commit: %w", err)
	}
	if err := json.Unmarshal([]byte(filesJSON), &c.Files); err != nil {
		return domain.FileCommit{}, fmt.Errorf("sqlstore: unmarshal files: %w", err)
	}
	return c, nil
}

func (r *commitRepo) GetByID(ctx context.Context, id string) (domain.FileCommit, error) {
	q := fmt.Sprintf(`SELECT commit_id, files, created_at, message FROM file_commits WHERE commit_id = %s`, r.tx.ph(1))
	return r.scan(r.tx.sqlTx.QueryRowContext(ctx, q, id))
}

func (r *commitRepo) ListAll(ctx context.Context) ([]domain.FileCommit, error) {
	rows, err := r.tx.sqlTx.QueryContext(ctx, `SELECT commit_id, files, created_at, message FROM file_commits ORDER BY commit_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list commits: %w", err)
	}
	defer rows.Close()
	var out []domain.FileCommit
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type blobRepo struct{ tx *tx }

func (r *blobRepo) PutIfAbsent(ctx context.Context, blob domain.Blob) error {
	q := fmt.Sprintf(`INSERT INTO blobs (hash, bytes) VALUES (%s, %s) %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.dialect.UpsertIgnore("hash"))
	_, err := r.tx.sqlTx.ExecContext(ctx, q, blob.Hash, blob.Bytes)
	if err != nil {
		return fmt.Errorf("sqlstore: put blob: %w", err)
	}
	return nil
}

func (r *blobRepo) GetByHash(ctx context.Context, hash string) (domain.Blob, error) {
	q := fmt.Sprintf(`SELECT hash, bytes FROM blobs WHERE hash = %s`, r.tx.ph(1))
	var b domain.Blob
	err := r.tx.sqlTx.QueryRowContext(ctx, q, hash).Scan(&b.Hash, &b.Bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Blob{}, wtberrors.ErrNotFound
	}
	if err != nil {
		return domain.Blob{}, fmt.Errorf("sqlstore: scan blob: %w", err)
	}
	return b, nil
}

func (r *blobRepo) Exists(ctx context.Context, hash string) (bool, error) {
	q := fmt.Sprintf(`SELECT 1 FROM blobs WHERE hash = %s`, r.tx.ph(1))
	var one int
	err := r.tx.sqlTx.QueryRowContext(ctx, q, hash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlstore: check blob: %w", err)
	}
	return true, nil
}

type boundaryRepo struct{ tx *tx }

func (r *boundaryRepo) Add(ctx context.Context, nb domain.NodeBoundary) (domain.NodeBoundary, error) {
	q := fmt.Sprintf(`INSERT INTO node_boundaries
		(execution_id, session_id, node_id, entry_checkpoint_id, exit_checkpoint_id, status, tool_count, checkpoint_count, started_at, completed_at, error_message)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5), r.tx.ph(6), r.tx.ph(7), r.tx.ph(8), r.tx.ph(9), r.tx.ph(10), r.tx.ph(11))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, nb.ExecutionID, nb.SessionID, nb.NodeID, nb.EntryCheckpointID,
		nb.ExitCheckpointID, string(nb.Status), nb.ToolCount, nb.CheckpointCount, nb.StartedAt, nb.CompletedAt, nb.ErrorMessage)
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("sqlstore: insert boundary: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("sqlstore: last insert id: %w", err)
	}
	nb.ID = id
	return nb, nil
}

func (r *boundaryRepo) GetByID(ctx context.Context, id int64) (domain.NodeBoundary, error) {
	q := fmt.Sprintf(`SELECT id, execution_id, session_id, node_id, entry_checkpoint_id, exit_checkpoint_id,
		status, tool_count, checkpoint_count, started_at, completed_at, error_message
		FROM node_boundaries WHERE id = %s`, r.tx.ph(1))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, id)
	return scanBoundary(row)
}

func (r *boundaryRepo) Update(ctx context.Context, nb domain.NodeBoundary) error {
	q := fmt.Sprintf(`UPDATE node_boundaries SET exit_checkpoint_id = %s, status = %s, tool_count = %s,
		checkpoint_count = %s, completed_at = %s, error_message = %s WHERE id = %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3), r.tx.ph(4), r.tx.ph(5), r.tx.ph(6), r.tx.ph(7))
	res, err := r.tx.sqlTx.ExecContext(ctx, q, nb.ExitCheckpointID, string(nb.Status), nb.ToolCount,
		nb.CheckpointCount, nb.CompletedAt, nb.ErrorMessage, nb.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update boundary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return wtberrors.ErrNotFound
	}
	return nil
}

func (r *boundaryRepo) GetOpen(ctx context.Context, sessionID int64, nodeID string) (domain.NodeBoundary, error) {
	q := fmt.Sprintf(`SELECT id, execution_id, session_id, node_id, entry_checkpoint_id, exit_checkpoint_id,
		status, tool_count, checkpoint_count, started_at, completed_at, error_message
		FROM node_boundaries WHERE session_id = %s AND node_id = %s AND status = %s`,
		r.tx.ph(1), r.tx.ph(2), r.tx.ph(3))
	row := r.tx.sqlTx.QueryRowContext(ctx, q, sessionID, nodeID, string(domain.NodeBoundaryStarted))
	return scanBoundary(row)
}

func (r *boundaryRepo) ListBySession(ctx context.Context, sessionID int64) ([]domain.NodeBoundary, error) {
	q := fmt.Sprintf(`SELECT id, execution_id, session_id, node_id, entry_checkpoint_id, exit_checkpoint_id,
		status, tool_count, checkpoint_count, started_at, completed_at, error_message
		FROM node_boundaries WHERE session_id = %s ORDER BY id`, r.tx.ph(1))
	rows, err := r.tx.sqlTx.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list boundaries: %w", err)
	}
	defer rows.Close()
	var out []domain.NodeBoundary
	for rows.Next() {
		nb, err := scanBoundaryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nb)
	}
	return out, rows.Err()
}

func scanBoundary(row *sql.Row) (domain.NodeBoundary, error) {
	var nb domain.NodeBoundary
	var status string
	err := row.Scan(&nb.ID, &nb.ExecutionID, &nb.SessionID, &nb.NodeID, &nb.EntryCheckpointID, &nb.ExitCheckpointID,
		&status, &nb.ToolCount, &nb.CheckpointCount, &nb.StartedAt, &nb.CompletedAt, &nb.ErrorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NodeBoundary{}, wtberrors.ErrNotFound
	}
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("sqlstore: scan boundary: %w", err)
	}
	nb.Status = domain.NodeBoundaryStatus(status)
	return nb, nil
}

func scanBoundaryRows(rows *sql.Rows) (domain.NodeBoundary, error) {
	var nb domain.NodeBoundary
	var status string
	err := rows.Scan(&nb.ID, &nb.ExecutionID, &nb.SessionID, &nb.NodeID, &nb.EntryCheckpointID, &nb.ExitCheckpointID,
		&status, &nb.ToolCount, &nb.CheckpointCount, &nb.StartedAt, &nb.CompletedAt, &nb.ErrorMessage)
	if err != nil {
		return domain.NodeBoundary{}, fmt.Errorf("sqlstore: scan boundary row: %w", err)
	}
	nb.Status = domain.NodeBoundaryStatus(status)
	return nb, nil
}
