package repo

import (
	"context"
	"database/sql"

	"modgate/internal/domain"
)

const workflowCols = `id,owner_profile_id,title,body_json,status,rejection_reason,version,created_at,updated_at`

func scanWorkflow(scan func(dest ...any) error) (domain.Workflow, error) {
	var w domain.Workflow
	var body, reason sql.NullString
	err := scan(&w.ID, &w.OwnerProfileID, &w.Title, &body, &w.Status, &reason, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	if err != nil {
		return w, err
	}
	if body.Valid {
		w.BodyJSON = &body.String
	}
	if reason.Valid {
		w.RejectionReason = &reason.String
	}
	return w, nil
}

func (r Repo) InsertWorkflowTx(ctx context.Context, tx *sql.Tx, w domain.Workflow) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO workflows(id,owner_profile_id,title,body_json,status,rejection_reason,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		w.ID, w.OwnerProfileID, w.Title, nullableStringPtr(w.BodyJSON), string(w.Status),
		nullableStringPtr(w.RejectionReason), w.Version, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r Repo) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id=?`, id)
	return scanWorkflow(row.Scan)
}

func (r Repo) GetWorkflowTx(ctx context.Context, tx *sql.Tx, id string) (domain.Workflow, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id=?`, id)
	return scanWorkflow(row.Scan)
}

func (r Repo) UpdateWorkflowStatusTx(ctx context.Context, tx *sql.Tx, w domain.Workflow, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE workflows
SET status=?, rejection_reason=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		string(w.Status), nullableStringPtr(w.RejectionReason), w.UpdatedAt, w.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetWorkflowTx(ctx, tx, w.ID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

type WorkflowFilters struct {
	OwnerProfileID string
	Status         string
	Search         string
	Limit          int
	Offset         int
}
