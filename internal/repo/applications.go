package repo

import (
	"context"
	"database/sql"

	"modgate/internal/domain"
)

const applicationCols = `id,account_id,status,submitted_at,approved_at,rejection_reason,version,created_at,updated_at`

func scanApplication(scan func(dest ...any) error) (domain.CreatorApplication, error) {
	var a domain.CreatorApplication
	var approvedAt, reason sql.NullString
	err := scan(&a.ID, &a.AccountID, &a.Status, &a.SubmittedAt, &approvedAt, &reason, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if approvedAt.Valid {
		a.ApprovedAt = &approvedAt.String
	}
	if reason.Valid {
		a.RejectionReason = &reason.String
	}
	return a, nil
}

func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.CreatorApplication) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO creator_applications(id,account_id,status,submitted_at,approved_at,rejection_reason,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.AccountID, string(a.Status), a.SubmittedAt, nullableStringPtr(a.ApprovedAt), nullableStringPtr(a.RejectionReason),
		a.Version, a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetApplication(ctx context.Context, id string) (domain.CreatorApplication, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM creator_applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, id string) (domain.CreatorApplication, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM creator_applications WHERE id=?`, id)
	return scanApplication(row.Scan)
}

// LatestApplicationByAccount returns the most recently submitted application
// for the account, id desc as tiebreak.
func (r Repo) LatestApplicationByAccount(ctx context.Context, accountID string) (domain.CreatorApplication, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+applicationCols+` FROM creator_applications
WHERE account_id=? ORDER BY submitted_at DESC, id DESC LIMIT 1`, accountID)
	return scanApplication(row.Scan)
}

func (r Repo) PendingApplicationExistsTx(ctx context.Context, tx *sql.Tx, accountID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM creator_applications WHERE account_id=? AND status='pending' LIMIT 1`, accountID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpdateApplicationStatusTx is the compare-and-swap write: the update is
// conditioned on the version read at decision time.
func (r Repo) UpdateApplicationStatusTx(ctx context.Context, tx *sql.Tx, a domain.CreatorApplication, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE creator_applications
SET status=?, approved_at=?, rejection_reason=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		string(a.Status), nullableStringPtr(a.ApprovedAt), nullableStringPtr(a.RejectionReason),
		a.UpdatedAt, a.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetApplicationTx(ctx, tx, a.ID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

type ApplicationFilters struct {
	AccountID string
	Status    string
	Limit     int
	Offset    int
}

func (r Repo) ListApplications(ctx context.Context, f ApplicationFilters) ([]domain.CreatorApplication, error) {
	q := newQuery(`SELECT ` + applicationCols + ` FROM creator_applications`)
	if f.AccountID != "" {
		q.where("account_id=?", f.AccountID)
	}
	if f.Status != "" {
		q.where("status=?", f.Status)
	}
	q.order("submitted_at DESC, id DESC")
	q.page(f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CreatorApplication
	for rows.Next() {
		a, err := scanApplication(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
