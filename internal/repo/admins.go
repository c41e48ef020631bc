package repo

import (
	"context"
	"database/sql"
)

// The admin membership set is external configuration: the engine reads it for
// authorization and fan-out but never writes it. Seeding is an operator action
// (CLI `mg admin seed`).

func (r Repo) IsAdmin(ctx context.Context, accountID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM admin_members WHERE account_id=? LIMIT 1`, accountID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListAdminAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT account_id FROM admin_members ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) ListAdminAccountIDsTx(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT account_id FROM admin_members ORDER BY account_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SeedAdmin grants admin membership; operator tooling only.
func (r Repo) SeedAdmin(ctx context.Context, accountID, addedAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO admin_members(account_id, added_at) VALUES (?,?)`, accountID, addedAt)
	return err
}
