package repo

import (
	"context"
	"database/sql"
	"errors"

	"modgate/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionMismatch is returned by conditional updates when the stored
	// version no longer matches the caller's token.
	ErrVersionMismatch = errors.New("version mismatch")
)

func (r Repo) InsertAccount(ctx context.Context, a domain.Account) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO accounts(id,email,created_at) VALUES (?,?,?)`,
		a.ID, a.Email, a.CreatedAt)
	return err
}

func (r Repo) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	var a domain.Account
	err := r.DB.QueryRowContext(ctx, `SELECT id,email,created_at FROM accounts WHERE id=?`, id).
		Scan(&a.ID, &a.Email, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

func scanProfile(scan func(dest ...any) error) (domain.Profile, error) {
	var p domain.Profile
	var bio, notes sql.NullString
	err := scan(&p.ID, &p.AccountID, &p.Name, &bio, &p.CachedStatus, &notes, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if bio.Valid {
		p.Bio = &bio.String
	}
	if notes.Valid {
		p.AdminNotes = &notes.String
	}
	return p, nil
}

const profileCols = `id,account_id,name,bio,cached_status,admin_notes,version,created_at,updated_at`

func (r Repo) GetProfile(ctx context.Context, id string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.Profile, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE id=?`, id)
	return scanProfile(row.Scan)
}

func (r Repo) GetProfileByAccount(ctx context.Context, accountID string) (domain.Profile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE account_id=?`, accountID)
	return scanProfile(row.Scan)
}

func (r Repo) GetProfileByAccountTx(ctx context.Context, tx *sql.Tx, accountID string) (domain.Profile, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+profileCols+` FROM profiles WHERE account_id=?`, accountID)
	return scanProfile(row.Scan)
}

func (r Repo) InsertProfileTx(ctx context.Context, tx *sql.Tx, p domain.Profile) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO profiles(id,account_id,name,bio,cached_status,admin_notes,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		p.ID, p.AccountID, p.Name, nullableStringPtr(p.Bio), string(p.CachedStatus), nullableStringPtr(p.AdminNotes),
		p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

// SetProfileCachedStatusTx syncs the cached projection of the account's latest
// application; called only inside an application transition's transaction.
func (r Repo) SetProfileCachedStatusTx(ctx context.Context, tx *sql.Tx, profileID string, status domain.Status, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE profiles SET cached_status=?, version=version+1, updated_at=? WHERE id=?`,
		string(status), updatedAt, profileID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateProfile(ctx context.Context, p domain.Profile) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE profiles SET name=?, bio=?, admin_notes=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		p.Name, nullableStringPtr(p.Bio), nullableStringPtr(p.AdminNotes), p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetProfile(ctx, p.ID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
