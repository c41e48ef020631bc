package repo

import (
	"context"
	"database/sql"

	"modgate/internal/domain"
)

const contentCols = `id,kind,title,status,is_featured,version,created_at,updated_at`

func scanContentItem(scan func(dest ...any) error) (domain.ContentItem, error) {
	var c domain.ContentItem
	err := scan(&c.ID, &c.Kind, &c.Title, &c.Status, &c.IsFeatured, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertContentItemTx(ctx context.Context, tx *sql.Tx, c domain.ContentItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO content_items(id,kind,title,status,is_featured,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.Kind, c.Title, string(c.Status), c.IsFeatured, c.Version, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetContentItem(ctx context.Context, id string) (domain.ContentItem, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contentCols+` FROM content_items WHERE id=?`, id)
	return scanContentItem(row.Scan)
}

func (r Repo) GetContentItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.ContentItem, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+contentCols+` FROM content_items WHERE id=?`, id)
	return scanContentItem(row.Scan)
}

func (r Repo) UpdateContentStatusTx(ctx context.Context, tx *sql.Tx, c domain.ContentItem, expectedVersion int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE content_items
SET status=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		string(c.Status), c.UpdatedAt, c.ID, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.GetContentItemTx(ctx, tx, c.ID); err != nil {
			return err
		}
		return ErrVersionMismatch
	}
	return nil
}

type ContentFilters struct {
	Kind   string
	Status string
	Search string
	Limit  int
	Offset int
}
