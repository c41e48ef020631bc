package repo

import (
	"context"
	"database/sql"

	"modgate/internal/domain"
)

const notificationCols = `id,recipient_account_id,type,entity_kind,entity_id,to_status,message,priority,read,created_at`

func scanNotification(scan func(dest ...any) error) (domain.Notification, error) {
	var n domain.Notification
	err := scan(&n.ID, &n.RecipientAccountID, &n.Type, &n.EntityKind, &n.EntityID, &n.ToStatus,
		&n.Message, &n.Priority, &n.Read, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

// InsertNotificationTx is idempotent on the fan-out key
// (entity_kind, entity_id, to_status, recipient): a retried transition hits the
// unique index and the duplicate row is silently dropped by the store, so the
// guarantee survives process crashes mid-retry.
func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO notifications(id,recipient_account_id,type,entity_kind,entity_id,to_status,message,priority,read,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientAccountID, n.Type, n.EntityKind, n.EntityID, string(n.ToStatus),
		n.Message, n.Priority, n.Read, n.CreatedAt)
	return err
}

type NotificationFilters struct {
	RecipientAccountID string
	UnreadOnly         bool
	Limit              int
	Offset             int
}

func (r Repo) ListNotifications(ctx context.Context, f NotificationFilters) ([]domain.Notification, error) {
	q := newQuery(`SELECT ` + notificationCols + ` FROM notifications`)
	if f.RecipientAccountID != "" {
		q.where("recipient_account_id=?", f.RecipientAccountID)
	}
	if f.UnreadOnly {
		q.where("read=0")
	}
	q.order("created_at DESC, id DESC")
	q.page(f.Limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, q.sql(), q.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+notificationCols+` FROM notifications WHERE id=?`, id)
	return scanNotification(row.Scan)
}

// MarkNotificationRead flips the only mutable field of a notification.
func (r Repo) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountNotificationsForEntity(ctx context.Context, entityKind, entityID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE entity_kind=? AND entity_id=?`, entityKind, entityID).Scan(&n)
	return n, err
}
