package events

import (
	"context"
	"database/sql"
	"time"

	"modgate/internal/domain"
)

// Writer appends transition events inside the caller's transaction.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt domain.TransitionEvent) (domain.TransitionEvent, error) {
	if evt.TS == "" {
		now := w.Now
		if now == nil {
			now = time.Now
		}
		evt.TS = now().UTC().Format(time.RFC3339)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO transition_events(ts,entity_kind,entity_id,action,from_status,to_status,actor_account_id,actor_role,reason)
VALUES (?,?,?,?,?,?,?,?,?)`,
		evt.TS, string(evt.EntityKind), evt.EntityID, string(evt.Action), string(evt.FromStatus), string(evt.ToStatus),
		evt.ActorAccountID, string(evt.ActorRole), nullableStringPtr(evt.Reason))
	if err != nil {
		return evt, err
	}
	evt.ID, _ = res.LastInsertId()
	return evt, nil
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
