package repo

import (
	"context"
	"database/sql"
	"strings"

	"modgate/internal/domain"
)

const transitionCols = `id,ts,entity_kind,entity_id,action,from_status,to_status,actor_account_id,actor_role,reason`

func scanTransition(scan func(dest ...any) error) (domain.TransitionEvent, error) {
	var e domain.TransitionEvent
	var reason sql.NullString
	err := scan(&e.ID, &e.TS, &e.EntityKind, &e.EntityID, &e.Action, &e.FromStatus, &e.ToStatus,
		&e.ActorAccountID, &e.ActorRole, &reason)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if reason.Valid {
		e.Reason = &reason.String
	}
	return e, nil
}

// ListTransitions returns the audit trail for one entity, oldest first.
func (r Repo) ListTransitions(ctx context.Context, entityKind, entityID string) ([]domain.TransitionEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+transitionCols+` FROM transition_events
WHERE entity_kind=? AND entity_id=? ORDER BY id ASC`, entityKind, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TransitionEvent
	for rows.Next() {
		e, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// TransitionsAfter returns events with IDs greater than the cursor in ascending
// order; the webhook dispatcher pages with this.
func (r Repo) TransitionsAfter(ctx context.Context, limit int, cursor int64, entityKinds []string) ([]domain.TransitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	if len(entityKinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entityKinds)), ",")
		clauses = append(clauses, "entity_kind IN ("+placeholders+")")
		for _, k := range entityKinds {
			args = append(args, k)
		}
	}
	query := `SELECT ` + transitionCols + ` FROM transition_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id ASC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TransitionEvent
	for rows.Next() {
		e, err := scanTransition(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestTransitionID returns the most recent event ID.
func (r Repo) LatestTransitionID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM transition_events`).Scan(&id)
	return id, err
}
