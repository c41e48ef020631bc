package app

import (
	"context"
	"database/sql"
	"errors"

	"modgate/internal/apperr"
	"modgate/internal/db"
	"modgate/internal/engine"
	"modgate/internal/migrate"
	"modgate/internal/repo"
)

// Open opens the workspace database and brings the schema up to date.
func Open(workspace string) (*sql.DB, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// ResolveActor loads the caller's account and projects its effective role.
// Used wherever only an account id is known (CLI, the legacy actor header).
func ResolveActor(ctx context.Context, e engine.Engine, accountID string) (engine.Actor, error) {
	if accountID == "" {
		return engine.Actor{}, apperr.New(apperr.Unauthorized, "actor account id required")
	}
	if _, err := e.Repo.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return engine.Actor{}, apperr.New(apperr.NotFound, "account %s not found", accountID)
		}
		return engine.Actor{}, apperr.Wrap(apperr.PersistenceError, err, "read account")
	}
	role, err := e.EffectiveRole(ctx, accountID)
	if err != nil {
		return engine.Actor{}, err
	}
	return engine.Actor{AccountID: accountID, Role: role}, nil
}
