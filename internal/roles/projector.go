// Package roles derives an account's effective role from admin membership and
// creator-application history. The role is recomputed on every read; no stored
// column (including Profile.CachedStatus) is consulted as ground truth.
package roles

import (
	"context"
	"errors"

	"modgate/internal/apperr"
	"modgate/internal/domain"
	"modgate/internal/repo"
)

type Projector struct {
	Repo repo.Repo
}

// EffectiveRole maps (admin membership, latest application) to a role:
// admin wins outright; otherwise the most recently submitted application
// grants creator only when approved. Pending and rejected both project to
// user — a pending application grants nothing.
func (p Projector) EffectiveRole(ctx context.Context, accountID string) (domain.Role, error) {
	isAdmin, err := p.Repo.IsAdmin(ctx, accountID)
	if err != nil {
		return "", apperr.Wrap(apperr.PersistenceError, err, "read admin set")
	}
	if isAdmin {
		return domain.RoleAdmin, nil
	}
	latest, err := p.Repo.LatestApplicationByAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.RoleUser, nil
		}
		return "", apperr.Wrap(apperr.PersistenceError, err, "read application history")
	}
	if latest.Status == domain.StatusApproved {
		return domain.RoleCreator, nil
	}
	return domain.RoleUser, nil
}
