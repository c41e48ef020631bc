package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"modgate/internal/db"
	"modgate/internal/domain"
	"modgate/internal/migrate"
	"modgate/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func seedAccount(t *testing.T, r repo.Repo, ctx context.Context, id string) {
	t.Helper()
	err := r.InsertAccount(ctx, domain.Account{ID: id, Email: id + "@example.com", CreatedAt: "2024-01-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("insert account: %v", err)
	}
}

func inTx(t *testing.T, r repo.Repo, ctx context.Context, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestUpdateProfileCAS(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedAccount(t, r, ctx, "acc-1")
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertProfileTx(ctx, tx, domain.Profile{
			ID:           "prof-1",
			AccountID:    "acc-1",
			Name:         "Alice",
			CachedStatus: domain.StatusDraft,
			Version:      1,
			CreatedAt:    "2024-01-01T00:00:00Z",
			UpdatedAt:    "2024-01-01T00:00:00Z",
		})
	})

	p, err := r.GetProfile(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}

	stale := p
	stale.Version = 99
	if err := r.UpdateProfile(ctx, stale); !errors.Is(err, repo.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}

	missing := p
	missing.ID = "prof-missing"
	if err := r.UpdateProfile(ctx, missing); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	p.Name = "Alice B."
	if err := r.UpdateProfile(ctx, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, err := r.GetProfile(ctx, "prof-1")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Alice B." || updated.Version != 2 {
		t.Fatalf("unexpected profile %+v", updated)
	}
}

func TestLatestApplicationByAccount(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedAccount(t, r, ctx, "acc-1")
	insert := func(id, status, submittedAt string) {
		inTx(t, r, ctx, func(tx *sql.Tx) error {
			return r.InsertApplicationTx(ctx, tx, domain.CreatorApplication{
				ID:          id,
				AccountID:   "acc-1",
				Status:      domain.Status(status),
				SubmittedAt: submittedAt,
				Version:     1,
				CreatedAt:   submittedAt,
				UpdatedAt:   submittedAt,
			})
		})
	}
	insert("app-1", "rejected", "2024-01-01T00:00:00Z")
	insert("app-2", "approved", "2024-02-01T00:00:00Z")

	latest, err := r.LatestApplicationByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "app-2" {
		t.Fatalf("expected app-2, got %s", latest.ID)
	}

	// same submitted_at: id desc breaks the tie
	insert("app-3", "rejected", "2024-02-01T00:00:00Z")
	latest, err = r.LatestApplicationByAccount(ctx, "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != "app-3" {
		t.Fatalf("expected app-3 on tie, got %s", latest.ID)
	}

	if _, err := r.LatestApplicationByAccount(ctx, "acc-none"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateApplicationStatusCAS(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedAccount(t, r, ctx, "acc-1")
	a := domain.CreatorApplication{
		ID:          "app-1",
		AccountID:   "acc-1",
		Status:      domain.StatusPending,
		SubmittedAt: "2024-01-01T00:00:00Z",
		Version:     1,
		CreatedAt:   "2024-01-01T00:00:00Z",
		UpdatedAt:   "2024-01-01T00:00:00Z",
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		return r.InsertApplicationTx(ctx, tx, a)
	})

	a.Status = domain.StatusApproved
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.UpdateApplicationStatusTx(ctx, tx, a, 5); !errors.Is(err, repo.ErrVersionMismatch) {
			t.Fatalf("expected ErrVersionMismatch, got %v", err)
		}
		return r.UpdateApplicationStatusTx(ctx, tx, a, 1)
	})

	got, err := r.GetApplication(ctx, "app-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusApproved || got.Version != 2 {
		t.Fatalf("unexpected state %+v", got)
	}
}

func TestNotificationInsertIsIdempotent(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedAccount(t, r, ctx, "acc-1")
	n := domain.Notification{
		ID:                 "note-1",
		RecipientAccountID: "acc-1",
		Type:               "workflow_approved",
		EntityKind:         "workflow",
		EntityID:           "wf-1",
		ToStatus:           domain.StatusApproved,
		Message:            "approved",
		Priority:           domain.PriorityHigh,
		CreatedAt:          "2024-01-01T00:00:00Z",
	}
	inTx(t, r, ctx, func(tx *sql.Tx) error {
		if err := r.InsertNotificationTx(ctx, tx, n); err != nil {
			return err
		}
		n.ID = "note-2" // same fan-out key, different row id
		return r.InsertNotificationTx(ctx, tx, n)
	})

	count, err := r.CountNotificationsForEntity(ctx, "workflow", "wf-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 notification, got %d", count)
	}
}

func TestTransitionsAfter(t *testing.T) {
	r, ctx := newTestRepo(t)
	insert := func(kind, entityID string) {
		_, err := r.DB.ExecContext(ctx, `INSERT INTO transition_events(ts,entity_kind,entity_id,action,from_status,to_status,actor_account_id,actor_role)
VALUES ('2024-01-01T00:00:00Z',?,?,'approve','pending','approved','acc-1','admin')`, kind, entityID)
		if err != nil {
			t.Fatalf("insert event: %v", err)
		}
	}
	insert("workflow", "wf-1")
	insert("content_item", "c-1")
	insert("workflow", "wf-2")

	all, err := r.TransitionsAfter(ctx, 10, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	onlyWorkflows, err := r.TransitionsAfter(ctx, 10, 0, []string{"workflow"})
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyWorkflows) != 2 || onlyWorkflows[0].EntityID != "wf-1" {
		t.Fatalf("unexpected filtered events %+v", onlyWorkflows)
	}

	afterFirst, err := r.TransitionsAfter(ctx, 10, all[0].ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(afterFirst) != 2 {
		t.Fatalf("expected 2 events after cursor, got %d", len(afterFirst))
	}

	latest, err := r.LatestTransitionID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest != all[2].ID {
		t.Fatalf("expected latest id %d, got %d", all[2].ID, latest)
	}
}
