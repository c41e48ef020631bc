package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"modgate/internal/app"
	"modgate/internal/apperr"
	"modgate/internal/config"
	"modgate/internal/db"
	"modgate/internal/domain"
	"modgate/internal/engine"
	"modgate/internal/migrate"
	"modgate/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) account(t *testing.T, email string) domain.Account {
	t.Helper()
	a, err := env.Engine.CreateAccount(env.Ctx, email)
	if err != nil {
		t.Fatalf("create account %s: %v", email, err)
	}
	return a
}

func (env testEnv) admin(t *testing.T, email string) engine.Actor {
	t.Helper()
	a := env.account(t, email)
	if err := env.Engine.Repo.SeedAdmin(env.Ctx, a.ID, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	return env.actor(t, a.ID)
}

func (env testEnv) actor(t *testing.T, accountID string) engine.Actor {
	t.Helper()
	actor, err := app.ResolveActor(env.Ctx, env.Engine, accountID)
	if err != nil {
		t.Fatalf("resolve actor %s: %v", accountID, err)
	}
	return actor
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %s (%v)", kind, got, err)
	}
}

func TestApplicationApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "alice@example.com").ID)

	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Alice")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if a.Status != domain.StatusPending || a.Version != 1 {
		t.Fatalf("unexpected application %+v", a)
	}

	// submission notifies the admin set
	notifs, err := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{RecipientAccountID: admin.AccountID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Priority != "medium" {
		t.Fatalf("expected one medium notification for admin, got %+v", notifs)
	}

	approved, evt, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, a.Version, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.StatusApproved || approved.Version != 2 {
		t.Fatalf("unexpected approved state %+v", approved)
	}
	if approved.ApprovedAt == nil {
		t.Fatalf("expected approved_at to be set")
	}
	if evt.FromStatus != domain.StatusPending || evt.ToStatus != domain.StatusApproved {
		t.Fatalf("unexpected event %+v", evt)
	}

	// role projects to creator, profile cache follows
	role, err := env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if err != nil || role != domain.RoleCreator {
		t.Fatalf("expected creator role, got %s (%v)", role, err)
	}
	p, err := env.Engine.Repo.GetProfileByAccount(env.Ctx, user.AccountID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.CachedStatus != domain.StatusApproved {
		t.Fatalf("expected cached approved, got %s", p.CachedStatus)
	}

	// applicant is notified with high priority
	userNotifs, _ := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{RecipientAccountID: user.AccountID})
	if len(userNotifs) != 1 || userNotifs[0].Priority != "high" {
		t.Fatalf("expected one high notification for applicant, got %+v", userNotifs)
	}

	// audit trail has submit then approve
	trail, err := env.Engine.Repo.ListTransitions(env.Ctx, string(domain.KindCreatorApplication), a.ID)
	if err != nil {
		t.Fatalf("list transitions: %v", err)
	}
	if len(trail) != 2 || trail[0].Action != domain.ActionSubmit || trail[1].Action != domain.ActionApprove {
		t.Fatalf("unexpected trail %+v", trail)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "bob@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Bob")
	if err != nil {
		t.Fatal(err)
	}

	_, _, err = env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionReject, a.Version, "  ")
	wantKind(t, err, apperr.ValidationError)

	// state and version untouched by the failed attempt
	got, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending || got.Version != a.Version {
		t.Fatalf("state changed on failed reject: %+v", got)
	}

	rejected, _, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionReject, a.Version, "incomplete portfolio")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.RejectionReason == nil || *rejected.RejectionReason != "incomplete portfolio" {
		t.Fatalf("expected reason recorded, got %+v", rejected)
	}
	role, _ := env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if role != domain.RoleUser {
		t.Fatalf("rejected application must project to user, got %s", role)
	}
}

func TestIllegalTransitionLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "carol@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Carol")
	if err != nil {
		t.Fatal(err)
	}
	approved, _, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, a.Version, "")
	if err != nil {
		t.Fatal(err)
	}

	// approved is terminal
	_, _, err = env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, approved.Version, "")
	wantKind(t, err, apperr.InvalidTransition)

	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Version != approved.Version || got.Status != domain.StatusApproved {
		t.Fatalf("terminal retry mutated state: %+v", got)
	}
	count, err := env.Engine.Repo.CountNotificationsForEntity(env.Ctx, string(domain.KindCreatorApplication), a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 { // submit -> admin, approve -> applicant
		t.Fatalf("expected 2 notifications, got %d", count)
	}
}

func TestStaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	admin1 := env.admin(t, "admin1@example.com")
	admin2 := env.admin(t, "admin2@example.com")
	user := env.actor(t, env.account(t, "dave@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Dave")
	if err != nil {
		t.Fatal(err)
	}

	// both admins read version 1; the first decision wins
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin1, a.ID, domain.ActionApprove, a.Version, ""); err != nil {
		t.Fatalf("first decision: %v", err)
	}
	_, _, err = env.Engine.ModerateApplication(env.Ctx, admin2, a.ID, domain.ActionReject, a.Version, "duplicate")
	wantKind(t, err, apperr.Conflict)

	got, _ := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if got.Status != domain.StatusApproved {
		t.Fatalf("loser overwrote the winner: %+v", got)
	}
}

func TestConcurrentModerationRace(t *testing.T) {
	env := newTestEnv(t)
	admin1 := env.admin(t, "admin1@example.com")
	admin2 := env.admin(t, "admin2@example.com")
	user := env.actor(t, env.account(t, "mia@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Mia")
	if err != nil {
		t.Fatal(err)
	}

	// both admins hold the same version token and decide simultaneously
	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _, errs[0] = env.Engine.ModerateApplication(env.Ctx, admin1, a.ID, domain.ActionApprove, a.Version, "")
	}()
	go func() {
		defer wg.Done()
		_, _, errs[1] = env.Engine.ModerateApplication(env.Ctx, admin2, a.ID, domain.ActionReject, a.Version, "duplicate")
	}()
	wg.Wait()

	var winners, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case apperr.IsKind(err, apperr.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected loser error: %v", err)
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one winner and one conflict, got %d winners, %d conflicts (%v)", winners, conflicts, errs)
	}

	got, err := env.Engine.Repo.GetApplication(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != a.Version+1 {
		t.Fatalf("expected exactly one version bump, got %d", got.Version)
	}
	if got.Status != domain.StatusApproved && got.Status != domain.StatusRejected {
		t.Fatalf("unexpected status %s", got.Status)
	}

	// the projected role agrees with whichever decision committed
	role, err := env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.RoleUser
	if got.Status == domain.StatusApproved {
		want = domain.RoleCreator
	}
	if role != want {
		t.Fatalf("expected role %s for status %s, got %s", want, got.Status, role)
	}
}

func TestConcurrentSubmissionsRace(t *testing.T) {
	env := newTestEnv(t)
	user := env.actor(t, env.account(t, "noah@example.com").ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.SubmitCreatorApplication(env.Ctx, user, "Noah")
		}(i)
	}
	wg.Wait()

	var winners, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case apperr.IsKind(err, apperr.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected submission error: %v", err)
		}
	}
	if winners != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one pending application, got %d winners, %d conflicts (%v)", winners, conflicts, errs)
	}
	items, err := env.Engine.Repo.ListApplications(env.Ctx, repo.ApplicationFilters{AccountID: user.AccountID})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected a single application row, got %d", len(items))
	}
}

func TestOnePendingApplicationPerAccount(t *testing.T) {
	env := newTestEnv(t)
	user := env.actor(t, env.account(t, "erin@example.com").ID)
	if _, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Erin"); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Erin")
	wantKind(t, err, apperr.Conflict)
}

func TestModerationRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	user := env.actor(t, env.account(t, "frank@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Frank")
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = env.Engine.ModerateApplication(env.Ctx, user, a.ID, domain.ActionApprove, a.Version, "")
	wantKind(t, err, apperr.Unauthorized)

	_, _, err = env.Engine.ModerateApplication(env.Ctx, env.admin(t, "admin@example.com"), "missing-id", domain.ActionApprove, 1, "")
	wantKind(t, err, apperr.NotFound)
}

func TestRoleNeverReadsCachedStatus(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "gina@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Gina")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, a.Version, ""); err != nil {
		t.Fatal(err)
	}

	// corrupt the display cache directly; the projection must not notice
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE profiles SET cached_status='rejected' WHERE account_id=?`, user.AccountID); err != nil {
		t.Fatal(err)
	}
	role, err := env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if err != nil || role != domain.RoleCreator {
		t.Fatalf("projection followed the cache, got %s (%v)", role, err)
	}

	// admin membership wins over any application history
	if err := env.Engine.Repo.SeedAdmin(env.Ctx, user.AccountID, "2024-01-01T00:00:00Z"); err != nil {
		t.Fatal(err)
	}
	role, _ = env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if role != domain.RoleAdmin {
		t.Fatalf("expected admin precedence, got %s", role)
	}
}

func TestNotificationFanOutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "hana@example.com").ID)
	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Hana")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, a.Version, ""); err != nil {
		t.Fatal(err)
	}

	// a replay of the same fan-out key is swallowed by the store
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.InsertNotificationTx(env.Ctx, tx, domain.Notification{
		ID:                 "replayed",
		RecipientAccountID: user.AccountID,
		Type:               "creator_application_approved",
		EntityKind:         string(domain.KindCreatorApplication),
		EntityID:           a.ID,
		ToStatus:           domain.StatusApproved,
		Message:            "duplicate",
		Priority:           "high",
		CreatedAt:          "2024-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("replay insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	notifs, _ := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{RecipientAccountID: user.AccountID})
	if len(notifs) != 1 {
		t.Fatalf("expected 1 notification after replay, got %d", len(notifs))
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "ivan@example.com").ID)

	// plain users cannot submit workflows
	p, err := env.Engine.EnsureProfile(env.Ctx, user.AccountID, "Ivan")
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.SubmitWorkflow(env.Ctx, user, p.ID, "My workflow", "")
	wantKind(t, err, apperr.Unauthorized)

	a, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Ivan")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin, a.ID, domain.ActionApprove, a.Version, ""); err != nil {
		t.Fatal(err)
	}
	creator := env.actor(t, user.AccountID)

	// title is required
	_, err = env.Engine.SubmitWorkflow(env.Ctx, creator, p.ID, "  ", "")
	wantKind(t, err, apperr.ValidationError)

	// ownership is enforced
	other := env.actor(t, env.account(t, "judy@example.com").ID)
	_, err = env.Engine.SubmitWorkflow(env.Ctx, other, p.ID, "Not mine", "")
	wantKind(t, err, apperr.Unauthorized)

	w, err := env.Engine.SubmitWorkflow(env.Ctx, creator, p.ID, "My workflow", `{"steps":[]}`)
	if err != nil {
		t.Fatalf("submit workflow: %v", err)
	}
	rejected, _, err := env.Engine.ModerateWorkflow(env.Ctx, admin, w.ID, domain.ActionReject, w.Version, "too vague")
	if err != nil {
		t.Fatalf("reject workflow: %v", err)
	}
	if rejected.Status != domain.StatusRejected || rejected.RejectionReason == nil {
		t.Fatalf("unexpected rejected state %+v", rejected)
	}

	// rejected is terminal
	_, _, err = env.Engine.ModerateWorkflow(env.Ctx, admin, w.ID, domain.ActionApprove, rejected.Version, "")
	wantKind(t, err, apperr.InvalidTransition)

	// owner got the rejection with the reason interpolated
	notifs, _ := env.Engine.Repo.ListNotifications(env.Ctx, repo.NotificationFilters{RecipientAccountID: user.AccountID})
	found := false
	for _, n := range notifs {
		if n.Type == "workflow_rejected" {
			found = true
			if n.Message != `Your workflow "My workflow" was rejected: too vague` {
				t.Fatalf("unexpected message %q", n.Message)
			}
		}
	}
	if !found {
		t.Fatalf("expected workflow_rejected notification, got %+v", notifs)
	}
}

func TestContentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "kate@example.com").ID)

	_, err := env.Engine.CreateContentItem(env.Ctx, user, domain.ContentKindNews, "Launch post", false)
	wantKind(t, err, apperr.Unauthorized)

	_, err = env.Engine.CreateContentItem(env.Ctx, admin, "video", "Launch post", false)
	wantKind(t, err, apperr.ValidationError)

	news, err := env.Engine.CreateContentItem(env.Ctx, admin, domain.ContentKindNews, "Launch post", true)
	if err != nil {
		t.Fatal(err)
	}
	published, _, err := env.Engine.TransitionContent(env.Ctx, admin, news.ID, domain.ActionPublish, news.Version)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	// cancel is event-only
	_, _, err = env.Engine.TransitionContent(env.Ctx, admin, news.ID, domain.ActionCancel, published.Version)
	wantKind(t, err, apperr.InvalidTransition)

	archived, _, err := env.Engine.TransitionContent(env.Ctx, admin, news.ID, domain.ActionArchive, published.Version)
	if err != nil || archived.Status != domain.StatusArchived {
		t.Fatalf("archive: %v %+v", err, archived)
	}

	event, err := env.Engine.CreateContentItem(env.Ctx, admin, domain.ContentKindEvent, "Meetup", false)
	if err != nil {
		t.Fatal(err)
	}
	published, _, err = env.Engine.TransitionContent(env.Ctx, admin, event.ID, domain.ActionPublish, event.Version)
	if err != nil {
		t.Fatal(err)
	}
	cancelled, _, err := env.Engine.TransitionContent(env.Ctx, admin, event.ID, domain.ActionCancel, published.Version)
	if err != nil || cancelled.Status != domain.StatusCancelled {
		t.Fatalf("cancel event: %v %+v", err, cancelled)
	}

	// content transitions fan out to nobody
	count, _ := env.Engine.Repo.CountNotificationsForEntity(env.Ctx, string(domain.KindContentItem), event.ID)
	if count != 0 {
		t.Fatalf("expected no content notifications, got %d", count)
	}

	// publish from draft only
	_, _, err = env.Engine.TransitionContent(env.Ctx, admin, event.ID, domain.ActionPublish, cancelled.Version)
	wantKind(t, err, apperr.InvalidTransition)
}

func TestFreshApplicationAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	admin := env.admin(t, "admin@example.com")
	user := env.actor(t, env.account(t, "liam@example.com").ID)

	first, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Liam")
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin, first.ID, domain.ActionReject, first.Version, "spam"); err != nil {
		t.Fatal(err)
	}

	second, err := env.Engine.SubmitCreatorApplication(env.Ctx, user, "Liam")
	if err != nil {
		t.Fatalf("resubmit after rejection: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh application")
	}

	// the latest submission decides the role
	if _, _, err := env.Engine.ModerateApplication(env.Ctx, admin, second.ID, domain.ActionApprove, second.Version, ""); err != nil {
		t.Fatal(err)
	}
	role, _ := env.Engine.EffectiveRole(env.Ctx, user.AccountID)
	if role != domain.RoleCreator {
		t.Fatalf("expected creator from latest application, got %s", role)
	}
}
