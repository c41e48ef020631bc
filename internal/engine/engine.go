// Package engine applies guarded state transitions. Every transition runs in a
// single transaction: guard checks, the compare-and-swap status write, derived
// writes (profile cache, notifications) and the audit event commit together or
// not at all.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"modgate/internal/apperr"
	"modgate/internal/config"
	"modgate/internal/domain"
	"modgate/internal/events"
	"modgate/internal/repo"
	"modgate/internal/roles"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Roles  roles.Projector
	Config *config.Config
	Now    func() time.Time
	NewID  func() string
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{DB: db},
		Roles:  roles.Projector{Repo: r},
		Config: cfg,
		Now:    time.Now,
		NewID:  func() string { return uuid.New().String() },
	}
}

// Actor is the resolved caller of an operation: account plus projected role.
type Actor struct {
	AccountID string
	Role      domain.Role
}

func (e Engine) nowStr() string {
	now := e.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID == nil {
		return uuid.New().String()
	}
	return e.NewID()
}

// ApplyRequest asks for one transition on one entity. Version is the token the
// caller read; the write is conditioned on it still matching.
type ApplyRequest struct {
	Actor      Actor
	EntityKind domain.EntityKind
	EntityID   string
	Action     domain.Action
	Version    int64
	Reason     string
}

// Result reports the committed transition. Exactly one of Application,
// Workflow and Content is set, matching the request's entity kind.
type Result struct {
	Event       domain.TransitionEvent
	Application *domain.CreatorApplication
	Workflow    *domain.Workflow
	Content     *domain.ContentItem
}

// Apply runs one moderation transition. Guards run in a fixed order so the
// caller always gets the most specific failure: existence, authorization,
// version, transition legality, then payload. The version guard comes before
// the edge guard: a stale token means the caller decided on an old snapshot,
// and that must surface as a retryable Conflict even when the entity has since
// reached a terminal status.
func (e Engine) Apply(ctx context.Context, req ApplyRequest) (Result, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "begin transaction")
	}
	defer tx.Rollback()

	var res Result
	switch req.EntityKind {
	case domain.KindCreatorApplication:
		res, err = e.applyApplication(ctx, tx, req)
	case domain.KindWorkflow:
		res, err = e.applyWorkflow(ctx, tx, req)
	case domain.KindContentItem:
		res, err = e.applyContent(ctx, tx, req)
	default:
		return Result{}, apperr.New(apperr.ValidationError, "unknown entity kind %q", req.EntityKind)
	}
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "commit transition")
	}
	return res, nil
}

// checkEdge resolves the target status or fails with the allowed actions.
func checkEdge(kind domain.EntityKind, from domain.Status, action domain.Action) (domain.Status, error) {
	to, ok := target(kind, from, action)
	if !ok {
		allowed := allowedActions(kind, from)
		if len(allowed) == 0 {
			return "", apperr.New(apperr.InvalidTransition, "%s in status %s is terminal", kind, from)
		}
		names := make([]string, len(allowed))
		for i, a := range allowed {
			names[i] = string(a)
		}
		return "", apperr.New(apperr.InvalidTransition, "cannot %s a %s in status %s (allowed: %s)",
			action, kind, from, strings.Join(names, ", "))
	}
	return to, nil
}

func requireAdmin(actor Actor, verb string) error {
	if actor.Role != domain.RoleAdmin {
		return apperr.New(apperr.Unauthorized, "%s requires the admin role", verb)
	}
	return nil
}

func checkVersion(given, stored int64) error {
	if given != stored {
		return apperr.New(apperr.Conflict, "version %d is stale, current is %d", given, stored)
	}
	return nil
}

// casErr maps store-level CAS failures onto the error taxonomy.
func casErr(err error, what string) error {
	if errors.Is(err, repo.ErrVersionMismatch) {
		return apperr.Wrap(apperr.Conflict, err, "%s was modified concurrently", what)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, err, "%s disappeared mid-transition", what)
	}
	return apperr.Wrap(apperr.PersistenceError, err, "update %s", what)
}

func (e Engine) applyApplication(ctx context.Context, tx *sql.Tx, req ApplyRequest) (Result, error) {
	a, err := e.Repo.GetApplicationTx(ctx, tx, req.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, apperr.New(apperr.NotFound, "creator application %s not found", req.EntityID)
		}
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "read creator application")
	}
	if err := requireAdmin(req.Actor, "moderating an application"); err != nil {
		return Result{}, err
	}
	if err := checkVersion(req.Version, a.Version); err != nil {
		return Result{}, err
	}
	to, err := checkEdge(domain.KindCreatorApplication, a.Status, req.Action)
	if err != nil {
		return Result{}, err
	}
	if req.Action == domain.ActionReject && strings.TrimSpace(req.Reason) == "" {
		return Result{}, apperr.New(apperr.ValidationError, "rejecting an application requires a reason")
	}

	now := e.nowStr()
	from := a.Status
	a.Status = to
	a.UpdatedAt = now
	switch req.Action {
	case domain.ActionApprove:
		a.ApprovedAt = &now
	case domain.ActionReject:
		a.RejectionReason = &req.Reason
	}
	if err := e.Repo.UpdateApplicationStatusTx(ctx, tx, a, req.Version); err != nil {
		return Result{}, casErr(err, "creator application")
	}
	a.Version = req.Version + 1

	// Keep the profile's cached projection of the latest application in step,
	// inside the same transaction. The cache is display-only; the role
	// projector never reads it.
	p, err := e.Repo.GetProfileByAccountTx(ctx, tx, a.AccountID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "read applicant profile")
	}
	if err := e.Repo.SetProfileCachedStatusTx(ctx, tx, p.ID, to, now); err != nil {
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "sync profile cached status")
	}

	evt, err := e.appendEvent(ctx, tx, domain.TransitionEvent{
		TS:         now,
		EntityKind: domain.KindCreatorApplication,
		EntityID:   a.ID,
		Action:     req.Action,
		FromStatus: from,
		ToStatus:   to,
	}, req.Actor, req.Reason)
	if err != nil {
		return Result{}, err
	}
	if err := e.notify(ctx, tx, evt, fanOutInfo{Reason: req.Reason}, a.AccountID); err != nil {
		return Result{}, err
	}
	return Result{Event: evt, Application: &a}, nil
}

func (e Engine) applyWorkflow(ctx context.Context, tx *sql.Tx, req ApplyRequest) (Result, error) {
	w, err := e.Repo.GetWorkflowTx(ctx, tx, req.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, apperr.New(apperr.NotFound, "workflow %s not found", req.EntityID)
		}
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "read workflow")
	}
	if err := requireAdmin(req.Actor, "moderating a workflow"); err != nil {
		return Result{}, err
	}
	if err := checkVersion(req.Version, w.Version); err != nil {
		return Result{}, err
	}
	to, err := checkEdge(domain.KindWorkflow, w.Status, req.Action)
	if err != nil {
		return Result{}, err
	}
	if req.Action == domain.ActionReject && strings.TrimSpace(req.Reason) == "" {
		return Result{}, apperr.New(apperr.ValidationError, "rejecting a workflow requires a reason")
	}

	now := e.nowStr()
	from := w.Status
	w.Status = to
	w.UpdatedAt = now
	if req.Action == domain.ActionReject {
		w.RejectionReason = &req.Reason
	}
	if err := e.Repo.UpdateWorkflowStatusTx(ctx, tx, w, req.Version); err != nil {
		return Result{}, casErr(err, "workflow")
	}
	w.Version = req.Version + 1

	owner, err := e.Repo.GetProfileTx(ctx, tx, w.OwnerProfileID)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "read workflow owner")
	}

	evt, err := e.appendEvent(ctx, tx, domain.TransitionEvent{
		TS:         now,
		EntityKind: domain.KindWorkflow,
		EntityID:   w.ID,
		Action:     req.Action,
		FromStatus: from,
		ToStatus:   to,
	}, req.Actor, req.Reason)
	if err != nil {
		return Result{}, err
	}
	if err := e.notify(ctx, tx, evt, fanOutInfo{Title: w.Title, Reason: req.Reason}, owner.AccountID); err != nil {
		return Result{}, err
	}
	return Result{Event: evt, Workflow: &w}, nil
}

func (e Engine) applyContent(ctx context.Context, tx *sql.Tx, req ApplyRequest) (Result, error) {
	c, err := e.Repo.GetContentItemTx(ctx, tx, req.EntityID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, apperr.New(apperr.NotFound, "content item %s not found", req.EntityID)
		}
		return Result{}, apperr.Wrap(apperr.PersistenceError, err, "read content item")
	}
	if err := requireAdmin(req.Actor, "transitioning content"); err != nil {
		return Result{}, err
	}
	if err := checkVersion(req.Version, c.Version); err != nil {
		return Result{}, err
	}
	to, err := checkEdge(domain.KindContentItem, c.Status, req.Action)
	if err != nil {
		return Result{}, err
	}
	// cancel is an event-only affordance; news gets archive instead.
	if req.Action == domain.ActionCancel && c.Kind != domain.ContentKindEvent {
		return Result{}, apperr.New(apperr.InvalidTransition, "cannot cancel a %s content item, only events", c.Kind)
	}

	now := e.nowStr()
	from := c.Status
	c.Status = to
	c.UpdatedAt = now
	if err := e.Repo.UpdateContentStatusTx(ctx, tx, c, req.Version); err != nil {
		return Result{}, casErr(err, "content item")
	}
	c.Version = req.Version + 1

	evt, err := e.appendEvent(ctx, tx, domain.TransitionEvent{
		TS:         now,
		EntityKind: domain.KindContentItem,
		EntityID:   c.ID,
		Action:     req.Action,
		FromStatus: from,
		ToStatus:   to,
	}, req.Actor, req.Reason)
	if err != nil {
		return Result{}, err
	}
	// Content transitions fan out to nobody; the event row is the only echo.
	return Result{Event: evt, Content: &c}, nil
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, evt domain.TransitionEvent, actor Actor, reason string) (domain.TransitionEvent, error) {
	evt.ActorAccountID = actor.AccountID
	evt.ActorRole = actor.Role
	if reason != "" {
		evt.Reason = &reason
	}
	out, err := e.Events.Append(ctx, tx, evt)
	if err != nil {
		return evt, apperr.Wrap(apperr.PersistenceError, err, "append transition event")
	}
	return out, nil
}

func (e Engine) notify(ctx context.Context, tx *sql.Tx, evt domain.TransitionEvent, info fanOutInfo, subjectAccountID string) error {
	recipients, err := e.resolveRecipients(ctx, tx, evt.EntityKind, evt.Action, subjectAccountID)
	if err != nil {
		return apperr.Wrap(apperr.PersistenceError, err, "resolve notification recipients")
	}
	info.Recipients = recipients
	if err := e.fanOut(ctx, tx, evt, info); err != nil {
		return apperr.Wrap(apperr.PersistenceError, err, "write notifications")
	}
	return nil
}

// SubmitCreatorApplication opens a new pending application for the actor's own
// account, creating the profile lazily on first activity. At most one pending
// application may exist per account.
func (e Engine) SubmitCreatorApplication(ctx context.Context, actor Actor, name string) (domain.CreatorApplication, error) {
	var zero domain.CreatorApplication
	if _, err := e.Repo.GetAccount(ctx, actor.AccountID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return zero, apperr.New(apperr.NotFound, "account %s not found", actor.AccountID)
		}
		return zero, apperr.Wrap(apperr.PersistenceError, err, "read account")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "begin transaction")
	}
	defer tx.Rollback()

	now := e.nowStr()
	p, err := e.ensureProfileTx(ctx, tx, actor.AccountID, name, now)
	if err != nil {
		return zero, err
	}

	pending, err := e.Repo.PendingApplicationExistsTx(ctx, tx, actor.AccountID)
	if err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "check pending applications")
	}
	if pending {
		return zero, apperr.New(apperr.Conflict, "account %s already has a pending application", actor.AccountID)
	}

	a := domain.CreatorApplication{
		ID:          e.newID(),
		AccountID:   actor.AccountID,
		Status:      domain.StatusPending,
		SubmittedAt: now,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertApplicationTx(ctx, tx, a); err != nil {
		// Two submissions can race past the pending pre-check; the partial
		// unique index is the store-side guard and its rejection is the same
		// caller-visible conflict.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return zero, apperr.Wrap(apperr.Conflict, err, "account %s already has a pending application", actor.AccountID)
		}
		return zero, apperr.Wrap(apperr.PersistenceError, err, "insert application")
	}
	if err := e.Repo.SetProfileCachedStatusTx(ctx, tx, p.ID, domain.StatusPending, now); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "sync profile cached status")
	}

	evt, err := e.appendEvent(ctx, tx, domain.TransitionEvent{
		TS:         now,
		EntityKind: domain.KindCreatorApplication,
		EntityID:   a.ID,
		Action:     domain.ActionSubmit,
		ToStatus:   domain.StatusPending,
	}, actor, "")
	if err != nil {
		return zero, err
	}
	if err := e.notify(ctx, tx, evt, fanOutInfo{}, actor.AccountID); err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "commit submission")
	}
	return a, nil
}

// SubmitWorkflow creates a pending workflow owned by the given profile. Only
// the owning account may submit, and only while it projects to creator (or
// admin).
func (e Engine) SubmitWorkflow(ctx context.Context, actor Actor, profileID, title, bodyJSON string) (domain.Workflow, error) {
	var zero domain.Workflow
	if strings.TrimSpace(title) == "" {
		return zero, apperr.New(apperr.ValidationError, "workflow title is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "begin transaction")
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProfileTx(ctx, tx, profileID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return zero, apperr.New(apperr.NotFound, "profile %s not found", profileID)
		}
		return zero, apperr.Wrap(apperr.PersistenceError, err, "read profile")
	}
	if p.AccountID != actor.AccountID {
		return zero, apperr.New(apperr.Unauthorized, "profile %s is not owned by the caller", profileID)
	}
	if actor.Role != domain.RoleCreator && actor.Role != domain.RoleAdmin {
		return zero, apperr.New(apperr.Unauthorized, "submitting workflows requires an approved creator application")
	}

	now := e.nowStr()
	w := domain.Workflow{
		ID:             e.newID(),
		OwnerProfileID: profileID,
		Title:          title,
		Status:         domain.StatusPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if bodyJSON != "" {
		w.BodyJSON = &bodyJSON
	}
	if err := e.Repo.InsertWorkflowTx(ctx, tx, w); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "insert workflow")
	}

	evt, err := e.appendEvent(ctx, tx, domain.TransitionEvent{
		TS:         now,
		EntityKind: domain.KindWorkflow,
		EntityID:   w.ID,
		Action:     domain.ActionSubmit,
		ToStatus:   domain.StatusPending,
	}, actor, "")
	if err != nil {
		return zero, err
	}
	if err := e.notify(ctx, tx, evt, fanOutInfo{Title: w.Title}, actor.AccountID); err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "commit submission")
	}
	return w, nil
}

// ModerateApplication approves or rejects a pending creator application.
func (e Engine) ModerateApplication(ctx context.Context, actor Actor, id string, action domain.Action, version int64, reason string) (domain.CreatorApplication, domain.TransitionEvent, error) {
	res, err := e.Apply(ctx, ApplyRequest{
		Actor:      actor,
		EntityKind: domain.KindCreatorApplication,
		EntityID:   id,
		Action:     action,
		Version:    version,
		Reason:     reason,
	})
	if err != nil {
		return domain.CreatorApplication{}, domain.TransitionEvent{}, err
	}
	return *res.Application, res.Event, nil
}

// ModerateWorkflow approves or rejects a pending workflow.
func (e Engine) ModerateWorkflow(ctx context.Context, actor Actor, id string, action domain.Action, version int64, reason string) (domain.Workflow, domain.TransitionEvent, error) {
	res, err := e.Apply(ctx, ApplyRequest{
		Actor:      actor,
		EntityKind: domain.KindWorkflow,
		EntityID:   id,
		Action:     action,
		Version:    version,
		Reason:     reason,
	})
	if err != nil {
		return domain.Workflow{}, domain.TransitionEvent{}, err
	}
	return *res.Workflow, res.Event, nil
}

// TransitionContent moves a content item through its lifecycle.
func (e Engine) TransitionContent(ctx context.Context, actor Actor, id string, action domain.Action, version int64) (domain.ContentItem, domain.TransitionEvent, error) {
	res, err := e.Apply(ctx, ApplyRequest{
		Actor:      actor,
		EntityKind: domain.KindContentItem,
		EntityID:   id,
		Action:     action,
		Version:    version,
	})
	if err != nil {
		return domain.ContentItem{}, domain.TransitionEvent{}, err
	}
	return *res.Content, res.Event, nil
}

// CreateContentItem adds a draft content item. Drafting is not a transition, so
// no event or notification is produced.
func (e Engine) CreateContentItem(ctx context.Context, actor Actor, kind, title string, isFeatured bool) (domain.ContentItem, error) {
	var zero domain.ContentItem
	if err := requireAdmin(actor, "creating content"); err != nil {
		return zero, err
	}
	if kind != domain.ContentKindEvent && kind != domain.ContentKindNews {
		return zero, apperr.New(apperr.ValidationError, "content kind must be event or news, got %q", kind)
	}
	if strings.TrimSpace(title) == "" {
		return zero, apperr.New(apperr.ValidationError, "content title is required")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "begin transaction")
	}
	defer tx.Rollback()

	now := e.nowStr()
	c := domain.ContentItem{
		ID:         e.newID(),
		Kind:       kind,
		Title:      title,
		Status:     domain.StatusDraft,
		IsFeatured: isFeatured,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertContentItemTx(ctx, tx, c); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "insert content item")
	}
	if err := tx.Commit(); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "commit content item")
	}
	return c, nil
}

// CreateAccount registers an account. Email uniqueness is store-enforced.
func (e Engine) CreateAccount(ctx context.Context, email string) (domain.Account, error) {
	var zero domain.Account
	if strings.TrimSpace(email) == "" || !strings.Contains(email, "@") {
		return zero, apperr.New(apperr.ValidationError, "a valid email is required")
	}
	a := domain.Account{
		ID:        e.newID(),
		Email:     email,
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAccount(ctx, a); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return zero, apperr.Wrap(apperr.Conflict, err, "email %s is already registered", email)
		}
		return zero, apperr.Wrap(apperr.PersistenceError, err, "insert account")
	}
	return a, nil
}

// EnsureProfile returns the account's profile, creating it on first use.
func (e Engine) EnsureProfile(ctx context.Context, accountID, name string) (domain.Profile, error) {
	var zero domain.Profile
	if _, err := e.Repo.GetAccount(ctx, accountID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return zero, apperr.New(apperr.NotFound, "account %s not found", accountID)
		}
		return zero, apperr.Wrap(apperr.PersistenceError, err, "read account")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "begin transaction")
	}
	defer tx.Rollback()
	p, err := e.ensureProfileTx(ctx, tx, accountID, name, e.nowStr())
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, apperr.Wrap(apperr.PersistenceError, err, "commit profile")
	}
	return p, nil
}

func (e Engine) ensureProfileTx(ctx context.Context, tx *sql.Tx, accountID, name, now string) (domain.Profile, error) {
	p, err := e.Repo.GetProfileByAccountTx(ctx, tx, accountID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return p, apperr.Wrap(apperr.PersistenceError, err, "read profile")
	}
	p = domain.Profile{
		ID:           e.newID(),
		AccountID:    accountID,
		Name:         name,
		CachedStatus: domain.StatusDraft,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertProfileTx(ctx, tx, p); err != nil {
		return p, apperr.Wrap(apperr.PersistenceError, err, "insert profile")
	}
	return p, nil
}

// EffectiveRole exposes the role projection to callers holding an Engine.
func (e Engine) EffectiveRole(ctx context.Context, accountID string) (domain.Role, error) {
	return e.Roles.EffectiveRole(ctx, accountID)
}
