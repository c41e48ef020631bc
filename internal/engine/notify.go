package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"modgate/internal/domain"
)

// Fan-out: one notification per resolved recipient, created inside the same
// transaction as the state write. Duplicate suppression is the store's unique
// index on (entity_kind, entity_id, to_status, recipient), not engine state.

var notificationTypes = map[string]string{
	"creator_application.submit":  "creator_application_submitted",
	"creator_application.approve": "creator_application_approved",
	"creator_application.reject":  "creator_application_rejected",
	"workflow.submit":             "workflow_submitted",
	"workflow.approve":            "workflow_approved",
	"workflow.reject":             "workflow_rejected",
}

var defaultTemplates = map[string]string{
	"creator_application.submit":  "New creator application awaiting review.",
	"creator_application.approve": "Your creator application has been approved.",
	"creator_application.reject":  "Your creator application was rejected: {reason}",
	"workflow.submit":             `New workflow "{title}" awaiting review.`,
	"workflow.approve":            `Your workflow "{title}" has been approved.`,
	"workflow.reject":             `Your workflow "{title}" was rejected: {reason}`,
}

var notificationPriorities = map[domain.Action]string{
	domain.ActionSubmit:  domain.PriorityMedium,
	domain.ActionApprove: domain.PriorityHigh,
	domain.ActionReject:  domain.PriorityHigh,
}

type fanOutInfo struct {
	Recipients []string
	Title      string
	Reason     string
}

func (e Engine) renderMessage(kind domain.EntityKind, action domain.Action, info fanOutInfo) (string, string, error) {
	key := fmt.Sprintf("%s.%s", kind, action)
	typ, ok := notificationTypes[key]
	if !ok {
		return "", "", fmt.Errorf("no notification template for %s", key)
	}
	tmpl := defaultTemplates[key]
	if e.Config != nil {
		if override, ok := e.Config.Notifications.Templates[key]; ok {
			tmpl = override
		}
	}
	msg := strings.NewReplacer("{title}", info.Title, "{reason}", info.Reason).Replace(tmpl)
	return typ, msg, nil
}

// fanOut inserts one notification per recipient for a committed transition.
func (e Engine) fanOut(ctx context.Context, tx *sql.Tx, evt domain.TransitionEvent, info fanOutInfo) error {
	if len(info.Recipients) == 0 {
		return nil
	}
	typ, msg, err := e.renderMessage(evt.EntityKind, evt.Action, info)
	if err != nil {
		return err
	}
	priority := notificationPriorities[evt.Action]
	if priority == "" {
		priority = domain.PriorityMedium
	}
	for _, recipient := range info.Recipients {
		n := domain.Notification{
			ID:                 e.newID(),
			RecipientAccountID: recipient,
			Type:               typ,
			EntityKind:         string(evt.EntityKind),
			EntityID:           evt.EntityID,
			ToStatus:           evt.ToStatus,
			Message:            msg,
			Priority:           priority,
			CreatedAt:          evt.TS,
		}
		if err := e.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

// recipients for a moderation result or submission, per transition kind.
// Content items are internal-only and fan out to nobody.
func (e Engine) resolveRecipients(ctx context.Context, tx *sql.Tx, kind domain.EntityKind, action domain.Action, subjectAccountID string) ([]string, error) {
	switch kind {
	case domain.KindContentItem:
		return nil, nil
	case domain.KindCreatorApplication, domain.KindWorkflow:
		if action == domain.ActionSubmit {
			return e.Repo.ListAdminAccountIDsTx(ctx, tx)
		}
		return []string{subjectAccountID}, nil
	default:
		return nil, nil
	}
}
