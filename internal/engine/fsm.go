package engine

import (
	"modgate/internal/domain"
)

// The legal moves for every moderated entity kind live in one declarative edge
// table; Apply consults nothing else to decide whether a transition exists.
type edge struct {
	From   domain.Status
	Action domain.Action
}

var transitions = map[domain.EntityKind]map[edge]domain.Status{
	domain.KindCreatorApplication: {
		{domain.StatusPending, domain.ActionApprove}: domain.StatusApproved,
		{domain.StatusPending, domain.ActionReject}:  domain.StatusRejected,
		// approved/rejected are terminal: a fresh application is the only
		// way back to pending.
	},
	domain.KindWorkflow: {
		{domain.StatusPending, domain.ActionApprove}: domain.StatusApproved,
		{domain.StatusPending, domain.ActionReject}:  domain.StatusRejected,
	},
	domain.KindContentItem: {
		{domain.StatusDraft, domain.ActionPublish}:     domain.StatusPublished,
		{domain.StatusPublished, domain.ActionArchive}: domain.StatusArchived,
		// cancel additionally requires kind=event; Apply enforces that.
		{domain.StatusPublished, domain.ActionCancel}: domain.StatusCancelled,
	},
}

// target resolves the FSM edge for (kind, from, action).
func target(kind domain.EntityKind, from domain.Status, action domain.Action) (domain.Status, bool) {
	edges, ok := transitions[kind]
	if !ok {
		return "", false
	}
	to, ok := edges[edge{From: from, Action: action}]
	return to, ok
}

// allowedActions returns the actions legal from the given status, for error
// detail and for the API to render affordances.
func allowedActions(kind domain.EntityKind, from domain.Status) []domain.Action {
	var actions []domain.Action
	for e := range transitions[kind] {
		if e.From == from {
			actions = append(actions, e.Action)
		}
	}
	return actions
}
