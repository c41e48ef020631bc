package server

import (
	"modgate/internal/domain"
)

type CreateAccountRequest struct {
	Email string `json:"email" example:"ada@example.com"`
}

type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

func accountResponse(a domain.Account) AccountResponse {
	return AccountResponse{ID: a.ID, Email: a.Email, CreatedAt: a.CreatedAt}
}

type ProfileResponse struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	Bio          *string `json:"bio,omitempty"`
	CachedStatus string  `json:"cached_status"`
	AdminNotes   *string `json:"admin_notes,omitempty"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at"`
	UpdatedAt    string  `json:"updated_at"`
}

func profileResponse(p domain.Profile) ProfileResponse {
	return ProfileResponse{
		ID:           p.ID,
		AccountID:    p.AccountID,
		Name:         p.Name,
		Bio:          p.Bio,
		CachedStatus: string(p.CachedStatus),
		AdminNotes:   p.AdminNotes,
		Version:      p.Version,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type ApplicationResponse struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	Status          string  `json:"status"`
	SubmittedAt     string  `json:"submitted_at"`
	ApprovedAt      *string `json:"approved_at,omitempty"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func applicationResponse(a domain.CreatorApplication) ApplicationResponse {
	return ApplicationResponse{
		ID:              a.ID,
		AccountID:       a.AccountID,
		Status:          string(a.Status),
		SubmittedAt:     a.SubmittedAt,
		ApprovedAt:      a.ApprovedAt,
		RejectionReason: a.RejectionReason,
		Version:         a.Version,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

func mapApplications(items []domain.CreatorApplication) []ApplicationResponse {
	res := make([]ApplicationResponse, 0, len(items))
	for _, a := range items {
		res = append(res, applicationResponse(a))
	}
	return res
}

type SubmitWorkflowRequest struct {
	ProfileID string `json:"profile_id"`
	Title     string `json:"title"`
	BodyJSON  string `json:"body_json,omitempty"`
}

type WorkflowResponse struct {
	ID              string  `json:"id"`
	OwnerProfileID  string  `json:"owner_profile_id"`
	Title           string  `json:"title"`
	BodyJSON        *string `json:"body_json,omitempty"`
	Status          string  `json:"status"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func workflowResponse(w domain.Workflow) WorkflowResponse {
	return WorkflowResponse{
		ID:              w.ID,
		OwnerProfileID:  w.OwnerProfileID,
		Title:           w.Title,
		BodyJSON:        w.BodyJSON,
		Status:          string(w.Status),
		RejectionReason: w.RejectionReason,
		Version:         w.Version,
		CreatedAt:       w.CreatedAt,
		UpdatedAt:       w.UpdatedAt,
	}
}

func mapWorkflows(items []domain.Workflow) []WorkflowResponse {
	res := make([]WorkflowResponse, 0, len(items))
	for _, w := range items {
		res = append(res, workflowResponse(w))
	}
	return res
}

type CreateContentRequest struct {
	Kind       string `json:"kind" enum:"event,news"`
	Title      string `json:"title"`
	IsFeatured bool   `json:"is_featured,omitempty"`
}

type ContentResponse struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	IsFeatured bool   `json:"is_featured"`
	Version    int64  `json:"version"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func contentResponse(c domain.ContentItem) ContentResponse {
	return ContentResponse{
		ID:         c.ID,
		Kind:       c.Kind,
		Title:      c.Title,
		Status:     string(c.Status),
		IsFeatured: c.IsFeatured,
		Version:    c.Version,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func mapContent(items []domain.ContentItem) []ContentResponse {
	res := make([]ContentResponse, 0, len(items))
	for _, c := range items {
		res = append(res, contentResponse(c))
	}
	return res
}

// ModerateRequest carries the action, the version token read by the caller,
// and the reason required for rejections.
type ModerateRequest struct {
	Action  string `json:"action" enum:"approve,reject"`
	Version int64  `json:"version"`
	Reason  string `json:"reason,omitempty"`
}

type TransitionContentRequest struct {
	Action  string `json:"action" enum:"publish,archive,cancel"`
	Version int64  `json:"version"`
}

type NotificationResponse struct {
	ID                 string `json:"id"`
	RecipientAccountID string `json:"recipient_account_id"`
	Type               string `json:"type"`
	EntityKind         string `json:"entity_kind"`
	EntityID           string `json:"entity_id"`
	ToStatus           string `json:"to_status"`
	Message            string `json:"message"`
	Priority           string `json:"priority"`
	Read               bool   `json:"read"`
	CreatedAt          string `json:"created_at"`
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:                 n.ID,
		RecipientAccountID: n.RecipientAccountID,
		Type:               n.Type,
		EntityKind:         n.EntityKind,
		EntityID:           n.EntityID,
		ToStatus:           string(n.ToStatus),
		Message:            n.Message,
		Priority:           n.Priority,
		Read:               n.Read,
		CreatedAt:          n.CreatedAt,
	}
}

func mapNotifications(items []domain.Notification) []NotificationResponse {
	res := make([]NotificationResponse, 0, len(items))
	for _, n := range items {
		res = append(res, notificationResponse(n))
	}
	return res
}

type TransitionEventResponse struct {
	ID             int64   `json:"id"`
	TS             string  `json:"ts"`
	EntityKind     string  `json:"entity_kind"`
	EntityID       string  `json:"entity_id"`
	Action         string  `json:"action"`
	FromStatus     string  `json:"from_status,omitempty"`
	ToStatus       string  `json:"to_status"`
	ActorAccountID string  `json:"actor_account_id"`
	ActorRole      string  `json:"actor_role"`
	Reason         *string `json:"reason,omitempty"`
}

func transitionResponse(e domain.TransitionEvent) TransitionEventResponse {
	return TransitionEventResponse{
		ID:             e.ID,
		TS:             e.TS,
		EntityKind:     string(e.EntityKind),
		EntityID:       e.EntityID,
		Action:         string(e.Action),
		FromStatus:     string(e.FromStatus),
		ToStatus:       string(e.ToStatus),
		ActorAccountID: e.ActorAccountID,
		ActorRole:      string(e.ActorRole),
		Reason:         e.Reason,
	}
}

func mapTransitions(items []domain.TransitionEvent) []TransitionEventResponse {
	res := make([]TransitionEventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, transitionResponse(e))
	}
	return res
}

type MeResponse struct {
	AccountID string           `json:"account_id"`
	Role      string           `json:"role"`
	Profile   *ProfileResponse `json:"profile,omitempty"`
}
