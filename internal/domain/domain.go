package domain

// Role is derived from admin membership and application history, never stored.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCreator Role = "creator"
	RoleUser    Role = "user"
)

type EntityKind string

const (
	KindCreatorApplication EntityKind = "creator_application"
	KindWorkflow           EntityKind = "workflow"
	KindContentItem        EntityKind = "content_item"
	KindProfile            EntityKind = "profile"
	KindNotification       EntityKind = "notification"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
	StatusCancelled Status = "cancelled"
)

type Action string

const (
	ActionSubmit  Action = "submit"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionPublish Action = "publish"
	ActionArchive Action = "archive"
	ActionCancel  Action = "cancel"
)

const (
	ContentKindEvent = "event"
	ContentKindNews  = "news"
)

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Profile is created lazily on first account activity. CachedStatus mirrors the
// account's latest creator application and is written only by the engine,
// inside the same transaction as the application transition.
type Profile struct {
	ID           string  `json:"id"`
	AccountID    string  `json:"account_id"`
	Name         string  `json:"name"`
	Bio          *string `json:"bio,omitempty"`
	CachedStatus Status  `json:"cached_status" enum:"draft,pending,approved,rejected"`
	AdminNotes   *string `json:"admin_notes,omitempty"`
	Version      int64   `json:"version"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// CreatorApplication is append-style history; only the most recently submitted
// one per account is active. At most one may be pending at a time.
type CreatorApplication struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	Status          Status  `json:"status" enum:"pending,approved,rejected"`
	SubmittedAt     string  `json:"submitted_at" format:"date-time"`
	ApprovedAt      *string `json:"approved_at,omitempty" format:"date-time"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type Workflow struct {
	ID              string  `json:"id"`
	OwnerProfileID  string  `json:"owner_profile_id"`
	Title           string  `json:"title"`
	BodyJSON        *string `json:"body_json,omitempty"`
	Status          Status  `json:"status" enum:"pending,approved,rejected"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type ContentItem struct {
	ID         string `json:"id"`
	Kind       string `json:"kind" enum:"event,news"`
	Title      string `json:"title"`
	Status     Status `json:"status" enum:"draft,published,archived,cancelled"`
	IsFeatured bool   `json:"is_featured"`
	Version    int64  `json:"version"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

// Notification is immutable once created except the Read flag. Rows are created
// only by the fan-out as a side effect of a committed transition.
type Notification struct {
	ID                 string `json:"id"`
	RecipientAccountID string `json:"recipient_account_id"`
	Type               string `json:"type"`
	EntityKind         string `json:"entity_kind"`
	EntityID           string `json:"entity_id"`
	ToStatus           Status `json:"to_status"`
	Message            string `json:"message"`
	Priority           string `json:"priority" enum:"low,medium,high"`
	Read               bool   `json:"read"`
	CreatedAt          string `json:"created_at" format:"date-time"`
}

// TransitionEvent records one committed transition; rows feed the audit log and
// webhook dispatch.
type TransitionEvent struct {
	ID             int64      `json:"id"`
	TS             string     `json:"ts" format:"date-time"`
	EntityKind     EntityKind `json:"entity_kind"`
	EntityID       string     `json:"entity_id"`
	Action         Action     `json:"action"`
	FromStatus     Status     `json:"from_status"`
	ToStatus       Status     `json:"to_status"`
	ActorAccountID string     `json:"actor_account_id"`
	ActorRole      Role       `json:"actor_role"`
	Reason         *string    `json:"reason,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
