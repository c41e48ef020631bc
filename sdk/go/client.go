package modgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Modgate HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Account struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

type Profile struct {
	ID           string `json:"id"`
	AccountID    string `json:"account_id"`
	Name         string `json:"name"`
	CachedStatus string `json:"cached_status"`
	Version      int64  `json:"version"`
}

type Application struct {
	ID              string  `json:"id"`
	AccountID       string  `json:"account_id"`
	Status          string  `json:"status"`
	SubmittedAt     string  `json:"submitted_at"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
}

type Workflow struct {
	ID              string  `json:"id"`
	OwnerProfileID  string  `json:"owner_profile_id"`
	Title           string  `json:"title"`
	Status          string  `json:"status"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	Version         int64   `json:"version"`
}

type ContentItem struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Title      string `json:"title"`
	Status     string `json:"status"`
	IsFeatured bool   `json:"is_featured"`
	Version    int64  `json:"version"`
}

type Notification struct {
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

type Me struct {
	AccountID string   `json:"account_id"`
	Role      string   `json:"role"`
	Profile   *Profile `json:"profile,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAccount registers a new account.
func (c *Client) CreateAccount(ctx context.Context, email string) (Account, error) {
	var resp Account
	err := c.do(ctx, http.MethodPost, "v0/accounts", map[string]any{"email": email}, &resp)
	return resp, err
}

// Me returns the calling account with its projected role.
func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "v0/me", nil, &resp)
	return resp, err
}

// SubmitApplication opens a creator application for the calling account.
func (c *Client) SubmitApplication(ctx context.Context, name string) (Application, error) {
	var resp Application
	err := c.do(ctx, http.MethodPost, "v0/applications", map[string]any{"name": name}, &resp)
	return resp, err
}

// ModerateApplication approves or rejects an application at the given version.
func (c *Client) ModerateApplication(ctx context.Context, id, action string, version int64, reason string) (Application, error) {
	body := map[string]any{"action": action, "version": version}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Application
	endpoint := fmt.Sprintf("v0/applications/%s/moderate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SubmitWorkflow submits a workflow owned by the given profile.
func (c *Client) SubmitWorkflow(ctx context.Context, profileID, title, bodyJSON string) (Workflow, error) {
	body := map[string]any{"profile_id": profileID, "title": title}
	if bodyJSON != "" {
		body["body_json"] = bodyJSON
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v0/workflows", body, &resp)
	return resp, err
}

// ModerateWorkflow approves or rejects a workflow at the given version.
func (c *Client) ModerateWorkflow(ctx context.Context, id, action string, version int64, reason string) (Workflow, error) {
	body := map[string]any{"action": action, "version": version}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Workflow
	endpoint := fmt.Sprintf("v0/workflows/%s/moderate", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TransitionContent publishes, archives or cancels a content item.
func (c *Client) TransitionContent(ctx context.Context, id, action string, version int64) (ContentItem, error) {
	body := map[string]any{"action": action, "version": version}
	var resp ContentItem
	endpoint := fmt.Sprintf("v0/content/%s/transition", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Notifications lists the calling account's notifications.
func (c *Client) Notifications(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	endpoint := "v0/notifications"
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkNotificationRead flips a notification's read flag.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	endpoint := fmt.Sprintf("v0/notifications/%s/read", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
