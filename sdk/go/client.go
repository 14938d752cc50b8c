package memtechsdk

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

// Client is a minimal memtech HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// User represents the API user model (partial).
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

// Project represents a tender response.
type Project struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Status            string     `json:"status"`
	OfferDeliveryDate string     `json:"offer_delivery_date,omitempty"`
	CreatedBy         string     `json:"created_by"`
	CreatedAt         string     `json:"created_at"`
	Documents         []Document `json:"documents,omitempty"`
}

// Document represents one required document of a project.
type Document struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	DocumentType         string  `json:"document_type"`
	Status               string  `json:"status"`
	Content              string  `json:"content"`
	WriterID             string  `json:"writer_id,omitempty"`
	ReviewerID           string  `json:"reviewer_id,omitempty"`
	CompletionPercentage float64 `json:"completion_percentage"`
	ReviewCycle          int     `json:"review_cycle"`
	NeedsCorrection      bool    `json:"needs_correction"`
}

// Comment represents a review comment.
type Comment struct {
	ID                 string `json:"id"`
	DocumentID         string `json:"document_id"`
	AuthorID           string `json:"author_id"`
	Content            string `json:"content"`
	ReviewCycle        int    `json:"review_cycle"`
	RequiresCorrection bool   `json:"requires_correction"`
	Resolved           bool   `json:"resolved"`
}

// Progress summarizes a project's workflow.
type Progress struct {
	Project    Project        `json:"project"`
	Completion float64        `json:"completion"`
	Total      int            `json:"total"`
	Approved   int            `json:"approved"`
	ByStatus   map[string]int `json:"by_status"`
	Documents  []Document     `json:"documents"`
}

// History is the audit trail of a document.
type History struct {
	Document Document `json:"document"`
	History  []struct {
		FromStatus string `json:"from_status"`
		ToStatus   string `json:"to_status"`
		UserID     string `json:"user_id"`
		CreatedAt  string `json:"created_at"`
	} `json:"history"`
	Comments []Comment `json:"comments"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Login exchanges credentials for a session token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Logout revokes the current session token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "auth/logout", nil, nil); err != nil {
		return err
	}
	c.BearerToken = ""
	return nil
}

// CreateProject creates a project; empty types select the mandatory catalog entries.
func (c *Client) CreateProject(ctx context.Context, name string, documentTypes []string) (Project, error) {
	body := map[string]any{"name": name}
	if len(documentTypes) > 0 {
		body["document_types"] = documentTypes
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// Projects lists projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// Progress returns completion figures for a project.
func (c *Client) Progress(ctx context.Context, projectID string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%s/progress", url.PathEscape(projectID)), nil, &resp)
	return resp, err
}

// Transition moves a document to status.
func (c *Client) Transition(ctx context.Context, documentID, status string) (Document, error) {
	var resp Document
	endpoint := fmt.Sprintf("documents/%s/transition", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Assign sets writer and reviewer; empty ids leave the role unchanged.
func (c *Client) Assign(ctx context.Context, documentID, writerID, reviewerID string) (Document, error) {
	body := map[string]any{}
	if writerID != "" {
		body["writer_id"] = writerID
	}
	if reviewerID != "" {
		body["reviewer_id"] = reviewerID
	}
	var resp Document
	endpoint := fmt.Sprintf("documents/%s/assignment", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp, err
}

// AddComment comments on a document.
func (c *Client) AddComment(ctx context.Context, documentID, content string, requiresCorrection bool) (Comment, error) {
	body := map[string]any{"content": content, "requires_correction": requiresCorrection}
	var resp Comment
	endpoint := fmt.Sprintf("documents/%s/comments", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ResolveComment marks a comment resolved.
func (c *Client) ResolveComment(ctx context.Context, commentID string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("comments/%s/resolve", url.PathEscape(commentID)), nil, &resp)
	return resp, err
}

// History returns status changes and comments of a document.
func (c *Client) History(ctx context.Context, documentID string) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("documents/%s/history", url.PathEscape(documentID)), nil, &resp)
	return resp, err
}

// Events returns recent events of a project.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("projects/%s/events", url.PathEscape(projectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.BasePath, "/")
}
