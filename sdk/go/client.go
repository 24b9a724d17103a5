package branchlinesdk

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

// Client is a minimal Branchline HTTP API client.
type Client struct {
	BaseURL     string
	ActorID     string
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

// Project represents the API project model.
type Project struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	ClientID string   `json:"client_id,omitempty"`
	Branch   string   `json:"branch"`
	Status   string   `json:"status"`
	Members  []string `json:"members"`
}

// Task represents the API task model.
type Task struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	CommentsCount int      `json:"comments_count"`
	AllowedNext   []string `json:"allowed_next"`
}

// Comment represents a task comment.
type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

// Activity represents an audit trail record.
type Activity struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts"`
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	TaskID      string `json:"task_id,omitempty"`
	ActorID     string `json:"actor_id,omitempty"`
	Description string `json:"description"`
}

// ProjectStatus is the derived status summary.
type ProjectStatus struct {
	ProjectID  string         `json:"project_id"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	TaskCounts map[string]int `json:"task_counts"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, clientID string, members []string) (Project, error) {
	body := map[string]any{
		"name":      name,
		"client_id": clientID,
		"members":   members,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp)
	return resp, err
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	endpoint := fmt.Sprintf("v1/projects/%s/tasks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetTaskStatus moves a task through the workflow.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	endpoint := fmt.Sprintf("v1/tasks/%s", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddComment appends a comment to a task.
func (c *Client) AddComment(ctx context.Context, taskID, body string) (Comment, error) {
	var resp Comment
	endpoint := fmt.Sprintf("v1/tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"body": body}, &resp)
	return resp, err
}

// Comments lists a task's comments in reading order.
func (c *Client) Comments(ctx context.Context, taskID string) ([]Comment, error) {
	var resp []Comment
	endpoint := fmt.Sprintf("v1/tasks/%s/comments", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Activity returns a project's audit trail, newest first.
func (c *Client) Activity(ctx context.Context, projectID string, limit int) ([]Activity, error) {
	endpoint := fmt.Sprintf("v1/projects/%s/activity", url.PathEscape(projectID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Status returns the derived project status and progress.
func (c *Client) Status(ctx context.Context, projectID string) (ProjectStatus, error) {
	var resp ProjectStatus
	endpoint := fmt.Sprintf("v1/projects/%s/status", url.PathEscape(projectID))
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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
