// Package asana implements the source.Provider contract against the Asana
// REST API.
package asana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"

	"github.com/lumenhq/taskpilot/internal/source"
)

const (
	defaultBaseURL = "https://app.asana.com/api/1.0"
	pageLimit      = 100

	projectOptFields = "name,notes,team.gid,team.name,custom_fields.name,custom_fields.display_value"
	taskOptFields    = "name,notes,completed,num_subtasks,assignee.gid,assignee.email"
)

// Client is a read-only Asana API client bound to one access token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API root (tests, mocks).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithMaxRetries bounds the retry budget for rate-limited or failed calls.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// NewClient creates a client for the given personal access token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type page struct {
	Data     json.RawMessage `json:"data"`
	NextPage *struct {
		Offset string `json:"offset"`
	} `json:"next_page"`
}

// get performs one API call with bounded retry. Rate limits (429), server
// errors and transport failures are retried with exponential backoff; auth
// failures abort immediately as ErrUnauthorized.
func (c *Client) get(ctx context.Context, path string, query url.Values) (page, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var result page
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%w: request %s: %v", errTransient, path, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%w: read response for %s: %v", errTransient, path, err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return backoff.Permanent(fmt.Errorf("%w: %s returned %d", source.ErrUnauthorized, path, resp.StatusCode))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return fmt.Errorf("%w: %s returned %d", errTransient, path, resp.StatusCode)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body, 200)))
		}

		if err := json.Unmarshal(body, &result); err != nil {
			return backoff.Permanent(fmt.Errorf("parse response for %s: %w", path, err))
		}
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newRetryBackoff(), c.maxRetries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		if errors.Is(err, errTransient) {
			return page{}, fmt.Errorf("%w: %v", source.ErrSourceUnavailable, err)
		}
		return page{}, err
	}
	return result, nil
}

// errTransient tags retryable failures so exhausted retries can surface as
// ErrSourceUnavailable while permanent API errors pass through untouched.
var errTransient = errors.New("transient source error")

func newRetryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 2 * time.Minute
	return bo
}

// getAll follows offset pagination until the collection is exhausted.
func (c *Client) getAll(ctx context.Context, path string, query url.Values, collect func(json.RawMessage) error) error {
	if query == nil {
		query = url.Values{}
	}
	query.Set("limit", fmt.Sprintf("%d", pageLimit))
	for {
		result, err := c.get(ctx, path, query)
		if err != nil {
			return err
		}
		if err := collect(result.Data); err != nil {
			return err
		}
		if result.NextPage == nil || result.NextPage.Offset == "" {
			return nil
		}
		query.Set("offset", result.NextPage.Offset)
	}
}

// TestConnection verifies the token by fetching the authenticated user.
func (c *Client) TestConnection(ctx context.Context) (source.Identity, error) {
	result, err := c.get(ctx, "/users/me", url.Values{"opt_fields": []string{"name,email"}})
	if err != nil {
		return source.Identity{}, err
	}
	var me struct {
		GID   string `json:"gid"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(result.Data, &me); err != nil {
		return source.Identity{}, fmt.Errorf("parse identity: %w", err)
	}
	return source.Identity{GID: me.GID, Name: me.Name, Email: me.Email}, nil
}

// ListWorkspaces returns the workspaces visible to the token.
func (c *Client) ListWorkspaces(ctx context.Context) ([]source.Workspace, error) {
	var workspaces []source.Workspace
	err := c.getAll(ctx, "/workspaces", nil, func(data json.RawMessage) error {
		var pageItems []struct {
			GID  string `json:"gid"`
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &pageItems); err != nil {
			return fmt.Errorf("parse workspaces: %w", err)
		}
		for _, item := range pageItems {
			workspaces = append(workspaces, source.Workspace{GID: item.GID, Name: item.Name})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return workspaces, nil
}

type apiProject struct {
	GID   string `json:"gid"`
	Name  string `json:"name"`
	Notes string `json:"notes"`
	Team  *struct {
		GID  string `json:"gid"`
		Name string `json:"name"`
	} `json:"team"`
	CustomFields []struct {
		Name         string `json:"name"`
		DisplayValue string `json:"display_value"`
	} `json:"custom_fields"`
}

func (p apiProject) toSource() source.Project {
	project := source.Project{
		GID:          p.GID,
		Name:         p.Name,
		Notes:        p.Notes,
		CustomFields: map[string]string{},
	}
	if p.Team != nil {
		project.TeamGID = p.Team.GID
		project.TeamName = p.Team.Name
	}
	for _, field := range p.CustomFields {
		if field.Name != "" {
			project.CustomFields[field.Name] = field.DisplayValue
		}
	}
	return project
}

// ListProjects returns the projects in an external workspace.
func (c *Client) ListProjects(ctx context.Context, workspaceGID string) ([]source.Project, error) {
	query := url.Values{
		"workspace":  []string{workspaceGID},
		"opt_fields": []string{projectOptFields},
	}
	var projects []source.Project
	err := c.getAll(ctx, "/projects", query, func(data json.RawMessage) error {
		var pageItems []apiProject
		if err := json.Unmarshal(data, &pageItems); err != nil {
			return fmt.Errorf("parse projects: %w", err)
		}
		for _, item := range pageItems {
			projects = append(projects, item.toSource())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

type apiTask struct {
	GID         string `json:"gid"`
	Name        string `json:"name"`
	Notes       string `json:"notes"`
	Completed   bool   `json:"completed"`
	NumSubtasks int    `json:"num_subtasks"`
	Assignee    *struct {
		GID   string `json:"gid"`
		Email string `json:"email"`
	} `json:"assignee"`
}

func (t apiTask) toSource() source.Task {
	task := source.Task{
		GID:         t.GID,
		Name:        t.Name,
		Notes:       t.Notes,
		Completed:   t.Completed,
		NumSubtasks: t.NumSubtasks,
	}
	if t.Assignee != nil {
		task.AssigneeGID = t.Assignee.GID
		task.AssigneeEmail = t.Assignee.Email
	}
	return task
}

// ListTasks returns a project's top-level tasks with one level of subtasks
// attached. Subtasks that report children of their own keep NumSubtasks set;
// the pipeline fails closed on that depth rather than descending.
func (c *Client) ListTasks(ctx context.Context, projectGID string) ([]source.Task, error) {
	tasks, err := c.listTaskPage(ctx, "/tasks", url.Values{"project": []string{projectGID}})
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].NumSubtasks == 0 {
			continue
		}
		subtasks, err := c.listTaskPage(ctx, fmt.Sprintf("/tasks/%s/subtasks", tasks[i].GID), nil)
		if err != nil {
			return nil, err
		}
		tasks[i].Subtasks = subtasks
	}
	return tasks, nil
}

func (c *Client) listTaskPage(ctx context.Context, path string, query url.Values) ([]source.Task, error) {
	if query == nil {
		query = url.Values{}
	}
	query.Set("opt_fields", taskOptFields)
	var tasks []source.Task
	err := c.getAll(ctx, path, query, func(data json.RawMessage) error {
		var pageItems []apiTask
		if err := json.Unmarshal(data, &pageItems); err != nil {
			return fmt.Errorf("parse tasks: %w", err)
		}
		for _, item := range pageItems {
			tasks = append(tasks, item.toSource())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	// Back up so the cut never splits a multi-byte rune.
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}
