// Package client is a small Go SDK for asynx's REST facade, generalized
// from asynx-client's TaskQueueClient (Python) to idiomatic Go: explicit
// context, typed errors, and the tasks.Descriptor/tasks.View wire types
// shared with the server instead of ad-hoc dictionaries.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asynxgo/asynx/pkg/tasks"
)

// ResponseError mirrors the facade's error envelope
// ({request_uri, error_code, error_desc, error_detail}).
type ResponseError struct {
	RequestURI  string `json:"request_uri"`
	ErrorCode   int    `json:"error_code"`
	ErrorDesc   string `json:"error_desc"`
	ErrorDetail string `json:"error_detail"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.ErrorDesc, e.ErrorCode, e.ErrorDetail)
}

// ServerError means the facade responded with a non-JSON body.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server responded %d with a non-JSON body", e.StatusCode)
}

// Client talks to one asynx app's REST facade.
type Client struct {
	baseURL string
	appName string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-API-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient overrides the client's default timeout and transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client for app appName against baseURL (the facade's
// origin, e.g. "https://asynx.example.com").
func New(baseURL, appName string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		appName: appName,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) restURL(queue, suffix string) string {
	return fmt.Sprintf("%s/apps/%s/taskqueues/%s/tasks%s", c.baseURL, c.appName, queue, suffix)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return c.http.Do(req)
}

// handleErrors decodes the facade's error envelope for any non-2xx
// response, mirroring asynx_client.TaskQueueClient._handle_errors.
func handleErrors(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		return &ServerError{StatusCode: resp.StatusCode}
	}
	var rerr ResponseError
	if err := json.NewDecoder(resp.Body).Decode(&rerr); err != nil {
		return &ServerError{StatusCode: resp.StatusCode}
	}
	return &rerr
}

// TaskList is the response shape of ListTasks.
type TaskList struct {
	Total int64         `json:"total"`
	Items []*tasks.View `json:"items"`
}

// ListTasks lists non-deleted tasks in queue, paged by offset/limit
// (limit is always sent as given and the server clamps it to [0,200]).
func (c *Client) ListTasks(ctx context.Context, queue string, offset, limit int64) (*TaskList, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("limit", strconv.FormatInt(limit, 10))

	resp, err := c.do(ctx, http.MethodGet, c.restURL(queue, "")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := handleErrors(resp); err != nil {
		return nil, err
	}
	var list TaskList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("client: decode task list: %w", err)
	}
	return &list, nil
}

// AddTask inserts d into queue and returns the stored task's view.
func (c *Client) AddTask(ctx context.Context, queue string, d *tasks.Descriptor) (*tasks.View, error) {
	resp, err := c.do(ctx, http.MethodPost, c.restURL(queue, ""), d)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := handleErrors(resp); err != nil {
		return nil, err
	}
	var view tasks.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("client: decode task: %w", err)
	}
	return &view, nil
}

// GetTaskByID fetches a task by its numeric id.
func (c *Client) GetTaskByID(ctx context.Context, queue string, id int64) (*tasks.View, error) {
	return c.getTask(ctx, queue, "id:"+strconv.FormatInt(id, 10))
}

// GetTaskByUUID fetches a task by its broker-assigned uuid.
func (c *Client) GetTaskByUUID(ctx context.Context, queue, uuid string) (*tasks.View, error) {
	return c.getTask(ctx, queue, "uuid:"+uuid)
}

// GetTaskByCName fetches a task by its custom name.
func (c *Client) GetTaskByCName(ctx context.Context, queue, cname string) (*tasks.View, error) {
	return c.getTask(ctx, queue, "cname:"+cname)
}

func (c *Client) getTask(ctx context.Context, queue, ident string) (*tasks.View, error) {
	resp, err := c.do(ctx, http.MethodGet, c.restURL(queue, "/"+ident), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := handleErrors(resp); err != nil {
		return nil, err
	}
	var view tasks.View
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, fmt.Errorf("client: decode task: %w", err)
	}
	return &view, nil
}

// DeleteTaskByID deletes a task by its numeric id.
func (c *Client) DeleteTaskByID(ctx context.Context, queue string, id int64) error {
	return c.deleteTask(ctx, queue, "id:"+strconv.FormatInt(id, 10))
}

// DeleteTaskByUUID deletes a task by its broker-assigned uuid.
func (c *Client) DeleteTaskByUUID(ctx context.Context, queue, uuid string) error {
	return c.deleteTask(ctx, queue, "uuid:"+uuid)
}

// DeleteTaskByCName deletes a task by its custom name.
func (c *Client) DeleteTaskByCName(ctx context.Context, queue, cname string) error {
	return c.deleteTask(ctx, queue, "cname:"+cname)
}

func (c *Client) deleteTask(ctx context.Context, queue, ident string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.restURL(queue, "/"+ident), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return handleErrors(resp)
}
