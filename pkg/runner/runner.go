// Package runner executes a single task's outbound HTTP call and its
// callback chain, the way the worker does in the teacher repository's
// worker loop — generalized here from a generic task-type switch to the
// fixed HTTP-request/response-callback shape spec §4.5 describes. It is
// a direct port of asynx-core's Task.dispatch/_dispatch/_dispatch_callback.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/asynxgo/asynx/pkg/logger"
	"github.com/asynxgo/asynx/pkg/taskqueue"
	"github.com/asynxgo/asynx/pkg/tasks"
)

// defaultUserAgent is injected when the caller didn't set one (spec §4.5).
const defaultUserAgent = "Asynx/4.0"

const maxRedirectsFollowed = 10

// Metrics is the narrow recording surface the runner needs. pkg/metrics
// implements it against Prometheus collectors; nil is a valid Runner
// field (instrumentation is optional).
type Metrics interface {
	ObserveDispatch(app, queue, status string)
	ObserveDuration(app, queue string, d time.Duration)
}

// Runner dispatches tasks belonging to one engine.
type Runner struct {
	tq             *taskqueue.TaskQueue
	client         *http.Client
	metrics        Metrics
	defaultTimeout time.Duration
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithHTTPClient overrides the transport used for outbound calls (tests
// substitute one pointed at an httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.client = c }
}

// WithMetrics attaches a Metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithDefaultTimeout bounds outbound calls whose task never set
// request.timeout explicitly (config.Config.DefaultRequestTimeout).
// Zero leaves such calls unbounded.
func WithDefaultTimeout(d time.Duration) Option {
	return func(r *Runner) { r.defaultTimeout = d }
}

// New builds a Runner over tq.
func New(tq *taskqueue.TaskQueue, opts ...Option) *Runner {
	r := &Runner{tq: tq, client: &http.Client{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes task id: transitions it to running, performs its outbound
// call, fires the success/failure then complete callbacks, and finally
// either reschedules (recurring) or deletes (one-shot) it. It returns nil
// — without doing anything — if the task was already gone or already
// in flight (spec §4.5/§7: the worker swallows both races silently).
func (r *Runner) Run(ctx context.Context, id int64) error {
	task, err := r.tq.BeginRun(ctx, id)
	if err != nil {
		if errors.Is(err, taskqueue.ErrTaskNotFound) || errors.Is(err, taskqueue.ErrTaskStatusNotMatched) {
			return nil
		}
		return fmt.Errorf("runner: begin run %d: %w", id, err)
	}

	started := time.Now()
	resp, callErr := r.dispatch(ctx, task)
	if r.metrics != nil {
		r.metrics.ObserveDuration(task.App, task.Queue, time.Since(started))
	}

	success := callErr == nil && resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 303
	if resp == nil {
		reason := "transport error"
		if callErr != nil {
			reason = callErr.Error()
		}
		resp = &Response{URL: task.Request.URL, Reason: reason}
	}

	if r.metrics != nil {
		status := "failure"
		if success {
			status = "success"
		}
		r.metrics.ObserveDispatch(task.App, task.Queue, status)
	}

	outcome := task.OnFailure
	if success {
		outcome = task.OnSuccess
	}
	if err := r.runCallback(ctx, outcome, task, resp); err != nil {
		logger.Task(task.App, task.Queue, task.ID).Err(err).Msg("runner: outcome callback failed")
	}
	if err := r.runCallback(ctx, task.OnComplete, task, resp); err != nil {
		logger.Task(task.App, task.Queue, task.ID).Err(err).Msg("runner: on_complete callback failed")
	}

	if task.IsRecurring() {
		if err := r.tq.Reschedule(ctx, task); err != nil {
			return fmt.Errorf("runner: reschedule task %d: %w", task.ID, err)
		}
		return nil
	}
	if err := r.tq.FinishOneShot(ctx, task.ID); err != nil {
		return fmt.Errorf("runner: finish task %d: %w", task.ID, err)
	}
	return nil
}

// dispatch performs the outbound HTTP call described by task.Request and
// classifies the outcome. A non-nil error means a transport failure
// (connection refused, timeout, etc) — which spec §4.5 treats as a
// failure carrying no response body.
func (r *Runner) dispatch(ctx context.Context, task *tasks.Task) (*Response, error) {
	reqCtx := ctx
	var cancel context.CancelFunc
	switch {
	case task.Request.Timeout != nil && *task.Request.Timeout > 0:
		reqCtx, cancel = context.WithTimeout(ctx, time.Duration(*task.Request.Timeout*float64(time.Second)))
		defer cancel()
	case task.Request.Timeout == nil && r.defaultTimeout > 0:
		reqCtx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	req, err := r.buildRequest(reqCtx, task)
	if err != nil {
		return nil, err
	}

	follow, explicit := task.Request.EffectiveAllowRedirects()
	maxRedirects := maxRedirectsFollowed
	if explicit && !follow {
		maxRedirects = 0
	}

	var history []Response
	resp, err := r.followRedirects(reqCtx, req, maxRedirects, &history)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("runner: read response body: %w", err)
	}

	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Content:    encodeBody(body),
		History:    history,
		Reason:     resp.Status,
	}, nil
}

// buildRequest assembles the outbound request, injecting the fixed
// X-Asynx-* headers and a default User-Agent (spec §4.5 step 2).
func (r *Runner) buildRequest(ctx context.Context, task *tasks.Task) (*http.Request, error) {
	var body io.Reader
	switch task.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body = strings.NewReader(task.Request.Payload)
	}

	req, err := http.NewRequestWithContext(ctx, task.Request.Method, task.Request.URL, body)
	if err != nil {
		return nil, fmt.Errorf("runner: build request: %w", err)
	}
	for k, v := range task.Request.Headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("X-Asynx-QueueName", task.Queue)
	req.Header.Set("X-Asynx-TaskUUID", task.UUID)
	if task.ETA != nil {
		req.Header.Set("X-Asynx-TaskETA", strconv.FormatInt(task.ETA.Unix(), 10))
	}
	if task.CName != "" {
		req.Header.Set("X-Asynx-TaskCName", task.CName)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", defaultUserAgent)
	}
	return req, nil
}

func isRedirectStatus(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	default:
		return false
	}
}

// followRedirects performs req and, while the response is a redirect and
// the caller still has a budget, follows it manually — recording each
// hop into history — so the final response's History matches spec
// §4.5's serialization form. A maxRedirects of 0 means the first
// response is returned as-is even if it is itself a redirect.
func (r *Runner) followRedirects(ctx context.Context, req *http.Request, maxRedirects int, history *[]Response) (*http.Response, error) {
	client := *r.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	current := req
	for {
		resp, err := client.Do(current)
		if err != nil {
			return nil, fmt.Errorf("runner: outbound request: %w", err)
		}
		if maxRedirects <= 0 || !isRedirectStatus(resp.StatusCode) {
			return resp, nil
		}

		location := resp.Header.Get("Location")
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		*history = append(*history, Response{
			URL:        current.URL.String(),
			StatusCode: resp.StatusCode,
			Headers:    flattenHeaders(resp.Header),
			Content:    encodeBody(body),
			Reason:     resp.Status,
		})

		nextURL, err := current.URL.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("runner: invalid redirect location %q: %w", location, err)
		}
		method := current.Method
		if resp.StatusCode == http.StatusSeeOther ||
			((resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) && method == http.MethodPost) {
			method = http.MethodGet
		}
		next, err := http.NewRequestWithContext(ctx, method, nextURL.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("runner: build redirect request: %w", err)
		}
		next.Header = current.Header.Clone()
		current = next
		maxRedirects--
	}
}

// runCallback dispatches one callback variant (spec §4.5 step 4).
func (r *Runner) runCallback(ctx context.Context, cb tasks.Callback, task *tasks.Task, resp *Response) error {
	switch cb.Kind {
	case tasks.CallbackNone, tasks.CallbackDelete:
		// __delete__ carries no action here: terminal cleanup always
		// deletes a one-shot task regardless of callback kind.
		return nil
	case tasks.CallbackReport:
		logger.Task(task.App, task.Queue, task.ID).
			Str("uuid", task.UUID).
			Int("status_code", resp.StatusCode).
			Msg("task callback report")
		return nil
	case tasks.CallbackURL:
		payload, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("runner: encode callback payload: %w", err)
		}
		d := &tasks.Descriptor{
			Request: tasks.Request{
				Method:  http.MethodPost,
				URL:     cb.URL,
				Payload: string(payload),
				Headers: map[string]string{"X-Asynx-Callback": cb.URL},
			},
		}
		_, err = r.tq.AddTask(ctx, d)
		return err
	case tasks.CallbackSubTask:
		return r.dispatchSubTaskCallback(ctx, cb.SubTask, task, resp)
	default:
		return fmt.Errorf("runner: unknown callback kind %v", cb.Kind)
	}
}

// dispatchSubTaskCallback deep-copies the embedded descriptor, merges in
// the chaining headers, sets its payload to the serialized response, and
// inserts it as a new task (spec §4.5 step 4's embedded sub-task case).
func (r *Runner) dispatchSubTaskCallback(ctx context.Context, sub *tasks.Descriptor, task *tasks.Task, resp *Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("runner: encode callback payload: %w", err)
	}

	clone := *sub
	headers := make(map[string]string, len(sub.Request.Headers)+4)
	for k, v := range sub.Request.Headers {
		headers[k] = v
	}
	headers["X-Asynx-Chained"] = task.Request.URL
	headers["X-Asynx-Chained-TaskUUID"] = task.UUID
	if task.ETA != nil {
		headers["X-Asynx-Chained-TaskETA"] = strconv.FormatInt(task.ETA.Unix(), 10)
	}
	if task.CName != "" {
		headers["X-Asynx-Chained-TaskCName"] = task.CName
	}
	clone.Request.Headers = headers
	clone.Request.Payload = string(payload)

	_, err = r.tq.AddTask(ctx, &clone)
	return err
}
