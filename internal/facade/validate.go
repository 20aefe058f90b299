package facade

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/asynxgo/asynx/pkg/taskqueue"
	"github.com/asynxgo/asynx/pkg/tasks"
)

var urlPattern = regexp.MustCompile(`(?i)^https?://`)

var validMethods = map[string]bool{
	"HEAD": true, "GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true,
}

const (
	minCNameLength = 3
	maxCNameLength = 96
	maxListLimit   = 200
	defaultLimit   = 50
)

// validateDescriptor enforces the voluptuous-derived rules from the
// original `forms.py` (spec §9): method whitelist + upper-case, url
// pattern, cname length, non-negative countdown, and the same rules
// applied recursively to embedded sub-task callbacks.
func validateDescriptor(d *tasks.Descriptor) error {
	method := tasks.NormalizeMethod(d.Request.Method)
	if !validMethods[method] {
		return fmt.Errorf("%w: method %q must be one of HEAD/GET/POST/PUT/PATCH/DELETE", ErrValidation, d.Request.Method)
	}
	d.Request.Method = method

	if !urlPattern.MatchString(d.Request.URL) {
		return fmt.Errorf("%w: url %q must match ^https?://", ErrValidation, d.Request.URL)
	}

	if d.CName != "" && (len(d.CName) < minCNameLength || len(d.CName) > maxCNameLength) {
		return fmt.Errorf("%w: cname length must be in [%d,%d]", ErrValidation, minCNameLength, maxCNameLength)
	}

	if d.Countdown != nil && *d.Countdown < 0 {
		return fmt.Errorf("%w: countdown must be >= 0", ErrValidation)
	}

	for _, cb := range []*tasks.Callback{d.OnSuccess, d.OnFailure, d.OnComplete} {
		if cb == nil || cb.Kind != tasks.CallbackSubTask {
			continue
		}
		if err := validateDescriptor(cb.SubTask); err != nil {
			return err
		}
	}
	return nil
}

// parseOffsetLimit applies list_tasks_form's defaults and bounds: offset
// defaults to 0, limit defaults to 50 and is clamped to [0,200].
func parseOffsetLimit(q url.Values) (offset, limit int64, err error) {
	offset = 0
	limit = defaultLimit

	if v := q.Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("%w: offset must be a non-negative integer", ErrValidation)
		}
	}
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: limit must be an integer", ErrValidation)
		}
	}
	if limit < 0 {
		limit = 0
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return offset, limit, nil
}

type identKind int

const (
	identID identKind = iota
	identUUID
	identCName
	// identOverflow marks an {ident} path segment that was a syntactically
	// valid decimal but too large for int64 — it can never name a stored
	// task, so resolve/delete short-circuit straight to ErrTaskNotFound.
	identOverflow
)

// ident is a parsed {ident} path segment: a bare decimal task id, or one
// of the id:/uuid:/cname: prefixed forms.
type ident struct {
	kind  identKind
	id    int64
	uuid  string
	cname string
}

// parseIdent implements the {ident} grammar. A cname whose length falls
// outside the insert-time bound is deliberately not rejected here: no
// such cname could ever exist in the store, so the lookup below resolves
// it to ErrTaskNotFound on its own. An id that parses but overflows
// int64 is handled the same way (spec §8: "id above 2^63-1 returns
// not-found") via identOverflow, a kind that never matches any stored
// task.
func parseIdent(raw string) (ident, error) {
	switch {
	case strings.HasPrefix(raw, "id:"):
		return parseDecimalIdent(strings.TrimPrefix(raw, "id:"), raw)
	case strings.HasPrefix(raw, "uuid:"):
		return ident{kind: identUUID, uuid: strings.TrimPrefix(raw, "uuid:")}, nil
	case strings.HasPrefix(raw, "cname:"):
		return ident{kind: identCName, cname: strings.TrimPrefix(raw, "cname:")}, nil
	default:
		return parseDecimalIdent(raw, raw)
	}
}

// parseDecimalIdent parses digits as an int64 task id. A syntax error is
// a validation failure; a range error (the digits are a valid integer
// but overflow int64) resolves to identOverflow so the caller treats it
// as not-found rather than a bad request.
func parseDecimalIdent(digits, raw string) (ident, error) {
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return ident{kind: identOverflow}, nil
		}
		return ident{}, fmt.Errorf("%w: %q is not a valid task identifier", ErrValidation, raw)
	}
	return ident{kind: identID, id: n}, nil
}

func (id ident) resolve(ctx context.Context, tq *taskqueue.TaskQueue) (*tasks.Task, error) {
	switch id.kind {
	case identUUID:
		return tq.GetTaskByUUID(ctx, id.uuid)
	case identCName:
		return tq.GetTaskByCName(ctx, id.cname)
	case identOverflow:
		return nil, taskqueue.ErrTaskNotFound
	default:
		return tq.GetTask(ctx, id.id)
	}
}

func (id ident) delete(ctx context.Context, tq *taskqueue.TaskQueue) error {
	switch id.kind {
	case identUUID:
		return tq.DeleteTaskByUUID(ctx, id.uuid)
	case identCName:
		return tq.DeleteTaskByCName(ctx, id.cname)
	case identOverflow:
		return taskqueue.ErrTaskNotFound
	default:
		return tq.DeleteTask(ctx, id.id)
	}
}
