package taskqueue

import "errors"

// Sentinel errors the engine raises (spec §7). Callers should compare with
// errors.Is, since every returned error is wrapped with task/id context.
var (
	// ErrTaskNotFound means a lookup by id, uuid, or cname found no live task.
	ErrTaskNotFound = errors.New("taskqueue: task not found")

	// ErrTaskAlreadyExists means a cname collision was detected, either by
	// the pre-check inside AddTask's transaction or by the transaction's
	// commit observing a concurrent writer on the same cname key.
	ErrTaskAlreadyExists = errors.New("taskqueue: task already exists")

	// ErrTaskStatusNotMatched means a status-transition assertion failed,
	// or a delete-by-id targeted a running task.
	ErrTaskStatusNotMatched = errors.New("taskqueue: task status did not match")

	// ErrCNameRequired means a recurring task (non-nil schedule) was
	// inserted without a cname.
	ErrCNameRequired = errors.New("taskqueue: recurring task requires a cname")
)
