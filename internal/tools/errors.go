package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable indicates the model asked for a tool that is not
// registered and could not be found after refreshing providers. The
// agent treats this as fatal: the model's tool inventory is stale or
// hallucinated, and retrying the same conversation will not fix it.
var ErrToolUnavailable = errors.New("tool unavailable")

// ExecError wraps a failure inside a tool handler. Unlike
// ErrToolUnavailable it is recoverable: the agent reports it back to
// the model as an observation and lets the model decide what to do.
type ExecError struct {
	Tool string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }
