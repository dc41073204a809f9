package events

import "time"

// PlanStart is emitted before a top-level plan execution begins.
type PlanStart struct {
	ExecutionID string
	Session     string
	Identity    string
	RootKind    string
}

// PlanFinish is emitted when a top-level execution has produced its result
// (or failed). Streaming results may still be open.
type PlanFinish struct {
	ExecutionID string
	Session     string
	Identity    string
	RootKind    string
	Err         error
	Duration    time.Duration
}

// NodeStart is emitted before a node handler runs.
type NodeStart struct {
	Kind   string
	NodeID string
}

// NodeFinish is emitted after a node handler returns.
type NodeFinish struct {
	Kind     string
	NodeID   string
	Variant  string
	Err      error
	Duration time.Duration
}

// SessionCancel is emitted when a session's executions are cancelled.
type SessionCancel struct {
	Session   string
	Cancelled int
	Err       error
}
