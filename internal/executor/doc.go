// Package executor runs compiled execution plans.
//
// # Overview
//
// A plan is a tree of plan.Node values. The Engine walks it depth-first on the
// calling goroutine and forwards each node to the Handler registered for its
// kind. Structural kinds (sequence, multiResult, allocation, constant,
// variable, error) are handled here; backend kinds are claimed by Stores
// (relational, service, gRPC, in-memory) passed at construction. A kind
// claimed twice is a construction error and a kind claimed by nobody fails at
// dispatch with ErrUnsupportedNode. Handlers never hand back a nil Result:
// such a return is converted into an assertion failure.
//
// # State
//
// State is shared by all nodes of one top-level execution. Allocations and
// service outputs publish named Results into it and later nodes read them as
// inputs. Reading is only defined for Constant results; any other variant
// fails with ErrDependencyMismatch. Because traversal is single threaded,
// publishing and reading are naturally ordered by the plan.
//
// # Resources
//
// Every Result produced during a traversal is tracked by the State. When a
// node fails, State.Close releases all of them, including published
// variables, before the error is returned. On success the caller owns the
// returned Result; closing it cancels the execution context, releases the
// State and removes the execution from the executable registry.
//
// # Errors
//
// Failures are classified with marker errors (ErrUnsupportedNode,
// ErrDependencyMismatch, ErrBackendFailure) built with
// github.com/cockroachdb/errors. Retryable reports whether a caller may try
// again; the engine itself never retries.
package executor
