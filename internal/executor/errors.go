package executor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/conn"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/streamread"
)

var (
	// ErrUnsupportedNode marks dispatch of a kind no handler claims.
	ErrUnsupportedNode = errors.New("unsupported node type")
	// ErrDependencyMismatch marks an input that is missing or not a constant.
	ErrDependencyMismatch = errors.New("dependency mismatch")
	// ErrBackendFailure marks a failed call to a service or database.
	ErrBackendFailure = errors.New("backend failure")
)

// UnsupportedNodeError carries the kind and id of the rejected node.
type UnsupportedNodeError struct {
	Kind   plan.Kind
	NodeID string
}

func (e *UnsupportedNodeError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("unsupported node type %q", e.Kind)
	}
	return fmt.Sprintf("unsupported node type %q (node %s)", e.Kind, e.NodeID)
}

func unsupportedNode(n plan.Node) error {
	return errors.Mark(&UnsupportedNodeError{Kind: n.Kind(), NodeID: n.NodeID()}, ErrUnsupportedNode)
}

// BackendFailure wraps err as ErrBackendFailure with the node id and a
// redacted target.
func BackendFailure(err error, nodeID, target string) error {
	return errors.Mark(
		errors.Wrapf(err, "node %s: %s", errors.Safe(nodeID), RedactURL(target)),
		ErrBackendFailure)
}

// Retryable reports whether err is a transient condition: timeouts, backend
// failures and unavailable connections. Unsupported nodes, dependency
// mismatches and cancellations are not.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrUnsupportedNode), errors.Is(err, ErrDependencyMismatch):
		return false
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, streamread.ErrStreamTimeout),
		errors.Is(err, ErrBackendFailure),
		errors.Is(err, conn.ErrConnectionUnavailable):
		return true
	}
	return false
}

var secretParams = []string{"token", "access_token", "api_key", "apikey", "key", "password", "secret", "signature", "sig"}

// RedactURL strips userinfo and credential-like query parameters from raw.
// Strings that do not parse as URLs are returned as is.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	q := u.Query()
	changed := false
	for k := range q {
		for _, s := range secretParams {
			if strings.EqualFold(k, s) {
				q.Set(k, "redacted")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
