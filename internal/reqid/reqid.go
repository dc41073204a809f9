// Package reqid carries the execution id of a top-level plan run through a
// context so that events emitted deep in a store can be correlated.
package reqid

import (
	"context"

	"github.com/google/uuid"
)

// key is the context key for the execution ID.
type key struct{}

// NewContext returns a copy of parent with a new random execution ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, string) {
	id := uuid.NewString()
	return context.WithValue(parent, key{}, id), id
}

// WithID stores a caller supplied id, e.g. one propagated from an upstream
// request header.
func WithID(parent context.Context, id string) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext extracts the execution ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(key{}).(string)
	return id, ok
}
