// Package identity describes the caller on whose behalf a plan runs.
package identity

import "context"

// Identity is the authenticated caller. Name is used for credential
// resolution and connection pool isolation.
type Identity struct {
	Name       string
	Attributes map[string]string
}

const anonymousName = "_anonymous_"

// Anonymous returns the identity used when the caller is unknown.
func Anonymous() Identity { return Identity{Name: anonymousName} }

func (i Identity) IsAnonymous() bool { return i.Name == "" || i.Name == anonymousName }

// Key is the pool isolation key for the identity.
func (i Identity) Key() string {
	if i.IsAnonymous() {
		return anonymousName
	}
	return i.Name
}

type key struct{}

// NewContext returns a copy of parent carrying id.
func NewContext(parent context.Context, id Identity) context.Context {
	return context.WithValue(parent, key{}, id)
}

// FromContext returns the identity stored in ctx, or Anonymous.
func FromContext(ctx context.Context) Identity {
	if id, ok := ctx.Value(key{}).(Identity); ok {
		return id
	}
	return Anonymous()
}
