package vault

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/hanpama/planexec/internal/identity"
)

// ErrSecretNotFound is returned when a reference does not resolve.
var ErrSecretNotFound = errors.New("vault: secret not found")

// Vault resolves secret references on behalf of a caller.
// Implementations must be safe for concurrent use.
type Vault interface {
	LookupSecret(ctx context.Context, ref string, id identity.Identity) (string, error)
}

// Static is a Vault backed by an in-memory map.
// A key of the form "<identity>:<ref>" takes precedence over the plain "<ref>"
// entry for that caller.
type Static struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewStatic(m map[string]string) *Static {
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &Static{data: cp}
}

func (s *Static) LookupSecret(ctx context.Context, ref string, id identity.Identity) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.data[id.Key()+":"+ref]; ok {
		return v, nil
	}
	if v, ok := s.data[ref]; ok {
		return v, nil
	}
	// the reference is safe to report; values never are
	return "", errors.Wrapf(ErrSecretNotFound, "reference %s", errors.Safe(ref))
}

// Set stores or replaces a secret.
func (s *Static) Set(ref, value string) {
	s.mu.Lock()
	s.data[ref] = value
	s.mu.Unlock()
}
