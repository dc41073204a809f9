package grpcsvc

import (
	"context"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNoEndpoints indicates the provider has no endpoint for a service.
var ErrNoEndpoints = errors.New("grpcsvc: no endpoints available")

// EndpointProvider lists reachable endpoints (host:port) for a fully
// qualified service name. It is consulted when a grpcCall node carries no
// endpoint of its own.
//
// Return at least one endpoint or an error.
type EndpointProvider interface {
	Endpoints(ctx context.Context, service string) ([]string, error)
}

// Wildcard keys the endpoints used for services without their own mapping.
const Wildcard = "*"

// StaticEndpoints is a provider backed by an in-memory map keyed by service
// name. Specific mappings override the Wildcard entry.
type StaticEndpoints struct {
	mu   sync.RWMutex
	data map[string][]string
}

func NewStaticEndpoints(m map[string][]string) *StaticEndpoints {
	cp := make(map[string][]string, len(m))
	for k, v := range m {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticEndpoints{data: cp}
}

func (s *StaticEndpoints) Endpoints(_ context.Context, service string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.data[service]
	if len(arr) == 0 {
		arr = s.data[Wildcard]
	}
	if len(arr) == 0 {
		return nil, errors.Wrapf(ErrNoEndpoints, "service %s", errors.Safe(service))
	}
	return append([]string(nil), arr...), nil
}

// ParseBackends reads "Service=host:port" mappings. A service may repeat to
// list several endpoints; Wildcard sets the default.
func ParseBackends(specs []string) (map[string][]string, error) {
	out := map[string][]string{}
	for _, v := range specs {
		svc, ep, ok := strings.Cut(v, "=")
		svc, ep = strings.TrimSpace(svc), strings.TrimSpace(ep)
		if !ok || svc == "" || ep == "" {
			return nil, errors.Newf("invalid backend %q, want Service=host:port", v)
		}
		out[svc] = append(out[svc], ep)
	}
	return out, nil
}
