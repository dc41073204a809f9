// Package conn hands out authenticated, pooled connections to relational
// backends. Pools are isolated per vendor, location, credential and caller.
package conn

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/redact"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanpama/planexec/internal/eventbus"
	"github.com/hanpama/planexec/internal/events"
	"github.com/hanpama/planexec/internal/identity"
	"github.com/hanpama/planexec/internal/log"
	"github.com/hanpama/planexec/internal/plan"
	"github.com/hanpama/planexec/internal/vault"
)

// ErrConnectionUnavailable marks a failure to obtain a backend connection.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// Manager owns every pool. It is safe for concurrent use.
type Manager struct {
	opts     *Options
	resolver *Resolver

	mu     sync.RWMutex
	pools  map[string]*pool
	closed atomic.Bool
}

type pool struct {
	db         *sql.DB
	vendor     string
	builder    Builder
	descriptor string
	credential string
	caller     string
	created    time.Time
}

func NewManager(v vault.Vault, opts ...Option) *Manager {
	o := defaultOptions()
	for _, f := range opts {
		f(o)
	}
	return &Manager{
		opts:     o,
		resolver: NewResolver(v),
		pools:    make(map[string]*pool),
	}
}

// Resolver exposes credential resolution to stores that authenticate
// outside of database/sql.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Acquire returns a dedicated connection for caller. The connection must be
// released with Release.
func (m *Manager) Acquire(ctx context.Context, caller identity.Identity, c plan.Connection) (*Conn, error) {
	start := time.Now()
	cn, created, err := m.acquire(ctx, caller, c)
	ev := events.ConnectionAcquire{
		Vendor:     c.Vendor,
		Descriptor: redact.Sprint(c).Redact().StripMarkers(),
		Identity:   caller.Key(),
		NewPool:    created,
		Err:        err,
		Duration:   time.Since(start),
	}
	eventbus.Publish(ctx, ev)
	return cn, err
}

func (m *Manager) acquire(ctx context.Context, caller identity.Identity, c plan.Connection) (*Conn, bool, error) {
	if m.closed.Load() {
		return nil, false, unavailable(c, errors.New("connection manager closed"))
	}
	b, ok := m.opts.Builders[vendorKey(c.Vendor)]
	if !ok {
		return nil, false, unavailable(c, errors.Newf("unsupported database vendor %q", errors.Safe(c.Vendor)))
	}
	cred, err := m.resolver.Resolve(ctx, caller, c.Auth)
	if err != nil {
		return nil, false, unavailable(c, err)
	}
	dsn, err := b.DSN(c.Datasource, cred)
	if err != nil {
		return nil, false, unavailable(c, scrub(err, cred))
	}
	key := poolKey(c, cred, caller)

	p, created, err := m.getPool(key, b, dsn, c, cred, caller)
	if err != nil {
		return nil, false, unavailable(c, scrub(err, cred))
	}

	if _, ok := ctx.Deadline(); !ok && m.opts.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.AcquireTimeout)
		defer cancel()
	}
	sc, err := p.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, created, err
		}
		return nil, created, unavailable(c, scrub(err, cred))
	}
	var session string
	if err := sc.Raw(func(dc any) error {
		session = fmt.Sprintf("%s-%p", p.vendor, dc)
		return nil
	}); err != nil {
		_ = sc.Close()
		return nil, created, unavailable(c, scrub(err, cred))
	}
	return &Conn{Conn: sc, vendor: p.vendor, builder: b, session: session}, created, nil
}

// poolKey identifies a pool without consulting vendor DSN validation, which
// may reject a descriptor whose secrets are blank.
func poolKey(c plan.Connection, cred Credential, caller identity.Identity) string {
	return strings.Join([]string{vendorKey(c.Vendor), c.Signature(), cred.Identity(), caller.Key()}, "\x00")
}

func (m *Manager) getPool(key string, b Builder, dsn string, c plan.Connection, cred Credential, caller identity.Identity) (*pool, bool, error) {
	m.mu.RLock()
	p := m.pools[key]
	m.mu.RUnlock()
	if p != nil {
		return p, false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p = m.pools[key]; p != nil {
		return p, false, nil
	}
	if m.closed.Load() {
		return nil, false, errors.New("connection manager closed")
	}
	db, err := sql.Open(b.Driver(), dsn)
	if err != nil {
		return nil, false, err
	}
	b.Configure(db, m.opts)
	p = &pool{
		db:         db,
		vendor:     vendorKey(c.Vendor),
		builder:    b,
		descriptor: redact.Sprint(c).Redact().StripMarkers(),
		credential: cred.public().Identity(),
		caller:     caller.Key(),
		created:    time.Now(),
	}
	m.pools[key] = p
	log.Debug("connection pool created",
		zap.String("vendor", p.vendor),
		zap.String("descriptor", p.descriptor),
		zap.String("identity", p.caller))
	return p, true, nil
}

// PoolStats describes one pool.
type PoolStats struct {
	Vendor     string
	Descriptor string
	Credential string
	Identity   string
	Created    time.Time
	sql.DBStats
}

// Stats reports every open pool, ordered by vendor then identity.
func (m *Manager) Stats() []PoolStats {
	m.mu.RLock()
	out := make([]PoolStats, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, PoolStats{
			Vendor:     p.vendor,
			Descriptor: p.descriptor,
			Credential: p.credential,
			Identity:   p.caller,
			Created:    p.created,
			DBStats:    p.db.Stats(),
		})
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Vendor != out[j].Vendor {
			return out[i].Vendor < out[j].Vendor
		}
		if out[i].Identity != out[j].Identity {
			return out[i].Identity < out[j].Identity
		}
		return out[i].Descriptor < out[j].Descriptor
	})
	return out
}

// Close closes every pool. Further acquisitions fail.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}
	m.mu.Lock()
	pools := m.pools
	m.pools = map[string]*pool{}
	m.mu.Unlock()

	var g errgroup.Group
	for _, p := range pools {
		g.Go(p.db.Close)
	}
	return g.Wait()
}

// Conn is a dedicated connection taken from a pool.
type Conn struct {
	*sql.Conn
	vendor   string
	builder  Builder
	session  string
	released atomic.Bool
}

// SessionID identifies the physical driver connection.
func (c *Conn) SessionID() string { return c.session }

func (c *Conn) Vendor() string { return c.vendor }

// Placeholder renders the i-th (1-based) bind parameter in the vendor's
// syntax.
func (c *Conn) Placeholder(i int) string { return c.builder.Placeholder(i) }

// Release returns the connection to its pool. Later calls are no-ops.
func (c *Conn) Release() error {
	if c.released.Swap(true) {
		return nil
	}
	return c.Conn.Close()
}

func unavailable(c plan.Connection, err error) error {
	return errors.Mark(
		errors.Wrapf(err, "cannot acquire %s connection to %s", redact.SafeString(c.Vendor), c),
		ErrConnectionUnavailable)
}

// scrub removes resolved secrets from driver error text.
func scrub(err error, cred Credential) error {
	msg := err.Error()
	clean := msg
	for _, s := range []string{cred.Password, cred.Token} {
		if s != "" {
			clean = strings.ReplaceAll(clean, s, "*****")
		}
	}
	if clean == msg {
		return err
	}
	return errors.Newf("%s", clean)
}
