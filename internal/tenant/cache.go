package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/metrics"
)

// Static defaults.  Override through CacheOptions.
const (
	DefaultFailureCooldown = 2 * time.Second
	MaxFailureCooldown     = time.Minute
	DefaultConnectTimeout  = 10 * time.Second
	EvictInterval          = time.Minute
)

// ErrConnectionFailure is returned when a tenant's storage could not be
// opened.  It wraps the underlying cause.
var ErrConnectionFailure = errors.New("tenant connection failure")

// ErrCacheClosed is returned by Acquire after Close.
var ErrCacheClosed = errors.New("tenant cache closed")

// errSuperseded marks a load that finished after an Invalidate for the
// same host.  Acquire retries instead of surfacing it.
var errSuperseded = errors.New("tenant load superseded by invalidate")

// CacheOptions tunes a Cache.  Zero values take defaults; IdleTTL and
// MaxEntries of zero disable idle and LRU eviction.
type CacheOptions struct {
	FailureCooldown time.Duration
	ConnectTimeout  time.Duration
	IdleTTL         time.Duration
	MaxEntries      int
	EvictInterval   time.Duration
	Logger          *zap.Logger
}

// Validate rejects a cool-down above MaxFailureCooldown.
func (o CacheOptions) Validate() error {
	if o.FailureCooldown < 0 || o.FailureCooldown > MaxFailureCooldown {
		return fmt.Errorf("failure cool-down %v out of range (0, %v]", o.FailureCooldown, MaxFailureCooldown)
	}
	return nil
}

type failure struct {
	err   error
	until time.Time
}

// Cache lazily opens tenant storage, stores live entries in a sync.Map,
// and coalesces concurrent misses so each host connects once.
type Cache struct {
	dir  *Directory
	reg  *database.Registry
	opts CacheOptions
	log  *zap.Logger
	now  func() time.Time

	sfg singleflight.Group
	m   sync.Map // host → *entry

	fmu      sync.Mutex // guards failures and gens
	failures map[string]failure
	gens     map[string]uint64 // bumped by Invalidate

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    chan struct{}
}

// NewCache constructs a Cache and starts the background evictor.
func NewCache(dir *Directory, reg *database.Registry, opts CacheOptions) (*Cache, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.FailureCooldown == 0 {
		opts.FailureCooldown = DefaultFailureCooldown
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.EvictInterval <= 0 {
		opts.EvictInterval = EvictInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}

	c := &Cache{
		dir:      dir,
		reg:      reg,
		opts:     opts,
		log:      log.Named("tenant"),
		now:      time.Now,
		failures: make(map[string]failure),
		gens:     make(map[string]uint64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
	go c.evictLoop()
	return c, nil
}

// Directory exposes the directory the cache resolves through.
func (c *Cache) Directory() *Directory { return c.dir }

// Acquire returns a lease on the live handle for hostname, connecting on
// first use.  Errors are ErrNotFound, ErrConnectionFailure (wrapping the
// cause), ErrCacheClosed, or an admin lookup failure.
func (c *Cache) Acquire(ctx context.Context, hostname string) (*Conn, error) {
	host := NormalizeHost(hostname)

	for attempt := 0; attempt < 3; attempt++ {
		select {
		case <-c.closed:
			return nil, ErrCacheClosed
		default:
		}

		if v, ok := c.m.Load(host); ok {
			ent := v.(*entry)
			if ent.acquire(c.now()) {
				return &Conn{e: ent}, nil
			}
			// Retired under us; drop it and reconnect.
			c.m.CompareAndDelete(host, ent)
			continue
		}

		if err := c.coolingDown(host); err != nil {
			metrics.TenantCooldownTotal.Inc()
			return nil, err
		}

		v, err, shared := c.sfg.Do(host, func() (any, error) {
			return c.load(ctx, host)
		})
		if shared {
			metrics.TenantCoalescedTotal.Inc()
		}
		if errors.Is(err, errSuperseded) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ent := v.(*entry)
		if ent.acquire(c.now()) {
			return &Conn{e: ent}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: entry retired during acquire", ErrConnectionFailure, host)
}

// load runs once per host per singleflight window.
func (c *Cache) load(ctx context.Context, host string) (*entry, error) {
	// Double-check after singleflight barrier.
	if v, ok := c.m.Load(host); ok {
		return v.(*entry), nil
	}

	// Callers share this attempt; one caller's cancellation must not fail
	// the rest.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.ConnectTimeout)
	defer cancel()

	gen := c.generation(host)
	rec, err := c.dir.Resolve(ctx, host)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, c.fail(host, gen, err)
	}

	desc, err := c.dir.Cluster(rec)
	if err != nil {
		return nil, c.fail(host, gen, err)
	}
	adapter, err := c.reg.AdapterFor(desc)
	if err != nil {
		return nil, c.fail(host, gen, err)
	}
	h, err := adapter.Connect(ctx, rec.Database)
	if err != nil {
		return nil, c.fail(host, gen, err)
	}

	now := c.now()
	ent := &entry{
		host:    host,
		record:  rec,
		adapter: adapter,
		handle:  h,
		created: now,
		log:     c.log,
	}
	ent.lastSeen.Store(now.UnixNano())

	select {
	case <-c.closed:
		ent.retire()
		return nil, ErrCacheClosed
	default:
	}
	if !c.publish(host, gen, ent) {
		ent.retire()
		c.log.Info("tenant load superseded", zap.String("host", host))
		return nil, errSuperseded
	}

	metrics.TenantLoadTotal.Inc()
	metrics.ActiveTenants.Inc()
	c.log.Info("tenant connected",
		zap.String("host", host),
		zap.String("cluster", desc.Name),
		zap.String("type", adapter.Type()),
		zap.String("database", rec.Database))
	return ent, nil
}

func (c *Cache) generation(host string) uint64 {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	return c.gens[host]
}

// publish stores ent unless hostname was invalidated after gen was read.
// The check and the store share fmu with Invalidate's bump.
func (c *Cache) publish(host string, gen uint64, ent *entry) bool {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	if c.gens[host] != gen {
		return false
	}
	c.m.Store(host, ent)
	delete(c.failures, host)
	return true
}

// fail records a cool-down window and returns the wrapped error every
// caller inside the window will see.  A failure from a load that an
// Invalidate superseded is returned but not remembered.
func (c *Cache) fail(host string, gen uint64, cause error) error {
	err := fmt.Errorf("%w: %s: %w", ErrConnectionFailure, host, cause)
	c.fmu.Lock()
	if c.gens[host] == gen {
		c.failures[host] = failure{err: err, until: c.now().Add(c.opts.FailureCooldown)}
	}
	c.fmu.Unlock()

	metrics.TenantLoadErrorsTotal.Inc()
	c.log.Warn("tenant connect failed", zap.String("host", host), zap.Error(cause))
	return err
}

func (c *Cache) coolingDown(host string) error {
	c.fmu.Lock()
	defer c.fmu.Unlock()
	f, ok := c.failures[host]
	if !ok {
		return nil
	}
	if c.now().Before(f.until) {
		return f.err
	}
	delete(c.failures, host)
	return nil
}

// Invalidate forgets hostname everywhere: the directory answer, any
// failure record, and the live entry.  Outstanding leases keep working
// until released; new callers get a fresh connection.  A load already in
// flight for hostname is not cached; its callers retry.
func (c *Cache) Invalidate(hostname string) {
	host := NormalizeHost(hostname)
	c.dir.Invalidate(host)

	c.fmu.Lock()
	c.gens[host]++
	delete(c.failures, host)
	c.fmu.Unlock()
	c.sfg.Forget(host)

	if v, ok := c.m.LoadAndDelete(host); ok {
		v.(*entry).retire()
		metrics.TenantEvictTotal.Inc()
		metrics.ActiveTenants.Dec()
		c.log.Info("tenant invalidated", zap.String("host", host))
	}
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	n := 0
	c.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Close stops the evictor and retires every entry.  Idempotent.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.stop)
		<-c.done
		c.m.Range(func(key, value any) bool {
			c.m.Delete(key)
			value.(*entry).retire()
			metrics.ActiveTenants.Dec()
			return true
		})
	})
}
