// internal/tenant/directory.go
//
// Hostname → tenant record lookup against the admin database.
//
// Context
// -------
// The admin database holds one `app` row per tenant.  Directory opens it
// lazily through the adapter registry, answers Resolve from a small TTL
// LRU, and refuses reserved hostnames and reserved database names without
// touching storage.  Negative answers are cached for a short window so a
// flood of requests for an unknown host costs one admin query per window.
//
// Notes
// -----
//   - Concurrent misses for one host share a single admin query, bounded
//     by LookupTimeout.  A waiter gives up when its own context ends.
//   - The admin connection is opened once, outside d.mu.
//   - Admin connection failures are not cached; the next call retries.
//   - A lookup that overlaps an Invalidate answers its callers but does
//     not write the LRU.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/appgate/internal/cache"
	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/metrics"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Directory defaults.
const (
	DefaultPositiveTTL = 30 * time.Second
	DefaultNegativeTTL = 5 * time.Second
	DefaultLookupSize  = 4096

	DefaultLookupTimeout = 10 * time.Second
)

var (
	// ErrNotFound is returned when a host has no app row or is reserved.
	ErrNotFound = errors.New("tenant not found")

	// ErrUnknownCluster is returned when a record names a cluster that is
	// not configured and no default cluster applies.
	ErrUnknownCluster = errors.New("unknown cluster")

	// ErrDirectoryClosed is returned by Resolve after Close.
	ErrDirectoryClosed = errors.New("tenant directory closed")
)

// DefaultReservedHosts are never served as tenants.
var DefaultReservedHosts = []string{"rethinkdb.com", "mongodb.com", "localhost.localdomain"}

// DefaultReservedDatabases are system database names a tenant may not use.
var DefaultReservedDatabases = []string{"admin", "local", "config", "rethinkdb"}

// DirectoryOptions configures a Directory.  Zero values take defaults.
type DirectoryOptions struct {
	Admin             database.Descriptor    // admin database descriptor
	AdminDatabase     string                 // logical admin database name
	Clusters          database.DescriptorSet // tenant cluster map
	DefaultType       string                 // defaultDatabaseType
	ReservedHosts     []string
	ReservedDatabases []string
	PositiveTTL       time.Duration
	NegativeTTL       time.Duration
	Size              int
	LookupTimeout     time.Duration // admin connect + query
	Logger            *zap.Logger
}

// Directory resolves hostnames to tenant records.  Safe for concurrent
// use.
type Directory struct {
	reg    *database.Registry
	opts   DirectoryOptions
	log    *zap.Logger
	hosts  map[string]struct{}
	dbs    map[string]struct{}
	lookup *cache.LRU[string, *meta.Record] // nil value = negative entry
	sfg    singleflight.Group

	gmu  sync.Mutex // orders LRU writes against Invalidate
	gens map[string]uint64

	mu           sync.Mutex
	adminSF      singleflight.Group
	adminAdapter database.Adapter
	adminHandle  database.Handle
	closed       bool
}

// NewDirectory builds a Directory.  The admin database is opened on the
// first Resolve.
func NewDirectory(reg *database.Registry, opts DirectoryOptions) *Directory {
	if opts.PositiveTTL <= 0 {
		opts.PositiveTTL = DefaultPositiveTTL
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = DefaultNegativeTTL
	}
	if opts.Size <= 0 {
		opts.Size = DefaultLookupSize
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = DefaultLookupTimeout
	}
	if opts.ReservedHosts == nil {
		opts.ReservedHosts = DefaultReservedHosts
	}
	if opts.ReservedDatabases == nil {
		opts.ReservedDatabases = DefaultReservedDatabases
	}
	log := opts.Logger
	if log == nil {
		log = zap.L()
	}

	d := &Directory{
		reg:    reg,
		opts:   opts,
		log:    log.Named("directory"),
		hosts:  make(map[string]struct{}, len(opts.ReservedHosts)),
		dbs:    make(map[string]struct{}, len(opts.ReservedDatabases)+1),
		lookup: cache.New[string, *meta.Record](opts.Size),
		gens:   make(map[string]uint64),
	}
	for _, h := range opts.ReservedHosts {
		d.hosts[NormalizeHost(h)] = struct{}{}
	}
	for _, n := range opts.ReservedDatabases {
		d.dbs[strings.ToLower(n)] = struct{}{}
	}
	if opts.AdminDatabase != "" {
		d.dbs[strings.ToLower(opts.AdminDatabase)] = struct{}{}
	}
	return d
}

// Resolve returns the tenant record for hostname, or ErrNotFound.  Any
// other error means the admin database could not answer.
func (d *Directory) Resolve(ctx context.Context, hostname string) (*meta.Record, error) {
	host := NormalizeHost(hostname)
	if d.reservedHost(host) {
		metrics.DirectoryLookupsTotal.WithLabelValues("reserved").Inc()
		return nil, ErrNotFound
	}

	if rec, ok := d.lookup.Get(host); ok {
		if rec == nil {
			metrics.DirectoryLookupsTotal.WithLabelValues("negative").Inc()
			return nil, ErrNotFound
		}
		metrics.DirectoryLookupsTotal.WithLabelValues("hit").Inc()
		return rec, nil
	}

	ch := d.sfg.DoChan(host, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.LookupTimeout)
		defer cancel()
		return d.load(lctx, host)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*meta.Record), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Directory) load(ctx context.Context, host string) (*meta.Record, error) {
	gen := d.generation(host)
	h, a, err := d.admin(ctx)
	if err != nil {
		metrics.DirectoryLookupsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	res, err := a.Query(ctx, h, database.Request{Op: database.OpFindApp, Hostname: host})
	switch {
	case errors.Is(err, database.ErrNotFound):
		metrics.DirectoryLookupsTotal.WithLabelValues("miss").Inc()
		d.remember(host, gen, nil, d.opts.NegativeTTL)
		return nil, ErrNotFound
	case err != nil:
		metrics.DirectoryLookupsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("admin lookup %q: %w", host, err)
	}

	rec := res.App
	if d.reservedDatabase(rec.Database) {
		d.log.Warn("app row uses a reserved database name",
			zap.String("host", host), zap.String("database", rec.Database))
		metrics.DirectoryLookupsTotal.WithLabelValues("reserved").Inc()
		d.remember(host, gen, nil, d.opts.NegativeTTL)
		return nil, ErrNotFound
	}

	rec.Hostname = host
	metrics.DirectoryLookupsTotal.WithLabelValues("load").Inc()
	d.remember(host, gen, rec, d.opts.PositiveTTL)
	return rec, nil
}

func (d *Directory) generation(host string) uint64 {
	d.gmu.Lock()
	defer d.gmu.Unlock()
	return d.gens[host]
}

// remember caches an answer unless host was invalidated after gen was read.
func (d *Directory) remember(host string, gen uint64, rec *meta.Record, ttl time.Duration) {
	d.gmu.Lock()
	defer d.gmu.Unlock()
	if d.gens[host] != gen {
		return
	}
	d.lookup.AddWithTTL(host, rec, ttl)
}

// Invalidate drops any cached answer for hostname.  A lookup already in
// flight is detached so the next Resolve queries the admin database.
func (d *Directory) Invalidate(hostname string) {
	host := NormalizeHost(hostname)
	d.gmu.Lock()
	d.gens[host]++
	d.lookup.Remove(host)
	d.gmu.Unlock()
	d.sfg.Forget(host)
}

// Cluster picks the storage descriptor that serves rec.
func (d *Directory) Cluster(rec *meta.Record) (database.Descriptor, error) {
	if rec.Cluster != "" {
		if desc, ok := d.opts.Clusters.Lookup(rec.Cluster); ok {
			return desc, nil
		}
		return database.Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownCluster, rec.Cluster)
	}
	if desc, ok := d.opts.Clusters.Default(d.opts.DefaultType); ok {
		return desc, nil
	}
	return database.Descriptor{}, fmt.Errorf("%w: no cluster for default type %q", ErrUnknownCluster, d.opts.DefaultType)
}

// Close releases the admin handle.  Resolve fails afterwards.
func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.adminHandle == nil {
		return nil
	}
	err := d.adminHandle.Close()
	d.adminHandle = nil
	return err
}

func (d *Directory) adminState() (database.Handle, database.Adapter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, ErrDirectoryClosed
	}
	return d.adminHandle, d.adminAdapter, nil
}

// admin returns the shared admin handle, connecting on first use.  The
// connect runs outside d.mu and concurrent first callers share it.
func (d *Directory) admin(ctx context.Context) (database.Handle, database.Adapter, error) {
	if h, a, err := d.adminState(); err != nil || h != nil {
		return h, a, err
	}

	_, err, _ := d.adminSF.Do("admin", func() (any, error) {
		if h, _, err := d.adminState(); err != nil || h != nil {
			return nil, err
		}
		a, err := d.reg.AdapterFor(d.opts.Admin)
		if err != nil {
			return nil, fmt.Errorf("admin adapter: %w", err)
		}
		h, err := a.Connect(ctx, d.opts.AdminDatabase)
		if err != nil {
			return nil, fmt.Errorf("admin connect: %w", err)
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			_ = h.Close()
			return nil, ErrDirectoryClosed
		}
		d.adminAdapter, d.adminHandle = a, h
		d.mu.Unlock()

		d.log.Info("admin database connected",
			zap.String("type", a.Type()), zap.String("database", d.opts.AdminDatabase))
		return nil, nil
	})
	if err != nil {
		return nil, nil, err
	}
	if h, a, err := d.adminState(); err != nil || h != nil {
		return h, a, err
	}
	return nil, nil, ErrDirectoryClosed
}

func (d *Directory) reservedHost(host string) bool {
	if host == "" {
		return true
	}
	_, ok := d.hosts[host]
	return ok
}

func (d *Directory) reservedDatabase(name string) bool {
	_, ok := d.dbs[strings.ToLower(name)]
	return ok
}
