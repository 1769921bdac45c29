// internal/tenant/entry.go
//
// Live tenant connection and the caller-side lease.
//
// Context
// -------
// The cache stores one *entry per hostname.  An entry owns the storage
// handle opened for the tenant's database and counts outstanding leases.
// Retiring an entry (Invalidate, Close, idle or LRU eviction) stops new
// leases; the handle is closed by whichever of retire or the last Release
// happens second.  `lastSeen` is a UnixNano timestamp read by the evictor.
//
// Notes
// -----
//   - Conn is not safe to share across goroutines after Release.
//   - Oxford commas, two spaces after periods.
package tenant

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

//
// Cache entry
//

type entry struct {
	host     string
	record   *meta.Record
	adapter  database.Adapter
	handle   database.Handle
	created  time.Time
	lastSeen atomic.Int64 // UnixNano

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
	log     *zap.Logger
}

// acquire takes a lease unless the entry has been retired.
func (e *entry) acquire(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retired {
		return false
	}
	e.refs++
	e.lastSeen.Store(now.UnixNano())
	return true
}

func (e *entry) release() {
	e.mu.Lock()
	e.refs--
	closeNow := e.retired && e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.mu.Unlock()
	if closeNow {
		e.close()
	}
}

// retire marks the entry dead.  The handle closes now if idle, otherwise
// on the last release.
func (e *entry) retire() {
	e.mu.Lock()
	if e.retired {
		e.mu.Unlock()
		return
	}
	e.retired = true
	closeNow := e.refs == 0 && !e.closed
	if closeNow {
		e.closed = true
	}
	e.mu.Unlock()
	if closeNow {
		e.close()
	}
}

func (e *entry) inUse() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refs > 0
}

func (e *entry) close() {
	if err := e.handle.Close(); err != nil {
		e.log.Warn("close tenant handle", zap.String("host", e.host), zap.Error(err))
	}
}

//
// Caller lease
//

// Conn is a lease on a tenant's live storage handle.  Callers must call
// Release exactly once when the request is done; extra calls are no-ops.
type Conn struct {
	e    *entry
	once sync.Once
}

// Record returns the tenant's app record.
func (c *Conn) Record() *meta.Record { return c.e.record }

// Handle returns the live storage handle.
func (c *Conn) Handle() database.Handle { return c.e.handle }

// Adapter returns the adapter that opened the handle.
func (c *Conn) Adapter() database.Adapter { return c.e.adapter }

// Query runs req through the adapter contract.
func (c *Conn) Query(ctx context.Context, req database.Request) (database.Result, error) {
	return c.e.adapter.Query(ctx, c.e.handle, req)
}

// Release returns the lease.
func (c *Conn) Release() {
	c.once.Do(c.e.release)
}
