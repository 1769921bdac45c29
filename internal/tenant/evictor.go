// evictor.go houses the maintenance loop for Cache.  Every EvictInterval
// it:
//
//   - forgets failure records whose cool-down has passed
//   - retires connections idle longer than IdleTTL (when set)
//   - retires least-recently-used connections when the map size exceeds
//     MaxEntries (when set)
//
// Leased entries are never retired by the idle pass.  Each eviction is
// logged and updates Prometheus counters.
package tenant

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/metrics"
)

func (c *Cache) evictLoop() {
	defer close(c.done)
	t := time.NewTicker(c.opts.EvictInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-t.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := c.now()

	// ----------------------------------------------------------------
	// Expired failure records
	// ----------------------------------------------------------------
	c.fmu.Lock()
	for host, f := range c.failures {
		if !now.Before(f.until) {
			delete(c.failures, host)
		}
	}
	c.fmu.Unlock()

	// ----------------------------------------------------------------
	// Idle eviction pass
	// ----------------------------------------------------------------
	count := 0
	c.m.Range(func(key, value any) bool {
		count++
		if c.opts.IdleTTL <= 0 {
			return true
		}
		ent := value.(*entry)
		idle := now.Sub(time.Unix(0, ent.lastSeen.Load()))
		if idle > c.opts.IdleTTL && !ent.inUse() {
			if c.m.CompareAndDelete(key, ent) {
				count--
				c.evict(ent, "idle", zap.Duration("idle", idle.Truncate(time.Second)))
			}
		}
		return true
	})

	// ----------------------------------------------------------------
	// LRU eviction pass
	// ----------------------------------------------------------------
	if c.opts.MaxEntries <= 0 || count <= c.opts.MaxEntries {
		return
	}
	type kv struct {
		ent *entry
		at  int64
	}
	var all []kv
	c.m.Range(func(_, value any) bool {
		ent := value.(*entry)
		all = append(all, kv{ent: ent, at: ent.lastSeen.Load()})
		return true
	})
	sort.Slice(all, func(i, j int) bool { return all[i].at < all[j].at })
	for i := 0; i < len(all)-c.opts.MaxEntries; i++ {
		if c.m.CompareAndDelete(all[i].ent.host, all[i].ent) {
			c.evict(all[i].ent, "lru")
		}
	}
}

func (c *Cache) evict(ent *entry, reason string, fields ...zap.Field) {
	ent.retire()
	metrics.TenantEvictTotal.Inc()
	metrics.ActiveTenants.Dec()
	c.log.Info("tenant evicted",
		append([]zap.Field{zap.String("host", ent.host), zap.String("reason", reason)}, fields...)...)
}
