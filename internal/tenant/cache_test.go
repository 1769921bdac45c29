package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/database/memory"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

func TestAcquire_CoalescesConcurrentMisses(t *testing.T) {
	f := newFixture(t, nil)
	f.tenants.delay = 50 * time.Millisecond
	c := f.cache(t, CacheOptions{})

	const callers = 64
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles = make(map[database.Handle]struct{})
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := c.Acquire(context.Background(), "shop.example.com")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			defer conn.Release()
			mu.Lock()
			handles[conn.Handle()] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if got := f.tenants.connects.Load(); got != 1 {
		t.Fatalf("connects = %d, want 1", got)
	}
	if len(handles) != 1 {
		t.Fatalf("distinct handles = %d, want 1", len(handles))
	}
}

func TestAcquire_CoalescesConcurrentFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.tenants.delay = 50 * time.Millisecond
	f.tenants.fail.Store(true)
	c := f.cache(t, CacheOptions{})

	const callers = 32
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := c.Acquire(context.Background(), "shop.example.com")
			if err == nil {
				conn.Release()
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrConnectionFailure) {
			t.Fatalf("want ErrConnectionFailure, got %v", err)
		}
	}
	if got := f.tenants.connects.Load(); got != 1 {
		t.Fatalf("connects = %d, want 1", got)
	}
}

func TestAcquire_UnknownHostNotCached(t *testing.T) {
	f := newFixture(t, nil)
	c := f.cache(t, CacheOptions{})

	_, err := c.Acquire(context.Background(), "nonexistent.example.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
	_, err = c.Acquire(context.Background(), "rethinkdb.com")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("reserved: want ErrNotFound, got %v", err)
	}
	if f.tenants.connects.Load() != 0 {
		t.Fatal("connect attempted for unknown host")
	}
	if c.coolingDown("nonexistent.example.com") != nil {
		t.Fatal("not-found recorded as a failure")
	}
}

func TestAcquire_FailureCooldown(t *testing.T) {
	f := newFixture(t, nil)
	c := f.cache(t, CacheOptions{FailureCooldown: 2 * time.Second})
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c.now = clk.Now

	f.tenants.fail.Store(true)
	_, first := c.Acquire(context.Background(), "shop.example.com")
	if !errors.Is(first, ErrConnectionFailure) {
		t.Fatalf("want ErrConnectionFailure, got %v", first)
	}

	clk.Advance(time.Second)
	_, second := c.Acquire(context.Background(), "shop.example.com")
	if second != first {
		t.Fatalf("inside window: want the same error, got %v", second)
	}
	if got := f.tenants.connects.Load(); got != 1 {
		t.Fatalf("connects inside window = %d, want 1", got)
	}

	// Other tenants are unaffected.
	f.tenants.fail.Store(false)
	other, err := c.Acquire(context.Background(), "blog.example.com")
	if err != nil {
		t.Fatalf("blog: %v", err)
	}
	other.Release()

	clk.Advance(1500 * time.Millisecond)
	conn, err := c.Acquire(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("after window: %v", err)
	}
	conn.Release()
	if got := f.tenants.connects.Load(); got != 3 {
		t.Fatalf("connects = %d, want 3", got)
	}
}

func TestAcquire_UnsupportedBackendIsolated(t *testing.T) {
	f := newFixture(t, nil)
	f.admin.PutApp(meta.Record{Hostname: "old.example.com", Database: "old", Cluster: "legacy"})
	c := f.cache(t, CacheOptions{})

	_, err := c.Acquire(context.Background(), "old.example.com")
	if !errors.Is(err, ErrConnectionFailure) || !errors.Is(err, database.ErrUnsupportedBackend) {
		t.Fatalf("want wrapped ErrUnsupportedBackend, got %v", err)
	}

	conn, err := c.Acquire(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("healthy tenant failed: %v", err)
	}
	conn.Release()
}

func TestInvalidate_DrainsOutstandingLease(t *testing.T) {
	f := newFixture(t, nil)
	c := f.cache(t, CacheOptions{})
	ctx := context.Background()

	old, err := c.Acquire(ctx, "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	oldHandle := old.Handle().(*memory.Handle)

	c.Invalidate("shop.example.com")
	if oldHandle.Closed() {
		t.Fatal("handle closed while still leased")
	}
	if _, err := old.Query(ctx, database.Request{Op: database.OpPing}); err != nil {
		t.Fatalf("outstanding lease broken: %v", err)
	}

	fresh, err := c.Acquire(ctx, "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer fresh.Release()
	if fresh.Handle() == old.Handle() {
		t.Fatal("invalidate reused the retired handle")
	}
	if got := f.tenants.connects.Load(); got != 2 {
		t.Fatalf("connects = %d, want 2", got)
	}

	old.Release()
	old.Release() // no-op
	if !oldHandle.Closed() {
		t.Fatal("retired handle not closed on last release")
	}
	if fresh.Handle().(*memory.Handle).Closed() {
		t.Fatal("fresh handle closed")
	}
}

func TestInvalidate_DuringConnect(t *testing.T) {
	f := newFixture(t, nil)
	f.tenants.delay = 100 * time.Millisecond
	c := f.cache(t, CacheOptions{})
	ctx := context.Background()

	inflight := make(chan *Conn, 1)
	go func() {
		conn, err := c.Acquire(ctx, "shop.example.com")
		if err != nil {
			t.Errorf("in-flight acquire: %v", err)
		}
		inflight <- conn
	}()
	// The record is resolved before Connect starts sleeping.
	waitFor(t, func() bool { return f.tenants.connects.Load() == 1 })

	f.admin.PutApp(meta.Record{Hostname: "shop.example.com", Secret: "rotated", Database: "shop"})
	c.Invalidate("shop.example.com")

	conn, err := c.Acquire(ctx, "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got := conn.Record().Secret; got != "rotated" {
		t.Fatalf("secret after invalidate = %q, want rotated", got)
	}
	conn.Release()

	if old := <-inflight; old != nil {
		if got := old.Record().Secret; got != "rotated" {
			t.Fatalf("in-flight caller got %q, want rotated", got)
		}
		old.Release()
	}

	again, err := c.Acquire(ctx, "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	defer again.Release()
	if got := again.Record().Secret; got != "rotated" {
		t.Fatalf("cached secret = %q, want rotated", got)
	}
	if c.Len() != 1 {
		t.Fatalf("len = %d, want 1", c.Len())
	}
}

func TestInvalidate_DropsInFlightFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.tenants.delay = 50 * time.Millisecond
	f.tenants.fail.Store(true)
	c := f.cache(t, CacheOptions{FailureCooldown: time.Minute})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if conn, err := c.Acquire(context.Background(), "shop.example.com"); err == nil {
			conn.Release()
		}
	}()
	waitFor(t, func() bool { return f.tenants.connects.Load() == 1 })
	c.Invalidate("shop.example.com")
	<-done
	f.tenants.fail.Store(false)

	// The superseded failure must not start a cool-down.
	conn, err := c.Acquire(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatalf("acquire after invalidate: %v", err)
	}
	conn.Release()
}

func TestSweep_IdleAndLRU(t *testing.T) {
	f := newFixture(t, nil)
	c := f.cache(t, CacheOptions{IdleTTL: time.Minute, MaxEntries: 1, EvictInterval: time.Hour})
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c.now = clk.Now
	ctx := context.Background()

	shop, err := c.Acquire(ctx, "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	shopHandle := shop.Handle().(*memory.Handle)
	shop.Release()

	clk.Advance(10 * time.Second)
	blog, err := c.Acquire(ctx, "blog.example.com")
	if err != nil {
		t.Fatal(err)
	}
	blogHandle := blog.Handle().(*memory.Handle)

	// Two entries, cap one: shop is least recently used.
	c.sweep()
	if c.Len() != 1 || !shopHandle.Closed() {
		t.Fatalf("LRU pass: len=%d shopClosed=%v", c.Len(), shopHandle.Closed())
	}

	// Leased entries survive the idle pass.
	clk.Advance(2 * time.Minute)
	c.sweep()
	if c.Len() != 1 || blogHandle.Closed() {
		t.Fatal("leased entry evicted")
	}

	blog.Release()
	c.sweep()
	if c.Len() != 0 || !blogHandle.Closed() {
		t.Fatalf("idle pass: len=%d blogClosed=%v", c.Len(), blogHandle.Closed())
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)
	c := f.cache(t, CacheOptions{})

	conn, err := c.Acquire(context.Background(), "shop.example.com")
	if err != nil {
		t.Fatal(err)
	}
	h := conn.Handle().(*memory.Handle)
	conn.Release()

	c.Close()
	c.Close()
	if !h.Closed() {
		t.Fatal("handle left open after Close")
	}
	if _, err := c.Acquire(context.Background(), "shop.example.com"); !errors.Is(err, ErrCacheClosed) {
		t.Fatalf("want ErrCacheClosed, got %v", err)
	}
}

func TestCacheOptions_Validate(t *testing.T) {
	if err := (CacheOptions{FailureCooldown: 2 * time.Minute}).Validate(); err == nil {
		t.Fatal("cool-down above max accepted")
	}
	if err := (CacheOptions{FailureCooldown: -time.Second}).Validate(); err == nil {
		t.Fatal("negative cool-down accepted")
	}
	if err := (CacheOptions{}).Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestConnContext(t *testing.T) {
	if ConnFrom(context.Background()) != nil {
		t.Fatal("empty context returned a conn")
	}
	c := &Conn{}
	if ConnFrom(WithConn(context.Background(), c)) != c {
		t.Fatal("round trip lost the conn")
	}
}
