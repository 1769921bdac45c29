package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/database/memory"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

const countingType = "Counting"

// countingAdapter wraps the memory backend and counts Connect calls.
type countingAdapter struct {
	*memory.Adapter
	connects atomic.Int32
	delay    time.Duration
	fail     atomic.Bool
}

func (a *countingAdapter) Type() string { return countingType }

func (a *countingAdapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	a.connects.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.fail.Load() {
		return nil, errors.New("cluster down")
	}
	return a.Adapter.Connect(ctx, name)
}

const gatedType = "Gated"

// gatedAdapter serves the admin database and can park Connect, or Query
// after it has read its answer, until the test opens the gate.
type gatedAdapter struct {
	*memory.Adapter
	holdConnect atomic.Bool
	holdQuery   atomic.Bool
	entered     chan struct{}
	gate        chan struct{}
	openOnce    sync.Once
}

func (a *gatedAdapter) Type() string { return gatedType }

func (a *gatedAdapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	if a.holdConnect.Load() {
		a.wait()
	}
	return a.Adapter.Connect(ctx, name)
}

func (a *gatedAdapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	res, err := a.Adapter.Query(ctx, h, req)
	if a.holdQuery.Load() {
		a.wait()
	}
	return res, err
}

func (a *gatedAdapter) wait() {
	a.entered <- struct{}{}
	<-a.gate
}

func (a *gatedAdapter) open() { a.openOnce.Do(func() { close(a.gate) }) }

// waitFor polls cond for up to a second.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

// clock is a settable time source for cool-down and idle tests.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	reg     *database.Registry
	mem     *memory.Adapter
	admin   *memory.Handle
	tenants *countingAdapter
	gated   *gatedAdapter
	dir     *Directory
}

func newFixture(t *testing.T, mutate func(*DirectoryOptions)) *fixture {
	t.Helper()
	mem := memory.New()
	f := &fixture{
		reg:     database.NewRegistry(),
		mem:     mem,
		admin:   mem.Open("r_admin"),
		tenants: &countingAdapter{Adapter: memory.New()},
		gated: &gatedAdapter{
			Adapter: mem,
			entered: make(chan struct{}, 16),
			gate:    make(chan struct{}),
		},
	}
	f.reg.Register(database.TypeMemory, func(database.Descriptor) (database.Adapter, error) { return mem, nil })
	f.reg.Register(countingType, func(database.Descriptor) (database.Adapter, error) { return f.tenants, nil })
	f.reg.Register(gatedType, func(database.Descriptor) (database.Adapter, error) { return f.gated, nil })
	t.Cleanup(f.gated.open)

	f.admin.PutApp(meta.Record{Hostname: "shop.example.com", Secret: "s3cret", Database: "shop"})
	f.admin.PutApp(meta.Record{Hostname: "blog.example.com", Secret: "b", Database: "blog"})

	opts := DirectoryOptions{
		Admin:         database.Descriptor{Name: database.AdminDescriptorName, Type: database.TypeMemory},
		AdminDatabase: "r_admin",
		Clusters: database.DescriptorSet{
			"main":   {Name: "main", Type: countingType},
			"legacy": {Name: "legacy", Type: "RethinkDB"},
		},
		DefaultType: countingType,
		Logger:      zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	f.dir = NewDirectory(f.reg, opts)
	t.Cleanup(func() { _ = f.dir.Close() })
	return f
}

func (f *fixture) cache(t *testing.T, opts CacheOptions) *Cache {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	c, err := NewCache(f.dir, f.reg, opts)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}
