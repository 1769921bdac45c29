// Package memory is an in-process storage backend.  It keeps one store
// per logical database for the life of the Adapter, so reconnecting to a
// database sees earlier writes.  Used for local development ("type":
// "Memory") and as the reference backend in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Register binds the Memory tag to a factory that builds a fresh Adapter
// per descriptor.
func Register(r *database.Registry) {
	r.Register(database.TypeMemory, func(database.Descriptor) (database.Adapter, error) {
		return New(), nil
	})
}

// Adapter implements database.Adapter.
type Adapter struct {
	mu  sync.Mutex
	dbs map[string]*store
}

var _ database.Adapter = (*Adapter)(nil)

// New returns an empty Adapter.
func New() *Adapter {
	return &Adapter{dbs: make(map[string]*store)}
}

func (a *Adapter) Type() string { return database.TypeMemory }

// Connect returns a new Handle on the named database, creating it on
// first use.
func (a *Adapter) Connect(_ context.Context, name string) (database.Handle, error) {
	return a.Open(name), nil
}

// Open is Connect without the interface wrapping, for tests and seeding.
func (a *Adapter) Open(name string) *Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.dbs[name]
	if !ok {
		s = &store{
			apps:  make(map[string]meta.Record),
			users: make(map[string]database.User),
			creds: make(map[string]string),
		}
		a.dbs[name] = s
	}
	return &Handle{s: s}
}

// Query implements database.Adapter.
func (a *Adapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	if _, ok := h.(*Handle); !ok {
		return database.Result{}, fmt.Errorf("memory: foreign handle %T", h)
	}
	return database.Dispatch(ctx, h, req)
}

/*──────────────────────────── store ───────────────────────────────────────*/

type store struct {
	mu    sync.RWMutex
	apps  map[string]meta.Record   // hostname → record
	users map[string]database.User // id → user
	creds map[string]string        // credential key → user id
}

// Handle implements database.Handle on a shared store.
type Handle struct {
	s      *store
	closed atomic.Bool
}

var _ database.Handle = (*Handle)(nil)

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

func (h *Handle) Ping(context.Context) error {
	if h.closed.Load() {
		return database.ErrClosed
	}
	return nil
}

func (h *Handle) Close() error {
	h.closed.Store(true)
	return nil
}

// PutApp upserts a tenant row.  Admin-side writes are outside the
// gateway; this exists for development seeding and tests.
func (h *Handle) PutApp(rec meta.Record) {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	h.s.mu.Lock()
	h.s.apps[rec.Hostname] = rec
	h.s.mu.Unlock()
}

// DeleteApp removes a tenant row.
func (h *Handle) DeleteApp(hostname string) {
	h.s.mu.Lock()
	delete(h.s.apps, hostname)
	h.s.mu.Unlock()
}

// UserCount returns the number of stored users.
func (h *Handle) UserCount() int {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return len(h.s.users)
}

func (h *Handle) FindApp(_ context.Context, hostname string) (*meta.Record, error) {
	if h.closed.Load() {
		return nil, database.ErrClosed
	}
	h.s.mu.RLock()
	rec, ok := h.s.apps[hostname]
	h.s.mu.RUnlock()
	if !ok {
		return nil, database.ErrNotFound
	}
	return &rec, nil
}

func (h *Handle) GetUser(_ context.Context, id string) (*database.User, error) {
	if h.closed.Load() {
		return nil, database.ErrClosed
	}
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	u, ok := h.s.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneUser(u), nil
}

func (h *Handle) FindUserByCredential(_ context.Context, provider, externalID string) (*database.User, error) {
	if h.closed.Load() {
		return nil, database.ErrClosed
	}
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	id, ok := h.s.creds[database.CredentialKey(provider, externalID)]
	if !ok {
		return nil, database.ErrNotFound
	}
	return cloneUser(h.s.users[id]), nil
}

// InsertUser checks and claims every credential key under one lock.
func (h *Handle) InsertUser(_ context.Context, u *database.User) error {
	if h.closed.Load() {
		return database.ErrClosed
	}
	keys := u.CredentialKeys()

	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if _, ok := h.s.users[u.ID]; ok {
		return fmt.Errorf("memory: duplicate user id %q", u.ID)
	}
	for _, k := range keys {
		if _, taken := h.s.creds[k]; taken {
			return database.ErrConflict
		}
	}
	for _, k := range keys {
		h.s.creds[k] = u.ID
	}
	h.s.users[u.ID] = *cloneUser(*u)
	return nil
}

func cloneUser(u database.User) *database.User {
	out := u
	out.Credentials = make(map[string]database.Credential, len(u.Credentials))
	for k, v := range u.Credentials {
		out.Credentials[k] = v
	}
	return &out
}
