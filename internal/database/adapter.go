// Package database defines the storage contract shared by every backend.
// An Adapter is built from a Descriptor by the Registry, opens Handles
// with Connect, and runs backend-neutral Requests with Query.
//
// Public entry points:
//
//	ParseDescriptor / ParseDescriptorSet – start-up validation.
//	Registry.AdapterFor(desc)             – tag → Adapter, lazily.
//	Adapter.Connect(ctx, database)        – open a pooled Handle.
//	Adapter.Query(ctx, handle, req)       – run one Request.
//
// Handles are pools.  They are safe for concurrent use and must be closed
// once no caller holds them.
package database

import (
	"context"
	"fmt"

	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Adapter is one storage engine implementation bound to a descriptor.
type Adapter interface {
	// Type returns the backend tag this adapter serves.
	Type() string
	// Connect opens a handle on the named logical database.
	Connect(ctx context.Context, database string) (Handle, error)
	// Query runs req against a handle previously returned by Connect.
	Query(ctx context.Context, h Handle, req Request) (Result, error)
}

// Handle is a live, pooled connection to one logical database.
type Handle interface {
	Ping(ctx context.Context) error
	Close() error

	// FindApp returns the tenant row for a normalised hostname.  Only
	// meaningful on the admin database.
	FindApp(ctx context.Context, hostname string) (*meta.Record, error)

	GetUser(ctx context.Context, id string) (*User, error)
	FindUserByCredential(ctx context.Context, provider, externalID string) (*User, error)

	// InsertUser stores u and all of its credentials atomically.  It
	// returns ErrConflict when any (provider, external id) pair is
	// already linked, leaving no partial state behind.
	InsertUser(ctx context.Context, u *User) error
}

/*──────────────────────────── requests ────────────────────────────────────*/

// Op names a backend-neutral storage operation.
type Op int

const (
	OpPing Op = iota
	OpFindApp
	OpGetUser
	OpFindUserByCredential
	OpInsertUser
)

func (o Op) String() string {
	switch o {
	case OpPing:
		return "ping"
	case OpFindApp:
		return "find_app"
	case OpGetUser:
		return "get_user"
	case OpFindUserByCredential:
		return "find_user_by_credential"
	case OpInsertUser:
		return "insert_user"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Request carries the arguments for one Op.  Unused fields are ignored.
type Request struct {
	Op         Op
	Hostname   string
	UserID     string
	Provider   string
	ExternalID string
	User       *User
}

// Result carries whatever the Op produced.
type Result struct {
	App  *meta.Record
	User *User
}

// Dispatch maps a Request onto the Handle methods.  Adapters use it as
// their Query implementation after checking handle ownership.
func Dispatch(ctx context.Context, h Handle, req Request) (Result, error) {
	if h == nil {
		return Result{}, ErrClosed
	}
	switch req.Op {
	case OpPing:
		return Result{}, h.Ping(ctx)
	case OpFindApp:
		app, err := h.FindApp(ctx, req.Hostname)
		return Result{App: app}, err
	case OpGetUser:
		u, err := h.GetUser(ctx, req.UserID)
		return Result{User: u}, err
	case OpFindUserByCredential:
		u, err := h.FindUserByCredential(ctx, req.Provider, req.ExternalID)
		return Result{User: u}, err
	case OpInsertUser:
		if req.User == nil {
			return Result{}, fmt.Errorf("%s: user is required", req.Op)
		}
		return Result{User: req.User}, h.InsertUser(ctx, req.User)
	default:
		return Result{}, fmt.Errorf("unknown storage op %s", req.Op)
	}
}
