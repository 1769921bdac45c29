// Package redis is the key-value storage backend.  Every tenant database
// is a key prefix inside one Redis logical DB:
//
//	{db}:app:{hostname}          JSON meta.Record
//	{db}:user:{id}               JSON database.User
//	{db}:cred:{provider}:{id}    user id, claimed with SETNX
//
// A user is written first, then each credential key is claimed.  Losing
// any claim rolls the user back and reports database.ErrConflict.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

// Register binds the Redis tag.
func Register(r *database.Registry) {
	r.Register(database.TypeRedis, NewAdapter)
}

// Settings is the Redis descriptor payload.  URL wins when set.
type Settings struct {
	URL      string `json:"url"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

func (s Settings) options() (*goredis.Options, error) {
	if s.URL != "" {
		opt, err := goredis.ParseURL(s.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	return &goredis.Options{
		Addr:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Password: s.Password,
		DB:       s.DB,
	}, nil
}

// Adapter implements database.Adapter for one cluster descriptor.
type Adapter struct {
	settings Settings
}

var _ database.Adapter = (*Adapter)(nil)

// NewAdapter validates the descriptor payload.
func NewAdapter(d database.Descriptor) (database.Adapter, error) {
	var s Settings
	if err := d.Decode(&s); err != nil {
		return nil, err
	}
	if s.URL == "" && s.Host == "" {
		return nil, fmt.Errorf("redis cluster %q: url or host is required", d.Name)
	}
	if s.Port == 0 {
		s.Port = 6379
	}
	if _, err := s.options(); err != nil {
		return nil, fmt.Errorf("redis cluster %q: %w", d.Name, err)
	}
	return &Adapter{settings: s}, nil
}

func (a *Adapter) Type() string { return database.TypeRedis }

func (a *Adapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	opt, err := a.settings.options()
	if err != nil {
		return nil, err
	}
	client := goredis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewHandle(client, name), nil
}

func (a *Adapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	if _, ok := h.(*Handle); !ok {
		return database.Result{}, fmt.Errorf("redis: foreign handle %T", h)
	}
	return database.Dispatch(ctx, h, req)
}

/*──────────────────────────── handle ──────────────────────────────────────*/

// Handle is a client plus the tenant key prefix.
type Handle struct {
	client *goredis.Client
	prefix string
}

var _ database.Handle = (*Handle)(nil)

// NewHandle wraps an existing client; the handle owns it from here on.
func NewHandle(client *goredis.Client, database string) *Handle {
	return &Handle{client: client, prefix: database + ":"}
}

func (h *Handle) appKey(hostname string) string { return h.prefix + "app:" + hostname }
func (h *Handle) userKey(id string) string      { return h.prefix + "user:" + id }
func (h *Handle) credKey(provider, id string) string {
	return h.prefix + "cred:" + database.CredentialKey(provider, id)
}

func (h *Handle) Ping(ctx context.Context) error { return h.client.Ping(ctx).Err() }

func (h *Handle) Close() error { return h.client.Close() }

// PutApp stores an app record; used by provisioning and tests.
func (h *Handle) PutApp(ctx context.Context, rec *meta.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.client.Set(ctx, h.appKey(rec.Hostname), b, 0).Err()
}

func (h *Handle) FindApp(ctx context.Context, hostname string) (*meta.Record, error) {
	b, err := h.client.Get(ctx, h.appKey(hostname)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	var rec meta.Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("decode app %q: %w", hostname, err)
	}
	return &rec, nil
}

func (h *Handle) GetUser(ctx context.Context, id string) (*database.User, error) {
	b, err := h.client.Get(ctx, h.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	var u database.User
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("decode user %q: %w", id, err)
	}
	return &u, nil
}

func (h *Handle) FindUserByCredential(ctx context.Context, provider, externalID string) (*database.User, error) {
	id, err := h.client.Get(ctx, h.credKey(provider, externalID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return h.GetUser(ctx, id)
}

func (h *Handle) InsertUser(ctx context.Context, u *database.User) error {
	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	ok, err := h.client.SetNX(ctx, h.userKey(u.ID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if !ok {
		return database.ErrConflict
	}

	claimed := []string{h.userKey(u.ID)}
	for provider, c := range u.Credentials {
		key := h.credKey(provider, c.ID)
		won, err := h.client.SetNX(ctx, key, u.ID, 0).Result()
		if err == nil && won {
			claimed = append(claimed, key)
			continue
		}
		// Roll back with a fresh context so a cancelled request still cleans up.
		_ = h.client.Del(context.WithoutCancel(ctx), claimed...).Err()
		if err != nil {
			return fmt.Errorf("claim credential: %w", err)
		}
		return database.ErrConflict
	}
	return nil
}
