// Package postgres is the clustered-host storage backend for PostgreSQL.
// Each tenant database gets its own pgxpool.  Credential uniqueness is the
// primary key of user_credential; a concurrent duplicate insert fails with
// SQLSTATE 23505 and is reported as database.ErrConflict.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS app (
	    hostname       TEXT         PRIMARY KEY,
	    secret         TEXT         NOT NULL,
	    database_name  TEXT         NOT NULL,
	    cluster        TEXT         NOT NULL DEFAULT '',
	    providers      JSONB        NULL,
	    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
	    updated_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS app_user (
	    id          TEXT         PRIMARY KEY,
	    created_at  TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_credential (
	    provider      TEXT  NOT NULL,
	    external_id   TEXT  NOT NULL,
	    user_id       TEXT  NOT NULL REFERENCES app_user (id),
	    display_name  TEXT  NOT NULL DEFAULT '',
	    email         TEXT  NOT NULL DEFAULT '',
	    access_token  TEXT  NOT NULL DEFAULT '',
	    profile       JSONB,
	    PRIMARY KEY (provider, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_credential_user ON user_credential (user_id)`,
}

// Register binds the PostgreSQL tag.
func Register(r *database.Registry) {
	r.Register(database.TypePostgreSQL, NewAdapter)
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
	if s.Host == "" {
		return nil, fmt.Errorf("postgres cluster %q: host is required", d.Name)
	}
	if s.Port == 0 {
		s.Port = 5432
	}
	return &Adapter{settings: s}, nil
}

func (a *Adapter) Type() string { return database.TypePostgreSQL }

func (a *Adapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	pool, err := NewPool(ctx, PoolConfig{
		ConnString: a.settings.connString(name),
		MaxConns:   a.settings.MaxConns,
	})
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ensure schema: %w", err)
		}
	}
	return &Handle{pool: pool}, nil
}

func (a *Adapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	if _, ok := h.(*Handle); !ok {
		return database.Result{}, fmt.Errorf("postgres: foreign handle %T", h)
	}
	return database.Dispatch(ctx, h, req)
}

/*──────────────────────────── handle ──────────────────────────────────────*/

// Handle wraps one tenant pool.
type Handle struct {
	pool *pgxpool.Pool
}

var _ database.Handle = (*Handle)(nil)

func (h *Handle) Ping(ctx context.Context) error { return h.pool.Ping(ctx) }

// Close shuts the pool down; safe to call more than once.
func (h *Handle) Close() error {
	h.pool.Close()
	return nil
}

func (h *Handle) FindApp(ctx context.Context, hostname string) (*meta.Record, error) {
	var (
		rec       meta.Record
		providers []byte
	)
	err := h.pool.QueryRow(ctx, `
        SELECT hostname, secret, database_name, cluster, providers, created_at, updated_at
        FROM   app
        WHERE  hostname = $1`, hostname).
		Scan(&rec.Hostname, &rec.Secret, &rec.Database, &rec.Cluster, &providers,
			&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	if len(providers) > 0 {
		if err := json.Unmarshal(providers, &rec.Providers); err != nil {
			return nil, fmt.Errorf("app %q providers: %w", hostname, err)
		}
	}
	return &rec, nil
}

func (h *Handle) GetUser(ctx context.Context, id string) (*database.User, error) {
	u := database.User{ID: id, Credentials: map[string]database.Credential{}}
	err := h.pool.QueryRow(ctx, `SELECT created_at FROM app_user WHERE id = $1`, id).
		Scan(&u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	rows, err := h.pool.Query(ctx, `
        SELECT provider, external_id, display_name, email, access_token, profile
        FROM   user_credential
        WHERE  user_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			provider string
			c        database.Credential
		)
		if err := rows.Scan(&provider, &c.ID, &c.DisplayName, &c.Email, &c.AccessToken, &c.Profile); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		u.Credentials[provider] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return &u, nil
}

func (h *Handle) FindUserByCredential(ctx context.Context, provider, externalID string) (*database.User, error) {
	var userID string
	err := h.pool.QueryRow(ctx, `
        SELECT user_id FROM user_credential
        WHERE  provider = $1 AND external_id = $2`, provider, externalID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return h.GetUser(ctx, userID)
}

func (h *Handle) InsertUser(ctx context.Context, u *database.User) error {
	tx, err := h.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO app_user (id, created_at) VALUES ($1, $2)`, u.ID, u.CreatedAt); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	for provider, c := range u.Credentials {
		_, err := tx.Exec(ctx, `
            INSERT INTO user_credential
                   (provider, external_id, user_id, display_name, email, access_token, profile)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			provider, c.ID, u.ID, c.DisplayName, c.Email, c.AccessToken, c.Profile)
		if err != nil {
			if isUniqueViolation(err) {
				return database.ErrConflict
			}
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
