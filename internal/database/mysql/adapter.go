// internal/database/mysql/adapter.go
//
// MySQL implementation of database.Adapter and database.Handle.
//
// Context
// -------
// One cluster descriptor serves many tenants; each tenant gets its own
// schema (the logical database name from its app row) and its own small
// pool.  Credential uniqueness is the primary key of `user_credential`,
// so two concurrent first logins race on INSERT and exactly one wins.
// The loser sees error 1062 and reports database.ErrConflict.
//
// Schema
// ------
//
//	app             (hostname PK, secret, database_name, cluster, providers JSON, …)
//	app_user        (id PK, created_at)
//	user_credential (provider, external_id) PK → user_id
//
// Notes
// -----
//   - ensureSchema only creates missing tables; there is no migration path.
//   - Oxford commas, two spaces after periods.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/yanizio/appgate/internal/database"
	"github.com/yanizio/appgate/internal/tenant/meta"
)

const errDuplicateEntry = 1062

var schema = []string{
	`CREATE TABLE IF NOT EXISTS app (
	    hostname       VARCHAR(253)  NOT NULL PRIMARY KEY,
	    secret         VARCHAR(512)  NOT NULL,
	    database_name  VARCHAR(128)  NOT NULL,
	    cluster        VARCHAR(128)  NOT NULL DEFAULT '',
	    providers      JSON          NULL,
	    created_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP,
	    updated_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS app_user (
	    id          CHAR(36)      NOT NULL PRIMARY KEY,
	    created_at  TIMESTAMP(6)  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_credential (
	    provider      VARCHAR(64)    NOT NULL,
	    external_id   VARCHAR(255)   NOT NULL,
	    user_id       CHAR(36)       NOT NULL,
	    display_name  VARCHAR(255)   NOT NULL DEFAULT '',
	    email         VARCHAR(255)   NOT NULL DEFAULT '',
	    access_token  VARCHAR(2048)  NOT NULL DEFAULT '',
	    profile       JSON           NULL,
	    PRIMARY KEY (provider, external_id),
	    KEY idx_user_credential_user (user_id)
	)`,
}

// Register binds the MySQL tag.
func Register(r *database.Registry) {
	r.Register(database.TypeMySQL, NewAdapter)
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
		return nil, fmt.Errorf("mysql cluster %q: host is required", d.Name)
	}
	if s.Port == 0 {
		s.Port = 3306
	}
	return &Adapter{settings: s}, nil
}

func (a *Adapter) Type() string { return database.TypeMySQL }

// Connect opens a pool on the tenant schema and creates missing tables.
func (a *Adapter) Connect(ctx context.Context, name string) (database.Handle, error) {
	db, err := OpenWithOptions(ctx, a.settings.dsn(name), a.settings.options())
	if err != nil {
		return nil, err
	}
	h := NewHandle(db)
	if err := h.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (a *Adapter) Query(ctx context.Context, h database.Handle, req database.Request) (database.Result, error) {
	if _, ok := h.(*Handle); !ok {
		return database.Result{}, fmt.Errorf("mysql: foreign handle %T", h)
	}
	return database.Dispatch(ctx, h, req)
}

/*──────────────────────────── handle ──────────────────────────────────────*/

// Handle wraps one tenant pool.
type Handle struct {
	db *sqlx.DB
}

var _ database.Handle = (*Handle)(nil)

// NewHandle wraps an open pool.  Tests pass a sqlmock-backed *sqlx.DB.
func NewHandle(db *sqlx.DB) *Handle { return &Handle{db: db} }

func (h *Handle) ensureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := h.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql ensure schema: %w", err)
		}
	}
	return nil
}

func (h *Handle) Ping(ctx context.Context) error { return h.db.PingContext(ctx) }
func (h *Handle) Close() error                   { return h.db.Close() }

type appRow struct {
	meta.Record
	ProvidersJSON sql.NullString `db:"providers"`
}

// FindApp fetches a single app row by hostname.
func (h *Handle) FindApp(ctx context.Context, hostname string) (*meta.Record, error) {
	const q = `
        SELECT hostname, secret, database_name, cluster, providers,
               created_at, updated_at
        FROM   app
        WHERE  hostname = ?
        LIMIT  1`
	var row appRow
	if err := h.db.GetContext(ctx, &row, q, hostname); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	rec := row.Record
	if row.ProvidersJSON.Valid && row.ProvidersJSON.String != "" {
		if err := json.Unmarshal([]byte(row.ProvidersJSON.String), &rec.Providers); err != nil {
			return nil, fmt.Errorf("app %q providers: %w", hostname, err)
		}
	}
	return &rec, nil
}

type credentialRow struct {
	Provider    string           `db:"provider"`
	ExternalID  string           `db:"external_id"`
	DisplayName string           `db:"display_name"`
	Email       string           `db:"email"`
	AccessToken string           `db:"access_token"`
	Profile     database.Profile `db:"profile"`
}

func (h *Handle) GetUser(ctx context.Context, id string) (*database.User, error) {
	u := database.User{ID: id}
	err := h.db.GetContext(ctx, &u.CreatedAt,
		`SELECT created_at FROM app_user WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}

	rows := make([]credentialRow, 0, 2)
	err = h.db.SelectContext(ctx, &rows, `
        SELECT provider, external_id, display_name, email, access_token, profile
        FROM   user_credential
        WHERE  user_id = ?`, id)
	if err != nil {
		return nil, err
	}
	u.Credentials = make(map[string]database.Credential, len(rows))
	for _, r := range rows {
		u.Credentials[r.Provider] = database.Credential{
			ID:          r.ExternalID,
			DisplayName: r.DisplayName,
			Email:       r.Email,
			AccessToken: r.AccessToken,
			Profile:     r.Profile,
		}
	}
	return &u, nil
}

func (h *Handle) FindUserByCredential(ctx context.Context, provider, externalID string) (*database.User, error) {
	var userID string
	err := h.db.GetContext(ctx, &userID, `
        SELECT user_id FROM user_credential
        WHERE  provider = ? AND external_id = ?
        LIMIT  1`, provider, externalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	return h.GetUser(ctx, userID)
}

// InsertUser writes the user and its credentials in one transaction.
func (h *Handle) InsertUser(ctx context.Context, u *database.User) error {
	tx, err := h.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO app_user (id, created_at) VALUES (?, ?)`, u.ID, u.CreatedAt); err != nil {
		return err
	}
	for provider, c := range u.Credentials {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO user_credential
                   (provider, external_id, user_id, display_name, email, access_token, profile)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			provider, c.ID, u.ID, c.DisplayName, c.Email, c.AccessToken, c.Profile)
		if err != nil {
			if isDuplicate(err) {
				return database.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func isDuplicate(err error) bool {
	var me *mysqldrv.MySQLError
	return errors.As(err, &me) && me.Number == errDuplicateEntry
}
