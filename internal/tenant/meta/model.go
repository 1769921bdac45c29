// internal/tenant/meta/model.go
//
// `app` record model.
//
// Context
// -------
// The `Record` struct mirrors one tenant row in the admin database,
// regardless of which backend stores it.  SQL adapters scan it through
// `db` tags, the MongoDB adapter through `bson` tags, and the Redis and
// in-memory adapters through `json` tags.
//
// Schema reference (SQL backends)
//
//	CREATE TABLE app (
//	    hostname       VARCHAR(253)  NOT NULL PRIMARY KEY,
//	    secret         VARCHAR(512)  NOT NULL,
//	    database_name  VARCHAR(128)  NOT NULL,
//	    cluster        VARCHAR(128)  NOT NULL DEFAULT '',
//	    providers      JSON          NULL,
//	    created_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
//   - `Hostname` is stored normalised (lower-case, no port).
//   - `Cluster` empty means "use the default cluster".
//   - This package has no dependencies so every adapter may import it.
//   - Oxford commas, two spaces after periods.
package meta

import "time"

// ProviderConfig holds the OAuth client settings for one identity provider.
type ProviderConfig struct {
	ClientID     string `json:"clientId"     bson:"clientId"`
	ClientSecret string `json:"clientSecret" bson:"clientSecret"`
	Enabled      bool   `json:"enabled"      bson:"enabled"`
}

// Record mirrors one row in the `app` table.
type Record struct {
	Hostname  string                    `db:"hostname"      json:"hostname"  bson:"hostname"`
	Secret    string                    `db:"secret"        json:"secret"    bson:"secret"`
	Database  string                    `db:"database_name" json:"database"  bson:"database"`
	Cluster   string                    `db:"cluster"       json:"cluster"   bson:"cluster"`
	Providers map[string]ProviderConfig `db:"-"             json:"providers" bson:"providers"`
	CreatedAt time.Time                 `db:"created_at"    json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time                 `db:"updated_at"    json:"updatedAt" bson:"updatedAt"`
}

// Provider returns the configuration for name, if any.
func (r *Record) Provider(name string) (ProviderConfig, bool) {
	if r == nil || r.Providers == nil {
		return ProviderConfig{}, false
	}
	p, ok := r.Providers[name]
	return p, ok
}
