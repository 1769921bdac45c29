// internal/config/model.go
//
// Typed configuration model for the gateway.
//
// Context
// -------
// These structs define the shape of the configuration tree that
// `internal/config/loader.go` builds from three overlay layers:
//
//   • optional `.env`                           – dotenv values,
//   • `conf/gateway.yaml`                       – primary static file,
//   • `GATEWAY_`-prefixed environment overrides – highest precedence.
//
// Any value whose string begins with the prefix `vault:` is resolved
// through the Vault client *before* unmarshalling, so the model never
// stores Vault URIs, only plain strings.
//
// The two storage descriptor fields accept either a JSON string (the
// natural form for an env override) or a YAML map.  Both are rendered to
// JSON and validated by internal/database after unmarshal.
//
// Notes
// -----
//   • Struct tags use `koanf:"…"`, not `yaml:"…"`.  Koanf ignores `yaml` tags
//     unless configured otherwise.
//   • `Paths` and the parsed descriptors are filled at runtime; YAML must
//     not try to set them.
//   • Oxford commas, two spaces after periods.  No em-dash.

package config

import (
	"time"

	"github.com/yanizio/appgate/internal/database"
)

//
// HTTP section
//

// HTTP holds web-server tunables.
type HTTP struct {
	ListenAddr   string        `koanf:"listen_addr"   validate:"required,hostname_port"`
	ForceHTTPS   bool          `koanf:"force_https"`
	ReadTimeout  time.Duration `koanf:"read_timeout"  validate:"gte=0"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `koanf:"idle_timeout"  validate:"gte=0"`
	CORSOrigins  []string      `koanf:"cors_origins"  validate:"dive,required"` // browser origins allowed to call the API
}

//
// App section
//

// App holds process-wide application secrets.
type App struct {
	Key string `koanf:"key"` // admin API key; optional
}

//
// Database section
//

// Database names the admin database and the tenant clusters.
//
// `AdminDatabaseSettings` and `Clusters` stay untyped until the loader
// hands them to database.ParseDescriptor / ParseDescriptorSet; the parsed
// results land in `Admin` and `ClusterSet`.
type Database struct {
	AdminDatabase         string `koanf:"admin_database"          validate:"required"`
	AdminDatabaseSettings any    `koanf:"admin_database_settings" validate:"required"`
	Clusters              any    `koanf:"clusters"                validate:"required"`
	DefaultDatabaseType   string `koanf:"default_database_type"   validate:"required"`

	// SeedApps is applied only when the admin database is Memory, so a
	// development checkout can serve a tenant without external services.
	SeedApps []SeedApp `koanf:"seed_apps" validate:"dive"`

	Admin      database.Descriptor    `koanf:"-"`
	ClusterSet database.DescriptorSet `koanf:"-"`
}

// SeedApp is one development tenant.  Providers lists the enabled
// identity provider names.
type SeedApp struct {
	Hostname  string   `koanf:"hostname"  validate:"required"`
	Secret    string   `koanf:"secret"    validate:"required"`
	Database  string   `koanf:"database"  validate:"required"`
	Cluster   string   `koanf:"cluster"`
	Providers []string `koanf:"providers"`
}

//
// Auth section
//

// Auth configures token issuance and the provider handshake.
type Auth struct {
	CookiePassword  string        `koanf:"cookie_password"  validate:"omitempty,min=32"`
	SuccessRedirect string        `koanf:"success_redirect" validate:"required"`
	TokenTTL        time.Duration `koanf:"token_ttl"        validate:"gte=0"`
	HandshakeTTL    time.Duration `koanf:"handshake_ttl"    validate:"gte=0"`
	SimulatedLogin  bool          `koanf:"simulated_login"` // dev only
}

//
// Directory section
//

// Directory tunes hostname resolution.
type Directory struct {
	PositiveTTL       time.Duration `koanf:"positive_ttl"       validate:"gte=0"`
	NegativeTTL       time.Duration `koanf:"negative_ttl"       validate:"gte=0"`
	Size              int           `koanf:"size"               validate:"gte=0"`
	LookupTimeout     time.Duration `koanf:"lookup_timeout"     validate:"gte=0"`
	ReservedHosts     []string      `koanf:"reserved_hosts"`
	ReservedDatabases []string      `koanf:"reserved_databases"`
}

//
// Cache section
//

// Cache tunes the tenant connection cache.
type Cache struct {
	FailureCooldown time.Duration `koanf:"failure_cooldown" validate:"gte=0,lte=1m"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"  validate:"gte=0"`
	IdleTTL         time.Duration `koanf:"idle_ttl"         validate:"gte=0"`
	MaxEntries      int           `koanf:"max_entries"      validate:"gte=0"`
	EvictInterval   time.Duration `koanf:"evict_interval"   validate:"gte=0"`
}

//
// Log section
//

// Log selects sinks and level.
type Log struct {
	Dir     string `koanf:"dir"`
	Level   string `koanf:"level"   validate:"omitempty,oneof=debug info warn error"`
	Console bool   `koanf:"console"`
}

//
// GeoIP section
//

// GeoIP points at an optional GeoLite2-City database.
type GeoIP struct {
	Path string `koanf:"path"`
}

//
// Paths section (runtime only)
//

// Paths is resolved at runtime, never set in YAML or env.  The loader
// discovers `Root` (repo root or GATEWAY_ROOT override) so later code can
// build absolute file paths.
type Paths struct {
	Root string // GATEWAY_ROOT or discovered parent
}

//
// Root aggregate
//

// Config is the immutable aggregate returned by Load().
type Config struct {
	HTTP      HTTP      `koanf:"http"`
	App       App       `koanf:"app"`
	Database  Database  `koanf:"database"`
	Auth      Auth      `koanf:"auth"`
	Directory Directory `koanf:"directory"`
	Cache     Cache     `koanf:"cache"`
	Log       Log       `koanf:"log"`
	GeoIP     GeoIP     `koanf:"geoip"`
	Paths     Paths     `koanf:"-"` // not loaded from config files
}

// Default returns a fresh Config holding every built-in default.  The
// storage descriptors default to an in-process Memory backend so a bare
// checkout runs without external services.
func Default() *Config {
	return &Config{
		HTTP: HTTP{
			ListenAddr:   ":5000",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Database: Database{
			AdminDatabase:         "r_admin",
			AdminDatabaseSettings: `{"type": "Memory"}`,
			Clusters:              `{"memory": {"type": "Memory"}}`,
			DefaultDatabaseType:   "MongoDB",
		},
		Auth: Auth{
			SuccessRedirect: "/",
			HandshakeTTL:    10 * time.Minute,
		},
		Directory: Directory{
			PositiveTTL:   30 * time.Second,
			NegativeTTL:   5 * time.Second,
			Size:          4096,
			LookupTimeout: 10 * time.Second,
		},
		Cache: Cache{
			FailureCooldown: 2 * time.Second,
			ConnectTimeout:  10 * time.Second,
			EvictInterval:   time.Minute,
		},
		Log: Log{Level: "info"},
	}
}
