// internal/config/loader.go
//
// Configuration loader.
//
/*
Context
--------
`Load()` builds one `Config` struct on top of `Default()` from three layers
(highest precedence last):

  1. Optional `.env` file at `<root>/conf/.env`.
  2. `conf/gateway.yaml` (optional; defaults apply when it is missing).
  3. Environment variables prefixed `GATEWAY_`, where `__` maps to “.”
     (e.g., `GATEWAY_HTTP__LISTEN_ADDR → http.listen_addr`).

After merging, every string leaf that starts with `vault:` is replaced by
the secret it names, the tree is unmarshalled into typed structs,
validated, and enriched with the runtime root path.  Callers own the
returned pointer; there is no package-level singleton.

Instrumentation
---------------
  • DEBUG spans: root discovery, YAML read, env overlay, vault refs.
  • ERROR spans: YAML parse, env overlay, unmarshal, validation failures.
  • INFO  span : final “config loaded” with key highlights.
  • Logs use the global logger (`zap.L()`) so early boot issues surface
    even before the file logger is installed.

Notes
-----
  • `rootDir()` climbs the cwd tree until it finds `conf/gateway.yaml`;
    this lets `go run ./cmd/gateway` work from any sub-directory.
  • Oxford commas, two spaces after periods.
*/
package config

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/yanizio/appgate/internal/vault"
)

// EnvPrefix scopes environment overrides.
const EnvPrefix = "GATEWAY_"

// FileName is the YAML file looked up under `<root>/conf`.
const FileName = "gateway.yaml"

// SecretSource resolves `vault:` references.  *vault.Client satisfies it.
type SecretSource interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

/*──────────────────────────── root discovery ───────────────────────────────*/

// rootDir resolves GATEWAY_ROOT or climbs directories until
// conf/gateway.yaml is found.  Falls back to the executable heuristic for
// the `bin/` production layout.
func rootDir() string {
	if r := os.Getenv(EnvPrefix + "ROOT"); r != "" {
		return r
	}

	wd, _ := os.Getwd()
	for dir := wd; ; {
		if _, err := os.Stat(filepath.Join(dir, "conf", FileName)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	exe, _ := os.Executable()
	if filepath.Base(filepath.Dir(exe)) == "bin" {
		return filepath.Dir(filepath.Dir(exe))
	}
	return wd
}

/*─────────────────────────────── loader ───────────────────────────────────*/

// Load discovers the root directory and builds the Config.  Vault is
// contacted only when a `vault:` reference is present.
func Load(ctx context.Context) (*Config, error) {
	return LoadFrom(ctx, rootDir(), nil)
}

// LoadFrom builds the Config rooted at root.  secrets nil → a Vault client
// is created on first use.
func LoadFrom(ctx context.Context, root string, secrets SecretSource) (*Config, error) {
	log := zap.L().Named("config")
	log.Debug("config root resolved", zap.String("root", root))

	// .env (optional, no error if missing)
	_ = godotenv.Load(filepath.Join(root, "conf", ".env"))

	k := koanf.New(".")

	yamlPath := filepath.Join(root, "conf", FileName)
	if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Error("config yaml load failed", zap.String("file", yamlPath), zap.Error(err))
			return nil, err
		}
		log.Debug("config yaml absent, using defaults", zap.String("file", yamlPath))
	} else {
		log.Debug("config yaml loaded", zap.String("file", yamlPath))
	}

	// Env overrides: GATEWAY_HTTP__LISTEN_ADDR → http.listen_addr
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		log.Error("config env overlay failed", zap.Error(err))
		return nil, err
	}

	if err := resolveSecrets(ctx, k, secrets); err != nil {
		log.Error("config vault resolution failed", zap.Error(err))
		return nil, err
	}

	// The descriptor fields may arrive as YAML maps, which cannot decode
	// over the default JSON strings.
	cfg := Default()
	if k.Exists("database.admin_database_settings") {
		cfg.Database.AdminDatabaseSettings = nil
	}
	if k.Exists("database.clusters") {
		cfg.Database.Clusters = nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		log.Error("config unmarshal failed", zap.Error(err))
		return nil, err
	}
	cfg.Paths.Root = root

	if cfg.Auth.CookiePassword == "" {
		pw, err := randomPassword()
		if err != nil {
			return nil, err
		}
		cfg.Auth.CookiePassword = pw
		log.Warn("auth.cookie_password unset, generated an ephemeral one")
	}

	if err := validate(cfg); err != nil {
		log.Error("config validation failed", zap.Error(err))
		return nil, err
	}

	log.Info("config loaded",
		zap.String("listen_addr", cfg.HTTP.ListenAddr),
		zap.Bool("force_https", cfg.HTTP.ForceHTTPS),
		zap.String("admin_database", cfg.Database.AdminDatabase),
		zap.Strings("clusters", cfg.Database.ClusterSet.Names()),
		zap.String("root", cfg.Paths.Root),
	)
	return cfg, nil
}

/*──────────────────────────── helpers ─────────────────────────────────────*/

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ToLower(strings.ReplaceAll(s, "__", "."))
}

// resolveSecrets swaps every `vault:` string leaf for its secret.
func resolveSecrets(ctx context.Context, k *koanf.Koanf, secrets SecretSource) error {
	for key, val := range k.All() {
		s, ok := val.(string)
		if !ok || !vault.IsRef(s) {
			continue
		}
		if secrets == nil {
			cli, err := vault.New(ctx, zap.L())
			if err != nil {
				return err
			}
			secrets = cli
		}
		plain, err := secrets.Resolve(ctx, s)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := k.Set(key, plain); err != nil {
			return err
		}
		zap.L().Debug("config value resolved from vault", zap.String("key", key))
	}
	return nil
}

// randomPassword returns 40 hex characters.
func randomPassword() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
