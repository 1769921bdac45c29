package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanizio/appgate/internal/database"
)

type fakeSecrets map[string]string

func (f fakeSecrets) Resolve(_ context.Context, ref string) (string, error) {
	if v, ok := f[ref]; ok {
		return v, nil
	}
	return "", errors.New("no such secret")
}

func writeConf(t *testing.T, yaml string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "conf", FileName), []byte(yaml), 0o644))
	}
	return root
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadFrom(context.Background(), writeConf(t, ""), fakeSecrets{})
	require.NoError(t, err)

	require.Equal(t, ":5000", cfg.HTTP.ListenAddr)
	require.Equal(t, "r_admin", cfg.Database.AdminDatabase)
	require.Equal(t, "MongoDB", cfg.Database.DefaultDatabaseType)
	require.Equal(t, database.TypeMemory, cfg.Database.Admin.Type)
	require.Equal(t, []string{"memory"}, cfg.Database.ClusterSet.Names())
	require.Len(t, cfg.Auth.CookiePassword, 40, "generated when unset")
	require.Equal(t, 2*time.Second, cfg.Cache.FailureCooldown)
}

func TestLoad_YAMLMapsEnvAndVault(t *testing.T) {
	root := writeConf(t, `
http:
  listen_addr: "127.0.0.1:8080"
  force_https: true
database:
  admin_database_settings:
    type: Memory
  clusters:
    mongodb:
      type: MongoDB
      connectionString: "vault:kv/gateway#mongo_dsn"
    legacy:
      type: RethinkDB
auth:
  cookie_password: "vault:kv/gateway#cookie"
  success_redirect: "https://app.example.com/welcome"
directory:
  negative_ttl: 1s
`)
	t.Setenv("GATEWAY_CACHE__IDLE_TTL", "5m")
	t.Setenv("GATEWAY_DIRECTORY__RESERVED_HOSTS", "a.example.com,b.example.com")

	cfg, err := LoadFrom(context.Background(), root, fakeSecrets{
		"vault:kv/gateway#mongo_dsn": "mongodb://db:27017/",
		"vault:kv/gateway#cookie":    "0123456789abcdef0123456789abcdef!!",
	})
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:8080", cfg.HTTP.ListenAddr)
	require.True(t, cfg.HTTP.ForceHTTPS)
	require.Equal(t, "0123456789abcdef0123456789abcdef!!", cfg.Auth.CookiePassword)
	require.Equal(t, time.Second, cfg.Directory.NegativeTTL)
	require.Equal(t, 30*time.Second, cfg.Directory.PositiveTTL, "untouched default")
	require.Equal(t, 5*time.Minute, cfg.Cache.IdleTTL)
	require.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.Directory.ReservedHosts)
	require.Equal(t, root, cfg.Paths.Root)

	require.Equal(t, []string{"legacy", "mongodb"}, cfg.Database.ClusterSet.Names())
	mongo, ok := cfg.Database.ClusterSet.Lookup("mongodb")
	require.True(t, ok)
	var payload struct {
		ConnectionString string `json:"connectionString"`
	}
	require.NoError(t, mongo.Decode(&payload))
	require.Equal(t, "mongodb://db:27017/", payload.ConnectionString)
}

func TestLoad_ClustersAsJSONEnv(t *testing.T) {
	t.Setenv("GATEWAY_DATABASE__CLUSTERS", `{"pg": {"type": "PostgreSQL", "host": "db"}}`)
	cfg, err := LoadFrom(context.Background(), writeConf(t, ""), fakeSecrets{})
	require.NoError(t, err)
	require.Equal(t, []string{"pg"}, cfg.Database.ClusterSet.Names())
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad listen addr":   "http:\n  listen_addr: nope\n",
		"cooldown over cap": "cache:\n  failure_cooldown: 5m\n",
		"short password":    "auth:\n  cookie_password: short\n",
		"cluster w/o type":  "database:\n  clusters:\n    main:\n      host: x\n",
		"malformed yaml":    "http: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFrom(context.Background(), writeConf(t, body), fakeSecrets{})
			require.Error(t, err)
		})
	}

	var cve *database.ConfigValidationError
	_, err := LoadFrom(context.Background(), writeConf(t, "database:\n  clusters:\n    main:\n      host: x\n"), fakeSecrets{})
	require.ErrorAs(t, err, &cve)
	require.Equal(t, "main", cve.Entry)
}

func TestLoad_UnknownSecret(t *testing.T) {
	_, err := LoadFrom(context.Background(), writeConf(t, "app:\n  key: \"vault:kv/x#missing\"\n"), fakeSecrets{})
	require.ErrorContains(t, err, "app.key")
}

func TestLoad_DotEnv(t *testing.T) {
	root := writeConf(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", ".env"), []byte("GATEWAY_APP__KEY=from-dotenv\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("GATEWAY_APP__KEY") })

	cfg, err := LoadFrom(context.Background(), root, fakeSecrets{})
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.App.Key)
}

func TestEnvKey(t *testing.T) {
	require.Equal(t, "http.listen_addr", envKey("GATEWAY_HTTP__LISTEN_ADDR"))
	require.Equal(t, "auth.simulated_login", envKey("GATEWAY_AUTH__SIMULATED_LOGIN"))
}
