package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadYAMLWithDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `
auth:
  jwt_secret: `+testSecret+`
  staff:
    - id: u1
      email: admin@example.com
      password_hash: $2a$10$abcdefghijklmnopqrstuv
database:
  driver: memory
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "fs", cfg.Storage.Driver)
	assert.Equal(t, "http://localhost:8080/media", cfg.Storage.PublicBaseURL)
	assert.Equal(t, 12*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, "redirect", cfg.Auth.GuardMode)
	assert.Equal(t, "local", cfg.Events.Driver)
	require.Len(t, cfg.Auth.Staff, 1)
	assert.Equal(t, "admin@example.com", cfg.Auth.Staff[0].Email)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, "auth:\n  jwt_secret: "+testSecret+"\nserver:\n  port: 9000\n")
	t.Setenv("ESTATEDESK_SERVER_PORT", "9100")
	t.Setenv("ESTATEDESK_STORAGE_DRIVER", "s3")
	t.Setenv("ESTATEDESK_STORAGE_BUCKET", "images")
	t.Setenv("ESTATEDESK_STORAGE_S3_REGION", "eu-west-1")
	t.Setenv("ESTATEDESK_STORAGE_PUBLIC_BASE_URL", "https://cdn.example.com/listing-images/")
	t.Setenv("ESTATEDESK_AUTH_TOKEN_TTL", "30m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "s3", cfg.Storage.Driver)
	assert.Equal(t, "eu-west-1", cfg.Storage.S3.Region)
	assert.Equal(t, "https://cdn.example.com/listing-images", cfg.Storage.PublicBaseURL)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
}

func TestLoadMissingDefaultFileUsesEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ESTATEDESK_AUTH_JWT_SECRET", testSecret)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "estatedesk.db", cfg.Database.DSN)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Auth: Auth{JWTSecret: testSecret}}
		applyDefaults(cfg)
		return cfg
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(*Config){
		"short secret":     func(c *Config) { c.Auth.JWTSecret = "short" },
		"guard mode":       func(c *Config) { c.Auth.GuardMode = "maybe" },
		"db driver":        func(c *Config) { c.Database.Driver = "oracle" },
		"postgres dsn":     func(c *Config) { c.Database.Driver = "postgres"; c.Database.DSN = "" },
		"storage driver":   func(c *Config) { c.Storage.Driver = "ftp" },
		"public url":       func(c *Config) { c.Storage.PublicBaseURL = "ftp://x" },
		"redis addr":       func(c *Config) { c.Events.Driver = "redis" },
		"staff incomplete": func(c *Config) { c.Auth.Staff = []StaffUser{{Email: "a@b"}} },
		"log level":        func(c *Config) { c.Log.Level = "loud" },
		"port":             func(c *Config) { c.Server.Port = 70000 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "database.dsn", envKey("ESTATEDESK_DATABASE_DSN"))
	assert.Equal(t, "auth.jwt_secret", envKey("ESTATEDESK_AUTH_JWT_SECRET"))
	assert.Equal(t, "storage.s3.path_style", envKey("ESTATEDESK_STORAGE_S3_PATH_STYLE"))
	assert.Equal(t, "storage.public_base_url", envKey("ESTATEDESK_STORAGE_PUBLIC_BASE_URL"))
}
