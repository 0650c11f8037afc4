// Package config provides configuration loading for estatedesk.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Log      Log      `koanf:"log"`
	Server   Server   `koanf:"server"`
	Database Database `koanf:"database"`
	Storage  Storage  `koanf:"storage"`
	Auth     Auth     `koanf:"auth"`
	Events   Events   `koanf:"events"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `koanf:"level"`  // debug|info|warn|error
	Format string `koanf:"format"` // json|console
	File   string `koanf:"file"`   // empty means stderr
}

// Server configures the HTTP admin API.
type Server struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	RateLimit       float64       `koanf:"rate_limit"` // requests per second per client, 0 disables
	BodyLimit       string        `koanf:"body_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// Database selects the record-store driver.
type Database struct {
	Driver string `koanf:"driver"` // memory|sqlite|postgres
	DSN    string `koanf:"dsn"`    // sqlite path or postgres URL
}

// Storage selects the object-storage driver and how image URLs are formed.
type Storage struct {
	Driver         string `koanf:"driver"` // fs|s3|memory
	FSRoot         string `koanf:"fs_root"`
	Bucket         string `koanf:"bucket"`
	PublicBaseURL  string `koanf:"public_base_url"`
	MaxUploadBytes int64  `koanf:"max_upload_bytes"`
	S3             S3     `koanf:"s3"`
}

// S3 holds S3/MinIO connection settings.
type S3 struct {
	Region          string `koanf:"region"`
	Endpoint        string `koanf:"endpoint"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PathStyle       bool   `koanf:"path_style"`
}

// Auth configures staff authentication.
type Auth struct {
	JWTSecret string        `koanf:"jwt_secret"`
	Issuer    string        `koanf:"issuer"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
	TokenFile string        `koanf:"token_file"` // persisted credential store for the console
	GuardMode string        `koanf:"guard_mode"` // redirect|legacy
	Staff     []StaffUser   `koanf:"staff"`
}

// StaffUser is one entry of the staff directory.
type StaffUser struct {
	ID           string `koanf:"id"`
	Email        string `koanf:"email"`
	Name         string `koanf:"name"`
	Role         string `koanf:"role"`
	PasswordHash string `koanf:"password_hash"` // bcrypt
}

// Events selects the session revocation bus.
type Events struct {
	Driver        string `koanf:"driver"` // local|redis
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	Channel       string `koanf:"channel"`
}

// Addr returns host:port for the HTTP server.
func (s Server) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	switch c.Storage.Driver {
	case "fs", "memory":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for s3")
		}
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if !strings.HasPrefix(c.Storage.PublicBaseURL, "http://") && !strings.HasPrefix(c.Storage.PublicBaseURL, "https://") {
		return fmt.Errorf("storage.public_base_url must be an http(s) URL")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 bytes")
	}
	switch c.Auth.GuardMode {
	case "redirect", "legacy":
	default:
		return fmt.Errorf("auth.guard_mode: unknown mode %q", c.Auth.GuardMode)
	}
	for i, u := range c.Auth.Staff {
		if u.ID == "" || u.Email == "" || u.PasswordHash == "" {
			return fmt.Errorf("auth.staff[%d]: id, email and password_hash are required", i)
		}
	}
	switch c.Events.Driver {
	case "local":
	case "redis":
		if c.Events.RedisAddr == "" {
			return fmt.Errorf("events.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("events.driver: unknown driver %q", c.Events.Driver)
	}
	return nil
}
