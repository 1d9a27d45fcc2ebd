// Package config loads and normalizes the YAML startup configuration.
package config

import (
	"bytes"
	"fmt"
	"net"
	neturl "net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0
	defaultRetention  = 14
	defaultAdminUser  = "admin"
)

// AppConfig is the normalized runtime configuration.
type AppConfig struct {
	Port     int
	Env      string // "development" | "production"
	RedisURL string

	// DatabaseDSN selects the SQL record-store backend when set; records live
	// in Redis otherwise.
	DatabaseDSN string

	DocHost DocHostConfig

	// RetentionDays bounds version history age; snapshots older than this are
	// pruned (the newest per entity always survives).
	RetentionDays int

	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string
	AllowedOrigins    []string

	// ReconcileIntervalHours schedules automatic reconciliation runs; 0
	// disables the job.
	ReconcileIntervalHours int
}

// DocHostConfig points at the external document host.
type DocHostConfig struct {
	BaseURL string
	Token   string
}

type rawConfig struct {
	Port     int    `yaml:"port"`
	Env      string `yaml:"env"`
	RedisURL string `yaml:"redis_url"`
	Redis    struct {
		URL      string `yaml:"url"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
		TLS      bool   `yaml:"tls"`
	} `yaml:"redis"`
	DatabaseDSN string `yaml:"database_dsn"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`
	DocHost struct {
		BaseURL string `yaml:"base_url"`
		URL     string `yaml:"url"`
		Token   string `yaml:"token"`
	} `yaml:"dochost"`
	RetentionDays          *int     `yaml:"retention_days"`
	JWTSecret              string   `yaml:"jwt_secret"`
	AdminUser              string   `yaml:"admin_user"`
	AdminPasswordHash      string   `yaml:"admin_password_hash"`
	AllowedOrigins         []string `yaml:"allowed_origins"`
	ReconcileIntervalHours *int     `yaml:"reconcile_interval_hours"`
}

// Load reads and normalizes the config file at path.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	raw := rawConfig{}
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	cfg := normalize(raw)
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d in %q, expected 1-65535", cfg.Port, path)
	}
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("invalid retention_days %d in %q, expected >= 1", cfg.RetentionDays, path)
	}
	return &cfg, nil
}

func normalize(raw rawConfig) AppConfig {
	cfg := AppConfig{
		Port:          defaultPort,
		Env:           defaultEnv,
		RetentionDays: defaultRetention,
		AdminUser:     defaultAdminUser,
	}

	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.ToLower(strings.TrimSpace(raw.Env)); v != "" {
		cfg.Env = v
	}

	cfg.RedisURL = redisURL(raw)

	if v := strings.TrimSpace(raw.Database.DSN); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := strings.TrimSpace(raw.DatabaseDSN); v != "" {
		cfg.DatabaseDSN = v
	}

	cfg.DocHost.BaseURL = strings.TrimRight(strings.TrimSpace(raw.DocHost.BaseURL), "/")
	if cfg.DocHost.BaseURL == "" {
		cfg.DocHost.BaseURL = strings.TrimRight(strings.TrimSpace(raw.DocHost.URL), "/")
	}
	cfg.DocHost.Token = strings.TrimSpace(raw.DocHost.Token)

	if raw.RetentionDays != nil {
		cfg.RetentionDays = *raw.RetentionDays
	}
	cfg.JWTSecret = strings.TrimSpace(raw.JWTSecret)
	if v := strings.TrimSpace(raw.AdminUser); v != "" {
		cfg.AdminUser = v
	}
	cfg.AdminPasswordHash = strings.TrimSpace(raw.AdminPasswordHash)

	for _, origin := range raw.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}

	if raw.ReconcileIntervalHours != nil && *raw.ReconcileIntervalHours > 0 {
		cfg.ReconcileIntervalHours = *raw.ReconcileIntervalHours
	}

	return cfg
}

func redisURL(raw rawConfig) string {
	for _, candidate := range []string{raw.Redis.URL, raw.RedisURL} {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "redis://") || strings.HasPrefix(trimmed, "rediss://") {
			return trimmed
		}
		return "redis://" + trimmed
	}

	host := strings.TrimSpace(raw.Redis.Host)
	if host == "" {
		host = defaultRedisHost
	}
	port := raw.Redis.Port
	if port == 0 {
		port = defaultRedisPort
	}
	db := defaultRedisDB
	if raw.Redis.DB != nil && *raw.Redis.DB >= 0 {
		db = *raw.Redis.DB
	}
	scheme := "redis"
	if raw.Redis.TLS {
		scheme = "rediss"
	}

	u := &neturl.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + strconv.Itoa(db),
	}
	if password := strings.TrimSpace(raw.Redis.Password); password != "" {
		u.User = neturl.UserPassword("", password)
	}
	return u.String()
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool {
	return strings.EqualFold(c.Env, defaultEnv)
}

// UseDatabase reports whether the SQL record-store backend is configured.
func (c *AppConfig) UseDatabase() bool {
	return c.DatabaseDSN != ""
}
