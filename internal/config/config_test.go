package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "jwt_secret: s3cret\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 2333 {
		t.Fatalf("default port = %d", cfg.Port)
	}
	if !cfg.IsDev() {
		t.Fatalf("default env = %q", cfg.Env)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Fatalf("default redis url = %q", cfg.RedisURL)
	}
	if cfg.RetentionDays != 14 {
		t.Fatalf("default retention = %d", cfg.RetentionDays)
	}
	if cfg.UseDatabase() {
		t.Fatal("database backend selected without a dsn")
	}
	if cfg.AdminUser != "admin" {
		t.Fatalf("default admin user = %q", cfg.AdminUser)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
port: 8080
env: Production
redis:
  host: cache.internal
  port: 6380
  db: 2
database:
  dsn: user:pass@tcp(db:3306)/forge?parseTime=true
dochost:
  base_url: https://docs.example.com/api/
  token: tok-123
retention_days: 30
jwt_secret: s3cret
admin_password_hash: $2a$10$abcdefghijklmnopqrstuv
allowed_origins:
  - https://admin.example.com
reconcile_interval_hours: 6
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 || cfg.Env != "production" || cfg.IsDev() {
		t.Fatalf("port/env = %d/%q", cfg.Port, cfg.Env)
	}
	if cfg.RedisURL != "redis://cache.internal:6380/2" {
		t.Fatalf("redis url = %q", cfg.RedisURL)
	}
	if !cfg.UseDatabase() {
		t.Fatal("database backend not selected")
	}
	if cfg.DocHost.BaseURL != "https://docs.example.com/api" {
		t.Fatalf("dochost base url = %q", cfg.DocHost.BaseURL)
	}
	if cfg.DocHost.Token != "tok-123" {
		t.Fatalf("dochost token = %q", cfg.DocHost.Token)
	}
	if cfg.RetentionDays != 30 {
		t.Fatalf("retention = %d", cfg.RetentionDays)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "https://admin.example.com" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.ReconcileIntervalHours != 6 {
		t.Fatalf("reconcile interval = %d", cfg.ReconcileIntervalHours)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "prot: 8080\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	path := writeConfig(t, "port: 70000\n")
	if _, err := Load(path); err == nil {
		t.Fatal("out-of-range port accepted")
	}
}

func TestLoadRedisURLPassthrough(t *testing.T) {
	path := writeConfig(t, "redis_url: cache.internal:6379\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisURL != "redis://cache.internal:6379" {
		t.Fatalf("redis url = %q", cfg.RedisURL)
	}
}
