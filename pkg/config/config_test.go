package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /var/lib/emberline
  uploads_dir: /var/lib/emberline-uploads
security:
  cors:
    allowed_origins: ["https://chat.example.com"]
  rate_limit:
    rps: 5
    burst: 10
  token:
    secrets: ["file-secret"]
    ttl: 12h
retention:
  sweep_cron: "0 * * * *"
logging:
  level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9090" {
		t.Fatalf("addr %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/var/lib/emberline" {
		t.Fatalf("db path %q", cfg.Server.DBPath)
	}
	if len(cfg.Security.Token.Secrets) != 1 || cfg.Security.Token.Secrets[0] != "file-secret" {
		t.Fatalf("secrets %v", cfg.Security.Token.Secrets)
	}
	if cfg.Retention.SweepCron != "0 * * * *" {
		t.Fatalf("sweep cron %q", cfg.Retention.SweepCron)
	}
	if cfg.TokenTTL() != 12*time.Hour {
		t.Fatalf("ttl %v", cfg.TokenTTL())
	}
}

func TestLoadMissingFileIsZero(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load absent: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Fatalf("default addr %q", cfg.Addr())
	}
	if cfg.TokenTTL() != DefaultTokenTTL {
		t.Fatalf("default ttl %v", cfg.TokenTTL())
	}
}

func TestLoadRejectsInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "server: [not a map")); err == nil {
		t.Fatalf("invalid yaml accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMBERLINE_ADDR", "0.0.0.0:7070")
	t.Setenv("EMBERLINE_DB_PATH", "/tmp/db-env")
	t.Setenv("EMBERLINE_TOKEN_SECRET", "env-secret")
	t.Setenv("EMBERLINE_LOG_LEVEL", "warn")

	cfg, envUsed, err := LoadEffective(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadEffective: %v", err)
	}
	if !envUsed {
		t.Fatalf("envUsed not reported")
	}
	if cfg.Addr() != "0.0.0.0:7070" {
		t.Fatalf("addr %q", cfg.Addr())
	}
	if cfg.Server.DBPath != "/tmp/db-env" {
		t.Fatalf("db path %q", cfg.Server.DBPath)
	}
	// env secret mints; the file secret stays valid for verification
	if len(cfg.Security.Token.Secrets) != 2 || cfg.Security.Token.Secrets[0] != "env-secret" {
		t.Fatalf("secrets %v", cfg.Security.Token.Secrets)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("level %q", cfg.Logging.Level)
	}
}

func TestTokenTTLFallsBackOnGarbage(t *testing.T) {
	var cfg Config
	cfg.Security.Token.TTL = "soon"
	if cfg.TokenTTL() != DefaultTokenTTL {
		t.Fatalf("garbage ttl %v", cfg.TokenTTL())
	}
	cfg.Security.Token.TTL = "-1h"
	if cfg.TokenTTL() != DefaultTokenTTL {
		t.Fatalf("negative ttl %v", cfg.TokenTTL())
	}
}

func TestResolveConfigPath(t *testing.T) {
	if got := ResolveConfigPath("/from/flag", true); got != "/from/flag" {
		t.Fatalf("flag path %q", got)
	}
	t.Setenv("EMBERLINE_CONFIG", "/from/env")
	if got := ResolveConfigPath("", false); got != "/from/env" {
		t.Fatalf("env path %q", got)
	}
}
