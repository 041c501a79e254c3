package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultTokenTTL applies when security.token.ttl is absent.
const DefaultTokenTTL = 7 * 24 * time.Hour

// Load reads the yaml config at path. A missing path yields zero-value
// defaults; a present but unreadable or invalid file is an error.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEffective layers environment overrides over the file config. The
// second return reports whether any environment variable contributed.
func LoadEffective(path string) (Config, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, false, err
	}
	envUsed := false
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_ADDR")); v != "" {
		host, port := splitAddr(v)
		cfg.Server.Address = host
		if port != 0 {
			cfg.Server.Port = port
		}
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_DB_PATH")); v != "" {
		cfg.Server.DBPath = v
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_UPLOADS_DIR")); v != "" {
		cfg.Server.UploadsDir = v
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_TOKEN_SECRET")); v != "" {
		// env secret takes mint priority; file secrets stay valid for verify
		cfg.Security.Token.Secrets = append([]string{v}, cfg.Security.Token.Secrets...)
		envUsed = true
	}
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
		envUsed = true
	}
	return cfg, envUsed, nil
}

// TokenTTL parses the configured token lifetime, falling back to the default.
func (c Config) TokenTTL() time.Duration {
	s := strings.TrimSpace(c.Security.Token.TTL)
	if s == "" {
		return DefaultTokenTTL
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return DefaultTokenTTL
	}
	return d
}

func splitAddr(addr string) (string, int) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return addr, 0
	}
	var port int
	_, _ = fmt.Sscanf(addr[i+1:], "%d", &port)
	return addr[:i], port
}

// ParseCommandFlags centralizes flag parsing for the server binary. The
// returned map records which flags were explicitly set, so flags can win
// over file and env values.
func ParseCommandFlags() (addr, db, cfgPath string, setFlags map[string]bool) {
	addrFlag := flag.String("addr", "0.0.0.0:8080", "listen address")
	dbFlag := flag.String("db", "./data", "pebble database path")
	cfgFlag := flag.String("config", "", "path to yaml config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrFlag, *dbFlag, *cfgFlag, setFlags
}

// ResolveConfigPath picks the config file path: explicit flag wins, then the
// EMBERLINE_CONFIG env var.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := strings.TrimSpace(os.Getenv("EMBERLINE_CONFIG")); v != "" {
		return v
	}
	return flagVal
}
