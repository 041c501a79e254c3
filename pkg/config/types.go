package config

import "fmt"

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Retention RetentionConfig `yaml:"retention"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address    string    `yaml:"address"`
	Port       int       `yaml:"port"`
	DBPath     string    `yaml:"db_path"`
	UploadsDir string    `yaml:"uploads_dir"`
	TLS        TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds CORS, rate limiting and token settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	Token struct {
		// Secrets accepts several keys so rotation keeps old tokens valid;
		// the first entry signs new tokens.
		Secrets []string `yaml:"secrets"`
		TTL     string   `yaml:"ttl"`
	} `yaml:"token"`
}

// RetentionConfig holds the expiry sweep settings. The deletion window
// itself is fixed, not configurable per message.
type RetentionConfig struct {
	SweepCron string `yaml:"sweep_cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	host := c.Server.Address
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}
