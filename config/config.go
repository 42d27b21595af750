// Package config loads relaybridge's YAML configuration: which
// proxy type to run, the ports it listens on, and the TCP forwarder's
// fixed remote/local endpoints.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bridgelab/relaybridge/internal/logx"
)

// ProxyType enumerates which request parser the supervisor dispatches to.
// The TCP forwarder is not a ProxyType: it runs as an independent peer of
// the supervisor whenever Forwarder.RemoteHost is set.
type ProxyType string

const (
	ProxySOCKS5 ProxyType = "socks5"
	ProxyHTTP   ProxyType = "http"
)

const (
	defaultTCPPort    = 4884
	legacyTCPPort     = 1080
	defaultRemotePort = 1194
	defaultLocalPort  = 51821
)

// ForwarderConfig configures the plain TCP forwarder.
type ForwarderConfig struct {
	RemoteHost string `yaml:"remote_host"`
	RemotePort int    `yaml:"remote_port"`
	LocalPort  int    `yaml:"local_port"`
}

// Logging configures internal/logx's global level.
type Logging struct {
	Level string `yaml:"level"`
}

// AdminConfig configures the local admin/status HTTP API.
type AdminConfig struct {
	Enable      bool   `yaml:"enable"`
	Listen      string `yaml:"listen"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	JWTSecret   string `yaml:"jwt_secret"`
	TokenTTLMin int    `yaml:"token_ttl_min"`
}

// PoolConfig bounds a database connection pool.
type PoolConfig struct {
	MaxOpen        int `yaml:"max_open"`
	MaxIdle        int `yaml:"max_idle"`
	MaxLifetimeSec int `yaml:"max_lifetime_sec"`
}

// DBConfig configures traffic-sample persistence.
type DBConfig struct {
	Enable   bool       `yaml:"enable"`
	Driver   string     `yaml:"driver"`
	DSN      string     `yaml:"dsn"`
	FlushMs  int        `yaml:"flush_ms"`
	MaxBatch int        `yaml:"max_batch"`
	Pool     PoolConfig `yaml:"pool"`
}

// LimitsConfig caps relay throughput per direction, in kilobits per
// second. Zero means unlimited.
type LimitsConfig struct {
	UploadKbps   int64 `yaml:"upload_kbps"`
	DownloadKbps int64 `yaml:"download_kbps"`
}

// InfluxConfig configures the optional InfluxDB traffic exporter; an
// empty URL disables it.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// MetricsConfig configures the Prometheus scrape endpoint; an empty
// listen address disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Config is the top-level configuration document.
type Config struct {
	ProxyType ProxyType       `yaml:"proxy_type"`
	TCPPort   int             `yaml:"tcp_port"`
	UDPPort   int             `yaml:"udp_port"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Limits    LimitsConfig    `yaml:"limits"`
	Admin     AdminConfig     `yaml:"admin"`
	DB        DBConfig        `yaml:"db"`
	Influx    InfluxConfig    `yaml:"influx"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   Logging         `yaml:"logging"`
}

var log = logx.New(logx.WithPrefix("config"))

// fallbackPath is tried when the requested path can't be read.
const fallbackPath = "/etc/relaybridge/config.yaml"

// Load reads and validates a config document from p, falling back to
// fallbackPath if p can't be opened. It returns the config, the path it
// was actually loaded from, and any error.
func Load(p string) (*Config, string, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		p = fallbackPath
		b, err = os.ReadFile(p)
		if err != nil {
			log.Errorf("open config: %v (tried requested path and %s)", err, fallbackPath)
			return nil, p, err
		}
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, p, fmt.Errorf("config: parse %s: %w", p, err)
	}

	applyDefaults(&c)

	if err := c.validate(); err != nil {
		return nil, p, err
	}

	return &c, p, nil
}

func applyDefaults(c *Config) {
	if c.ProxyType == "" {
		c.ProxyType = ProxySOCKS5
	}
	if c.TCPPort == 0 {
		c.TCPPort = defaultTCPPort
	}
	if c.UDPPort == 0 {
		c.UDPPort = c.TCPPort + 1
	}
	if c.Forwarder.RemotePort == 0 {
		c.Forwarder.RemotePort = defaultRemotePort
	}
	if c.Forwarder.LocalPort == 0 {
		c.Forwarder.LocalPort = defaultLocalPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Admin.Listen == "" {
		c.Admin.Listen = "127.0.0.1:8787"
	}
	if c.Admin.TokenTTLMin == 0 {
		c.Admin.TokenTTLMin = 1440
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.DSN == "" {
		c.DB.DSN = "./relaybridge.db"
	}
	if c.DB.FlushMs == 0 {
		c.DB.FlushMs = 700
	}
	if c.DB.MaxBatch == 0 {
		c.DB.MaxBatch = 1000
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9464"
	}
}

func (c *Config) validate() error {
	switch c.ProxyType {
	case ProxySOCKS5, ProxyHTTP:
	default:
		return fmt.Errorf("config: unknown proxy_type %q", c.ProxyType)
	}
	if c.TCPPort <= 0 || c.TCPPort > 65535 {
		return fmt.Errorf("config: invalid tcp_port %d", c.TCPPort)
	}
	if c.Admin.Enable {
		if c.Admin.Username == "" || c.Admin.Password == "" {
			return fmt.Errorf("config: admin api enabled without username/password")
		}
		if c.Admin.JWTSecret == "" {
			return fmt.Errorf("config: admin api enabled without jwt_secret")
		}
	}
	return nil
}

// ForwarderEnabled reports whether the TCP forwarder should run alongside
// the selected proxy supervisor (an independent peer of the
// supervisor, active whenever remote_host is configured).
func (c *Config) ForwarderEnabled() bool {
	return strings.TrimSpace(c.Forwarder.RemoteHost) != ""
}

// LegacyTCPPort is the pre-4884 default port kept for reference by callers
// that need to recognize an old-style configuration.
const LegacyTCPPort = legacyTCPPort
