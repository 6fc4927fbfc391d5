package config

import (
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/signature"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"gopkg.in/yaml.v2"
)

const (
	BackendRasdial = "rasdial"
	BackendNoop    = "noop"
)

type Config struct {
	PageURL        string           `yaml:"page_url"`
	Identifier     string           `yaml:"identifier"`
	ConnectionName string           `yaml:"connection_name"`
	Backend        string           `yaml:"backend"`
	SplitTunneling bool             `yaml:"split_tunneling"`
	Store          Store            `yaml:"store"`
	Probe          Probe            `yaml:"probe"`
	Monitor        Monitor          `yaml:"monitor"`
	Resolver       Resolver         `yaml:"resolver"`
	API            API              `yaml:"api"`
	Servers        []catalog.Region `yaml:"servers"`
	Log            Log              `yaml:"log"`
}

type Store struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Probe timeout is in seconds.
type Probe struct {
	Timeout     int `yaml:"timeout"`
	Concurrency int `yaml:"concurrency"`
}

// Monitor durations are in seconds.
type Monitor struct {
	Interval       int `yaml:"interval"`
	CommandTimeout int `yaml:"command_timeout"`
}

// Resolver timeouts are in seconds, Rate in requests per second.
type Resolver struct {
	PageTimeout      int     `yaml:"page_timeout"`
	ImageTimeout     int     `yaml:"image_timeout"`
	Rate             float64 `yaml:"rate"`
	UserAgent        string  `yaml:"user_agent"`
	AcceptLanguage   string  `yaml:"accept_language"`
	DefaultImagePath string  `yaml:"default_image_path"`
}

type API struct {
	Listen string `yaml:"listen"`
}

type Log struct {
	Days  int64  `yaml:"days"`
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

func Default() *Config {
	backend := BackendNoop
	if runtime.GOOS == "windows" {
		backend = BackendRasdial
	}
	return &Config{
		PageURL:        "https://www.vpnbook.com/freevpn",
		Identifier:     "vpnbook",
		ConnectionName: "VPN_PPTP",
		Backend:        backend,
		Store:          Store{Driver: "bolt", Path: "vpnbook.db"},
		Probe:          Probe{Timeout: 5, Concurrency: 4},
		Monitor:        Monitor{Interval: 2, CommandTimeout: 30},
		Resolver: Resolver{
			PageTimeout:      12,
			ImageTimeout:     8,
			Rate:             2,
			DefaultImagePath: "password.php",
		},
		API: API{Listen: "127.0.0.1:8788"},
		Log: Log{Days: 5, Level: "info"},
	}
}

// Parse reads the config file at path. When VPNBOOK_SIGNATURE is set the
// file must carry a matching signature line.
func Parse(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content, err = signature.UnSign(content, os.Getenv(signature.Env))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ParseBuffer(content)
}

// ParseBuffer expands ${VAR} references and decodes content over the
// defaults.
func ParseBuffer(content []byte) (*Config, error) {
	conf := Default()
	err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), conf)
	if err != nil {
		return nil, err
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendRasdial, BackendNoop:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	u, err := url.Parse(c.PageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid page_url %q", c.PageURL)
	}

	if strings.TrimSpace(c.Identifier) == "" {
		return fmt.Errorf("empty identifier")
	}
	if strings.TrimSpace(c.ConnectionName) == "" {
		return fmt.Errorf("empty connection_name")
	}

	for i, r := range c.Servers {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("servers[%d]: empty region", i)
		}
		if len(r.Hosts) == 0 {
			return fmt.Errorf("servers[%d]: region %s without hosts", i, r.Name)
		}
		for _, h := range r.Hosts {
			if strings.TrimSpace(h) == "" || strings.HasPrefix(h, "-") {
				return fmt.Errorf("servers[%d]: invalid host %q", i, h)
			}
		}
	}
	return nil
}

// Catalog is the configured server list, the built-in one when none is given.
func (c *Config) Catalog() catalog.Catalog {
	if len(c.Servers) == 0 {
		return catalog.Default()
	}
	return catalog.Catalog(c.Servers)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func (c *Config) ProbeTimeout() time.Duration {
	return seconds(c.Probe.Timeout)
}

func (c *Config) MonitorInterval() time.Duration {
	return seconds(c.Monitor.Interval)
}

func (c *Config) CommandTimeout() time.Duration {
	return seconds(c.Monitor.CommandTimeout)
}

func (c *Config) PageTimeout() time.Duration {
	return seconds(c.Resolver.PageTimeout)
}

func (c *Config) ImageTimeout() time.Duration {
	return seconds(c.Resolver.ImageTimeout)
}
