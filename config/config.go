// Package config loads the YAML configuration shared by the server and
// client programs.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Clouded-Sabre/mic-tcp/ipsim"
	"github.com/Clouded-Sabre/mic-tcp/lib"
)

type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the /metrics endpoint
}

// Config is the whole file. Stack settings sit at the top level.
type Config struct {
	lib.StackConfig `yaml:",inline"`

	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	IP        ipsim.Config  `yaml:"ip"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

func Default() *Config {
	return &Config{
		StackConfig: *lib.DefaultStackConfig(),
		LogLevel:    "info",
		LogFormat:   "console",
		IP:          *ipsim.DefaultConfig(),
	}
}

// LoadConfig reads path on top of the defaults. An empty path yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data into cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if err := c.StackConfig.Validate(); err != nil {
		return err
	}
	if net.ParseIP(c.IP.ListenIP) == nil {
		return fmt.Errorf("ip.listen_ip %q is not an IP address", c.IP.ListenIP)
	}
	if !validPort(c.IP.ServerPort) || !validPort(c.IP.ClientPort) {
		return fmt.Errorf("invalid ip port pair %d/%d", c.IP.ServerPort, c.IP.ClientPort)
	}
	if c.IP.ServerPort == c.IP.ClientPort {
		return errors.New("ip.server_port and ip.client_port must differ")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}
