// Package config loads the node's YAML configuration, split into a
// node-facing section and a network-facing section the same way the
// teacher's configuration type separates protocol parameters from
// application-level wiring.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// NetworkConfiguration holds the parameters that shape the Protocol
// Engine and Session Registry.
type NetworkConfiguration struct {
	ListenAddress      string        `yaml:"listen_address"`
	Connect            []string      `yaml:"connect"`
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
}

// NodeConfiguration holds process-level wiring: where the node persists
// its state and exposes its control surfaces.
type NodeConfiguration struct {
	DataDir           string `yaml:"data_dir"`
	ControlSocketPath string `yaml:"control_socket_path"`
	MetricsAddress    string `yaml:"metrics_address"`
	EventStreamAddr   string `yaml:"event_stream_address"`
	LogLevel          string `yaml:"log_level"`
}

// Config is the root of the YAML file loaded by meshd.
type Config struct {
	NodeConfiguration    NodeConfiguration    `yaml:"node"`
	NetworkConfiguration NetworkConfiguration `yaml:"network"`
}

// Default returns a Config with the same conservative defaults the
// node falls back to when a field is left unset in the YAML file.
func Default() Config {
	return Config{
		NodeConfiguration: NodeConfiguration{
			DataDir:           "./data",
			ControlSocketPath: "./data/control.sock",
			MetricsAddress:    "127.0.0.1:9090",
			LogLevel:          "info",
		},
		NetworkConfiguration: NetworkConfiguration{
			ListenAddress:      "0.0.0.0:9000",
			MaxConnectAttempts: 5,
			FetchTimeout:       30 * time.Second,
		},
	}
}

// Load reads and parses the YAML file at path, filling in Default()'s
// values for anything left unset.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
