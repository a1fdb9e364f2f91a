// Package config loads the ringstore process configuration: a TOML file
// of rings and replication directives, overlaid with a ".env" file and
// process environment for values that vary per deployment (store path,
// remote replication addresses).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// RingConfig is one ring a ringstore process should open (and create if
// missing) on startup.
type RingConfig struct {
	Name         string `toml:"name"`
	Duration     int64  `toml:"duration"`
	SlotCapacity int64  `toml:"slot_capacity"`
	Long         string `toml:"long"`
	About        string `toml:"about"`
}

// ReplicationConfig drives the replicator: the directive strings (spec
// §4.6 grammar, `A<B`/`A>B`) and how often to tick them.
type ReplicationConfig struct {
	Directives   []string `toml:"directives"`
	TickInterval int64    `toml:"tick_interval_seconds"`
}

// Config is the whole of a ringstore process's static configuration.
type Config struct {
	DataPath    string            `toml:"data_path"`
	Perm        uint32            `toml:"perm"`
	Rings       []RingConfig      `toml:"rings"`
	Replication ReplicationConfig `toml:"replication"`
}

// Load reads path as TOML, then overlays any ".env" file found in the
// working directory and the process environment on top: RINGSTORE_DATA_PATH
// overrides data_path, and each RINGSTORE_DIRECTIVE_n (n starting at 0)
// appends to replication.directives, letting a deployment inject remote
// addresses without editing the checked-in TOML.
func Load(path string) (*Config, error) {
	if err := loadDotenv(); err != nil {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var c Config
	if err := toml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if c.Perm == 0 {
		c.Perm = 0o600
	}

	applyEnvOverlay(&c)

	if c.DataPath == "" {
		return nil, fmt.Errorf("config: data_path is required")
	}
	return &c, nil
}

func loadDotenv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load(".env")
}

func applyEnvOverlay(c *Config) {
	if p := os.Getenv("RINGSTORE_DATA_PATH"); p != "" {
		c.DataPath = p
	}
	for i := 0; ; i++ {
		v := os.Getenv(fmt.Sprintf("RINGSTORE_DIRECTIVE_%d", i))
		if v == "" {
			break
		}
		c.Replication.Directives = append(c.Replication.Directives, v)
	}
}
