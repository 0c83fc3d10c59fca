package rowguard

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default role sets for the trust-tier classifier. All are matched in the
// global domain only.
var (
	DefaultInternalRoles   = []string{"admin", "operator", "support"}
	DefaultPrivilegedRoles = []string{"advisor"}
)

// Config is the complete rowguard configuration.
type Config struct {
	Tiers    TierConfig     `json:"tiers" yaml:"tiers"`
	Engine   EngineConfig   `json:"engine" yaml:"engine"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
}

// TierConfig overrides the classifier role sets.
type TierConfig struct {
	InternalRoles   []string `json:"internal_roles" yaml:"internal_roles"`
	PrivilegedRoles []string `json:"privileged_roles" yaml:"privileged_roles"`
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	CacheTTLMillis int64 `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
}

// DatabaseConfig points the SQL adapters at their backing database.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
}

// RedisConfig enables the redis relationship cache when Addr is set.
type RedisConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	CacheTTLMillis int64  `json:"cache_ttl_ms" yaml:"cache_ttl_ms"`
}

// LoadConfig parses a YAML configuration document.
func LoadConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads and parses a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return LoadConfig(data)
}

// Classifier builds the trust-tier classifier from the configured role sets,
// falling back to the defaults where unset.
func (c *Config) Classifier() *Classifier {
	internal := c.Tiers.InternalRoles
	if len(internal) == 0 {
		internal = DefaultInternalRoles
	}
	privileged := c.Tiers.PrivilegedRoles
	if len(privileged) == 0 {
		privileged = DefaultPrivilegedRoles
	}
	return NewClassifier(internal, privileged)
}

// EngineOptions renders the config as engine construction options.
func (c *Config) EngineOptions() []EngineOption {
	opts := []EngineOption{WithClassifier(c.Classifier())}
	if c.Engine.CacheTTLMillis > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.Engine.CacheTTLMillis)*time.Millisecond))
	}
	return opts
}
