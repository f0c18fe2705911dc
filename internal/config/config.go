// YAML config loader with CUE validation integration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

//go:embed fleet.cue
var defaultSchema []byte

// RedisConfig enables mirroring drone records into Redis when Addr is set.
type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Prefix string `yaml:"prefix"`
}

// GreptimeConfig enables writing announce rows to GreptimeDB when Endpoint is set.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// FleetConfig is the root configuration of the fleet controller.
type FleetConfig struct {
	DiscoveryPort  int            `yaml:"discovery_port"`
	ReadTimeout    time.Duration  `yaml:"read_timeout"`
	RequestTimeout time.Duration  `yaml:"request_timeout"`
	PingTimeout    time.Duration  `yaml:"ping_timeout"`
	TTL            time.Duration  `yaml:"ttl"`
	ErrorBackoff   time.Duration  `yaml:"error_backoff"`
	RelayCommands  bool           `yaml:"relay_commands"`
	Encoding       string         `yaml:"encoding"`
	AdminAddr      string         `yaml:"admin_addr"`
	LogLevel       string         `yaml:"log_level"`
	LogFormat      string         `yaml:"log_format"`
	LogFile        string         `yaml:"log_file"`
	Redis          RedisConfig    `yaml:"redis"`
	Greptime       GreptimeConfig `yaml:"greptime"`
}

// Default returns the configuration used when no file is given.
func Default() *FleetConfig {
	return &FleetConfig{
		DiscoveryPort:  8888,
		ReadTimeout:    time.Second,
		RequestTimeout: 5 * time.Second,
		PingTimeout:    3 * time.Second,
		TTL:            30 * time.Second,
		ErrorBackoff:   time.Second,
		Encoding:       "json",
		AdminAddr:      ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
		Redis:          RedisConfig{Prefix: "drone"},
		Greptime:       GreptimeConfig{Database: "public", Table: "drone_status"},
	}
}

// Load reads the YAML config at configPath, validates it against the CUE
// schema (the embedded one when cueSchemaPath is empty), applies
// environment overrides and fills defaults. A missing config file is not
// an error: defaults and environment are used instead.
func Load(configPath, cueSchemaPath string) (*FleetConfig, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("cannot read YAML config: %w", err)
		default:
			schema := defaultSchema
			if cueSchemaPath != "" {
				schema, err = os.ReadFile(cueSchemaPath)
				if err != nil {
					return nil, fmt.Errorf("cannot read CUE schema: %w", err)
				}
			}
			if err := ValidateWithCue(configPath, data, schema); err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateWithCue checks YAML bytes against the #Config definition of a CUE schema.
func ValidateWithCue(filename string, yamlBytes, schemaBytes []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(schemaBytes)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("CUE schema has no #Config definition")
	}

	file, err := cueyaml.Extract(filename, yamlBytes)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot build YAML config: %w", err)
	}

	if err := def.Unify(configVal).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// Validate reports settings the controller cannot run with.
func (c *FleetConfig) Validate() error {
	if c.DiscoveryPort <= 0 || c.DiscoveryPort > 65535 {
		return fmt.Errorf("discovery_port %d out of range", c.DiscoveryPort)
	}
	if c.Encoding != "json" && c.Encoding != "cbor" {
		return fmt.Errorf("unsupported encoding %q", c.Encoding)
	}
	for name, d := range map[string]time.Duration{
		"read_timeout":    c.ReadTimeout,
		"request_timeout": c.RequestTimeout,
		"ping_timeout":    c.PingTimeout,
		"ttl":             c.TTL,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func (c *FleetConfig) fillDefaults() {
	def := Default()
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = def.DiscoveryPort
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.TTL == 0 {
		c.TTL = def.TTL
	}
	if c.ErrorBackoff == 0 {
		c.ErrorBackoff = def.ErrorBackoff
	}
	if c.Encoding == "" {
		c.Encoding = def.Encoding
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = def.Redis.Prefix
	}
	if c.Greptime.Database == "" {
		c.Greptime.Database = def.Greptime.Database
	}
	if c.Greptime.Table == "" {
		c.Greptime.Table = def.Greptime.Table
	}
}

func applyEnv(c *FleetConfig) error {
	if v := os.Getenv("DISCOVERY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DISCOVERY_PORT: %w", err)
		}
		c.DiscoveryPort = port
	}
	for env, dst := range map[string]*time.Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"DRONE_TTL":       &c.TTL,
	} {
		if v := os.Getenv(env); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", env, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_TABLE"); v != "" {
		c.Greptime.Table = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	return nil
}
