package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/INLOpen/nexusmdf/core"
)

// ReadConfig holds data-block reading configurations.
type ReadConfig struct {
	// FragmentSizeBytes caps how many record bytes one read fragment
	// holds. 0 means size adaptively from available memory.
	FragmentSizeBytes int64 `yaml:"fragment_size_bytes"`
	CopyOnGet         bool  `yaml:"copy_on_get"`
	// CacheCapacity is the number of decoded channel columns kept in
	// the LRU column cache. 0 disables caching.
	CacheCapacity int `yaml:"cache_capacity"`
}

// WriteConfig holds data-block writing configurations.
type WriteConfig struct {
	FragmentSizeBytes int64 `yaml:"fragment_size_bytes"`
	// Compression selects the on-disk codec for 4.10+ targets:
	// "none" writes plain DT blocks, "zlib" writes DZ blocks.
	Compression string `yaml:"compression"`
}

// SpillConfig holds spill-store configurations for appended data that
// has not been saved yet.
type SpillConfig struct {
	Dir string `yaml:"dir"`
	// Compression is one of "none", "snappy", "lz4", "zstd".
	Compression       string `yaml:"compression"`
	MemoryBudgetBytes int64  `yaml:"memory_budget_bytes"`
	VerifyChecksums   bool   `yaml:"verify_checksums"`
}

// InterpConfig holds interpolation mode configurations used by cut and
// resample.
type InterpConfig struct {
	// Integer is "repeat" or "linear".
	Integer string `yaml:"integer"`
	// Float is "repeat" or "linear".
	Float string `yaml:"float"`
}

// EngineConfig holds all engine-related configurations, grouped logically.
type EngineConfig struct {
	Read   ReadConfig   `yaml:"read"`
	Write  WriteConfig  `yaml:"write"`
	Spill  SpillConfig  `yaml:"spill"`
	Interp InterpConfig `yaml:"interp"`
	// StrictChannelOrder turns the concatenate channel-order remap
	// into a structural error instead of a warning.
	StrictChannelOrder bool `yaml:"strict_channel_order"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Output string `yaml:"output"` // "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// InterpOptions translates the configured mode names to the engine's
// interpolation options.
func (c *Config) InterpOptions() core.InterpOptions {
	opt := core.DefaultInterpOptions()
	if c.Engine.Interp.Integer == "linear" {
		opt.Integer = core.InterpLinear
	}
	if c.Engine.Interp.Float == "repeat" {
		opt.Float = core.InterpRepeatPrevious
	}
	return opt
}

// SpillCompression resolves the configured spill codec name.
func (c *Config) SpillCompression() (core.CompressionType, error) {
	ct, ok := core.ParseCompressionType(c.Engine.Spill.Compression)
	if !ok {
		return core.CompressionNone, fmt.Errorf("unknown spill compression %q", c.Engine.Spill.Compression)
	}
	return ct, nil
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Engine: EngineConfig{
			Read: ReadConfig{
				FragmentSizeBytes: 0, // adaptive
				CopyOnGet:         true,
				CacheCapacity:     256,
			},
			Write: WriteConfig{
				FragmentSizeBytes: core.DefaultWriteFragmentSize,
				Compression:       "zlib",
			},
			Spill: SpillConfig{
				Dir:               os.TempDir(),
				Compression:       "lz4",
				MemoryBudgetBytes: 64 * 1024 * 1024, // 64 MiB
				VerifyChecksums:   true,
			},
			Interp: InterpConfig{
				Integer: "repeat",
				Float:   "linear",
			},
			StrictChannelOrder: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "nexusmdf.log",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing
// file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
