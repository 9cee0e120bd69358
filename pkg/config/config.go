// Package config loads the per-repository cadet configuration.
//
// Configuration lives in a single .cadet.yaml at the repository root. The
// loader is deliberately forgiving: a missing, unreadable or malformed file
// degrades to the documented defaults with a logged warning. Hooks run on
// every developer machine and a broken config file must never take the
// repository hostage.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cadops/cadet/pkg/model"
	"github.com/docker/go-units"
	"github.com/spf13/afero"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ConfigFileName is looked up at the repository root. The CADET_CONFIG
// environment variable overrides the location wholesale.
const ConfigFileName = ".cadet.yaml"

// Option alters the behavior of Load
type Option func(*loader)

// Logger sets a logger for load warnings. Defaults to a nop logger.
func Logger(l *zap.Logger) Option {
	return func(ld *loader) {
		if l != nil {
			ld.l = l
		}
	}
}

type loader struct {
	l *zap.Logger
}

// document mirrors the yaml schema of .cadet.yaml. Defaults are layered
// underneath by viper, so a key the user omits takes the documented
// default while an explicit zero value (chunking: false, suffix: "")
// is honored as written.
type document struct {
	Prefix           string      `mapstructure:"prefix"`
	Suffix           string      `mapstructure:"suffix"`
	Subdir           string      `mapstructure:"subdir"`
	RequireLock      bool        `mapstructure:"require_lock"`
	ArchivePatterns  []string    `mapstructure:"archive_patterns"`
	BinaryPatterns   []string    `mapstructure:"binary_patterns"`
	Chunking         bool        `mapstructure:"chunking"`
	MaxChunkSize     interface{} `mapstructure:"max_chunk_size"`
	CompressionLevel int         `mapstructure:"compression_level"`
	ChunkPrefix      string      `mapstructure:"chunk_prefix"`
	EmptyThreshold   interface{} `mapstructure:"empty_threshold"`
	CommandTimeout   string      `mapstructure:"command_timeout"`
	LogLevel         string      `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	d := model.DefaultConfig()
	v.SetDefault("prefix", d.Prefix)
	v.SetDefault("suffix", d.Suffix)
	v.SetDefault("subdir", d.Subdir)
	v.SetDefault("require_lock", d.RequireLock)
	v.SetDefault("archive_patterns", d.ArchivePatterns)
	v.SetDefault("binary_patterns", d.BinaryPatterns)
	v.SetDefault("chunking", d.ChunkingEnabled)
	v.SetDefault("max_chunk_size", d.MaxChunkSize)
	v.SetDefault("compression_level", d.CompressionLevel)
	v.SetDefault("chunk_prefix", d.ChunkPrefix)
	v.SetDefault("empty_threshold", d.EmptyThreshold)
	v.SetDefault("command_timeout", d.CommandTimeout.String())
	v.SetDefault("log_level", d.LogLevel)
}

// Load reads the repository configuration rooted at dir. It never fails:
// whatever goes wrong, the caller receives a usable configuration and the
// problem is reported through the logger.
func Load(fs afero.Fs, dir string, opts ...Option) model.Config {
	ld := &loader{l: zap.NewNop()}
	for _, apply := range opts {
		apply(ld)
	}

	doc, ok := ld.read(fs, dir)
	if !ok {
		return model.DefaultConfig()
	}
	return ld.normalize(doc)
}

func (ld *loader) read(fs afero.Fs, dir string) (document, bool) {
	var doc document

	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	setDefaults(v)
	if cf := os.Getenv("CADET_CONFIG"); cf != "" {
		v.SetConfigFile(cf)
	} else {
		v.SetConfigFile(filepath.Join(dir, ConfigFileName))
	}

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			ld.l.Debug("no configuration file, using defaults")
		} else {
			ld.l.Warn("unreadable configuration file, using defaults",
				zap.String("file", v.ConfigFileUsed()), zap.Error(err))
		}
		return doc, false
	}
	if err := v.Unmarshal(&doc); err != nil {
		ld.l.Warn("malformed configuration file, using defaults",
			zap.String("file", v.ConfigFileUsed()), zap.Error(err))
		return doc, false
	}
	ld.l.Debug("using configuration file", zap.String("file", v.ConfigFileUsed()))
	return doc, true
}

func (ld *loader) normalize(doc document) model.Config {
	d := model.DefaultConfig()
	cfg := model.Config{
		Prefix:           doc.Prefix,
		Suffix:           doc.Suffix,
		Subdir:           model.ToSlash(doc.Subdir),
		RequireLock:      doc.RequireLock,
		ArchivePatterns:  doc.ArchivePatterns,
		BinaryPatterns:   doc.BinaryPatterns,
		ChunkingEnabled:  doc.Chunking,
		CompressionLevel: doc.CompressionLevel,
		ChunkPrefix:      doc.ChunkPrefix,
		LogLevel:         doc.LogLevel,
	}

	cfg.MaxChunkSize = ld.size("max_chunk_size", doc.MaxChunkSize, d.MaxChunkSize)
	cfg.EmptyThreshold = ld.size("empty_threshold", doc.EmptyThreshold, d.EmptyThreshold)

	if cfg.CompressionLevel < 0 || cfg.CompressionLevel > 9 {
		ld.l.Warn("compression_level out of range, using default",
			zap.Int("value", cfg.CompressionLevel), zap.Int("default", d.CompressionLevel))
		cfg.CompressionLevel = d.CompressionLevel
	}

	timeout, err := cast.ToDurationE(doc.CommandTimeout)
	if err != nil || timeout <= 0 {
		ld.l.Warn("invalid command_timeout, using default",
			zap.String("value", doc.CommandTimeout), zap.Duration("default", d.CommandTimeout))
		timeout = d.CommandTimeout
	}
	cfg.CommandTimeout = timeout

	if cfg.MaxChunkSize <= 0 {
		ld.l.Warn("max_chunk_size must be positive, using default",
			zap.Int64("default", d.MaxChunkSize))
		cfg.MaxChunkSize = d.MaxChunkSize
	}
	if cfg.ChunkPrefix == "" {
		ld.l.Warn("chunk_prefix must not be empty, using default",
			zap.String("default", d.ChunkPrefix))
		cfg.ChunkPrefix = d.ChunkPrefix
	}
	if cfg.Prefix == "" && cfg.Suffix == "" {
		ld.l.Warn("prefix and suffix must not both be empty, restoring default suffix",
			zap.String("suffix", d.Suffix))
		cfg.Suffix = d.Suffix
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	return cfg
}

// size accepts either a human readable string ("50MB") or a raw byte count.
func (ld *loader) size(key string, raw interface{}, fallback int64) int64 {
	switch v := raw.(type) {
	case string:
		sz, err := units.FromHumanSize(v)
		if err != nil {
			ld.l.Warn(fmt.Sprintf("invalid %s, using default", key),
				zap.String("value", v), zap.Int64("default", fallback))
			return fallback
		}
		return sz
	default:
		sz, err := cast.ToInt64E(raw)
		if err != nil {
			ld.l.Warn(fmt.Sprintf("invalid %s, using default", key),
				zap.Any("value", raw), zap.Int64("default", fallback))
			return fallback
		}
		return sz
	}
}

// Example renders a sample configuration with the default values filled
// in, suitable for seeding a fresh repository.
func Example() string {
	d := model.DefaultConfig()
	return fmt.Sprintf(`# cadet repository configuration
suffix: %q
require_lock: %t
archive_patterns: ["**/*.FCStd", "**/*.fcstd"]
binary_patterns: ["**/*.brp"]
chunking: %t
max_chunk_size: %q
compression_level: %d
chunk_prefix: %q
empty_threshold: %q
command_timeout: %q
log_level: %q
`,
		d.Suffix, d.RequireLock, d.ChunkingEnabled,
		units.HumanSize(float64(d.MaxChunkSize)), d.CompressionLevel, d.ChunkPrefix,
		units.HumanSize(float64(d.EmptyThreshold)), d.CommandTimeout.String(), d.LogLevel)
}
