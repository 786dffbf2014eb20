// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable [Load] reads the config path from.
const EnvironmentVariable = "SHAREFS_CONFIG"

// ProviderKind selects where share contents come from.
type ProviderKind string

const (
	// ProviderLocal serves a directory on the local filesystem.
	ProviderLocal ProviderKind = "local"
	// ProviderRemote talks to a bureau-sharefs-host over a Unix socket.
	ProviderRemote ProviderKind = "remote"
)

// Config is the configuration for one shared-folder mount.
type Config struct {
	// Share is the name of the shared folder, reported as the FUSE
	// filesystem name and in logs.
	Share string `yaml:"share"`

	// Mountpoint is the directory the share is mounted on.
	Mountpoint string `yaml:"mountpoint"`

	Provider   ProviderConfig   `yaml:"provider"`
	Attributes AttributesConfig `yaml:"attributes"`
	Lookup     LookupConfig     `yaml:"lookup"`
	FUSE       FUSEConfig       `yaml:"fuse"`
	Log        LogConfig        `yaml:"log"`
}

// ProviderConfig selects and configures the share provider.
type ProviderConfig struct {
	// Kind is "local" or "remote".
	Kind ProviderKind `yaml:"kind"`

	// Root is the host directory served by a local provider.
	Root string `yaml:"root"`

	// Socket is the Unix socket of a remote provider.
	Socket string `yaml:"socket"`

	// Compression is requested from a remote provider for bulk
	// payloads: "none", "lz4", or "zstd".
	Compression string `yaml:"compression"`

	// IdleHandleTimeout is how long the host keeps an open file handle
	// nobody has touched before closing it. Host side only.
	IdleHandleTimeout Duration `yaml:"idle_handle_timeout"`
}

// AttributesConfig controls the attributes reported to the guest.
type AttributesConfig struct {
	UID uint32 `yaml:"uid"`
	GID uint32 `yaml:"gid"`

	// DirMode and FileMode replace the provider's permission bits when
	// non-zero. Symlinks use FileMode.
	DirMode  FileMode `yaml:"dir_mode"`
	FileMode FileMode `yaml:"file_mode"`

	// DirMask and FileMask clear permission bits after the override.
	DirMask  FileMode `yaml:"dir_mask"`
	FileMask FileMode `yaml:"file_mask"`

	// StatTTL is how long a fetched attribute snapshot stays fresh.
	// Zero disables caching.
	StatTTL Duration `yaml:"stat_ttl"`
}

// LookupConfig controls name resolution.
type LookupConfig struct {
	// Deduplicate keeps a mount-wide path table so concurrent lookups of
	// the same path share one node.
	Deduplicate bool `yaml:"deduplicate"`

	// EntryTimeout is how long the kernel may cache a lookup result.
	EntryTimeout Duration `yaml:"entry_timeout"`

	// DirectoryCacheChunks bounds the number of directory-cache chunks
	// held across the mount. Zero means unbounded.
	DirectoryCacheChunks int `yaml:"directory_cache_chunks"`
}

// FUSEConfig holds kernel mount options.
type FUSEConfig struct {
	AllowOther bool `yaml:"allow_other"`
	Debug      bool `yaml:"debug"`
}

// LogConfig configures the daemon logger.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text", "json", or "auto" (text on a terminal).
	Format string `yaml:"format"`
}

// FileMode is a permission mode written in octal ("0755" or 0755).
type FileMode uint32

// UnmarshalYAML parses the scalar as octal regardless of a leading zero,
// so 755 and "0755" mean the same thing.
func (m *FileMode) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: file mode must be a scalar", node.Line)
	}
	text := strings.TrimPrefix(strings.TrimPrefix(node.Value, "0o"), "0")
	if text == "" {
		*m = 0
		return nil
	}
	value, err := strconv.ParseUint(text, 8, 32)
	if err != nil {
		return fmt.Errorf("line %d: invalid octal file mode %q", node.Line, node.Value)
	}
	*m = FileMode(value)
	return nil
}

// String formats the mode in octal.
func (m FileMode) String() string {
	return fmt.Sprintf("%#o", uint32(m))
}

// Duration is a time.Duration written as a Go duration string ("200ms").
// A bare integer is read as milliseconds.
type Duration time.Duration

// UnmarshalYAML parses a duration string or a millisecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	if milliseconds, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(milliseconds) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the defaults every loaded file is merged over.
func Default() *Config {
	return &Config{
		Share: "share",
		Provider: ProviderConfig{
			Kind:              ProviderLocal,
			Compression:       "lz4",
			IdleHandleTimeout: Duration(10 * time.Minute),
		},
		Attributes: AttributesConfig{
			UID:     uint32(os.Getuid()),
			GID:     uint32(os.Getgid()),
			StatTTL: Duration(200 * time.Millisecond),
		},
		Lookup: LookupConfig{
			Deduplicate:  true,
			EntryTimeout: Duration(time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads configuration from the file named by SHAREFS_CONFIG.
// There is no discovery: an unset variable is an error.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sharefs config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a YAML file, or from a JSON / JSONC
// file when the extension says so. Path fields have ${VAR} and
// ${VAR:-default} patterns expanded after loading.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":  os.Getenv("HOME"),
		"SHARE": c.Share,
	}
	c.Mountpoint = expandVars(c.Mountpoint, vars)
	c.Provider.Root = expandVars(c.Provider.Root, vars)
	c.Provider.Socket = expandVars(c.Provider.Socket, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Provided vars win over
// the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration and reports every problem at once.
// The mountpoint is only required by the guest daemon, so it is checked
// by [Config.ValidateMount].
func (c *Config) Validate() error {
	var errs []error

	if c.Share == "" {
		errs = append(errs, errors.New("share is required"))
	}

	switch c.Provider.Kind {
	case ProviderLocal:
		if c.Provider.Root == "" {
			errs = append(errs, errors.New("provider.root is required for a local provider"))
		}
	case ProviderRemote:
		if c.Provider.Socket == "" {
			errs = append(errs, errors.New("provider.socket is required for a remote provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.kind must be local or remote, got %q", c.Provider.Kind))
	}

	switch c.Provider.Compression {
	case "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("provider.compression must be none, lz4 or zstd, got %q", c.Provider.Compression))
	}
	if c.Provider.IdleHandleTimeout < 0 {
		errs = append(errs, errors.New("provider.idle_handle_timeout must not be negative"))
	}

	for _, field := range []struct {
		name  string
		value FileMode
	}{
		{"attributes.dir_mode", c.Attributes.DirMode},
		{"attributes.file_mode", c.Attributes.FileMode},
		{"attributes.dir_mask", c.Attributes.DirMask},
		{"attributes.file_mask", c.Attributes.FileMask},
	} {
		if field.value > 0o777 {
			errs = append(errs, fmt.Errorf("%s %s has bits outside 0777", field.name, field.value))
		}
	}
	if c.Attributes.StatTTL < 0 {
		errs = append(errs, errors.New("attributes.stat_ttl must not be negative"))
	}

	if c.Lookup.EntryTimeout < 0 {
		errs = append(errs, errors.New("lookup.entry_timeout must not be negative"))
	}
	if c.Lookup.DirectoryCacheChunks < 0 {
		errs = append(errs, errors.New("lookup.directory_cache_chunks must not be negative"))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be auto, text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// ValidateMount runs [Config.Validate] plus the checks that only apply
// when mounting.
func (c *Config) ValidateMount() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Mountpoint == "" {
		errs = append(errs, errors.New("mountpoint is required"))
	} else if !filepath.IsAbs(c.Mountpoint) {
		errs = append(errs, fmt.Errorf("mountpoint %q must be absolute", c.Mountpoint))
	}
	return errors.Join(errs...)
}
