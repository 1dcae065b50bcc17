package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	EnvListen    = "TREEMIRROR_LISTEN"
	EnvLogLevel  = "TREEMIRROR_LOG_LEVEL"
	EnvLogFormat = "TREEMIRROR_LOG_FORMAT"
	EnvToken     = "TREEMIRROR_TOKEN"
)

// Overrides carries flag values; nil fields were not set on the command line.
type Overrides struct {
	Listen    *string
	LogLevel  *string
	LogFormat *string
	Token     *string
}

// Load reads path (TOML or YAML by extension) over the defaults and applies
// the process environment. An empty path loads defaults only.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		payload, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		file, err := decode(path, payload)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		cfg.mergeFile(file, filepath.Dir(path))
	}
	if lookup != nil {
		cfg.applyEnv(lookup)
	}
	return cfg, nil
}

// Apply layers flag values over the loaded configuration.
func (c *Config) Apply(overrides Overrides) {
	if overrides.Listen != nil {
		c.Server.Listen = strings.TrimSpace(*overrides.Listen)
		c.Sources["listen"] = SourceFlag
	}
	if overrides.LogLevel != nil {
		c.Server.LogLevel = strings.TrimSpace(*overrides.LogLevel)
		c.Sources["log_level"] = SourceFlag
	}
	if overrides.LogFormat != nil {
		c.Server.LogFormat = strings.TrimSpace(*overrides.LogFormat)
		c.Sources["log_format"] = SourceFlag
	}
	if overrides.Token != nil {
		c.Server.Token = *overrides.Token
		c.Sources["token"] = SourceFlag
	}
}

// fileConfig mirrors Config with pointer fields so unset keys keep defaults.
type fileConfig struct {
	Server struct {
		Listen         *string `toml:"listen" yaml:"listen"`
		Token          *string `toml:"token" yaml:"token"`
		LogLevel       *string `toml:"log_level" yaml:"log_level"`
		LogFormat      *string `toml:"log_format" yaml:"log_format"`
		EventHistory   *int    `toml:"event_history" yaml:"event_history"`
		RebaseOnRename *bool   `toml:"rebase_on_rename" yaml:"rebase_on_rename"`
	} `toml:"server" yaml:"server"`
	Roots []RootConfig `toml:"roots" yaml:"roots"`
}

func decode(path string, payload []byte) (fileConfig, error) {
	var file fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		metadata, err := toml.Decode(string(payload), &file)
		if err != nil {
			return fileConfig{}, err
		}
		if undecoded := metadata.Undecoded(); len(undecoded) > 0 {
			return fileConfig{}, fmt.Errorf("unknown key %q", undecoded[0].String())
		}
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(payload))
		decoder.KnownFields(true)
		if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
			return fileConfig{}, err
		}
	default:
		return fileConfig{}, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return file, nil
}

func (c *Config) mergeFile(file fileConfig, baseDir string) {
	server := file.Server
	if server.Listen != nil {
		c.Server.Listen = strings.TrimSpace(*server.Listen)
		c.Sources["listen"] = SourceFile
	}
	if server.Token != nil {
		c.Server.Token = *server.Token
		c.Sources["token"] = SourceFile
	}
	if server.LogLevel != nil {
		c.Server.LogLevel = strings.TrimSpace(*server.LogLevel)
		c.Sources["log_level"] = SourceFile
	}
	if server.LogFormat != nil {
		c.Server.LogFormat = strings.TrimSpace(*server.LogFormat)
		c.Sources["log_format"] = SourceFile
	}
	if server.EventHistory != nil {
		c.Server.EventHistory = *server.EventHistory
		c.Sources["event_history"] = SourceFile
	}
	if server.RebaseOnRename != nil {
		c.Server.RebaseOnRename = *server.RebaseOnRename
		c.Sources["rebase_on_rename"] = SourceFile
	}
	for _, root := range file.Roots {
		// Relative roots are resolved against the config file's directory.
		if path := strings.TrimSpace(root.Path); path != "" && !filepath.IsAbs(path) {
			root.Path = filepath.Join(baseDir, path)
		}
		c.Roots = append(c.Roots, root)
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if value, ok := lookup(EnvListen); ok && strings.TrimSpace(value) != "" {
		c.Server.Listen = strings.TrimSpace(value)
		c.Sources["listen"] = SourceEnv
	}
	if value, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(value) != "" {
		c.Server.LogLevel = strings.TrimSpace(value)
		c.Sources["log_level"] = SourceEnv
	}
	if value, ok := lookup(EnvLogFormat); ok && strings.TrimSpace(value) != "" {
		c.Server.LogFormat = strings.TrimSpace(value)
		c.Sources["log_format"] = SourceEnv
	}
	if value, ok := lookup(EnvToken); ok && value != "" {
		c.Server.Token = value
		c.Sources["token"] = SourceEnv
	}
}
